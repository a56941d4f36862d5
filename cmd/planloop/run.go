package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"planloop/internal/adapters"
	"planloop/internal/audit"
	"planloop/internal/contextgather"
	"planloop/internal/guardrails"
	"planloop/internal/loop"
	"planloop/internal/notify"
	"planloop/internal/runstore"
	"planloop/internal/tools"
)

type runOptions struct {
	requestFile string
	jsonOutput  bool
	noContext   bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Plan and execute a request in the workspace",
		Long: `Run a request through the control loop: gather workspace context, plan,
validate and refine the plan, convert it into tool calls, execute and verify
each call, and replan when the monitor asks for it.

Examples:
  planloop run "Create a Flask app in app.py with a /health endpoint"
  planloop run --request-file request.md --json`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, root, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.requestFile, "request-file", "", "Read the request from a file (- for stdin)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the full report as JSON")
	cmd.Flags().BoolVar(&opts.noContext, "no-context", false, "Skip workspace context gathering")
	return cmd
}

func runRun(cmd *cobra.Command, root *rootOptions, opts *runOptions, args []string) error {
	request, err := readRequest(cmd.InOrStdin(), opts.requestFile, args)
	if err != nil {
		return err
	}

	e, err := loadEnv(root)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.ws.EnsureDirs(); err != nil {
		return err
	}

	var events *audit.Log
	if e.cfg.Audit.Enabled {
		if events, err = openAudit(e); err != nil {
			return err
		}
		defer events.Close()
	}

	l, err := buildLoop(e, events, opts.noContext)
	if err != nil {
		return err
	}

	report := l.Run(cmd.Context(), request)

	if e.cfg.History.Enabled {
		if err := saveReport(e, report); err != nil {
			e.logger.Warn("save run history failed", "error", err)
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
	}
	total, _, failed, skipped := report.StepCounts()
	notifier := &notify.Notifier{Enabled: e.cfg.Notifications.Enabled}
	title, message := notify.FormatRunComplete(string(report.Status), total, failed+skipped, request)
	if err := notifier.Send(title, message); err != nil {
		e.logger.Warn("notification failed", "error", err)
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprint(out, renderReport(report))
	}

	if report.Status == loop.StatusFailure {
		return exitError{code: 1}
	}
	return nil
}

func readRequest(stdin io.Reader, requestFile string, args []string) (string, error) {
	var request string
	switch {
	case requestFile == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read request from stdin: %w", err)
		}
		request = string(data)
	case requestFile != "":
		data, err := os.ReadFile(requestFile)
		if err != nil {
			return "", fmt.Errorf("read request file: %w", err)
		}
		request = string(data)
	default:
		request = strings.Join(args, " ")
	}
	request = strings.TrimSpace(request)
	if request == "" {
		return "", fmt.Errorf("%s run: a request is required", appName)
	}
	return request, nil
}

// buildLoop wires the configured backend, workspace tools, context gatherer
// and audit log into a Loop. events may be nil.
func buildLoop(e *env, events *audit.Log, noContext bool) (*loop.Loop, error) {
	backend := e.cfg.Backend
	if backend.Mock.Script != "" {
		script, err := e.ws.ResolvePath(backend.Mock.Script)
		if err != nil {
			return nil, fmt.Errorf("resolve backend.mock.script: %w", err)
		}
		backend.Mock.Script = script
	}
	adapter, err := adapters.New(backend, e.ws.Root)
	if err != nil {
		return nil, err
	}

	guard, err := guardrails.NewPathGuard(e.cfg.Workspace.Protected)
	if err != nil {
		return nil, err
	}

	deps := loop.Deps{
		Models:        adapters.NewCaller(adapter, e.cfg.Models.Timeout, e.logger),
		Executor:      tools.NewExecutor(e.ws, guard, e.logger),
		Verifier:      tools.NewVerifier(e.ws),
		Logger:        e.logger,
		WorkspaceRoot: e.ws.Root,
	}
	if !noContext {
		gatherer, err := contextgather.New(e.ws.Root, e.cfg.Context, e.logger)
		if err != nil {
			return nil, err
		}
		deps.Context = gatherer
	}

	if events != nil {
		deps.Events = events
	}

	return loop.New(e.cfg, deps)
}

func configuredPath(e *env, configured, fallback string) (string, error) {
	if configured == "" {
		return fallback, nil
	}
	return e.ws.ResolvePath(configured)
}

func openAudit(e *env) (*audit.Log, error) {
	path, err := configuredPath(e, e.cfg.Audit.DBPath, e.ws.AuditDBPath)
	if err != nil {
		return nil, fmt.Errorf("resolve audit.db_path: %w", err)
	}
	return audit.Open(path)
}

func saveReport(e *env, report *loop.Report) error {
	path, err := configuredPath(e, e.cfg.History.DBPath, e.ws.RunsDBPath)
	if err != nil {
		return fmt.Errorf("resolve history.db_path: %w", err)
	}
	store, err := runstore.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	total, _, failed, _ := report.StepCounts()
	finished := report.FinishedAt
	return store.SaveRun(runstore.Run{
		ID:         report.RunID,
		Request:    report.Request,
		Status:     string(report.Status),
		StartedAt:  report.StartedAt,
		FinishedAt: &finished,
		Attempts:   len(report.Attempts),
		Steps:      total,
		Failed:     failed,
		Error:      report.Error,
	}, report)
}
