package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"planloop/internal/adapters"
	"planloop/internal/loop"
	"planloop/internal/monitor"
	"planloop/internal/planner"
	"planloop/internal/runstore"
)

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func newValidateCmd() *cobra.Command {
	var (
		planFile   string
		request    string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Score a plan against a request without calling any model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if planFile == "" {
				return errors.New("--plan is required")
			}
			plan, err := readInput(cmd.InOrStdin(), planFile)
			if err != nil {
				return fmt.Errorf("read plan: %w", err)
			}
			res := planner.NewValidator().Validate(string(plan), request)
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderValidation(res))
			}
			if !res.Valid {
				return exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "Plan file (- for stdin)")
	cmd.Flags().StringVar(&request, "request", "", "The request the plan should address")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the validation result as JSON")
	return cmd
}

func newMonitorCmd(root *rootOptions) *cobra.Command {
	var (
		resultsFile string
		jsonOutput  bool
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Classify a list of tool results (JSON or YAML)",
		Long: `Classify tool results offline with the configured monitor thresholds.
The input is a list of {tool, params, success, error} entries in execution order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resultsFile == "" {
				return errors.New("--results is required")
			}
			data, err := readInput(cmd.InOrStdin(), resultsFile)
			if err != nil {
				return fmt.Errorf("read results: %w", err)
			}
			// JSON is valid YAML, so one decoder covers both.
			var results []monitor.ToolResult
			if err := yaml.Unmarshal(data, &results); err != nil {
				return fmt.Errorf("parse results: %w", err)
			}

			e, err := loadEnv(root)
			if err != nil {
				return err
			}
			defer e.Close()

			res := monitor.New(e.cfg.Monitor, e.logger).Monitor("", results)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderMonitor(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&resultsFile, "results", "", "Results file (- for stdin)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the monitor result as JSON")
	return cmd
}

func openRunStore(e *env) (*runstore.Store, error) {
	path, err := configuredPath(e, e.cfg.History.DBPath, e.ws.RunsDBPath)
	if err != nil {
		return nil, fmt.Errorf("resolve history.db_path: %w", err)
	}
	return runstore.Open(path)
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(root)
			if err != nil {
				return err
			}
			defer e.Close()
			store, err := openRunStore(e)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tSTEPS\tFAILED\tREQUEST")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Steps, r.Failed, shorten(r.Request, 50))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.AddCommand(newHistoryShowCmd(root))
	return cmd
}

func newHistoryShowCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		withEvents bool
	)
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(root)
			if err != nil {
				return err
			}
			defer e.Close()
			store, err := openRunStore(e)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				fmt.Fprintln(out, run.ReportJSON)
			} else {
				var report loop.Report
				if err := json.Unmarshal([]byte(run.ReportJSON), &report); err != nil {
					return fmt.Errorf("decode stored report: %w", err)
				}
				fmt.Fprint(out, renderReport(&report))
			}

			if withEvents {
				log, err := openAudit(e)
				if err != nil {
					return err
				}
				defer log.Close()
				events, err := log.RunEvents(run.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, titleStyle.Render("\nAudit events"))
				for _, ev := range events {
					fmt.Fprintf(out, "  %s  %-18s %s\n", ev.TS.Local().Format(time.TimeOnly), ev.Type, ev.Payload)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the stored report as JSON")
	cmd.Flags().BoolVar(&withEvents, "events", false, "Also list the run's audit events")
	return cmd
}

func newModelsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available on the Ollama backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(root)
			if err != nil {
				return err
			}
			defer e.Close()
			if e.cfg.Backend.Type != "ollama" {
				return fmt.Errorf("backend %q cannot list models", e.cfg.Backend.Type)
			}
			client, err := adapters.NewOllamaAdapter(e.cfg.Backend.Ollama.BaseURL, &http.Client{Timeout: 30 * time.Second})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			names, err := client.ListModels(ctx)
			if err != nil {
				return err
			}

			models := e.cfg.Models
			roles := map[string][]string{}
			for role, name := range map[string]string{
				"orchestrator": models.Orchestrator.Name,
				"coder":        models.Coder.Name,
				"formatter":    models.Formatter.Name,
				"reasoner":     models.Reasoner.Name,
			} {
				roles[name] = append(roles[name], role)
			}
			for _, r := range roles {
				slices.Sort(r)
			}
			out := cmd.OutOrStdout()
			for _, name := range names {
				if r := roles[name]; len(r) > 0 {
					fmt.Fprintf(out, "%s  %s\n", name, mutedStyle.Render("("+strings.Join(r, ", ")+")"))
				} else {
					fmt.Fprintln(out, name)
				}
			}
			return nil
		},
	}
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
