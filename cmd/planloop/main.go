package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"planloop/internal/config"
	"planloop/internal/logging"
	"planloop/internal/workspace"
)

const appName = "planloop"

// exitError carries a process exit code without printing anything extra.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

type rootOptions struct {
	workspace  string
	configFile string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   appName,
		Short: "Plan, execute and verify file edits with local language models",
		Long: `planloop turns a natural-language request into a validated plan, converts
the plan into file-editing tool calls, executes and verifies each call, and
replans when execution goes wrong.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.workspace, "workspace", "w", ".", "Path to workspace root")
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Config file (default: <workspace>/.planloop/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level (debug|info|warn|error)")

	root.AddCommand(
		newInitCmd(opts),
		newRunCmd(opts),
		newValidateCmd(),
		newMonitorCmd(opts),
		newHistoryCmd(opts),
		newModelsCmd(opts),
	)
	return root
}

// env is the resolved workspace, configuration and logger of one command.
type env struct {
	ws     *workspace.Workspace
	cfg    config.Config
	logger *logging.Logger
}

func (e *env) Close() {
	_ = e.logger.Close()
}

func loadEnv(opts *rootOptions) (*env, error) {
	ws, err := workspace.Resolve(opts.workspace)
	if err != nil {
		return nil, err
	}
	configFile := opts.configFile
	if configFile != "" {
		if configFile, err = filepath.Abs(configFile); err != nil {
			return nil, fmt.Errorf("resolve --config: %w", err)
		}
	}
	v, err := config.NewViper(configFile, ws.StateDir)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		v.Set("logging.level", opts.logLevel)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logger := logging.NopLogger()
	if cfg.Logging.File != "" {
		if err := ws.EnsureDirs(); err != nil {
			return nil, err
		}
		path, err := ws.ResolvePath(cfg.Logging.File)
		if err != nil {
			return nil, fmt.Errorf("resolve logging.file: %w", err)
		}
		if logger, err = logging.NewLogger(path, cfg.Logging.Level); err != nil {
			return nil, err
		}
	} else {
		logger = logging.NewWriterLogger(os.Stderr, cfg.Logging.Level)
	}
	return &env{ws: ws, cfg: cfg, logger: logger}, nil
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .planloop state directory and a default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(opts.workspace, 0o755); err != nil {
				return fmt.Errorf("create workspace: %w", err)
			}
			ws, err := workspace.Resolve(opts.workspace)
			if err != nil {
				return err
			}
			if err := ws.EnsureDirs(); err != nil {
				return err
			}
			created, err := config.WriteDefault(ws.ConfigPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "Wrote %s\n", ws.ConfigPath)
			} else {
				fmt.Fprintf(out, "Config already exists: %s\n", ws.ConfigPath)
			}
			return nil
		},
	}
}
