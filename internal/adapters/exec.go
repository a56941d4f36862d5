package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ExecAdapter shells out to a command that reads the prompt on stdin and
// writes the model response to stdout.
type ExecAdapter struct {
	Command string
	Args    []string
	WorkDir string
	Env     map[string]string
}

func (a *ExecAdapter) Name() string {
	return "exec"
}

func (a *ExecAdapter) Generate(ctx context.Context, req Request) (string, error) {
	if a.Command == "" {
		return "", errors.New("exec command is required")
	}

	env := map[string]string{
		"PLANLOOP_MODEL":       req.Model,
		"PLANLOOP_TEMPERATURE": strconv.FormatFloat(req.Options.Temperature, 'f', -1, 64),
		"PLANLOOP_NUM_PREDICT": strconv.Itoa(req.Options.NumPredict),
	}
	for k, v := range a.Env {
		env[k] = v
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.Command, a.Args...)
	if a.WorkDir != "" {
		workDir, err := filepath.Abs(a.WorkDir)
		if err != nil {
			return "", fmt.Errorf("resolve workdir: %w", err)
		}
		cmd.Dir = workDir
	}
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = mergeEnv(os.Environ(), env)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return "", fmt.Errorf("%s exited with code %d: %w", a.Command, exitCodeFromError(err), err)
		}
		return "", fmt.Errorf("%s exited with code %d: %s", a.Command, exitCodeFromError(err), detail)
	}
	return stdout.String(), nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		merged = append(merged, entry)
	}
	for key, value := range overrides {
		merged = append(merged, fmt.Sprintf("%s=%s", key, value))
	}
	return merged
}

func exitCodeFromError(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 124
	}
	return 1
}

func resolveRelative(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
