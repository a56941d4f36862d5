package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"planloop/internal/guardrails"
	"planloop/internal/logging"
	"planloop/internal/workspace"
)

const maxReadBytes = 64 * 1024

// Executor applies tool calls inside one workspace. Writes to protected
// paths and paths outside the root are refused.
type Executor struct {
	ws     *workspace.Workspace
	guard  *guardrails.PathGuard
	logger *logging.Logger
}

func NewExecutor(ws *workspace.Workspace, guard *guardrails.PathGuard, logger *logging.Logger) *Executor {
	return &Executor{ws: ws, guard: guard, logger: logger}
}

// Execute runs one call. Failures are reported in the Outcome, never as a
// Go error.
func (e *Executor) Execute(ctx context.Context, call ToolCall) Outcome {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	out, err := e.execute(call)
	if err != nil {
		e.logger.Warn("tool call failed", "tool", call.Tool, "path", call.Path(), "error", err)
		return failed(err)
	}
	out.Success = true
	e.logger.Debug("tool call applied", "tool", call.Tool, "path", call.Path())
	return out
}

func (e *Executor) execute(call ToolCall) (Outcome, error) {
	switch call.Tool {
	case CreateFile:
		return e.writeContent(call, false)
	case WriteFile:
		return e.writeContent(call, true)
	case EditFile:
		return e.edit(call)
	case AppendFile:
		return e.appendContent(call)
	case DeleteFile:
		return e.delete(call)
	case ReadFile:
		return e.read(call)
	case Mkdir:
		return e.mkdir(call)
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Tool)
	}
}

// target resolves the call path; writable also applies the protected-path guard.
func (e *Executor) target(call ToolCall, writable bool) (string, string, error) {
	abs, rel, err := e.ws.Contain(call.Path())
	if err != nil {
		return "", "", err
	}
	if writable {
		if err := e.guard.Check(rel); err != nil {
			return "", "", err
		}
	}
	return abs, rel, nil
}

func (e *Executor) writeContent(call ToolCall, overwrite bool) (Outcome, error) {
	abs, rel, err := e.target(call, true)
	if err != nil {
		return Outcome{}, err
	}
	content, ok := call.stringParam("content")
	if !ok {
		return Outcome{}, errors.New("content is required")
	}

	old, existed, err := readExisting(abs)
	if err != nil {
		return Outcome{}, err
	}
	if existed && !overwrite {
		return Outcome{}, fmt.Errorf("file already exists: %s (use %s to overwrite)", rel, WriteFile)
	}
	if err := writeFile(abs, content); err != nil {
		return Outcome{}, err
	}
	return changed(rel, old, content, existed)
}

func (e *Executor) edit(call ToolCall) (Outcome, error) {
	abs, rel, err := e.target(call, true)
	if err != nil {
		return Outcome{}, err
	}
	oldText, ok := call.stringParam("old_text", "old", "search")
	if !ok || oldText == "" {
		return Outcome{}, errors.New("old_text is required")
	}
	newText, ok := call.stringParam("new_text", "new", "replace")
	if !ok {
		return Outcome{}, errors.New("new_text is required")
	}

	old, existed, err := readExisting(abs)
	if err != nil {
		return Outcome{}, err
	}
	if !existed {
		return Outcome{}, fmt.Errorf("file not found: %s", rel)
	}
	count := strings.Count(old, oldText)
	if count == 0 {
		return Outcome{}, fmt.Errorf("old_text not found in %s", rel)
	}
	replaceAll := call.boolParam("replace_all")
	if count > 1 && !replaceAll {
		return Outcome{}, fmt.Errorf("old_text matches %d times in %s; make it unique or set replace_all", count, rel)
	}
	n := 1
	if replaceAll {
		n = -1
	}
	updated := strings.Replace(old, oldText, newText, n)
	if err := writeFile(abs, updated); err != nil {
		return Outcome{}, err
	}
	out, err := changed(rel, old, updated, true)
	if err != nil {
		return Outcome{}, err
	}
	if replaceAll {
		out.Fields["replacements"] = count
	} else {
		out.Fields["replacements"] = 1
	}
	return out, nil
}

func (e *Executor) appendContent(call ToolCall) (Outcome, error) {
	abs, rel, err := e.target(call, true)
	if err != nil {
		return Outcome{}, err
	}
	content, ok := call.stringParam("content")
	if !ok {
		return Outcome{}, errors.New("content is required")
	}
	old, existed, err := readExisting(abs)
	if err != nil {
		return Outcome{}, err
	}
	updated := old + content
	if err := writeFile(abs, updated); err != nil {
		return Outcome{}, err
	}
	return changed(rel, old, updated, existed)
}

func (e *Executor) delete(call ToolCall) (Outcome, error) {
	abs, rel, err := e.target(call, true)
	if err != nil {
		return Outcome{}, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return Outcome{}, fmt.Errorf("file not found: %s", rel)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return Outcome{}, fmt.Errorf("%s is a directory", rel)
	}
	if err := os.Remove(abs); err != nil {
		return Outcome{}, fmt.Errorf("delete %s: %w", rel, err)
	}
	return Outcome{Fields: map[string]any{"path": rel}}, nil
}

func (e *Executor) read(call ToolCall) (Outcome, error) {
	abs, rel, err := e.target(call, false)
	if err != nil {
		return Outcome{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Outcome{}, fmt.Errorf("read %s: %w", rel, err)
	}
	content := string(data)
	truncated := false
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes]
		truncated = true
	}
	return Outcome{Fields: map[string]any{
		"path":      rel,
		"content":   content,
		"bytes":     len(data),
		"truncated": truncated,
	}}, nil
}

func (e *Executor) mkdir(call ToolCall) (Outcome, error) {
	abs, rel, err := e.target(call, true)
	if err != nil {
		return Outcome{}, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("mkdir %s: %w", rel, err)
	}
	return Outcome{Fields: map[string]any{"path": rel}}, nil
}

func readExisting(abs string) (string, bool, error) {
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", abs, err)
	}
	return string(data), true, nil
}

func writeFile(abs, content string) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("ensure parent dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", abs, err)
	}
	return nil
}

func changed(rel, old, updated string, existed bool) (Outcome, error) {
	diff, err := RenderDiff(rel, old, updated, existed)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Fields: map[string]any{
		"path":    rel,
		"bytes":   len(updated),
		"created": !existed,
		"diff":    diff,
	}}, nil
}

// RenderDiff returns a unified diff of one file's change.
func RenderDiff(rel, old, updated string, existed bool) (string, error) {
	from := "a/" + rel
	if !existed {
		from = "/dev/null"
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(updated),
		FromFile: from,
		ToFile:   "b/" + rel,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("diff %s: %w", rel, err)
	}
	return text, nil
}

func failed(err error) Outcome {
	return Outcome{Error: guardrails.SanitizeError(err.Error())}
}
