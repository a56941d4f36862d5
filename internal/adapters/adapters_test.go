package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"planloop/internal/config"
	"planloop/internal/logging"
)

type slowAdapter struct{}

func (slowAdapter) Name() string { return "slow" }

func (slowAdapter) Generate(ctx context.Context, req Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCallerTimeoutIsFailedResponse(t *testing.T) {
	caller := NewCaller(slowAdapter{}, 20*time.Millisecond, logging.NopLogger())
	resp := caller.Call(context.Background(), "prompt", "m", Options{})
	if resp.Success {
		t.Fatal("expected failure on timeout")
	}
	if !strings.Contains(resp.Error, "timed out") {
		t.Fatalf("error = %q, want timeout message", resp.Error)
	}
}

func TestCallerNilAdapter(t *testing.T) {
	var caller *Caller
	if resp := caller.Call(context.Background(), "p", "m", Options{}); resp.Success || resp.Error == "" {
		t.Fatalf("nil caller response = %+v", resp)
	}
}

func TestMockAdapterFiltersAndConsumes(t *testing.T) {
	mock := NewMockAdapter(
		MockResponse{Model: "formatter", Text: "tool calls"},
		MockResponse{Match: "refine", Text: "refined"},
		MockResponse{Text: "first plan"},
		MockResponse{Error: "backend down"},
	)
	caller := NewCaller(mock, time.Second, nil)
	ctx := context.Background()

	if got := caller.Call(ctx, "make a plan", "orchestrator", Options{}); got.Text != "first plan" {
		t.Fatalf("first = %+v, want first plan", got)
	}
	if got := caller.Call(ctx, "please refine this", "orchestrator", Options{}); got.Text != "refined" {
		t.Fatalf("second = %+v, want refined", got)
	}
	if got := caller.Call(ctx, "convert", "formatter", Options{}); got.Text != "tool calls" {
		t.Fatalf("third = %+v, want tool calls", got)
	}
	if got := caller.Call(ctx, "again", "orchestrator", Options{}); got.Success || got.Error != "backend down" {
		t.Fatalf("fourth = %+v, want scripted error", got)
	}
	if got := caller.Call(ctx, "again", "orchestrator", Options{}); got.Success {
		t.Fatalf("exhausted script should fail, got %+v", got)
	}
	if n := len(mock.Requests()); n != 5 {
		t.Fatalf("requests = %d, want 5", n)
	}
}

func TestMockAdapterRepeat(t *testing.T) {
	mock := NewMockAdapter(MockResponse{Text: "same", Repeat: true})
	for i := 0; i < 3; i++ {
		text, err := mock.Generate(context.Background(), Request{Model: "m"})
		if err != nil || text != "same" {
			t.Fatalf("call %d = %q, %v", i, text, err)
		}
	}
}

func TestLoadMockAdapterFromYAML(t *testing.T) {
	dir := t.TempDir()
	script := "responses:\n  - model: coder\n    text: fixed\n  - text: |\n      1. Create main.go\n"
	if err := os.WriteFile(filepath.Join(dir, "mock.yaml"), []byte(script), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	adapter, err := New(config.BackendConfig{Type: "mock", Mock: config.MockBackend{Script: "mock.yaml"}}, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := adapter.Generate(context.Background(), Request{Model: "orchestrator"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "1. Create main.go\n" {
		t.Fatalf("text = %q", text)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New(config.BackendConfig{Type: "carrier-pigeon"}, ""); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestExecAdapterReadsStdin(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	adapter := &ExecAdapter{Command: "/bin/sh", Args: []string{"-c", `printf '%s:' "$PLANLOOP_MODEL"; cat`}}
	text, err := adapter.Generate(context.Background(), Request{Model: "coder", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "coder:hello" {
		t.Fatalf("text = %q, want coder:hello", text)
	}
}

func TestExecAdapterReportsExitCode(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	adapter := &ExecAdapter{Command: "/bin/sh", Args: []string{"-c", "echo boom >&2; exit 3"}}
	_, err := adapter.Generate(context.Background(), Request{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "code 3") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error = %v", err)
	}
}

func TestMergeEnvOverrides(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3"})
	joined := strings.Join(got, ",")
	if !strings.Contains(joined, "A=1") || !strings.Contains(joined, "B=3") || strings.Contains(joined, "B=2") {
		t.Fatalf("mergeEnv = %v", got)
	}
}

func TestExitCodeFromError(t *testing.T) {
	if got := exitCodeFromError(context.DeadlineExceeded); got != 124 {
		t.Fatalf("deadline exit code = %d, want 124", got)
	}
	if got := exitCodeFromError(errors.New("x")); got != 1 {
		t.Fatalf("generic exit code = %d, want 1", got)
	}
}
