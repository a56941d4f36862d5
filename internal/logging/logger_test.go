package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChildLoggersCarryAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "debug")

	logger.WithRun("run-1").WithPhase("plan").Info("plan generated", "chars", 420)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log line: %v\n%s", err, buf.String())
	}
	if entry["run_id"] != "run-1" {
		t.Fatalf("run_id = %v, want run-1", entry["run_id"])
	}
	if entry["phase"] != "plan" {
		t.Fatalf("phase = %v, want plan", entry["phase"])
	}
	if entry["msg"] != "plan generated" {
		t.Fatalf("msg = %v", entry["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %s", out)
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "planloop.log")
	logger, err := NewLogger(path, "info")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log file missing entry: %s", data)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored")
	logger.WithRun("r1").WithPhase("plan").With("k", "v").Warn("ignored")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close on nil logger: %v", err)
	}
}
