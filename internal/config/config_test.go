package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config invalid: %v", ValidationErrors(errs))
	}
	if cfg.Monitor.ReplanThreshold != 0.5 {
		t.Fatalf("replan threshold = %v, want 0.5", cfg.Monitor.ReplanThreshold)
	}
	if cfg.Loop.MaxReplanAttempts != 1 || cfg.Loop.MaxRefinementIterations != 2 {
		t.Fatalf("loop bounds = %+v", cfg.Loop)
	}
	if !cfg.Monitor.EarlyTermination {
		t.Fatal("early termination should default to true")
	}
	if cfg.Models.Orchestrator.Name != "orchestrator" {
		t.Fatalf("orchestrator model = %q", cfg.Models.Orchestrator.Name)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	stateDir := t.TempDir()
	content := []byte(`loop:
  max_replan_attempts: 3
monitor:
  replan_threshold: 0.25
models:
  timeout: 30s
  orchestrator:
    name: qwen2.5-coder:14b
backend:
  type: mock
`)
	if err := os.WriteFile(filepath.Join(stateDir, "config.yaml"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := NewViper("", stateDir)
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Loop.MaxReplanAttempts != 3 {
		t.Fatalf("max replan = %d, want 3", cfg.Loop.MaxReplanAttempts)
	}
	if cfg.Loop.MaxRefinementIterations != 2 {
		t.Fatalf("max refinement = %d, want default 2", cfg.Loop.MaxRefinementIterations)
	}
	if cfg.Monitor.ReplanThreshold != 0.25 {
		t.Fatalf("threshold = %v", cfg.Monitor.ReplanThreshold)
	}
	if cfg.Models.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.Models.Timeout)
	}
	if cfg.Models.Orchestrator.Name != "qwen2.5-coder:14b" {
		t.Fatalf("orchestrator = %q", cfg.Models.Orchestrator.Name)
	}
	if cfg.Models.Orchestrator.NumPredict != 2048 {
		t.Fatalf("orchestrator num_predict = %d, want default", cfg.Models.Orchestrator.NumPredict)
	}
	if cfg.Backend.Type != "mock" {
		t.Fatalf("backend = %q", cfg.Backend.Type)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PLANLOOP_MONITOR_EARLY_TERMINATION", "false")
	v, err := NewViper("", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Monitor.EarlyTermination {
		t.Fatal("env override should disable early termination")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := []byte(`monitor:
  replan_threshold: 1.5
backend:
  type: gpu-cluster
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := NewViper(path, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = Load(v)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Load error = %v, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Fatalf("got %d validation errors, want 2: %v", len(verrs), verrs)
	}
}

func TestExplicitConfigMustExist(t *testing.T) {
	if _, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	stateDir := t.TempDir()
	path := filepath.Join(stateDir, "config.yaml")
	created, err := WriteDefault(path)
	if err != nil || !created {
		t.Fatalf("WriteDefault = %v, %v", created, err)
	}
	created, err = WriteDefault(path)
	if err != nil || created {
		t.Fatalf("second WriteDefault = %v, %v; want no overwrite", created, err)
	}

	v, err := NewViper("", stateDir)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load written defaults: %v", err)
	}
	if cfg.Models.Timeout != Default().Models.Timeout {
		t.Fatalf("timeout = %v, want %v", cfg.Models.Timeout, Default().Models.Timeout)
	}
}
