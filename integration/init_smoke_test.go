package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"planloop/integration/harness"
)

func TestInitSmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	runDir := t.TempDir()
	workspaceRoot := filepath.Join(t.TempDir(), "workspace-init")

	res := harness.Run(t, binPath, runDir, nil, "init", "--workspace", workspaceRoot)
	if res.Code != 0 {
		t.Fatalf("planloop init: %s", res)
	}

	configPath := filepath.Join(workspaceRoot, ".planloop", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config not written at %s: %v", configPath, err)
	}
	for _, key := range []string{"max_refinement_iterations: 2", "max_replan_attempts: 1", "replan_threshold: 0.5"} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("config missing %q:\n%s", key, data)
		}
	}

	res = harness.Run(t, binPath, runDir, nil, "init", "--workspace", workspaceRoot)
	if res.Code != 0 {
		t.Fatalf("second planloop init: %s", res)
	}
	if !strings.Contains(res.Stdout, "Config already exists") {
		t.Fatalf("second init should keep the config: %s", res)
	}
}
