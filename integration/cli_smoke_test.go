package integration_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"planloop/integration/harness"
)

const goodPlan = `## Plan
1. Create the file hello.txt containing a friendly greeting line.
2. Keep the content as plain text; no function, class, module or config
   changes are needed, and no test code is required for this single file.

Success Criteria:
- hello.txt exists
`

const helloRequest = `Create a "hello.txt" file containing a greeting`

func TestCLISmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := t.TempDir()
	runDir := t.TempDir()

	res := harness.Run(t, binPath, runDir, nil, "--help")
	if res.Code != 0 {
		t.Fatalf("planloop --help: %s", res)
	}
	if !strings.Contains(res.Stdout+res.Stderr, "Plan, execute and verify file edits") {
		t.Fatalf("expected help output to include header: %s", res)
	}

	planPath := filepath.Join(runDir, "plan.md")
	if err := os.WriteFile(planPath, []byte(goodPlan), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	res = harness.Run(t, binPath, runDir, nil, "validate", "--plan", planPath, "--request", helloRequest, "--json")
	if res.Code != 0 {
		t.Fatalf("planloop validate: %s", res)
	}
	var validation struct {
		Valid bool    `json:"valid"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &validation); err != nil {
		t.Fatalf("decode validate output: %v\n%s", err, res.Stdout)
	}
	if !validation.Valid || validation.Score != 1 {
		t.Fatalf("validation = %+v", validation)
	}

	resultsPath := filepath.Join(runDir, "results.json")
	results := `[
  {"tool": "create_file", "success": true},
  {"tool": "create_file", "success": true},
  {"tool": "create_file", "success": true},
  {"tool": "create_file", "success": true},
  {"tool": "create_file", "success": true},
  {"tool": "create_file", "success": true},
  {"tool": "create_file", "success": true},
  {"tool": "create_file", "success": true},
  {"tool": "create_file", "success": true},
  {"tool": "write_file", "success": false, "error": "Connection refused"}
]`
	if err := os.WriteFile(resultsPath, []byte(results), 0o644); err != nil {
		t.Fatalf("write results: %v", err)
	}
	res = harness.Run(t, binPath, runDir, nil, "monitor", "--workspace", workspace, "--results", resultsPath, "--json")
	if res.Code != 0 {
		t.Fatalf("planloop monitor: %s", res)
	}
	var monitored struct {
		Status           string `json:"status"`
		CriticalFailure  bool   `json:"critical_failure"`
		EarlyTermination bool   `json:"early_termination"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &monitored); err != nil {
		t.Fatalf("decode monitor output: %v\n%s", err, res.Stdout)
	}
	if monitored.Status != "critical_failure" || !monitored.CriticalFailure || !monitored.EarlyTermination {
		t.Fatalf("monitor = %+v", monitored)
	}
}
