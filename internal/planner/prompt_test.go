package planner

import (
	"reflect"
	"strings"
	"testing"

	"planloop/internal/monitor"
	"planloop/internal/tools"
)

func TestSuccessCriteria(t *testing.T) {
	tests := []struct {
		name string
		plan string
		want []string
	}{
		{"from good plan", goodPlan, []string{"app.py and db.py exist", "the test passes"}},
		{"markdown header", "1. step\n\n## Success Criteria\n1. output.txt exists\n2) it prints hi\n\nNotes: none", []string{"output.txt exists", "it prints hi"}},
		{"bold header", "**Success Criteria:**\n- done\nTrailing prose", []string{"done"}},
		{"none", "1. just steps", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SuccessCriteria(tt.plan); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("SuccessCriteria = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestReplanRequestListsFailures(t *testing.T) {
	res := monitor.Result{
		ReplanReason: "cascading failures detected",
		FailedTools: []monitor.FailedTool{
			{Tool: "edit_file", Error: "old_text not found\nin app.py", Index: 1},
			{Tool: "write_file", Error: "path is protected", Index: 2},
		},
	}
	got := ReplanRequest("Add logging", res)
	for _, want := range []string{"Add logging", "cascading failures detected", "step 2 edit_file: old_text not found in app.py", "step 3 write_file: path is protected"} {
		if !strings.Contains(got, want) {
			t.Fatalf("replan request missing %q:\n%s", want, got)
		}
	}
}

func TestPromptsNameToolsAndInputs(t *testing.T) {
	conv := ConversionPrompt(goodPlan, flaskRequest)
	for _, want := range []string{tools.CreateFile, tools.EditFile, "```yaml", goodPlan} {
		if !strings.Contains(conv, want) {
			t.Fatalf("conversion prompt missing %q", want)
		}
	}

	call := tools.ToolCall{Tool: tools.EditFile, Params: map[string]any{"path": "app.py", "old_text": "x"}}
	fix := QuickFixPrompt("req", call, tools.Outcome{Error: "old_text not found in app.py"},
		tools.Verification{Issues: "old_text not found in app.py", Suggestion: "Read the file first"}, "print('hi')\n")
	for _, want := range []string{"\"tool\": \"edit_file\"", "Error: old_text not found", "Suggestion: Read the file first", "Current Content of app.py", "print('hi')"} {
		if !strings.Contains(fix, want) {
			t.Fatalf("quick-fix prompt missing %q:\n%s", want, fix)
		}
	}

	plan := PlanPrompt("Build it", "")
	if !strings.Contains(plan, "No workspace context available") || !strings.Contains(plan, "Success Criteria:") {
		t.Fatalf("plan prompt = %s", plan)
	}
}
