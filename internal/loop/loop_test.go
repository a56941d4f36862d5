package loop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"planloop/internal/adapters"
	"planloop/internal/config"
	"planloop/internal/guardrails"
	"planloop/internal/tools"
	"planloop/internal/workspace"
)

const helloRequest = `Create a "hello.txt" file containing a greeting`

const helloPlan = `## Plan
1. Create the file hello.txt containing a friendly greeting line.
2. Keep the content as plain text; no function, class, module or config changes are needed, and no test code is required for this single file.

Success Criteria:
- hello.txt exists
- hello.txt holds the greeting
`

const createHello = `- tool: create_file
  params:
    path: hello.txt
    content: hello world
`

// fakeModels answers per model name. The last reply for a model repeats.
type fakeModels struct {
	mu      sync.Mutex
	replies map[string][]adapters.Response
	prompts map[string][]string
}

func newFakeModels() *fakeModels {
	return &fakeModels{replies: map[string][]adapters.Response{}, prompts: map[string][]string{}}
}

func (f *fakeModels) reply(model string, texts ...string) *fakeModels {
	for _, t := range texts {
		f.replies[model] = append(f.replies[model], adapters.Response{Success: true, Text: t})
	}
	return f
}

func (f *fakeModels) fail(model, msg string) *fakeModels {
	f.replies[model] = append(f.replies[model], adapters.Response{Error: msg})
	return f
}

func (f *fakeModels) Call(ctx context.Context, prompt string, model string, opts adapters.Options) adapters.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts[model] = append(f.prompts[model], prompt)
	queue := f.replies[model]
	if len(queue) == 0 {
		return adapters.Response{Error: "no reply for " + model}
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.replies[model] = queue[1:]
	}
	return resp
}

func (f *fakeModels) calls(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts[model])
}

type recordedEvent struct {
	eventType string
	payload   map[string]any
}

type fakeSink struct {
	events []recordedEvent
}

func (s *fakeSink) LogEvent(actor string, eventType string, payload any) error {
	p, _ := payload.(map[string]any)
	s.events = append(s.events, recordedEvent{eventType: eventType, payload: p})
	return nil
}

type panicSink struct {
	on string
}

func (s *panicSink) LogEvent(actor string, eventType string, payload any) error {
	if eventType == s.on {
		panic("sink exploded on " + eventType)
	}
	return nil
}

type panicExecutor struct {
	inner   ToolExecutor
	panicAt int
	n       int
}

func (p *panicExecutor) Execute(ctx context.Context, call tools.ToolCall) tools.Outcome {
	p.n++
	if p.n == p.panicAt {
		panic("executor exploded")
	}
	return p.inner.Execute(ctx, call)
}

type failingExecutor struct {
	msg string
}

func (f failingExecutor) Execute(ctx context.Context, call tools.ToolCall) tools.Outcome {
	return tools.Outcome{Error: f.msg}
}

type fixture struct {
	dir    string
	cfg    config.Config
	models *fakeModels
	events *fakeSink
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	ws, err := workspace.Resolve(dir)
	if err != nil {
		t.Fatalf("resolve workspace: %v", err)
	}
	cfg := config.Default()
	guard, err := guardrails.NewPathGuard(cfg.Workspace.Protected)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	f := &fixture{dir: dir, cfg: cfg, models: newFakeModels(), events: &fakeSink{}}
	f.deps = Deps{
		Models:        f.models,
		Executor:      tools.NewExecutor(ws, guard, nil),
		Verifier:      tools.NewVerifier(ws),
		Events:        f.events,
		WorkspaceRoot: dir,
	}
	return f
}

func (f *fixture) run(t *testing.T, request string) *Report {
	t.Helper()
	l, err := New(f.cfg, f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l.Run(context.Background(), request)
}

func (f *fixture) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, rel), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)
	f.models.reply("orchestrator", helloPlan).reply("formatter", createHello)

	report := f.run(t, helloRequest)

	if report.Status != StatusSuccess {
		t.Fatalf("Status = %s, error %q", report.Status, report.Error)
	}
	if report.RunID == "" {
		t.Fatal("RunID is empty")
	}
	if got := f.models.calls("orchestrator"); got != 1 {
		t.Fatalf("orchestrator calls = %d, want 1 (valid plan needs no refinement)", got)
	}
	if len(report.Attempts) != 1 || len(report.Attempts[0].Refinements) != 0 {
		t.Fatalf("unexpected attempts: %+v", report.Attempts)
	}
	data, err := os.ReadFile(filepath.Join(f.dir, "hello.txt"))
	if err != nil || string(data) != "hello world" {
		t.Fatalf("hello.txt = %q, %v", data, err)
	}
	if !report.WorkspaceChanged {
		t.Fatal("WorkspaceChanged = false after creating a file")
	}
	if len(report.SuccessCriteria) != 2 {
		t.Fatalf("SuccessCriteria = %+v", report.SuccessCriteria)
	}
	for _, c := range report.SuccessCriteria {
		if !c.Met {
			t.Fatalf("criterion %q not met", c.Criterion)
		}
	}

	types := map[string]bool{}
	for _, e := range f.events.events {
		types[e.eventType] = true
		if e.payload["run_id"] != report.RunID {
			t.Fatalf("event %s missing run_id: %v", e.eventType, e.payload)
		}
	}
	for _, want := range []string{"run_started", "plan_generated", "plan_validated", "tool_call", "attempt_monitored", "run_finished"} {
		if !types[want] {
			t.Fatalf("missing audit event %s", want)
		}
	}
}

func TestRefinementIsBounded(t *testing.T) {
	f := newFixture(t)
	f.models.reply("orchestrator", "do it").fail("formatter", "formatter down")

	report := f.run(t, helloRequest)

	// One planning call plus two refinements.
	if got := f.models.calls("orchestrator"); got != 3 {
		t.Fatalf("orchestrator calls = %d, want 3", got)
	}
	attempt := report.LastAttempt()
	if len(attempt.Refinements) != f.cfg.Loop.MaxRefinementIterations {
		t.Fatalf("refinements = %d", len(attempt.Refinements))
	}
	if attempt.Plan != "do it" || attempt.Validation.Valid {
		t.Fatalf("best plan = %q valid=%v", attempt.Plan, attempt.Validation.Valid)
	}
	if !strings.Contains(report.Error, ErrNoToolCalls.Error()) {
		t.Fatalf("Error = %q", report.Error)
	}
	if report.Status != StatusFailure {
		t.Fatalf("Status = %s", report.Status)
	}
}

func TestRefinementKeepsBestPlan(t *testing.T) {
	f := newFixture(t)
	f.models.reply("orchestrator", "do it", helloPlan).reply("formatter", createHello)

	report := f.run(t, helloRequest)

	attempt := report.LastAttempt()
	if len(attempt.Refinements) != 1 || !attempt.Refinements[0].Success {
		t.Fatalf("refinements = %+v", attempt.Refinements)
	}
	if attempt.Plan != strings.TrimSpace(helloPlan) || !attempt.Validation.Valid {
		t.Fatalf("final plan not the refined one (score %.2f)", attempt.Validation.Score)
	}
	if report.Status != StatusSuccess {
		t.Fatalf("Status = %s, error %q", report.Status, report.Error)
	}
}

func TestPlanFallsBackToReasoner(t *testing.T) {
	f := newFixture(t)
	f.models.fail("orchestrator", "model not loaded").reply("reasoner", helloPlan).reply("formatter", createHello)

	report := f.run(t, helloRequest)

	if got := report.LastAttempt().PlanModel; got != "reasoner" {
		t.Fatalf("PlanModel = %q", got)
	}
	if report.Status != StatusSuccess {
		t.Fatalf("Status = %s, error %q", report.Status, report.Error)
	}
}

func TestNoPlanIsFailure(t *testing.T) {
	f := newFixture(t)
	f.models.fail("orchestrator", "down").fail("reasoner", "also down")

	report := f.run(t, helloRequest)

	if report.Status != StatusFailure {
		t.Fatalf("Status = %s", report.Status)
	}
	if !strings.Contains(report.Error, ErrNoPlan.Error()) || !strings.Contains(report.Error, "also down") {
		t.Fatalf("Error = %q", report.Error)
	}
	if len(report.Attempts) != 1 {
		t.Fatalf("attempts = %d", len(report.Attempts))
	}
}

func TestConvertFallsBackToPlanBlocks(t *testing.T) {
	f := newFixture(t)
	plan := helloPlan + "\n```yaml\n" + createHello + "```\n"
	f.models.reply("orchestrator", plan).fail("formatter", "formatter down")

	report := f.run(t, helloRequest)

	if report.Status != StatusSuccess {
		t.Fatalf("Status = %s, error %q", report.Status, report.Error)
	}
	if got := len(report.LastAttempt().ToolCalls); got != 1 {
		t.Fatalf("tool calls = %d", got)
	}
}

func TestQuickFixRepairsStep(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "notes.txt", "hello\n")
	f.models.reply("orchestrator", helloPlan).
		reply("formatter", "- tool: edit_file\n  params:\n    path: notes.txt\n    old_text: absent\n    new_text: present\n").
		reply("coder", "```yaml\n- tool: write_file\n  params:\n    path: notes.txt\n    content: present\n```\n")

	report := f.run(t, helloRequest)

	step := report.LastAttempt().Steps[0]
	if !step.AutoFixed || !step.Succeeded() {
		t.Fatalf("step not auto-fixed: %+v", step)
	}
	if step.FixCall == nil || step.FixCall.Tool != tools.WriteFile {
		t.Fatalf("FixCall = %+v", step.FixCall)
	}
	if prompt := f.models.prompts["coder"][0]; !strings.Contains(prompt, "## Current Content of notes.txt") || !strings.Contains(prompt, "hello") {
		t.Fatalf("quick fix prompt lacks file content:\n%s", prompt)
	}
	if got := f.models.calls("coder"); got != 1 {
		t.Fatalf("coder calls = %d", got)
	}
}

func TestUnfixedFailureHaltsAndSkips(t *testing.T) {
	f := newFixture(t)
	f.cfg.Loop.MaxReplanAttempts = 0
	badEdit := "- tool: edit_file\n  params:\n    path: missing.txt\n    old_text: a\n    new_text: b\n"
	f.models.reply("orchestrator", helloPlan).
		reply("formatter", badEdit+`- tool: create_file
  params:
    path: a.txt
    content: a
- tool: create_file
  params:
    path: b.txt
    content: b
`).
		reply("coder", badEdit)

	report := f.run(t, helloRequest)

	attempt := report.LastAttempt()
	if !attempt.Halted || len(attempt.Steps) != 3 {
		t.Fatalf("halted=%v steps=%d", attempt.Halted, len(attempt.Steps))
	}
	if attempt.Steps[0].Succeeded() || !attempt.Steps[1].Skipped || !attempt.Steps[2].Skipped {
		t.Fatalf("steps = %+v", attempt.Steps)
	}
	if !strings.Contains(attempt.Steps[0].Error(), "quick fix failed") {
		t.Fatalf("step error = %q", attempt.Steps[0].Error())
	}
	if _, err := os.Stat(filepath.Join(f.dir, "a.txt")); err == nil {
		t.Fatal("skipped step was executed")
	}
	if got := f.models.calls("coder"); got != 1 {
		t.Fatalf("coder calls = %d, want exactly one quick fix", got)
	}
	if attempt.Monitor == nil || attempt.Monitor.Total != 1 {
		t.Fatalf("monitor should only see executed steps: %+v", attempt.Monitor)
	}
	if report.Status != StatusFailure {
		t.Fatalf("Status = %s", report.Status)
	}
	for _, c := range report.SuccessCriteria {
		if c.Met {
			t.Fatalf("criterion %q met on failed run", c.Criterion)
		}
	}
}

func TestContinueWithoutHalt(t *testing.T) {
	f := newFixture(t)
	f.cfg.Loop.MaxReplanAttempts = 0
	f.cfg.Loop.QuickFix = false
	f.cfg.Loop.HaltOnFailure = false
	f.models.reply("orchestrator", helloPlan).
		reply("formatter", "- tool: edit_file\n  params:\n    path: missing.txt\n    old_text: a\n    new_text: b\n"+createHello)

	report := f.run(t, helloRequest)

	attempt := report.LastAttempt()
	if attempt.Halted || attempt.Steps[1].Skipped || !attempt.Steps[1].Succeeded() {
		t.Fatalf("steps = %+v", attempt.Steps)
	}
	if report.Status != StatusPartialSuccess {
		t.Fatalf("Status = %s", report.Status)
	}
	if f.models.calls("coder") != 0 {
		t.Fatal("quick fix ran while disabled")
	}
}

func TestReplanIsBounded(t *testing.T) {
	f := newFixture(t)
	f.cfg.Loop.QuickFix = false
	f.models.reply("orchestrator", helloPlan).
		reply("formatter", "- tool: edit_file\n  params:\n    path: missing.txt\n    old_text: a\n    new_text: b\n")

	report := f.run(t, helloRequest)

	if got := len(report.Attempts); got != 1+f.cfg.Loop.MaxReplanAttempts {
		t.Fatalf("attempts = %d", got)
	}
	second := report.Attempts[1]
	if !strings.Contains(second.Request, "The previous attempt failed") || !strings.Contains(second.Request, "missing.txt") {
		t.Fatalf("replan request = %q", second.Request)
	}
	if got := f.models.calls("orchestrator"); got != 2 {
		t.Fatalf("orchestrator calls = %d", got)
	}
	if !report.LastAttempt().Monitor.ReplanNeeded {
		t.Fatal("last attempt should still need a replan")
	}
	if report.Status != StatusFailure {
		t.Fatalf("Status = %s", report.Status)
	}
}

func TestEarlyTerminationStopsReplanning(t *testing.T) {
	f := newFixture(t)
	f.cfg.Loop.QuickFix = false
	f.deps.Executor = failingExecutor{msg: "open hello.txt: permission denied"}
	f.models.reply("orchestrator", helloPlan).reply("formatter", createHello)

	report := f.run(t, helloRequest)

	if len(report.Attempts) != 1 {
		t.Fatalf("attempts = %d, want no replan after early termination", len(report.Attempts))
	}
	res := report.LastAttempt().Monitor
	if !res.CriticalFailure || !res.EarlyTermination {
		t.Fatalf("monitor = %+v", res)
	}
}

func TestPanicPreservesSteps(t *testing.T) {
	f := newFixture(t)
	f.deps.Executor = &panicExecutor{inner: f.deps.Executor, panicAt: 2}
	f.models.reply("orchestrator", helloPlan).reply("formatter", createHello+`- tool: create_file
  params:
    path: second.txt
    content: two
`)

	report := f.run(t, helloRequest)

	if !strings.Contains(report.Error, "executor exploded") {
		t.Fatalf("Error = %q", report.Error)
	}
	attempt := report.LastAttempt()
	if len(attempt.Steps) != 1 || !attempt.Steps[0].Succeeded() {
		t.Fatalf("steps = %+v", attempt.Steps)
	}
	if report.Status != StatusPartialSuccess {
		t.Fatalf("Status = %s", report.Status)
	}
	if report.FinishedAt.IsZero() {
		t.Fatal("FinishedAt not set after panic")
	}
}

func TestPanickingSinkIsContained(t *testing.T) {
	tests := []struct {
		on         string
		wantStatus Status
	}{
		{on: "run_started", wantStatus: StatusFailure},
		{on: "run_finished", wantStatus: StatusPartialSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.on, func(t *testing.T) {
			f := newFixture(t)
			f.deps.Events = &panicSink{on: tt.on}
			f.models.reply("orchestrator", helloPlan).reply("formatter", createHello)

			var report *Report
			func() {
				defer func() {
					if p := recover(); p != nil {
						t.Fatalf("panic escaped Run: %v", p)
					}
				}()
				report = f.run(t, helloRequest)
			}()

			if !strings.Contains(report.Error, "sink exploded on "+tt.on) {
				t.Fatalf("Error = %q", report.Error)
			}
			if report.Status != tt.wantStatus {
				t.Fatalf("Status = %s, want %s", report.Status, tt.wantStatus)
			}
			if report.FinishedAt.IsZero() {
				t.Fatal("FinishedAt not set")
			}
		})
	}
}

func TestEmptyParserResultNamesMissingCalls(t *testing.T) {
	f := newFixture(t)
	f.deps.Parser = func(string) ([]tools.ToolCall, error) { return nil, nil }
	f.models.reply("orchestrator", helloPlan).reply("formatter", createHello)

	report := f.run(t, helloRequest)

	if !strings.Contains(report.Error, "formatter output: no tool calls") {
		t.Fatalf("Error = %q", report.Error)
	}
	if strings.Contains(report.Error, "<nil>") {
		t.Fatalf("Error leaks a nil error: %q", report.Error)
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.models.reply("orchestrator", helloPlan).reply("formatter", createHello)
	l, err := New(f.cfg, f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := l.Run(ctx, helloRequest)

	if !strings.Contains(report.Error, context.Canceled.Error()) {
		t.Fatalf("Error = %q", report.Error)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "hello.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("cancelled run wrote files")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	f := newFixture(t)
	for name, mutate := range map[string]func(*Deps){
		"models":   func(d *Deps) { d.Models = nil },
		"executor": func(d *Deps) { d.Executor = nil },
		"verifier": func(d *Deps) { d.Verifier = nil },
	} {
		deps := f.deps
		mutate(&deps)
		if _, err := New(f.cfg, deps); err == nil {
			t.Fatalf("New without %s: expected error", name)
		}
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	f.cfg.Loop.MaxReplanAttempts = 0
	f.cfg.Loop.QuickFix = false
	f.models.reply("orchestrator", helloPlan).
		reply("formatter", createHello+"- tool: edit_file\n  params:\n    path: missing.txt\n    old_text: a\n    new_text: b\n")

	report := f.run(t, helloRequest)
	out := Summary(report)

	for _, want := range []string{
		"Status: partial_success",
		"Attempt 1 (plan by orchestrator)",
		"ok      create_file(hello.txt)",
		"FAILED  edit_file(missing.txt): file not found",
		"Success criteria:",
		"[ ] hello.txt exists",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}
