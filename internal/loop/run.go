package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"planloop/internal/adapters"
	"planloop/internal/config"
	"planloop/internal/guardrails"
	"planloop/internal/logging"
	"planloop/internal/monitor"
	"planloop/internal/planner"
	"planloop/internal/tools"
)

const auditActor = "planloop"

// Deps are the collaborators of a Loop. Models, Executor and Verifier are
// required; the rest are optional.
type Deps struct {
	Models   adapters.ModelCaller
	Executor ToolExecutor
	Verifier Verifier
	Context  ContextGatherer
	Parser   ToolCallParser
	Events   EventSink
	Monitor  *monitor.ExecutionMonitor
	// Refinements collects refinement statistics across runs.
	Refinements *planner.History
	Logger      *logging.Logger
	// WorkspaceRoot enables the before/after snapshot and success
	// criteria path checks.
	WorkspaceRoot string
	SnapshotSkip  []string
}

// Loop drives requests through the control loop. A Loop handles one request
// at a time; it holds no per-request state between runs.
type Loop struct {
	cfg       config.Config
	deps      Deps
	validator *planner.Validator
	refiner   *planner.Refiner
	monitor   *monitor.ExecutionMonitor
	logger    *logging.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) (*Loop, error) {
	if deps.Models == nil {
		return nil, errors.New("model caller is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("tool executor is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if deps.Parser == nil {
		deps.Parser = tools.ParseToolCalls
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.New(cfg.Monitor, deps.Logger)
	}
	if deps.Refinements == nil {
		deps.Refinements = planner.NewHistory(cfg.Refine.HistorySize)
	}
	if deps.SnapshotSkip == nil {
		deps.SnapshotSkip = append([]string{".planloop/**"}, cfg.Workspace.Protected...)
	}

	orchestrator := cfg.Models.Orchestrator
	return &Loop{
		cfg:       cfg,
		deps:      deps,
		validator: planner.NewValidator(),
		refiner: planner.NewRefiner(deps.Models, planner.RefinerOptions{
			Model:             orchestrator.Name,
			Options:           adapters.OptionsFor(orchestrator),
			MinResponseLength: cfg.Refine.MinResponseLength,
			History:           deps.Refinements,
			Logger:            deps.Logger,
		}),
		monitor: deps.Monitor,
		logger:  deps.Logger,
		now:     time.Now,
	}, nil
}

// Monitor exposes the execution monitor for statistics.
func (l *Loop) Monitor() *monitor.ExecutionMonitor {
	return l.monitor
}

// Refiner exposes the plan refiner for statistics.
func (l *Loop) Refiner() *planner.Refiner {
	return l.refiner
}

// Run processes one request. It never returns an error: failures, including
// panics in collaborators, end up in Report.Error next to whatever was
// accumulated before them.
func (l *Loop) Run(ctx context.Context, request string) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		Request:   request,
		StartedAt: l.now().UTC(),
	}
	r := &run{loop: l, report: report, logger: l.logger.WithRun(report.RunID)}

	var integrity *guardrails.IntegrityCheck
	r.guard(func() {
		r.emit("run_started", map[string]any{"request": request})
		if l.deps.WorkspaceRoot != "" {
			check, err := guardrails.NewIntegrityCheck(l.deps.WorkspaceRoot, l.deps.SnapshotSkip)
			if err != nil {
				r.logger.Warn("workspace snapshot failed", "error", err)
			} else {
				integrity = check
			}
		}
		if err := r.execute(ctx); err != nil {
			r.logger.Warn("run stopped", "error", err)
			report.Error = guardrails.SanitizeError(err.Error())
		}
	})

	if r.guard(func() { r.finalize(integrity) }) {
		report.Status = r.status()
		if report.FinishedAt.IsZero() {
			report.FinishedAt = l.now().UTC()
		}
	}
	return report
}

// guard runs fn and turns a panic into Report.Error. It reports whether fn
// panicked.
func (r *run) guard(fn func()) (panicked bool) {
	defer func() {
		if p := recover(); p != nil {
			panicked = true
			r.logger.Error("loop panic", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			if r.report.Error == "" {
				r.report.Error = guardrails.SanitizeError(fmt.Sprintf("internal error: %v", p))
			}
		}
	}()
	fn()
	return false
}

// run holds the state of one request.
type run struct {
	loop   *Loop
	report *Report
	logger *logging.Logger
}

func (r *run) transition(state State, attrs ...any) {
	r.logger.WithPhase(string(state)).Debug("state", attrs...)
}

func (r *run) execute(ctx context.Context) error {
	l := r.loop
	r.transition(StateGatherContext)
	contextText := r.gatherContext(ctx, r.report.Request)

	request := r.report.Request
	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt := &Attempt{Number: number, Request: request}
		r.report.Attempts = append(r.report.Attempts, attempt)

		if number > 1 {
			r.transition(StateReplan, "attempt", number)
		}
		r.transition(StatePlan, "attempt", number)
		plan, model, err := r.plan(ctx, request, contextText)
		if err != nil {
			return err
		}
		attempt.PlanModel = model

		best, validation, err := r.validateAndRefine(ctx, attempt, plan)
		if err != nil {
			return err
		}
		attempt.Plan = best
		attempt.Validation = validation
		r.report.FinalPlan = best

		r.transition(StateConvert)
		calls, err := r.convert(ctx, best, request)
		if err != nil {
			return err
		}
		attempt.ToolCalls = calls
		r.emit("tool_calls_planned", map[string]any{"attempt": number, "count": len(calls)})

		r.transition(StateExecute, "calls", len(calls))
		if err := r.executeCalls(ctx, attempt); err != nil {
			return err
		}

		r.transition(StateMonitor)
		res := l.monitor.Monitor(best, monitorResults(attempt.Steps))
		attempt.Monitor = &res
		r.emit("attempt_monitored", map[string]any{
			"attempt":       number,
			"status":        res.Status,
			"success_rate":  res.SuccessRate,
			"replan_needed": res.ReplanNeeded,
			"replan_reason": res.ReplanReason,
		})

		if !res.ReplanNeeded {
			return nil
		}
		if res.EarlyTermination {
			r.logger.Warn("early termination", "reason", res.ReplanReason)
			return nil
		}
		if number > l.cfg.Loop.MaxReplanAttempts {
			r.logger.Info("replan limit reached", "attempts", number)
			return nil
		}
		request = planner.ReplanRequest(r.report.Request, res)
		contextText = r.gatherContext(ctx, r.report.Request)
	}
}

func (r *run) gatherContext(ctx context.Context, request string) string {
	g := r.loop.deps.Context
	if g == nil {
		return ""
	}
	c, err := g.Gather(ctx, request)
	if err != nil {
		r.logger.Warn("context gathering failed", "error", err)
		return ""
	}
	return g.Format(c)
}

// plan asks the orchestrator for a plan, falling back to the reasoner model.
func (r *run) plan(ctx context.Context, request, contextText string) (string, string, error) {
	models := r.loop.cfg.Models
	prompt := planner.PlanPrompt(request, contextText)

	roles := []config.ModelRole{models.Orchestrator}
	if models.Reasoner.Name != "" && models.Reasoner.Name != models.Orchestrator.Name {
		roles = append(roles, models.Reasoner)
	}
	var failures []string
	for _, role := range roles {
		resp := r.loop.deps.Models.Call(ctx, prompt, role.Name, adapters.OptionsFor(role))
		text := strings.TrimSpace(resp.Text)
		if resp.Success && text != "" {
			r.emit("plan_generated", map[string]any{"model": role.Name, "chars": len(text)})
			return text, role.Name, nil
		}
		reason := firstNonEmpty(resp.Error, "empty response")
		failures = append(failures, fmt.Sprintf("%s: %s", role.Name, reason))
		r.logger.Warn("planning call failed", "model", role.Name, "error", reason)
		if err := ctx.Err(); err != nil {
			break
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrNoPlan, strings.Join(failures, "; "))
}

// validateAndRefine refines until the plan is valid or the iteration bound
// is reached, and returns the best-scoring plan seen.
func (r *run) validateAndRefine(ctx context.Context, attempt *Attempt, plan string) (string, planner.ValidationResult, error) {
	l := r.loop
	r.transition(StateValidate)
	current := plan
	currentVal := l.validator.Validate(current, r.report.Request)
	best, bestVal := current, currentVal
	r.emit("plan_validated", map[string]any{"attempt": attempt.Number, "score": currentVal.Score, "valid": currentVal.Valid})

	for i := 0; !currentVal.Valid && i < l.cfg.Loop.MaxRefinementIterations; i++ {
		if err := ctx.Err(); err != nil {
			return best, bestVal, err
		}
		r.transition(StateRefine, "iteration", i+1, "score", currentVal.Score)
		res := l.refiner.Refine(ctx, current, currentVal, r.report.Request)
		attempt.Refinements = append(attempt.Refinements, res)
		if !res.Success {
			continue
		}
		current = res.RefinedPlan
		r.transition(StateValidate)
		currentVal = l.validator.Validate(current, r.report.Request)
		r.emit("plan_validated", map[string]any{"attempt": attempt.Number, "score": currentVal.Score, "valid": currentVal.Valid, "refinement": i + 1})
		if currentVal.Score > bestVal.Score {
			best, bestVal = current, currentVal
		}
	}
	if !bestVal.Valid {
		r.logger.Warn("executing plan below validation threshold", "score", bestVal.Score, "issues", len(bestVal.Issues))
	}
	return best, bestVal, nil
}

// convert asks the formatter for tool calls. When the formatter fails, the
// plan itself is parsed in case it already holds tool-call blocks.
func (r *run) convert(ctx context.Context, plan, request string) ([]tools.ToolCall, error) {
	formatter := r.loop.cfg.Models.Formatter
	resp := r.loop.deps.Models.Call(ctx, planner.ConversionPrompt(plan, request), formatter.Name, adapters.OptionsFor(formatter))

	var errs []string
	if resp.Success {
		calls, err := r.loop.deps.Parser(resp.Text)
		if err == nil && len(calls) > 0 {
			return calls, nil
		}
		if err == nil {
			errs = append(errs, "formatter output: no tool calls")
		} else {
			errs = append(errs, fmt.Sprintf("formatter output: %v", err))
		}
	} else {
		errs = append(errs, fmt.Sprintf("formatter call: %s", resp.Error))
	}

	if calls, err := r.loop.deps.Parser(plan); err == nil && len(calls) > 0 {
		r.logger.Info("using tool calls embedded in plan", "count", len(calls))
		return calls, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoToolCalls, strings.Join(errs, "; "))
}

// executeCalls applies calls strictly in order, verifying each before the
// next. With halt_on_failure an unfixed failure skips the remaining calls.
func (r *run) executeCalls(ctx context.Context, attempt *Attempt) error {
	l := r.loop
	halted := false
	var stopErr error
	for i, call := range attempt.ToolCalls {
		step := StepOutcome{Index: i, Call: call}
		if !halted {
			if err := ctx.Err(); err != nil {
				halted = true
				stopErr = err
			}
		}
		if halted {
			step.Skipped = true
			attempt.Steps = append(attempt.Steps, step)
			continue
		}

		step.Result = l.deps.Executor.Execute(ctx, call)
		step.Verification = l.deps.Verifier.Verify(ctx, call, step.Result)
		r.logger.Info("tool call", "index", i, "tool", call.Tool, "path", call.Path(),
			"success", step.Result.Success, "verified", step.Verification.Verified)

		if !step.Verification.Verified && l.cfg.Loop.QuickFix {
			r.quickFix(ctx, attempt.Request, &step)
		}
		// Record the step before any later call can panic.
		attempt.Steps = append(attempt.Steps, step)
		r.emit("tool_call", map[string]any{
			"attempt":    attempt.Number,
			"index":      i,
			"tool":       call.Tool,
			"path":       call.Path(),
			"success":    step.Succeeded(),
			"auto_fixed": step.AutoFixed,
			"error":      step.Error(),
		})

		if !step.Succeeded() && l.cfg.Loop.HaltOnFailure {
			halted = true
			attempt.Halted = true
			r.logger.Warn("halting execution", "index", i, "tool", call.Tool, "error", step.Error())
		}
	}
	return stopErr
}

// quickFix makes one coder call for a substitute tool call and applies it once.
func (r *run) quickFix(ctx context.Context, request string, step *StepOutcome) {
	l := r.loop
	coder := l.cfg.Models.Coder

	var fileContent string
	if step.Call.Tool == tools.EditFile && step.Call.Path() != "" {
		read := l.deps.Executor.Execute(ctx, tools.ToolCall{Tool: tools.ReadFile, Params: map[string]any{"path": step.Call.Path()}})
		if read.Success {
			fileContent, _ = read.Fields["content"].(string)
		}
	}

	prompt := planner.QuickFixPrompt(request, step.Call, step.Result, step.Verification, fileContent)
	resp := l.deps.Models.Call(ctx, prompt, coder.Name, adapters.OptionsFor(coder))
	if !resp.Success {
		r.logger.Warn("quick fix call failed", "tool", step.Call.Tool, "error", resp.Error)
		return
	}
	calls, err := l.deps.Parser(resp.Text)
	if err != nil || len(calls) == 0 {
		r.logger.Warn("quick fix produced no tool call", "tool", step.Call.Tool, "error", err)
		return
	}

	fix := calls[0]
	out := l.deps.Executor.Execute(ctx, fix)
	verification := l.deps.Verifier.Verify(ctx, fix, out)
	step.FixCall = &fix
	step.FixResult = &out
	step.FixVerification = &verification
	step.AutoFixed = verification.Verified
	r.logger.Info("quick fix applied", "tool", fix.Tool, "path", fix.Path(), "verified", verification.Verified)
}

func monitorResults(steps []StepOutcome) []monitor.ToolResult {
	var out []monitor.ToolResult
	for _, s := range steps {
		if s.Skipped {
			continue
		}
		out = append(out, monitor.ToolResult{
			Tool:    s.Call.Tool,
			Params:  s.Call.Params,
			Success: s.Succeeded(),
			Error:   s.Error(),
		})
	}
	return out
}

func (r *run) emit(eventType string, payload map[string]any) {
	sink := r.loop.deps.Events
	if sink == nil {
		return
	}
	payload["run_id"] = r.report.RunID
	if err := sink.LogEvent(auditActor, eventType, payload); err != nil {
		r.logger.Debug("audit event dropped", "type", eventType, "error", err)
	}
}
