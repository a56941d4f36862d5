// Package loop runs the plan, validate, execute, monitor and replan cycle for
// one request.
package loop

import (
	"context"
	"errors"
	"time"

	"planloop/internal/contextgather"
	"planloop/internal/monitor"
	"planloop/internal/planner"
	"planloop/internal/tools"
)

var (
	// ErrNoPlan is returned when no model produced a plan.
	ErrNoPlan = errors.New("no plan produced")
	// ErrNoToolCalls is returned when a plan could not be converted into tool calls.
	ErrNoToolCalls = errors.New("no tool calls produced")
)

// State names a step of the control loop.
type State string

const (
	StateGatherContext State = "gather_context"
	StatePlan          State = "plan"
	StateValidate      State = "validate"
	StateRefine        State = "refine"
	StateConvert       State = "convert_to_toolcalls"
	StateExecute       State = "execute"
	StateMonitor       State = "monitor"
	StateReplan        State = "replan"
	StateFinalize      State = "finalize"
)

type ToolExecutor interface {
	Execute(ctx context.Context, call tools.ToolCall) tools.Outcome
}

type Verifier interface {
	Verify(ctx context.Context, call tools.ToolCall, out tools.Outcome) tools.Verification
}

type ContextGatherer interface {
	Gather(ctx context.Context, request string) (contextgather.Context, error)
	Format(c contextgather.Context) string
}

// ToolCallParser turns formatter output into tool calls.
type ToolCallParser func(text string) ([]tools.ToolCall, error)

// EventSink receives audit events. Failures are logged and otherwise ignored.
type EventSink interface {
	LogEvent(actor string, eventType string, payload any) error
}

type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailure        Status = "failure"
)

// StepOutcome records one tool call of an attempt.
type StepOutcome struct {
	Index           int                 `json:"index"`
	Call            tools.ToolCall      `json:"call"`
	Result          tools.Outcome       `json:"result"`
	Verification    tools.Verification  `json:"verification"`
	AutoFixed       bool                `json:"auto_fixed"`
	FixCall         *tools.ToolCall     `json:"fix_call,omitempty"`
	FixResult       *tools.Outcome      `json:"fix_result,omitempty"`
	FixVerification *tools.Verification `json:"fix_verification,omitempty"`
	Skipped         bool                `json:"skipped"`
}

// Succeeded reports whether the step left the workspace as intended.
func (s StepOutcome) Succeeded() bool {
	return !s.Skipped && (s.Verification.Verified || s.AutoFixed)
}

// Error is the failure text of the step, including a failed quick fix.
func (s StepOutcome) Error() string {
	if s.Succeeded() || s.Skipped {
		return ""
	}
	msg := firstNonEmpty(s.Result.Error, s.Verification.Issues, "verification failed")
	if s.FixCall != nil {
		fix := "no result"
		if s.FixVerification != nil {
			fix = firstNonEmpty(s.FixResult.Error, s.FixVerification.Issues, "verification failed")
		}
		msg += "; quick fix failed: " + fix
	}
	return msg
}

// Attempt is one plan/execute pass. The first attempt plans the original
// request; later ones are replans.
type Attempt struct {
	Number      int                        `json:"number"`
	Request     string                     `json:"request"`
	Plan        string                     `json:"plan"`
	PlanModel   string                     `json:"plan_model"`
	Validation  planner.ValidationResult   `json:"validation"`
	Refinements []planner.RefinementResult `json:"refinements,omitempty"`
	ToolCalls   []tools.ToolCall           `json:"tool_calls,omitempty"`
	Steps       []StepOutcome              `json:"steps,omitempty"`
	Halted      bool                       `json:"halted"`
	Monitor     *monitor.Result            `json:"monitor,omitempty"`
}

type Criterion struct {
	Criterion string `json:"criterion"`
	Met       bool   `json:"met"`
}

// Report is the final outcome of a run. It always carries every attempt,
// including the partial one interrupted by an error.
type Report struct {
	RunID            string      `json:"run_id"`
	Request          string      `json:"request"`
	Status           Status      `json:"status"`
	Attempts         []*Attempt  `json:"attempts"`
	FinalPlan        string      `json:"final_plan"`
	SuccessCriteria  []Criterion `json:"success_criteria,omitempty"`
	WorkspaceChanged bool        `json:"workspace_changed"`
	StartedAt        time.Time   `json:"started_at"`
	FinishedAt       time.Time   `json:"finished_at"`
	Error            string      `json:"error,omitempty"`
}

// LastAttempt returns the most recent attempt, or nil.
func (r *Report) LastAttempt() *Attempt {
	if r == nil || len(r.Attempts) == 0 {
		return nil
	}
	return r.Attempts[len(r.Attempts)-1]
}

// StepCounts tallies the steps of the last attempt.
func (r *Report) StepCounts() (total, succeeded, failed, skipped int) {
	a := r.LastAttempt()
	if a == nil {
		return 0, 0, 0, 0
	}
	for _, s := range a.Steps {
		total++
		switch {
		case s.Skipped:
			skipped++
		case s.Succeeded():
			succeeded++
		default:
			failed++
		}
	}
	return total, succeeded, failed, skipped
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
