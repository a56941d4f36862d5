package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"planloop/internal/guardrails"
	"planloop/internal/monitor"
	"planloop/internal/planner"
)

func (r *run) finalize(integrity *guardrails.IntegrityCheck) {
	r.transition(StateFinalize)
	report := r.report

	if integrity != nil {
		if err := integrity.CaptureAfter(); err != nil {
			r.logger.Warn("workspace snapshot failed", "error", err)
		} else {
			report.WorkspaceChanged = integrity.HasChanges()
		}
	}

	report.Status = r.status()
	report.SuccessCriteria = r.criteria()
	report.FinishedAt = r.loop.now().UTC()

	total, succeeded, failed, skipped := report.StepCounts()
	r.logger.Info("run finished",
		"status", report.Status,
		"attempts", len(report.Attempts),
		"steps", total,
		"succeeded", succeeded,
		"failed", failed,
		"skipped", skipped,
		"workspace_changed", report.WorkspaceChanged,
	)
	r.emit("run_finished", map[string]any{
		"status":            report.Status,
		"attempts":          len(report.Attempts),
		"steps":             total,
		"failed":            failed,
		"skipped":           skipped,
		"workspace_changed": report.WorkspaceChanged,
		"error":             report.Error,
	})
}

// status is success only for a clean final attempt. Any succeeded step in
// any attempt makes the run at least a partial success.
func (r *run) status() Status {
	report := r.report
	if last := report.LastAttempt(); last != nil && report.Error == "" && last.Monitor != nil &&
		last.Monitor.Status == monitor.StatusSuccess {
		_, _, _, skipped := report.StepCounts()
		if skipped == 0 {
			return StatusSuccess
		}
	}
	for _, a := range report.Attempts {
		for _, s := range a.Steps {
			if s.Succeeded() {
				return StatusPartialSuccess
			}
		}
	}
	return StatusFailure
}

// criteria marks a criterion met when the run succeeded and every path it
// mentions exists in the workspace.
func (r *run) criteria() []Criterion {
	items := planner.SuccessCriteria(r.report.FinalPlan)
	if len(items) == 0 {
		return nil
	}
	out := make([]Criterion, 0, len(items))
	for _, item := range items {
		met := r.report.Status == StatusSuccess
		if met && r.loop.deps.WorkspaceRoot != "" {
			for _, p := range planner.MentionedPaths(item) {
				if _, err := os.Stat(filepath.Join(r.loop.deps.WorkspaceRoot, filepath.FromSlash(p))); err != nil {
					met = false
					break
				}
			}
		}
		out = append(out, Criterion{Criterion: item, Met: met})
	}
	return out
}

// Summary renders a plain-text summary of a report.
func Summary(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", report.RunID)
	fmt.Fprintf(&b, "Status: %s\n", report.Status)
	fmt.Fprintf(&b, "Attempts: %d\n", len(report.Attempts))

	for _, a := range report.Attempts {
		fmt.Fprintf(&b, "\nAttempt %d", a.Number)
		if a.PlanModel != "" {
			fmt.Fprintf(&b, " (plan by %s)", a.PlanModel)
		}
		b.WriteString("\n")
		if a.Plan != "" {
			fmt.Fprintf(&b, "  validation score: %.2f", a.Validation.Score)
			if len(a.Refinements) > 0 {
				fmt.Fprintf(&b, " after %d refinement(s)", len(a.Refinements))
			}
			b.WriteString("\n")
		}
		for _, s := range a.Steps {
			mark := "ok"
			switch {
			case s.Skipped:
				mark = "skipped"
			case s.AutoFixed:
				mark = "fixed"
			case !s.Succeeded():
				mark = "FAILED"
			}
			fmt.Fprintf(&b, "  [%d] %-7s %s", s.Index, mark, s.Call.String())
			if msg := s.Error(); msg != "" {
				fmt.Fprintf(&b, ": %s", msg)
			}
			b.WriteString("\n")
		}
		if a.Halted {
			b.WriteString("  execution halted after an unfixed failure\n")
		}
		if a.Monitor != nil && a.Monitor.ReplanNeeded {
			fmt.Fprintf(&b, "  replan needed: %s\n", a.Monitor.ReplanReason)
		}
	}

	if len(report.SuccessCriteria) > 0 {
		b.WriteString("\nSuccess criteria:\n")
		for _, c := range report.SuccessCriteria {
			box := "[ ]"
			if c.Met {
				box = "[x]"
			}
			fmt.Fprintf(&b, "  %s %s\n", box, c.Criterion)
		}
	}
	if report.WorkspaceChanged {
		b.WriteString("\nWorkspace changed.\n")
	}
	if report.Error != "" {
		fmt.Fprintf(&b, "\nError: %s\n", report.Error)
	}
	return b.String()
}
