package planner

import (
	"context"
	"fmt"
	"strings"

	"planloop/internal/adapters"
	"planloop/internal/logging"
)

// DefaultMinResponseLength is the shortest model reply accepted as a plan.
const DefaultMinResponseLength = 50

// Refiner makes one corrective model call per Refine. The caller bounds how
// many times it is invoked.
type Refiner struct {
	caller            adapters.ModelCaller
	model             string
	opts              adapters.Options
	minResponseLength int
	validator         *Validator
	history           *History
	logger            *logging.Logger
}

type RefinerOptions struct {
	Model             string
	Options           adapters.Options
	MinResponseLength int
	History           *History
	Logger            *logging.Logger
}

func NewRefiner(caller adapters.ModelCaller, opts RefinerOptions) *Refiner {
	if opts.MinResponseLength <= 0 {
		opts.MinResponseLength = DefaultMinResponseLength
	}
	return &Refiner{
		caller:            caller,
		model:             opts.Model,
		opts:              opts.Options,
		minResponseLength: opts.MinResponseLength,
		validator:         NewValidator(),
		history:           opts.History,
		logger:            opts.Logger,
	}
}

// Refine returns an improved plan. An already valid plan is returned as-is
// without calling the model.
func (r *Refiner) Refine(ctx context.Context, plan string, validation ValidationResult, request string) RefinementResult {
	if validation.Valid {
		return RefinementResult{Success: true, RefinedPlan: plan}
	}

	prompt := RefinementPrompt(plan, validation, request)
	r.logger.Info("refining plan", "score", validation.Score, "issues", len(validation.Issues))
	resp := r.caller.Call(ctx, prompt, r.model, r.opts)

	result := RefinementResult{RefinedPlan: plan}
	switch {
	case !resp.Success:
		result.Error = fmt.Sprintf("refinement model call failed: %s", resp.Error)
	default:
		refined := strings.TrimSpace(resp.Text)
		if len(refined) < r.minResponseLength {
			result.Error = fmt.Sprintf("refined plan too short (%d characters, need %d)", len(refined), r.minResponseLength)
			break
		}
		result.Success = true
		result.RefinedPlan = refined
		result.RefinementApplied = true
	}

	rec := RefinementRecord{
		Success:     result.Success,
		ScoreBefore: validation.Score,
		ScoreAfter:  validation.Score,
		Error:       result.Error,
	}
	if result.Success {
		rec.ScoreAfter = r.validator.Validate(result.RefinedPlan, request).Score
	}
	r.history.Record(rec)

	if result.Success {
		r.logger.Info("plan refined", "score_before", rec.ScoreBefore, "score_after", rec.ScoreAfter)
	} else {
		r.logger.Warn("plan refinement failed", "error", result.Error)
	}
	return result
}

// Stats reports the refinement history, if one was supplied.
func (r *Refiner) Stats() RefinementStats {
	return r.history.Stats()
}

// RefinementPrompt renders the corrective prompt for a failed validation.
func RefinementPrompt(plan string, validation ValidationResult, request string) string {
	var b strings.Builder
	b.WriteString("# Plan Refinement\n\n")
	b.WriteString("Your previous plan was not actionable enough to execute. Rewrite it so it can be carried out step by step.\n\n")
	fmt.Fprintf(&b, "Previous validation score: %.2f (minimum %.2f)\n\n", validation.Score, ValidThreshold)

	b.WriteString("## Original Request\n")
	b.WriteString(request)
	b.WriteString("\n\n## Previous Plan\n")
	b.WriteString(plan)
	b.WriteString("\n\n")

	if len(validation.Issues) > 0 {
		b.WriteString("## Issues\n")
		for _, issue := range validation.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
		b.WriteString("\n")
	}
	if len(validation.Suggestions) > 0 {
		b.WriteString("## Suggestions\n")
		for _, s := range validation.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}

	if feedback := checkFeedback(validation.Details); len(feedback) > 0 {
		b.WriteString("## Detailed Feedback\n")
		for _, f := range feedback {
			b.WriteString(f)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("## Required Output\n")
	b.WriteString("Reply with the complete improved plan only. Use numbered steps, name every file with its path, ")
	b.WriteString("describe the functions, classes or data each file needs, and end with a \"Success Criteria:\" section.\n")
	return b.String()
}

func checkFeedback(d Details) []string {
	var out []string
	if !d.FileSpecs.HasFileSpecs {
		out = append(out, "File specification: the plan names no files, paths or file actions. "+
			"State exactly which files to create or modify, for example \"Create src/main.py\".")
	}
	if cd := d.ContentDetail; !cd.HasSufficientDetail {
		msg := fmt.Sprintf("Implementation detail: found %d implementation terms, need at least %d.", cd.IndicatorCount, cd.MinRequired)
		if len(cd.Indicators) > 0 {
			msg += " Present: " + strings.Join(cd.Indicators, ", ") + "."
		}
		msg += " Name the functions, classes, endpoints or schemas involved."
		out = append(out, msg)
	}
	if rc := d.RequestCoverage; !rc.AddressesRequest {
		msg := fmt.Sprintf("Request coverage: the plan covers %.0f%% of the request's key terms (%d of %d, need %.0f%%).",
			rc.Coverage*100, len(rc.CoveredTerms), len(rc.KeyTerms), CoverageThreshold*100)
		if len(rc.MissingTerms) > 0 {
			msg += " Missing: " + strings.Join(limitStrings(rc.MissingTerms, 10), ", ") + "."
		}
		if len(rc.MissingQuoted) > 0 {
			msg += " The request requires these exact values, which the plan must contain verbatim: " +
				strings.Join(rc.MissingQuoted, ", ") + "."
		}
		out = append(out, msg)
	}
	if st := d.Structure; !st.HasSufficientStructure {
		msg := fmt.Sprintf("Structure: the plan is %d characters with %d numbered items, %d bullets and %d section headers.",
			st.Length, st.NumberedItems, st.BulletPoints, st.SectionHeaders)
		if st.Length < st.MinLength {
			msg += fmt.Sprintf(" It must be at least %d characters.", st.MinLength)
		}
		msg += " Use a numbered list of steps."
		out = append(out, msg)
	}
	return out
}
