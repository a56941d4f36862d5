package monitor

import (
	"fmt"
	"strings"
)

const (
	reportMaxFailures = 5
	reportErrorChars  = 100
)

// Report renders a human-readable summary. Flag lines appear only when the
// flag is set.
func Report(res Result) string {
	var b strings.Builder
	b.WriteString("Execution Report\n")
	fmt.Fprintf(&b, "Status: %s\n", res.Status)
	if res.Status == StatusUnknown {
		b.WriteString("No tool calls were executed.\n")
		return b.String()
	}
	successes := res.Total - len(res.FailedTools)
	fmt.Fprintf(&b, "Success rate: %.1f%% (%d/%d)\n", res.SuccessRate*100, successes, res.Total)

	if len(res.FailedTools) > 0 {
		b.WriteString("Failed tools:\n")
		for i, f := range res.FailedTools {
			if i == reportMaxFailures {
				fmt.Fprintf(&b, "  ... and %d more\n", len(res.FailedTools)-reportMaxFailures)
				break
			}
			fmt.Fprintf(&b, "  - [%d] %s: %s\n", f.Index, f.Tool, truncate(f.Error, reportErrorChars))
		}
	}
	if res.CascadingFailure {
		b.WriteString("WARNING: cascading failure detected\n")
	}
	if res.CriticalFailure {
		b.WriteString("CRITICAL: critical failure detected\n")
	}
	if res.EarlyTermination {
		b.WriteString("Early termination recommended\n")
	}
	if res.ReplanNeeded {
		fmt.Fprintf(&b, "Replan needed: %s\n", res.ReplanReason)
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
