// Package monitor classifies the health of an executed tool-call sequence and
// decides whether the loop should replan or stop.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"planloop/internal/config"
	"planloop/internal/logging"
	"planloop/internal/ring"
)

type Status string

const (
	StatusSuccess         Status = "success"
	StatusPartialSuccess  Status = "partial_success"
	StatusFailure         Status = "failure"
	StatusCriticalFailure Status = "critical_failure"
	StatusUnknown         Status = "unknown"
)

const (
	partialSuccessRate  = 0.7
	terminationRate     = 0.3
	earlyWindow         = 3
	minConsecutiveFails = 3
)

var criticalKeywords = []string{
	"permission denied",
	"access denied",
	"authentication failed",
	"authorization failed",
	"cannot connect",
	"connection refused",
	"fatal error",
	"critical error",
	"system error",
}

// ToolResult is one executed tool call. Position in the slice is the
// execution index.
type ToolResult struct {
	Tool    string         `json:"tool"`
	Params  map[string]any `json:"params,omitempty"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
}

type FailedTool struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
	Index int    `json:"index"`
}

// Result is derived once from a result list and never modified.
type Result struct {
	Status           Status       `json:"status"`
	SuccessRate      float64      `json:"success_rate"`
	Total            int          `json:"total"`
	FailedTools      []FailedTool `json:"failed_tools"`
	CascadingFailure bool         `json:"cascading_failure"`
	CriticalFailure  bool         `json:"critical_failure"`
	ReplanNeeded     bool         `json:"replan_needed"`
	ReplanReason     string       `json:"replan_reason,omitempty"`
	EarlyTermination bool         `json:"early_termination"`
}

// Entry is one retained monitoring outcome.
type Entry struct {
	At       time.Time `json:"at"`
	PlanSize int       `json:"plan_size"`
	Result   Result    `json:"result"`
}

type Stats struct {
	Evaluations        int            `json:"evaluations"`
	ByStatus           map[Status]int `json:"by_status"`
	Replans            int            `json:"replans"`
	EarlyTerminations  int            `json:"early_terminations"`
	AverageSuccessRate float64        `json:"average_success_rate"`
}

// ExecutionMonitor evaluates result lists. Evaluation is pure; only the
// bounded history is shared, and it is safe for concurrent use.
type ExecutionMonitor struct {
	cfg     config.MonitorConfig
	history *ring.Buffer[Entry]
	logger  *logging.Logger
}

func New(cfg config.MonitorConfig, logger *logging.Logger) *ExecutionMonitor {
	return &ExecutionMonitor{
		cfg:     cfg,
		history: ring.New[Entry](cfg.HistorySize),
		logger:  logger,
	}
}

type reasonRule struct {
	applies bool
	reason  string
}

// Monitor classifies results and records the outcome in the history.
func (m *ExecutionMonitor) Monitor(plan string, results []ToolResult) Result {
	res := m.evaluate(results)
	m.history.Add(Entry{At: time.Now().UTC(), PlanSize: len(plan), Result: res})
	m.logger.Info("execution monitored",
		"status", res.Status,
		"success_rate", res.SuccessRate,
		"failed", len(res.FailedTools),
		"replan_needed", res.ReplanNeeded,
		"early_termination", res.EarlyTermination,
	)
	return res
}

func (m *ExecutionMonitor) evaluate(results []ToolResult) Result {
	if len(results) == 0 {
		return Result{Status: StatusUnknown}
	}

	res := Result{Total: len(results)}
	successes := 0
	var criticalErr string
	for i, r := range results {
		if r.Success {
			successes++
			continue
		}
		res.FailedTools = append(res.FailedTools, FailedTool{Tool: r.Tool, Error: r.Error, Index: i})
		if criticalErr == "" && isCritical(r.Error) {
			res.CriticalFailure = true
			criticalErr = r.Error
		}
	}
	res.SuccessRate = float64(successes) / float64(len(results))
	res.CascadingFailure = detectCascade(res.FailedTools)

	// A critical signal outranks a high success rate.
	switch {
	case res.SuccessRate == 1:
		res.Status = StatusSuccess
	case res.CriticalFailure:
		res.Status = StatusCriticalFailure
	case res.SuccessRate >= partialSuccessRate:
		res.Status = StatusPartialSuccess
	default:
		res.Status = StatusFailure
	}

	// Later rules overwrite earlier ones, so critical wins over cascading
	// which wins over a low success rate.
	rules := []reasonRule{
		{
			applies: res.SuccessRate < m.cfg.ReplanThreshold,
			reason:  fmt.Sprintf("low success rate: %.0f%% (threshold %.0f%%)", res.SuccessRate*100, m.cfg.ReplanThreshold*100),
		},
		{
			applies: res.CascadingFailure,
			reason:  fmt.Sprintf("cascading failures detected: %d failed tools starting at step %d", len(res.FailedTools), firstIndex(res.FailedTools)),
		},
		{
			applies: res.CriticalFailure,
			reason:  fmt.Sprintf("critical failure detected: %s", truncate(criticalErr, 120)),
		},
	}
	for _, rule := range rules {
		if rule.applies {
			res.ReplanNeeded = true
			res.ReplanReason = rule.reason
		}
	}

	res.EarlyTermination = m.cfg.EarlyTermination &&
		(res.CriticalFailure || (res.CascadingFailure && res.SuccessRate < terminationRate))
	return res
}

func isCritical(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// detectCascade reports a run of consecutive failed indices, or an early
// failure followed by further failures later on.
func detectCascade(failed []FailedTool) bool {
	if len(failed) == 0 {
		return false
	}
	run := 1
	for i := 1; i < len(failed); i++ {
		if failed[i].Index == failed[i-1].Index+1 {
			run++
			if run >= minConsecutiveFails {
				return true
			}
		} else {
			run = 1
		}
	}
	early := 0
	for _, f := range failed {
		if f.Index < earlyWindow {
			early++
		}
	}
	return early > 0 && len(failed) > early
}

func firstIndex(failed []FailedTool) int {
	if len(failed) == 0 {
		return -1
	}
	return failed[0].Index
}

// History returns the retained entries, oldest first.
func (m *ExecutionMonitor) History() []Entry {
	return m.history.Snapshot()
}

func (m *ExecutionMonitor) Stats() Stats {
	entries := m.history.Snapshot()
	stats := Stats{ByStatus: make(map[Status]int)}
	var rateSum float64
	for _, e := range entries {
		stats.Evaluations++
		stats.ByStatus[e.Result.Status]++
		if e.Result.ReplanNeeded {
			stats.Replans++
		}
		if e.Result.EarlyTermination {
			stats.EarlyTerminations++
		}
		rateSum += e.Result.SuccessRate
	}
	if stats.Evaluations > 0 {
		stats.AverageSuccessRate = rateSum / float64(stats.Evaluations)
	}
	return stats
}

// Reset clears the history between requests.
func (m *ExecutionMonitor) Reset() {
	m.history.Reset()
}
