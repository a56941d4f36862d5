package planner

import (
	"time"

	"planloop/internal/ring"
)

// RefinementRecord is one refinement attempt kept for reporting.
type RefinementRecord struct {
	At          time.Time `json:"at"`
	Success     bool      `json:"success"`
	ScoreBefore float64   `json:"score_before"`
	ScoreAfter  float64   `json:"score_after"`
	Error       string    `json:"error,omitempty"`
}

// RefinementStats aggregates the retained refinement records.
type RefinementStats struct {
	Attempts          int     `json:"attempts"`
	Successes         int     `json:"successes"`
	SuccessRate       float64 `json:"success_rate"`
	AverageScoreDelta float64 `json:"average_score_delta"`
}

// History is a bounded refinement log. It never affects control flow.
type History struct {
	records *ring.Buffer[RefinementRecord]
}

func NewHistory(size int) *History {
	return &History{records: ring.New[RefinementRecord](size)}
}

func (h *History) Record(rec RefinementRecord) {
	if h == nil {
		return
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	h.records.Add(rec)
}

// Records returns the retained records, oldest first.
func (h *History) Records() []RefinementRecord {
	if h == nil {
		return nil
	}
	return h.records.Snapshot()
}

// Stats reports attempts, success rate and the mean score change of
// successful refinements.
func (h *History) Stats() RefinementStats {
	var stats RefinementStats
	var deltaSum float64
	for _, rec := range h.Records() {
		stats.Attempts++
		if rec.Success {
			stats.Successes++
			deltaSum += rec.ScoreAfter - rec.ScoreBefore
		}
	}
	if stats.Attempts > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Attempts)
	}
	if stats.Successes > 0 {
		stats.AverageScoreDelta = deltaSum / float64(stats.Successes)
	}
	return stats
}

func (h *History) Reset() {
	if h == nil {
		return
	}
	h.records.Reset()
}
