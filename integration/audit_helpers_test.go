package integration_test

import (
	"database/sql"
	"slices"
	"testing"

	_ "modernc.org/sqlite"
)

// runEventTypes returns the audit event types of one run in insertion order.
func runEventTypes(t *testing.T, dbPath, runID string) []string {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.Query("SELECT type FROM events WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		t.Fatalf("query audit events: %v", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var types []string
	for rows.Next() {
		var eventType string
		if err := rows.Scan(&eventType); err != nil {
			t.Fatalf("scan audit event: %v", err)
		}
		types = append(types, eventType)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate audit events: %v", err)
	}
	return types
}

// requireAuditEvents checks that want appear in order among the run's events.
func requireAuditEvents(t *testing.T, dbPath, runID string, want []string) {
	t.Helper()
	types := runEventTypes(t, dbPath, runID)
	next := 0
	for _, eventType := range want {
		i := slices.Index(types[next:], eventType)
		if i < 0 {
			t.Fatalf("missing audit event %s (in order) for run %s: %v", eventType, runID, types)
		}
		next += i + 1
	}
	if types[0] != "run_started" || types[len(types)-1] != "run_finished" {
		t.Fatalf("run events not framed by run_started/run_finished: %v", types)
	}
}
