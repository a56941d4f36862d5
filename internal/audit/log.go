// Package audit records loop events in an append-only SQLite table.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// EnvDBPath overrides the database location when Open is given no path.
const EnvDBPath = "PLANLOOP_AUDIT_DB"

const defaultAuditPath = ".planloop/audit.sqlite"

// Log writes audit events to one SQLite database. It is safe for
// concurrent use.
type Log struct {
	DBPath string

	mu sync.Mutex
	db *sql.DB
}

// Event is one stored audit record.
type Event struct {
	ID      int64
	TS      time.Time
	Actor   string
	Type    string
	RunID   string
	Payload string
}

// Open opens or creates the audit database at path, falling back to
// $PLANLOOP_AUDIT_DB and then .planloop/audit.sqlite.
func Open(path string) (*Log, error) {
	if path == "" {
		path = os.Getenv(EnvDBPath)
	}
	if path == "" {
		path = defaultAuditPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve audit db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure audit db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// One writer keeps sqlite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			actor TEXT NOT NULL,
			type TEXT NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create audit schema: %w", err)
		}
	}
	return &Log{DBPath: absPath, db: db}, nil
}

// Close closes the database. It is safe on a nil Log.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// LogEvent appends an event. A "run_id" key in a map payload is also stored
// in its own column so a run's events can be listed.
func (l *Log) LogEvent(actor string, eventType string, payload any) error {
	if l == nil || l.db == nil {
		return nil
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var runID string
	if m, ok := payload.(map[string]any); ok {
		runID, _ = m["run_id"].(string)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.db.Exec(
		"INSERT INTO events (ts, actor, type, run_id, payload_json) VALUES (?, ?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339Nano), actor, eventType, runID, string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// RunEvents returns the events of one run, oldest first.
func (l *Log) RunEvents(runID string) ([]Event, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	rows, err := l.db.Query(
		"SELECT id, ts, actor, type, run_id, payload_json FROM events WHERE run_id = ? ORDER BY id ASC",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts string
		if err := rows.Scan(&ev.ID, &ts, &ev.Actor, &ev.Type, &ev.RunID, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.TS, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
