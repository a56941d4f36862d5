// Package runstore keeps finished run reports in SQLite for the history
// commands.
package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("run not found")

// Store manages run history in SQLite.
type Store struct {
	DBPath string
	db     *sql.DB
}

// Run is one stored run summary. ReportJSON holds the full report.
type Run struct {
	ID         string
	Request    string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Attempts   int
	Steps      int
	Failed     int
	Error      string
	ReportJSON string
}

// Open opens or creates the run history database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve runs db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure runs db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open runs db: %w", err)
	}

	store := &Store{
		DBPath: absPath,
		db:     db,
	}

	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	request TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	steps INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	report_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create runs schema: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces a run. report is stored as JSON.
func (s *Store) SaveRun(run Run, report any) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	reportJSON := run.ReportJSON
	if report != nil {
		data, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		reportJSON = string(data)
	}

	var finishedAt sql.NullString
	if run.FinishedAt != nil {
		finishedAt = sql.NullString{String: run.FinishedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO runs (id, request, status, started_at, finished_at, attempts, steps, failed, error, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Request, run.Status, run.StartedAt.UTC().Format(time.RFC3339Nano), finishedAt,
		run.Attempts, run.Steps, run.Failed, run.Error, reportJSON)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id, including its report.
func (s *Store) GetRun(id string) (*Run, error) {
	rows, err := s.db.Query(selectRuns+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &runs[0], nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(selectRuns+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

const selectRuns = `
		SELECT id, request, status, started_at, finished_at, attempts, steps, failed, error, report_json
		FROM runs`

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt string
		var finishedAt, runErr, reportJSON sql.NullString

		err := rows.Scan(
			&run.ID, &run.Request, &run.Status, &startedAt, &finishedAt,
			&run.Attempts, &run.Steps, &run.Failed, &runErr, &reportJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
			run.FinishedAt = &t
		}
		if runErr.Valid {
			run.Error = runErr.String
		}
		if reportJSON.Valid {
			run.ReportJSON = reportJSON.String
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}
