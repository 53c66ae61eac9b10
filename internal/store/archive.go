// Package store persists completed run histories so a Time Capsule
// can be replayed after the controller process itself restarts. One
// SQLite database holds every archived run; a run's step sequence is
// written once as a single JSON document, matching the write-once
// lifecycle of the capsule it came from.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"graphscope/internal/logging"
	"graphscope/internal/protocol"
)

// Archive is the SQLite-backed run history store.
type Archive struct {
	db     *sql.DB
	dbPath string
}

// RunSummary describes one archived run without its steps.
type RunSummary struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
	SavedAt   time.Time `json:"savedAt"`
	StepCount int       `json:"stepCount"`
}

// NewArchive creates or opens the run archive at dbPath.
func NewArchive(dbPath string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	a := &Archive{db: db, dbPath: dbPath}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize archive schema: %w", err)
	}
	return a, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.dbPath
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		saved_at DATETIME NOT NULL,
		step_count INTEGER NOT NULL,
		final_output_json TEXT,
		steps_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);
	CREATE INDEX IF NOT EXISTS idx_runs_saved ON runs(saved_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveRun archives one completed run history. Implements the session
// controller's RunArchive collaborator.
func (a *Archive) SaveRun(sessionID string, startedAt time.Time, steps []protocol.TimeCapsuleStep, finalOutput interface{}) error {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	var outputJSON []byte
	if finalOutput != nil {
		outputJSON, err = json.Marshal(finalOutput)
		if err != nil {
			return fmt.Errorf("marshal final output: %w", err)
		}
	}

	_, err = a.db.Exec(
		`INSERT INTO runs (session_id, started_at, saved_at, step_count, final_output_json, steps_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, startedAt, time.Now(), len(steps), string(outputJSON), string(stepsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	logging.Get(logging.CategoryStore).Info("archived run for session %s (%d steps)", sessionID, len(steps))
	return nil
}

// ListRuns returns summaries of archived runs, newest first.
func (a *Archive) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		`SELECT id, session_id, started_at, saved_at, step_count
		 FROM runs ORDER BY saved_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StartedAt, &r.SavedAt, &r.StepCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadRun rehydrates the step sequence of one archived run.
func (a *Archive) LoadRun(id int64) ([]protocol.TimeCapsuleStep, error) {
	var stepsJSON string
	err := a.db.QueryRow(`SELECT steps_json FROM runs WHERE id = ?`, id).Scan(&stepsJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", id, err)
	}

	var steps []protocol.TimeCapsuleStep
	if err := json.Unmarshal([]byte(stepsJSON), &steps); err != nil {
		return nil, fmt.Errorf("decode run %d steps: %w", id, err)
	}
	return steps, nil
}

// LoadLatest rehydrates the most recently archived run. Returns
// sql.ErrNoRows wrapped when the archive is empty.
func (a *Archive) LoadLatest() ([]protocol.TimeCapsuleStep, error) {
	var id int64
	err := a.db.QueryRow(`SELECT id FROM runs ORDER BY saved_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("archive is empty: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	return a.LoadRun(id)
}
