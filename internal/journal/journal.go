// Package journal records scrub runs and their per-window progress in a
// local SQLite database. The journal is purely observational: the
// controller writes to it and never reads it back, so deleting it has no
// effect on correctness.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/johndauphine/dbscrub/internal/scrub"
)

// Journal manages run history in SQLite.
type Journal struct {
	db *sql.DB
}

// Run describes one scrub invocation.
type Run struct {
	ID           string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Status       string
	Table        string
	Column       string
	Transformer  string
	BatchSize    int64
	Windows      int64
	RowsAffected int64
	ErrorMessage string
}

// WindowRecord is one persisted Progress Record.
type WindowRecord struct {
	RunID        string
	WindowLow    int64
	RowsAffected int64
	RecordedAt   time.Time
}

// New opens (and if needed creates) the journal database in dataDir.
func New(dataDir string) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "dbscrub.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		transformer TEXT NOT NULL,
		batch_size INTEGER NOT NULL,
		windows INTEGER DEFAULT 0,
		rows_affected INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS windows (
		run_id TEXT REFERENCES runs(id),
		window_low INTEGER NOT NULL,
		rows_affected INTEGER NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (run_id, window_low)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// CreateRun records the start of a scrub run.
func (j *Journal) CreateRun(id, table, column, transformer string, batchSize int64) error {
	_, err := j.db.Exec(`
		INSERT INTO runs (id, started_at, status, table_name, column_name, transformer, batch_size)
		VALUES (?, datetime('now'), 'running', ?, ?, ?, ?)
	`, id, table, column, transformer, batchSize)
	return err
}

// CompleteRun records the outcome of a run.
func (j *Journal) CompleteRun(id, status string, windows, rowsAffected int64, errMsg string) error {
	_, err := j.db.Exec(`
		UPDATE runs SET status = ?, completed_at = datetime('now'),
			windows = ?, rows_affected = ?, error_message = ?
		WHERE id = ?
	`, status, windows, rowsAffected, errMsg, id)
	return err
}

// RecordWindow persists one Progress Record.
func (j *Journal) RecordWindow(runID string, windowLow, rowsAffected int64) error {
	_, err := j.db.Exec(`
		INSERT INTO windows (run_id, window_low, rows_affected, recorded_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(run_id, window_low) DO UPDATE SET
			rows_affected = excluded.rows_affected,
			recorded_at = excluded.recorded_at
	`, runID, windowLow, rowsAffected)
	return err
}

// GetRuns returns the most recent runs, newest first.
func (j *Journal) GetRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(`
		SELECT id, started_at, completed_at, status, table_name, column_name,
		       transformer, batch_size, windows, rows_affected, COALESCE(error_message, '')
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAtStr string
		var completedAtStr sql.NullString
		if err := rows.Scan(&r.ID, &startedAtStr, &completedAtStr, &r.Status,
			&r.Table, &r.Column, &r.Transformer, &r.BatchSize,
			&r.Windows, &r.RowsAffected, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse("2006-01-02 15:04:05", startedAtStr)
		if completedAtStr.Valid {
			t, _ := time.Parse("2006-01-02 15:04:05", completedAtStr.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetWindows returns the persisted Progress Records for a run in window order.
func (j *Journal) GetWindows(runID string) ([]WindowRecord, error) {
	rows, err := j.db.Query(`
		SELECT run_id, window_low, rows_affected, recorded_at
		FROM windows WHERE run_id = ? ORDER BY window_low
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []WindowRecord
	for rows.Next() {
		var w WindowRecord
		var recordedAtStr string
		if err := rows.Scan(&w.RunID, &w.WindowLow, &w.RowsAffected, &recordedAtStr); err != nil {
			return nil, err
		}
		w.RecordedAt, _ = time.Parse("2006-01-02 15:04:05", recordedAtStr)
		records = append(records, w)
	}
	return records, rows.Err()
}

// Recorder adapts the journal to the controller's Reporter interface.
// Write failures are swallowed: progress persistence must never abort a
// scrub window that already committed.
type Recorder struct {
	journal *Journal
	runID   string
}

// NewRecorder creates a Reporter that persists Progress Records for runID.
func NewRecorder(j *Journal, runID string) *Recorder {
	return &Recorder{journal: j, runID: runID}
}

// WindowDone persists one Progress Record.
func (r *Recorder) WindowDone(p scrub.Progress) {
	_ = r.journal.RecordWindow(r.runID, p.WindowLow, p.RowsAffected)
}
