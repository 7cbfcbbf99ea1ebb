// Package history stores finished run records in SQLite so operators can
// answer "when did this job last work" long after the logs rotated away.
// Live runs stay in the engine's memory; only terminal runs land here.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/baton/internal/run"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000

// ErrNotFound is returned by Get when no run exists under the given id.
var ErrNotFound = errors.New("run not found")

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database at the given path and returns a history
// store backed by it. Call Close when done.
//
// The database is created with WAL mode, a 5 s busy timeout, and a single
// connection (SQLite serialises writes). The schema is migrated
// automatically.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record writes the run, replacing any previous record with the same id.
func (s *Store) Record(ctx context.Context, r *run.Run) error {
	durations, err := json.Marshal(r.Durations)
	if err != nil {
		return fmt.Errorf("sqlite: marshal durations: %w", err)
	}

	coldStart := 0
	if r.ColdStart {
		coldStart = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, job, reason, phase, outcome, cold_start, restored, persisted,
			 persisted_bytes, exit_code, error, scheduled_at, started_at,
			 finished_at, durations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Job, string(r.Reason), string(r.Phase), string(r.Outcome),
		coldStart, r.Restored, r.Persisted, r.PersistedBytes, r.ExitCode,
		r.Error, formatTime(r.ScheduledAt), formatTime(r.StartedAt),
		formatTime(r.FinishedAt), string(durations),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record run: %w", err)
	}

	return nil
}

// Get returns the run with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*run.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE id = ?`,
		id,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// ListByJob returns the most recent runs of one job, newest first.
func (s *Store) ListByJob(ctx context.Context, job string, limit int) ([]*run.Run, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE job = ?
		ORDER BY scheduled_at DESC, id DESC
		LIMIT ?`,
		job, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs by job: %w", err)
	}
	return collectRuns(rows)
}

// List returns the most recent runs across all jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*run.Run, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY scheduled_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	return collectRuns(rows)
}

// Prune removes runs that finished before the cutoff, returning how many
// were dropped.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM runs WHERE finished_at != '' AND finished_at < ?",
		formatTime(before.UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune runs: %w", err)
	}
	return int(n), nil
}

const runColumns = `id, job, reason, phase, outcome, cold_start, restored,
	persisted, persisted_bytes, exit_code, error, scheduled_at, started_at,
	finished_at, durations`

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*run.Run, error) {
	var (
		r             run.Run
		reason        string
		phase         string
		outcome       string
		coldStart     int
		scheduledAt   string
		startedAt     string
		finishedAt    string
		durationsJSON string
	)

	err := s.Scan(&r.ID, &r.Job, &reason, &phase, &outcome, &coldStart,
		&r.Restored, &r.Persisted, &r.PersistedBytes, &r.ExitCode, &r.Error,
		&scheduledAt, &startedAt, &finishedAt, &durationsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan run: %w", err)
	}

	r.Reason = run.Reason(reason)
	r.Phase = run.Phase(phase)
	r.Outcome = run.Outcome(outcome)
	r.ColdStart = coldStart != 0

	if r.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, fmt.Errorf("sqlite: run %s scheduled_at: %w", r.ID, err)
	}
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("sqlite: run %s started_at: %w", r.ID, err)
	}
	if r.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("sqlite: run %s finished_at: %w", r.ID, err)
	}

	if durationsJSON != "" && durationsJSON != "{}" {
		if err := json.Unmarshal([]byte(durationsJSON), &r.Durations); err != nil {
			return nil, fmt.Errorf("sqlite: run %s durations: %w", r.ID, err)
		}
	}

	return &r, nil
}

func collectRuns(rows *sql.Rows) ([]*run.Run, error) {
	defer func() { _ = rows.Close() }()

	var runs []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: run rows: %w", err)
	}

	return runs, nil
}

// Timestamps are stored as RFC 3339 UTC at second precision so that
// string comparison in SQL matches time order. A zero time is stored as
// the empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
