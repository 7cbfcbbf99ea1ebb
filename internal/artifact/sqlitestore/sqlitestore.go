// Package sqlitestore persists artifacts in a single SQLite database,
// which suits deployments that want one file to back up instead of a
// directory tree. Each slot is a row in artifacts plus its payloads in
// artifact_files, replaced together in one transaction.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/baton/internal/artifact"
	"github.com/flemzord/baton/internal/security"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000

// Store implements artifact.Store on a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ artifact.Store = (*Store)(nil)

// Open opens a SQLite database at the given path and returns an artifact
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

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Restore returns the files saved under name, or artifact.ErrNotFound
// when the slot is missing or past its expiry.
func (s *Store) Restore(ctx context.Context, name string) ([]artifact.File, error) {
	if err := security.ValidateName(name); err != nil {
		return nil, err
	}

	var expiresAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT expires_at FROM artifacts WHERE name = ?", name,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup artifact: %w", err)
	}

	expiry, err := parseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: artifact %s expiry: %w", name, err)
	}
	if expired(expiry, s.now()) {
		return nil, fmt.Errorf("%w: %s expired %s", artifact.ErrNotFound, name, expiresAt)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, mode, mod_time, data
		FROM artifact_files
		WHERE artifact = ?
		ORDER BY path ASC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read artifact files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []artifact.File
	for rows.Next() {
		var (
			f       artifact.File
			mode    int64
			modTime string
		)
		if err := rows.Scan(&f.Name, &mode, &modTime, &f.Data); err != nil {
			return nil, fmt.Errorf("sqlite: scan artifact file: %w", err)
		}
		f.Mode = fs.FileMode(mode) //nolint:gosec // modes are stored from fs.FileMode and fit
		if f.ModTime, err = parseTime(modTime); err != nil {
			return nil, fmt.Errorf("sqlite: artifact file %s mod_time: %w", f.Name, err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read artifact files rows: %w", err)
	}

	return files, nil
}

// Persist replaces the slot under name with files in one transaction. An
// empty files slice keeps the previous snapshot and returns nil.
func (s *Store) Persist(ctx context.Context, name string, files []artifact.File, retention time.Duration) error {
	if err := security.ValidateName(name); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	for _, f := range files {
		if err := security.ValidateRelativePath(f.Name); err != nil {
			return err
		}
	}

	saved := s.now().UTC()
	var expires time.Time
	if retention > 0 {
		expires = saved.Add(retention)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin persist tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM artifact_files WHERE artifact = ?", name); err != nil {
		return fmt.Errorf("sqlite: clear artifact files: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO artifacts (name, saved_at, expires_at, files, bytes)
		VALUES (?, ?, ?, ?, ?)`,
		name, formatTime(saved), formatTime(expires), len(files), artifact.TotalBytes(files),
	); err != nil {
		return fmt.Errorf("sqlite: record artifact: %w", err)
	}

	for _, f := range files {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artifact_files (artifact, path, mode, mod_time, data)
			VALUES (?, ?, ?, ?, ?)`,
			name, f.Name, int64(f.Mode), formatTime(f.ModTime), f.Data,
		); err != nil {
			return fmt.Errorf("sqlite: write artifact file %s: %w", f.Name, err)
		}
	}

	return tx.Commit()
}

// List returns summaries of all stored artifacts, sorted by name.
func (s *Store) List(ctx context.Context) ([]artifact.Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, saved_at, expires_at, files, bytes
		FROM artifacts
		ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []artifact.Info
	for rows.Next() {
		var (
			info               artifact.Info
			savedAt, expiresAt string
		)
		if err := rows.Scan(&info.Name, &savedAt, &expiresAt, &info.Files, &info.Bytes); err != nil {
			return nil, fmt.Errorf("sqlite: scan artifact: %w", err)
		}
		if info.SavedAt, err = parseTime(savedAt); err != nil {
			return nil, fmt.Errorf("sqlite: artifact %s saved_at: %w", info.Name, err)
		}
		if info.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, fmt.Errorf("sqlite: artifact %s expires_at: %w", info.Name, err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list artifacts rows: %w", err)
	}

	return infos, nil
}

// Delete drops the slot under name, returning artifact.ErrNotFound when
// no such slot exists.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := security.ValidateName(name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM artifact_files WHERE artifact = ?", name); err != nil {
		return fmt.Errorf("sqlite: delete artifact files: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM artifacts WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("sqlite: delete artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete artifact: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", artifact.ErrNotFound, name)
	}

	return tx.Commit()
}

// Prune removes every slot whose expiry has passed, returning how many
// were dropped. Slots without an expiry are never pruned.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	cutoff := formatTime(now.UTC())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin prune tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM artifact_files
		WHERE artifact IN (SELECT name FROM artifacts WHERE expires_at != '' AND expires_at < ?)`,
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("sqlite: prune artifact files: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM artifacts WHERE expires_at != '' AND expires_at < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune artifacts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
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
