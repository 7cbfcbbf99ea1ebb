package history

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id              TEXT PRIMARY KEY,
		job             TEXT    NOT NULL,
		reason          TEXT    NOT NULL,
		phase           TEXT    NOT NULL,
		outcome         TEXT    NOT NULL DEFAULT '',
		cold_start      INTEGER NOT NULL DEFAULT 0,
		restored        INTEGER NOT NULL DEFAULT 0,
		persisted       INTEGER NOT NULL DEFAULT 0,
		persisted_bytes INTEGER NOT NULL DEFAULT 0,
		exit_code       INTEGER NOT NULL DEFAULT -1,
		error           TEXT    NOT NULL DEFAULT '',
		scheduled_at    TEXT    NOT NULL,
		started_at      TEXT    NOT NULL DEFAULT '',
		finished_at     TEXT    NOT NULL DEFAULT '',
		durations       TEXT    NOT NULL DEFAULT '{}'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_job_scheduled ON runs(job, scheduled_at DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	// Ensure schema_version table exists first.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
