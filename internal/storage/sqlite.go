package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the run database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := CheckLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the supervisor and the admin API share the handle.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000;", "PRAGMA journal_mode = WAL;"} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates tables and indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_runs (
  id          TEXT PRIMARY KEY,
  pid         INTEGER NOT NULL,
  executable  TEXT NOT NULL,
  args        JSON NOT NULL DEFAULT '[]',
  started_at  TEXT NOT NULL,
  ended_at    TEXT,
  exit_code   INTEGER,
  killed      INTEGER NOT NULL DEFAULT 0,
  last_error  TEXT
);`,
		`CREATE INDEX IF NOT EXISTS process_runs_started_at_idx ON process_runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
