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

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := CheckLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Per-connection pragmas go through the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  title        TEXT NOT NULL,
  subtitle     TEXT NOT NULL DEFAULT '',
  bundle       TEXT NOT NULL,
  body         TEXT NOT NULL DEFAULT '',
  status       INTEGER NOT NULL DEFAULT 0,
  published_at TEXT,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS book (
  nid          INTEGER PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
  bid          INTEGER NOT NULL,
  pid          INTEGER NOT NULL DEFAULT 0,
  p2           INTEGER NOT NULL DEFAULT 0,
  depth        INTEGER NOT NULL DEFAULT 1,
  weight       INTEGER NOT NULL DEFAULT 0,
  has_children INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS artifacts (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  uri         TEXT NOT NULL,
  filename    TEXT NOT NULL,
  document_id INTEGER NOT NULL DEFAULT 0,
  created_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS artifact_meta (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  artifact_id INTEGER NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
  bundle      TEXT NOT NULL,
  title       TEXT NOT NULL,
  pages       INTEGER NOT NULL DEFAULT 0,
  updated_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS batch_job (
  id           TEXT PRIMARY KEY,
  title        TEXT NOT NULL,
  state        TEXT NOT NULL,
  operation    TEXT NOT NULL DEFAULT '',
  operations   JSON NOT NULL DEFAULT '[]',
  snapshot     JSON,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL,
  completed_at TEXT,
  last_error   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS batch_job_log (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id     TEXT NOT NULL,
  step       INTEGER NOT NULL,
  operation  TEXT NOT NULL,
  state      TEXT NOT NULL,
  snapshot   JSON NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS book_pid_weight_idx ON book(pid, weight);`,
		`CREATE INDEX IF NOT EXISTS book_bid_idx ON book(bid);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS artifacts_uri_idx ON artifacts(uri);`,
		`CREATE INDEX IF NOT EXISTS artifact_meta_artifact_idx ON artifact_meta(artifact_id);`,
		`CREATE INDEX IF NOT EXISTS batch_job_state_created_at_idx ON batch_job(state, created_at);`,
		`CREATE INDEX IF NOT EXISTS batch_job_log_job_idx ON batch_job_log(job_id, step);`,
		`CREATE INDEX IF NOT EXISTS batch_job_log_created_at_idx ON batch_job_log(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
