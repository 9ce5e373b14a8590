package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgeline/forgeline/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id             TEXT PRIMARY KEY,
			project_name   TEXT NOT NULL,
			cloud_provider TEXT,
			input_kind     TEXT NOT NULL,
			input          TEXT NOT NULL,
			status         TEXT DEFAULT 'running',
			project_path   TEXT,
			state          TEXT,
			error          TEXT,
			started_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at   DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON workflow_runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS scheduled_runs (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			schedule       TEXT NOT NULL,
			input_kind     TEXT NOT NULL,
			input          TEXT NOT NULL,
			cloud_provider TEXT,
			project_name   TEXT NOT NULL,
			status         TEXT DEFAULT 'active',
			next_run_at    DATETIME,
			last_run_at    DATETIME,
			last_status    TEXT,
			last_error     TEXT,
			created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_next_run ON scheduled_runs(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			nonce      BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
