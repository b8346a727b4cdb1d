// Package db persists analysis runs to a local SQLite database. Each run
// is stored twice: a full payload blob for faithful replay and a compact
// per-set projection powering the history views.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound marks lookups of run ids (or set slugs) with no row.
var ErrRunNotFound = errors.New("run not found")

// Store wraps the SQLite connection.
type Store struct {
	sql    *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{sql: sqlDB, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Info("db-opened", zap.String("path", path))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS market_runs (
				run_id          INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp       TEXT NOT NULL,
				date_string     TEXT NOT NULL,
				strategy        TEXT NOT NULL,
				execution_mode  TEXT NOT NULL,
				total_sets      INTEGER NOT NULL,
				profitable_sets INTEGER NOT NULL,
				payload         BLOB NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_market_runs_ts ON market_runs(timestamp);
			CREATE INDEX IF NOT EXISTS idx_market_runs_date ON market_runs(date_string);

			CREATE TABLE IF NOT EXISTS set_profits (
				run_id        INTEGER NOT NULL REFERENCES market_runs(run_id),
				set_slug      TEXT NOT NULL,
				set_name      TEXT NOT NULL,
				profit_margin REAL NOT NULL,
				lowest_price  REAL NOT NULL,
				UNIQUE(run_id, set_slug)
			);
			CREATE INDEX IF NOT EXISTS idx_set_profits_run ON set_profits(run_id);
			CREATE INDEX IF NOT EXISTS idx_set_profits_slug ON set_profits(set_slug);

			INSERT INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return err
		}
	}
	return nil
}
