// Package store persists signals and conversation logs in a local SQLite
// file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite handle. All goroutines serialize through one
// connection (SetMaxOpenConns(1)) so concurrent writers never hit
// SQLITE_BUSY.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (creating directories as needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// openDB wraps an existing handle; tests use it to inject mocks.
func openDB(db *sql.DB) *Store {
	return &Store{db: db, logger: slog.Default()}
}

// Init creates all tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			automation_fingerprint TEXT NOT NULL,
			type TEXT NOT NULL,
			data TEXT NOT NULL,
			execution_notes TEXT NOT NULL DEFAULT '',
			is_dead INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_fingerprint ON signals(automation_fingerprint)`,
		`CREATE TABLE IF NOT EXISTS automation_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			type TEXT NOT NULL,
			automation_fingerprint TEXT,
			signal_id INTEGER,
			message_log TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL,
			created_at TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Compact removes log rows older than maxAge, automation logs older than
// maxAge whose signal is dead or gone, then reclaims file space.
func (s *Store) Compact(ctx context.Context, maxAge time.Duration) error {
	cutoff := formatTime(time.Now().Add(-maxAge))

	if _, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("compact logs: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM automation_logs
		WHERE created_at < ?
		  AND (signal_id IS NULL
		       OR NOT EXISTS (SELECT 1 FROM signals WHERE signals.id = automation_logs.signal_id AND signals.is_dead = 0))`,
		cutoff)
	if err != nil {
		return fmt.Errorf("compact automation logs: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("compacted automation logs", "removed", n)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
