package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a bot record does not exist.
var ErrNotFound = errors.New("bot record not found")

// ErrDuplicateName is returned when (owner_id, name) is already taken.
var ErrDuplicateName = errors.New("bot name already exists for this owner")

// Store is the SQLite-backed persistence collaborator. A single connection keeps
// sqlite writes serialized; callers hold their own per-bot ordering on top.
type Store struct {
	db *sql.DB

	// event_log retention: keep at most this many entries per bot (0 = unlimited)
	maxEventsPerBot int
}

type Options struct {
	Path            string
	MaxEventsPerBot int
}

func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db, maxEventsPerBot: opts.MaxEventsPerBot}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS bots (
  id TEXT PRIMARY KEY,
  owner_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  server_host TEXT NOT NULL,
  server_port INTEGER NOT NULL,
  edition TEXT NOT NULL CHECK(edition IN ('java', 'bedrock')),
  protocol_version TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'stopped' CHECK(status IN ('stopped', 'connecting', 'running', 'error')),
  last_error TEXT,
  created_at TEXT NOT NULL,
  last_started_at TEXT
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bots_owner_name ON bots(owner_id, name);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_owner_created ON bots(owner_id, created_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS event_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
  owner_id INTEGER NOT NULL,
  event_type TEXT NOT NULL,
  message TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_bot_ts ON event_log(bot_id, ts DESC);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
