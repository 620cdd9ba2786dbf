// Package sqlite provides the SQLite-backed EpisodeStore. It uses the pure
// Go driver, so the binary builds without cgo.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

// StoreConfig holds database configuration.
type StoreConfig struct {
	Path     string // path to the SQLite database file
	MaxConns int    // maximum open connections (default 4)
	WALMode  bool   // enable WAL journaling for concurrent readers
}

// Store wraps the SQLite connection and owns schema bootstrap. The
// connection can be swapped via Reopen when the database file is recreated.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	cfg StoreConfig
}

// Open opens (creating if needed) the database at cfg.Path, applies the
// pragmas, and bootstraps the schema.
func Open(cfg StoreConfig) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, cfg: cfg}, nil
}

// NewStoreFromDB wraps an already opened connection. The caller keeps
// ownership of the connection's lifetime. Used by tests.
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func openDB(cfg StoreConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.WALMode {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set synchronous mode: %w", err)
		}
	}
	// Retry on lock contention instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return db, nil
}

// Reopen closes the current connection and opens a fresh one against the
// configured path, re-bootstrapping the schema. Used when the database file
// is deleted out from under the process.
func (s *Store) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Path == "" {
		return fmt.Errorf("store was opened from an external connection, cannot reopen")
	}
	_ = s.db.Close()

	db, err := openDB(s.cfg)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func createTables(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			domain TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL DEFAULT '',
			episode_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			created_at_epoch INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS episodes (
			episode_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			episode_number INTEGER NOT NULL,
			domain TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL DEFAULT '',
			start_round INTEGER NOT NULL,
			end_round INTEGER NOT NULL,
			aggregate_score REAL NOT NULL,
			notable INTEGER NOT NULL DEFAULT 0,
			duration_seconds REAL NOT NULL DEFAULT 0,
			key_excerpts TEXT,
			created_at TEXT NOT NULL,
			created_at_epoch INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);
		CREATE INDEX IF NOT EXISTS idx_episodes_created ON episodes(created_at_epoch DESC);
		CREATE INDEX IF NOT EXISTS idx_episodes_notable ON episodes(notable, created_at_epoch DESC);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateTables bootstraps the schema on the current connection. Exposed for
// stores built from an external connection.
func (s *Store) CreateTables() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return createTables(s.db)
}

// ExecContext executes a statement against the underlying connection.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query against the underlying connection.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query against the underlying connection.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.QueryRowContext(ctx, query, args...)
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
