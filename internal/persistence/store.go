// Package persistence implements the embedded relational store: durable
// tasks and task steps with full-text search, the extension registry, a
// secret-retrieval cache, and opportunistic rate-limit audit snapshots.
// A single store, a single writer connection, write-ahead logging.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rove-run/rove/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersionLatest  = 2
	schemaChecksumLatest = "rove-v2-installed-skills-schema"
)

// Store wraps the single *sql.DB connection backing the engine. Callers
// never see *sql.DB directly; every query goes through a Store method so
// the single-writer and retry policy are applied consistently.
type Store struct {
	db  *sql.DB
	bus *bus.Bus // may be nil in tests and one-off tools
}

// DefaultDBPath returns ~/.rove/rove.db, the daemon's default database
// location when no --config override names one.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".rove", "rove.db")
}

// Open creates the database directory if needed, configures WAL and
// foreign-key enforcement, and runs the schema migration ledger. eventBus
// may be nil; when set, task-status transitions are published on it.
func Open(path string, eventBus *bus.Bus) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// Single writer: SQLite serializes writers anyway, and a single
	// connection avoids SQLITE_BUSY storms under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, bus: eventBus}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection. Callers should call FlushWAL
// first during graceful shutdown.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for tests and diagnostic tooling
// that need to run ad-hoc queries outside the Store's own methods.
func (s *Store) DB() *sql.DB { return s.db }

// FlushWAL runs a full WAL checkpoint, folding the write-ahead log back
// into the main database file. Invoked during graceful shutdown so the
// on-disk file is self-contained without requiring WAL replay on the
// next open.
func (s *Store) FlushWAL(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);")
	if err != nil {
		return fmt.Errorf("flush wal: %w", err)
	}
	return nil
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, q := range pragmas {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using
// exponential backoff with jitter. maxRetries=5 gives roughly 3s of
// total wait on top of the driver's own busy_timeout (5s).
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}
	if maxVersion == schemaVersionLatest {
		var checksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersionLatest).Scan(&checksum); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if checksum != schemaChecksumLatest {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, checksum, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	if err := createSchemaTx(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum) VALUES (?, ?);
	`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("record schema migration: %w", err)
	}
	return tx.Commit()
}

func createSchemaTx(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'completed', 'failed')),
			provider TEXT,
			duration_ms INTEGER,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`,

		`CREATE TABLE IF NOT EXISTS task_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			order_index INTEGER NOT NULL,
			kind TEXT NOT NULL CHECK(kind IN ('user_message', 'assistant_message', 'tool_call', 'tool_result')),
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(task_id, order_index)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_steps_task_id ON task_steps(task_id);`,

		// External-content FTS5 table: kept independent of task_steps'
		// rowid space via an explicit task_id column rather than
		// content=/content_rowid=, since steps are append-only and never
		// updated in place.
		`CREATE VIRTUAL TABLE IF NOT EXISTS task_steps_fts USING fts5(
			task_id UNINDEXED,
			content
		);`,

		// Insert trigger is guarded by an existence check on the parent
		// task: if the INSERT into task_steps is part of a transaction
		// that later rolls back the task row itself, the FTS mirror
		// should not have accepted a row with no real parent — FTS5 has
		// no FK enforcement of its own to catch that.
		`CREATE TRIGGER IF NOT EXISTS task_steps_fts_insert AFTER INSERT ON task_steps BEGIN
			INSERT INTO task_steps_fts(rowid, task_id, content)
			SELECT new.id, new.task_id, new.content
			WHERE EXISTS (SELECT 1 FROM tasks WHERE id = new.task_id);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS task_steps_fts_delete AFTER DELETE ON task_steps BEGIN
			DELETE FROM task_steps_fts WHERE rowid = old.id;
		END;`,

		`CREATE TABLE IF NOT EXISTS plugins (
			name TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			permissions JSON NOT NULL,
			crash_count INTEGER NOT NULL DEFAULT 0,
			load_state TEXT NOT NULL DEFAULT 'unloaded' CHECK(load_state IN ('unloaded', 'loaded', 'quarantined')),
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		// secrets_cache never stores raw secret material (that would
		// defeat the scrubber's entire purpose): it records which keys
		// have been resolved from the OS keychain and when, so the
		// secret store can report staleness without re-touching the
		// keychain on every lookup.
		`CREATE TABLE IF NOT EXISTS secrets_cache (
			key TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			last_fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			fetch_error TEXT
		);`,

		// rate_limits holds periodic audit snapshots of the in-memory
		// limiter's counters, not the live counters themselves (those
		// live in internal/ratelimit and must stay in-process for
		// sub-millisecond admission checks).
		`CREATE TABLE IF NOT EXISTS rate_limits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			tier TEXT NOT NULL,
			window_count INTEGER NOT NULL,
			circuit_open INTEGER NOT NULL DEFAULT 0,
			recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limits_source_tier ON rate_limits(source, tier, recorded_at);`,

		// installed_skills records provenance for skills installed from an
		// external source (e.g. a GitHub repo), so they can be listed,
		// updated, and removed by skill_id.
		`CREATE TABLE IF NOT EXISTS installed_skills (
			skill_id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT 'local',
			source_url TEXT NOT NULL DEFAULT '',
			ref TEXT NOT NULL DEFAULT '',
			installed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
