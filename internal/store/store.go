// Package store implements the persistent context engine for Cortex.
//
// It uses SQLite to record sessions, their message ledgers, the task
// hierarchy, code markers, and session metadata. Every mutating operation
// runs inside a single transaction; the store enforces referential
// integrity (cascade deletes) and leaves domain invariants such as status
// propagation to the code in tasks.go/hierarchy.go.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store is the persistent context engine backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dbPath, applies the
// SQLite pragmas, and runs migrations. The parent directory is created
// with owner-only permissions.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error. This is the unit of work used by every mutating
// operation: partial writes are never observable.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			description  TEXT,
			objective    TEXT,
			status       TEXT NOT NULL DEFAULT 'active',
			created_at   TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at   TEXT NOT NULL DEFAULT (datetime('now')),
			completed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status  ON sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id            TEXT    PRIMARY KEY,
			session_id    TEXT    NOT NULL,
			role          TEXT    NOT NULL,
			content       TEXT,
			name          TEXT,
			tools         TEXT,
			tool_calls    TEXT,
			function_call TEXT,
			token_count   INTEGER,
			sequence      INTEGER NOT NULL,
			created_at    TEXT    NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
			UNIQUE (session_id, sequence)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, sequence);

		CREATE TABLE IF NOT EXISTS tasks (
			id               TEXT    PRIMARY KEY,
			session_id       TEXT,
			parent_id        TEXT,
			title            TEXT    NOT NULL,
			description      TEXT,
			level            TEXT    NOT NULL,
			status           TEXT    NOT NULL DEFAULT 'todo',
			priority         INTEGER NOT NULL DEFAULT 0,
			progress         REAL    NOT NULL DEFAULT 0.0,
			propagate_status INTEGER NOT NULL DEFAULT 1,
			created_at       TEXT    NOT NULL DEFAULT (datetime('now')),
			updated_at       TEXT    NOT NULL DEFAULT (datetime('now')),
			started_at       TEXT,
			completed_at     TEXT,
			due_date         TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
			FOREIGN KEY (parent_id)  REFERENCES tasks(id)    ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_parent  ON tasks(parent_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_status  ON tasks(status);

		CREATE TABLE IF NOT EXISTS markers (
			id          TEXT    PRIMARY KEY,
			session_id  TEXT,
			task_id     TEXT,
			type        TEXT    NOT NULL,
			status      TEXT    NOT NULL DEFAULT 'open',
			file_path   TEXT    NOT NULL,
			line_number INTEGER NOT NULL,
			content     TEXT    NOT NULL,
			full_line   TEXT,
			metadata    TEXT,
			created_at  TEXT    NOT NULL DEFAULT (datetime('now')),
			updated_at  TEXT    NOT NULL DEFAULT (datetime('now')),
			resolved_at TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE SET NULL,
			FOREIGN KEY (task_id)    REFERENCES tasks(id)    ON DELETE SET NULL
		);

		CREATE INDEX IF NOT EXISTS idx_markers_session ON markers(session_id);
		CREATE INDEX IF NOT EXISTS idx_markers_task    ON markers(task_id);
		CREATE INDEX IF NOT EXISTS idx_markers_status  ON markers(status);
		CREATE INDEX IF NOT EXISTS idx_markers_file    ON markers(file_path);

		CREATE TABLE IF NOT EXISTS session_metadata (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			key        TEXT NOT NULL,
			value_text TEXT,
			value_json TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_metadata_session ON session_metadata(session_id, key);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// nullableString maps "" to NULL for optional text columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt maps a nil pointer to NULL for optional integer columns.
func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullableJSON maps empty raw JSON to NULL for optional JSON columns.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// strPtr returns a pointer to s, for optional result fields.
func strPtr(s string) *string {
	return &s
}
