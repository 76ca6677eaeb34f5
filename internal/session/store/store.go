// Package store provides SQLite-backed persistence for sessions and the
// records that hang off them: events, queued messages, chat history,
// settings, notifications and uploaded images.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/etwicaksono/droid-remote/internal/db"
)

// Sentinel errors shared by the repositories.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store provides session storage operations backed by SQLite.
type Store struct {
	db *sqlx.DB // writer (single connection)
	ro *sqlx.DB // reader (read-only pool)
}

// New creates a session store on existing database connections (shared
// ownership) and initializes the schema.
func New(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return s, nil
}

// DB returns the underlying writer for schema sharing with other stores.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// initSchema creates the session tables if they don't exist.
func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			project_dir TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			control_state TEXT NOT NULL DEFAULT 'cli_active',
			transcript_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			event_data TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_session
			ON session_events(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS queued_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'web',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL,
			sent_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queued_messages_session
			ON queued_messages(session_id, status, created_at)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER,
			num_turns INTEGER,
			source TEXT NOT NULL DEFAULT 'cli',
			images TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session
			ON chat_messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS session_settings (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
			model TEXT NOT NULL DEFAULT '',
			reasoning_effort TEXT NOT NULL DEFAULT '',
			autonomy_level TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			read INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			public_id TEXT NOT NULL,
			url TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return s.runMigrations()
}

// runMigrations brings databases created by earlier releases up to the
// current schema. Columns only ever get added.
func (s *Store) runMigrations() error {
	migrations := []struct {
		table, column, definition string
	}{
		{"sessions", "transcript_path", "TEXT NOT NULL DEFAULT ''"},
		{"session_settings", "autonomy_level", "TEXT NOT NULL DEFAULT ''"},
		{"chat_messages", "images", "TEXT"},
	}
	for _, m := range migrations {
		if err := db.EnsureColumn(s.db.DB, m.table, m.column, m.definition); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}
