package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// busyTimeout is how long a connection waits on a lock before returning
// SQLITE_BUSY. Writes from hooks and the UI contend rarely, but a permission
// burst can line up several small transactions.
const busyTimeout = 5 * time.Second

// readerConns sizes the read pool. Session list polling, chat history and
// socket snapshots are all reads; four connections cover them without
// starving the writer of cache.
const readerConns = 4

// OpenSQLite opens the bridge database for writing. The pool is pinned to a
// single connection so every write serializes through it instead of
// surfacing SQLITE_BUSY to callers.
func OpenSQLite(path string) (*sql.DB, error) {
	abs := absPath(path)
	if err := touchDatabase(abs); err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}

	// WAL keeps readers off the writer's back; NORMAL sync is durable enough
	// for session bookkeeping. Foreign keys are enforced so session deletes
	// cascade through events, queue rows and chat history.
	db, err := sql.Open("sqlite3", writerDSN(abs))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// OpenSQLiteReader opens a read-only pool over the same file. WAL snapshots
// let these connections run concurrently with the single writer.
func OpenSQLiteReader(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", readerDSN(absPath(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	db.SetMaxOpenConns(readerConns)
	db.SetMaxIdleConns(readerConns)
	return db, nil
}

func writerDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=%d&_cache=shared",
		path, busyTimeout.Milliseconds())
}

// readerDSN omits journal_mode and synchronous: both are database-level and
// already set by the writer that opened the file.
func readerDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_mode=ro&_foreign_keys=on&_busy_timeout=%d&_cache=shared",
		path, busyTimeout.Milliseconds())
}

// touchDatabase makes sure the parent directory and the file itself exist, so
// the read-only pool opened right after does not race file creation.
func touchDatabase(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func absPath(path string) string {
	if path == "" {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
