package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/etwicaksono/droid-remote/internal/session/models"
	"github.com/etwicaksono/droid-remote/internal/session/store"
)

// Store persists task rows. Completion writes the task, a freshly created
// session, and the chat transcript pair in one transaction.
type Store struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewStore creates the task store on shared database connections. The
// sessions and chat_messages tables must already exist.
func NewStore(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize task schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
			project_dir TEXT NOT NULL,
			prompt TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'api',
			status TEXT NOT NULL DEFAULT 'pending',
			result TEXT NOT NULL DEFAULT '',
			success INTEGER,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			num_turns INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateTask inserts a new pending task row.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	var sessionID interface{}
	if t.SessionID != "" {
		sessionID = t.SessionID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, project_dir, prompt, model, source, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, sessionID, t.ProjectDir, t.Prompt, t.Model, t.Source, t.Status, t.CreatedAt)
	return err
}

// MarkRunning transitions a pending task to running.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
		StatusRunning, id, StatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Complete finalizes a task. When the run created a new Agent session, the
// session row plus the prompt/result chat pair are written in the same
// transaction so a crash cannot leave a half-recorded conversation.
func (s *Store) Complete(ctx context.Context, t *Task, newSession *models.Session) error {
	now := time.Now().UTC()
	t.CompletedAt = &now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if newSession != nil {
		if newSession.Status == "" {
			newSession.Status = models.StatusStopped
		}
		if newSession.ControlState == "" {
			newSession.ControlState = models.ControlRemoteActive
		}
		newSession.CreatedAt = now
		newSession.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, name, project_dir, status, control_state, transcript_path, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, '', ?, ?)
		`, newSession.ID, newSession.Name, newSession.ProjectDir,
			newSession.Status, newSession.ControlState, newSession.CreatedAt, newSession.UpdatedAt)
		if err != nil {
			return err
		}
	}

	var sessionID interface{}
	if t.SessionID != "" {
		sessionID = t.SessionID
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET session_id = ?, status = ?, result = ?, success = ?,
			duration_ms = ?, num_turns = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, sessionID, t.Status, t.Result, t.Success, t.DurationMS, t.NumTurns,
		t.Error, t.CompletedAt, t.ID)
	if err != nil {
		return err
	}

	if t.SessionID != "" && t.Status == StatusCompleted {
		for _, m := range []struct {
			msgType, content, status string
			durationMS               *int64
			numTurns                 *int
		}{
			{"user", t.Prompt, "", nil, nil},
			{"assistant", t.Result, "completed", &t.DurationMS, &t.NumTurns},
		} {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO chat_messages (session_id, type, content, status, duration_ms, num_turns, source, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, t.SessionID, m.msgType, m.content, m.status, m.durationMS, m.numTurns, t.Source, now)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.ro.QueryRowContext(ctx, `
		SELECT id, session_id, project_dir, prompt, model, source, status, result,
			success, duration_ms, num_turns, error, created_at, completed_at
		FROM tasks WHERE id = ?
	`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

// Filter narrows a task history listing. Zero values mean "any".
type Filter struct {
	SessionID   string
	Source      string
	SuccessOnly bool
	FailedOnly  bool
	Limit       int
}

// ListTasks returns recent tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, f Filter) ([]*Task, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `
		SELECT id, session_id, project_dir, prompt, model, source, status, result,
			success, duration_ms, num_turns, error, created_at, completed_at
		FROM tasks WHERE 1=1`
	args := []interface{}{}
	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, f.Source)
	}
	if f.SuccessOnly {
		query += ` AND success = 1`
	}
	if f.FailedOnly {
		query += ` AND status = ?`
		args = append(args, StatusFailed)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.ro.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row interface{ Scan(...interface{}) error }) (*Task, error) {
	var t Task
	var sessionID sql.NullString
	var success sql.NullBool
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &sessionID, &t.ProjectDir, &t.Prompt, &t.Model, &t.Source,
		&t.Status, &t.Result, &success, &t.DurationMS, &t.NumTurns, &t.Error,
		&t.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if sessionID.Valid {
		t.SessionID = sessionID.String
	}
	if success.Valid {
		t.Success = &success.Bool
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}
