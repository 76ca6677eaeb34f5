package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/etwicaksono/droid-remote/internal/session/models"
)

// scanSession maps one row onto a Session, coercing legacy control states.
func scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	var s models.Session
	var controlState string
	err := row.Scan(&s.ID, &s.Name, &s.ProjectDir, &s.Status, &controlState,
		&s.TranscriptPath, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ControlState = models.NormalizeControlState(controlState)
	return &s, nil
}

const sessionColumns = `id, name, project_dir, status, control_state, transcript_path, created_at, updated_at`

// CreateSession inserts a new session. The display name is generated inside
// the insert transaction so concurrent registrations for the same directory
// cannot collide.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = models.StatusRunning
	}
	if sess.ControlState == "" {
		sess.ControlState = models.ControlCLIActive
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if sess.Name == "" {
		name, err := nextDisplayName(ctx, tx, sess.ProjectDir)
		if err != nil {
			return fmt.Errorf("failed to generate session name: %w", err)
		}
		sess.Name = name
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, project_dir, status, control_state, transcript_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Name, sess.ProjectDir, sess.Status, sess.ControlState,
		sess.TranscriptPath, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// nextDisplayName applies the numbering policy: the first session for a
// directory uses the basename, later ones get "base #N" with
// N = 1 + max existing numeric suffix.
func nextDisplayName(ctx context.Context, q sqlxQueryer, projectDir string) (string, error) {
	base := filepath.Base(projectDir)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "session"
	}

	rows, err := q.QueryContext(ctx, `SELECT name FROM sessions WHERE project_dir = ?`, projectDir)
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	maxSuffix := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		switch {
		case name == base:
			if maxSuffix < 1 {
				maxSuffix = 1
			}
		case strings.HasPrefix(name, base+" #"):
			if n, err := strconv.Atoi(strings.TrimPrefix(name, base+" #")); err == nil && n > maxSuffix {
				maxSuffix = n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if maxSuffix == 0 {
		return base, nil
	}
	return fmt.Sprintf("%s #%d", base, maxSuffix+1), nil
}

type sqlxQueryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// GetSession retrieves a session by exact ID.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.ro.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// GetSessionByPrefix retrieves a session whose ID starts with the given
// prefix. Prefixes shorter than 8 characters are refused; an ambiguous
// prefix returns ErrConflict.
func (s *Store) GetSessionByPrefix(ctx context.Context, prefix string) (*models.Session, error) {
	if len(prefix) < 8 {
		return nil, fmt.Errorf("%w: id prefix must be at least 8 characters", ErrNotFound)
	}
	rows, err := s.ro.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id LIKE ? LIMIT 2`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var found *models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, fmt.Errorf("%w: ambiguous session id prefix %q", ErrConflict, prefix)
		}
		found = sess
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// GetSessionByName retrieves a session by case-insensitive display name.
func (s *Store) GetSessionByName(ctx context.Context, name string) (*models.Session, error) {
	row := s.ro.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE name = ? COLLATE NOCASE
		 ORDER BY created_at LIMIT 1`, name)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// ListSessions returns all sessions in registration order.
func (s *Store) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.ro.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSessionByProjectDir returns the most recently active session for a
// project directory, if any.
func (s *Store) GetSessionByProjectDir(ctx context.Context, projectDir string) (*models.Session, error) {
	row := s.ro.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE project_dir = ?
		 ORDER BY updated_at DESC LIMIT 1`, projectDir)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// TouchSession refreshes the last-activity timestamp.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateSessionStatus sets the last observed Agent state.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateControlState persists a control-state change. Transition validation
// happens in the registry; the store writes what it is told.
func (s *Store) UpdateControlState(ctx context.Context, id string, state models.ControlState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET control_state = ?, updated_at = ? WHERE id = ?`,
		state, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RenameSession updates the display name.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateTranscriptPath records where the Agent writes its transcript.
func (s *Store) UpdateTranscriptPath(ctx context.Context, id, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET transcript_path = ?, updated_at = ? WHERE id = ?`,
		path, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteSession removes a session. Dependent rows cascade; task rows keep
// their history with session_id set to NULL.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
