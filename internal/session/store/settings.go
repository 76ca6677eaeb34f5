package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/etwicaksono/droid-remote/internal/session/models"
)

// GetSettings returns a session's model preferences, or zero-value settings
// when none were saved yet.
func (s *Store) GetSettings(ctx context.Context, sessionID string) (*models.SessionSettings, error) {
	var st models.SessionSettings
	err := s.ro.QueryRowContext(ctx, `
		SELECT session_id, model, reasoning_effort, autonomy_level, updated_at
		FROM session_settings WHERE session_id = ?
	`, sessionID).Scan(&st.SessionID, &st.Model, &st.ReasoningEffort, &st.AutonomyLevel, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SessionSettings{SessionID: sessionID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// PutSettings upserts a session's model preferences.
func (s *Store) PutSettings(ctx context.Context, st *models.SessionSettings) error {
	st.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_settings (session_id, model, reasoning_effort, autonomy_level, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			model = excluded.model,
			reasoning_effort = excluded.reasoning_effort,
			autonomy_level = excluded.autonomy_level,
			updated_at = excluded.updated_at
	`, st.SessionID, st.Model, st.ReasoningEffort, st.AutonomyLevel, st.UpdatedAt)
	return err
}
