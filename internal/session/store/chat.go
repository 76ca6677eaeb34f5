package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/etwicaksono/droid-remote/internal/session/models"
)

// AddChatMessage appends a conversation line and returns its row ID.
func (s *Store) AddChatMessage(ctx context.Context, m *models.ChatMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var images interface{}
	if len(m.Images) > 0 {
		images = string(m.Images)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, type, content, status, duration_ms, num_turns, source, images, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.SessionID, m.Type, m.Content, m.Status, m.DurationMS, m.NumTurns, m.Source, images, m.CreatedAt)
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

// ListChatMessages returns a page of conversation history, newest first.
func (s *Store) ListChatMessages(ctx context.Context, sessionID string, limit, offset int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.ro.QueryContext(ctx, `
		SELECT id, session_id, type, content, status, duration_ms, num_turns, source, images, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var durationMS sql.NullInt64
		var numTurns sql.NullInt64
		var images sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Type, &m.Content, &m.Status,
			&durationMS, &numTurns, &m.Source, &images, &m.CreatedAt); err != nil {
			return nil, err
		}
		if durationMS.Valid {
			m.DurationMS = &durationMS.Int64
		}
		if numTurns.Valid {
			n := int(numTurns.Int64)
			m.NumTurns = &n
		}
		if images.Valid && images.String != "" {
			m.Images = []byte(images.String)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// CountChatMessages returns the total conversation length, for pagination.
func (s *Store) CountChatMessages(ctx context.Context, sessionID string) (int, error) {
	var total int
	err := s.ro.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&total)
	return total, err
}

// ClearChat deletes all conversation history for a session.
func (s *Store) ClearChat(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
