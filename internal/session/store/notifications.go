package store

import (
	"context"
	"time"

	"github.com/etwicaksono/droid-remote/internal/session/models"
)

// AddNotification persists a badge item for the UI.
func (s *Store) AddNotification(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (session_id, type, title, message, read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, n.SessionID, n.Type, n.Title, n.Message, n.CreatedAt)
	if err != nil {
		return err
	}
	n.ID, err = res.LastInsertId()
	return err
}

// ListNotifications returns notifications for a session, newest first.
// When unreadOnly is set, read items are filtered out.
func (s *Store) ListNotifications(ctx context.Context, sessionID string, unreadOnly bool) ([]*models.Notification, error) {
	query := `
		SELECT id, session_id, type, title, message, read, created_at
		FROM notifications WHERE session_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.ro.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var read int
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Type, &n.Title, &n.Message, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Read = read != 0
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead marks every notification for a session as read.
func (s *Store) MarkNotificationsRead(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE session_id = ?`, sessionID)
	return err
}
