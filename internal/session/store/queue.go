package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/etwicaksono/droid-remote/internal/session/models"
)

// QueueMessage buffers a message for later delivery and returns the row.
func (s *Store) QueueMessage(ctx context.Context, sessionID, content, source string) (*models.QueuedMessage, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_messages (session_id, content, source, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, content, source, models.QueuePending, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.QueuedMessage{
		ID:        id,
		SessionID: sessionID,
		Content:   content,
		Source:    source,
		Status:    models.QueuePending,
		CreatedAt: now,
	}, nil
}

// ListQueuedMessages returns pending messages for a session in FIFO order.
func (s *Store) ListQueuedMessages(ctx context.Context, sessionID string) ([]*models.QueuedMessage, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT id, session_id, content, source, status, created_at, sent_at
		FROM queued_messages
		WHERE session_id = ? AND status = ?
		ORDER BY created_at, id
	`, sessionID, models.QueuePending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*models.QueuedMessage
	for rows.Next() {
		m, err := scanQueuedMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// NextQueuedMessage returns the oldest pending message, or ErrNotFound.
func (s *Store) NextQueuedMessage(ctx context.Context, sessionID string) (*models.QueuedMessage, error) {
	row := s.ro.QueryRowContext(ctx, `
		SELECT id, session_id, content, source, status, created_at, sent_at
		FROM queued_messages
		WHERE session_id = ? AND status = ?
		ORDER BY created_at, id LIMIT 1
	`, sessionID, models.QueuePending)
	m, err := scanQueuedMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// MarkMessageSent transitions a queued message to sent.
func (s *Store) MarkMessageSent(ctx context.Context, messageID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queued_messages SET status = ?, sent_at = ?
		WHERE id = ? AND status = ?
	`, models.QueueSent, time.Now().UTC(), messageID, models.QueuePending)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CancelQueuedMessage transitions a queued message to cancelled.
func (s *Store) CancelQueuedMessage(ctx context.Context, messageID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queued_messages SET status = ?
		WHERE id = ? AND status = ?
	`, models.QueueCancelled, messageID, models.QueuePending)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ClearQueue cancels every pending message for a session and returns how
// many were affected.
func (s *Store) ClearQueue(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queued_messages SET status = ?
		WHERE session_id = ? AND status = ?
	`, models.QueueCancelled, sessionID, models.QueuePending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueueCount returns the number of pending messages for a session.
func (s *Store) QueueCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.ro.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queued_messages WHERE session_id = ? AND status = ?
	`, sessionID, models.QueuePending).Scan(&n)
	return n, err
}

// QueueCounts returns pending counts for all sessions in one query.
func (s *Store) QueueCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT session_id, COUNT(*) FROM queued_messages
		WHERE status = ? GROUP BY session_id
	`, models.QueuePending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var sid string
		var n int
		if err := rows.Scan(&sid, &n); err != nil {
			return nil, err
		}
		counts[sid] = n
	}
	return counts, rows.Err()
}

func scanQueuedMessage(row interface{ Scan(...interface{}) error }) (*models.QueuedMessage, error) {
	var m models.QueuedMessage
	var sentAt sql.NullTime
	err := row.Scan(&m.ID, &m.SessionID, &m.Content, &m.Source, &m.Status, &m.CreatedAt, &sentAt)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	return &m, nil
}
