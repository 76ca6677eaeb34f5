package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/etwicaksono/droid-remote/internal/session/models"
)

// AddEvent appends an audit log entry for a session.
func (s *Store) AddEvent(ctx context.Context, sessionID, eventType string, data interface{}) error {
	var dataJSON interface{}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		dataJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, eventType, dataJSON, time.Now().UTC())
	return err
}

// ListEvents returns a session's audit log, newest first.
func (s *Store) ListEvents(ctx context.Context, sessionID string, limit int) ([]*models.SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.ro.QueryContext(ctx, `
		SELECT id, session_id, event_type, event_data, created_at
		FROM session_events WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*models.SessionEvent
	for rows.Next() {
		var e models.SessionEvent
		var data *string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		if data != nil {
			e.EventData = json.RawMessage(*data)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// TimelineEntry is one row of the merged session history: audit events,
// permission decisions and task runs interleaved by time.
type TimelineEntry struct {
	Type      string          `json:"type"` // event, permission, task
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Timeline merges session events, permission requests and tasks into one
// newest-first stream.
func (s *Store) Timeline(ctx context.Context, sessionID string, limit int) ([]*TimelineEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.ro.QueryContext(ctx, `
		SELECT 'event' AS type, event_type AS action, event_data AS data, created_at
		FROM session_events WHERE session_id = ?
		UNION ALL
		SELECT 'permission' AS type, tool_name AS action,
		       json_object('decision', decision, 'decided_by', decided_by) AS data, created_at
		FROM permission_requests WHERE session_id = ?
		UNION ALL
		SELECT 'task' AS type, substr(prompt, 1, 50) AS action,
		       json_object('status', status, 'duration_ms', duration_ms) AS data, created_at
		FROM tasks WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, sessionID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		var data *string
		if err := rows.Scan(&e.Type, &e.Action, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		if data != nil {
			e.Data = json.RawMessage(*data)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
