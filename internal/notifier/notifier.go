// Package notifier fans session state changes out to every connected surface
// through the event bus. Publishing is best-effort: failures are logged and
// never propagate to the caller of the mutating operation.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/events/bus"
	"github.com/etwicaksono/droid-remote/internal/session/store"
)

const source = "bridge"

// Notifier publishes wire events for the socket gateway and the bot adapter.
type Notifier struct {
	bus      bus.EventBus
	sessions *store.Store
	logger   *logger.Logger
}

// New creates a notifier on the given bus.
func New(eventBus bus.EventBus, sessions *store.Store, log *logger.Logger) *Notifier {
	return &Notifier{
		bus:      eventBus,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "notifier")),
	}
}

// Emit publishes a session-scoped event. The session_id is always present in
// the payload so surfaces can route without parsing the subject.
func (n *Notifier) Emit(ctx context.Context, sessionID, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["session_id"] = sessionID

	event := bus.NewEvent(eventType, source, payload)
	if err := n.bus.Publish(ctx, events.SessionSubject(sessionID, eventType), event); err != nil {
		n.logger.WithError(err).Warn("Failed to publish event",
			zap.String("event_type", eventType),
			zap.String("session_id", sessionID))
	}
}

// Broadcast publishes an event that is not scoped to one session.
func (n *Notifier) Broadcast(ctx context.Context, eventType string, payload map[string]interface{}) {
	event := bus.NewEvent(eventType, source, payload)
	if err := n.bus.Publish(ctx, events.SubjectBroadcast, event); err != nil {
		n.logger.WithError(err).Warn("Failed to publish broadcast",
			zap.String("event_type", eventType))
	}
}

// SessionsUpdate broadcasts the full session list with pending queue counts.
// Emitted after any session mutation; idempotent at the consumer.
func (n *Notifier) SessionsUpdate(ctx context.Context) {
	payload, err := n.SessionsPayload(ctx)
	if err != nil {
		n.logger.WithError(err).Warn("Failed to build sessions update")
		return
	}
	n.Broadcast(ctx, events.SessionsUpdate, payload)
}

// SessionsPayload builds the sessions_update payload. The socket gateway
// also uses it to push the current list to a freshly connected client.
func (n *Notifier) SessionsPayload(ctx context.Context) (map[string]interface{}, error) {
	sessions, err := n.sessions.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := n.sessions.QueueCounts(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, map[string]interface{}{
			"id":            s.ID,
			"name":          s.Name,
			"project_dir":   s.ProjectDir,
			"status":        string(s.Status),
			"control_state": string(s.ControlState),
			"created_at":    s.CreatedAt,
			"last_activity": s.UpdatedAt,
			"queue_count":   counts[s.ID],
		})
	}
	return map[string]interface{}{"sessions": list}, nil
}

// QueueUpdated emits the queue_updated event with the current pending count.
func (n *Notifier) QueueUpdated(ctx context.Context, sessionID string) {
	count, err := n.sessions.QueueCount(ctx, sessionID)
	if err != nil {
		n.logger.WithError(err).Warn("Failed to count queue",
			zap.String("session_id", sessionID))
		return
	}
	n.Emit(ctx, sessionID, events.QueueUpdated, map[string]interface{}{
		"queue_count": count,
	})
}
