// Package bus moves bridge events from the services that produce them (the
// registry, the permission engine, the task executor) to the surfaces that
// deliver them (the socket gateway, the Telegram bot). Subjects are
// dot-separated and support NATS wildcards, so one subscription on
// bridge.session.> observes every session-scoped event.
//
// The in-memory bus is the default and dispatches synchronously in publish
// order. NATS backs multi-process deployments.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message on the bus. Data carries the wire payload that
// eventually reaches a socket client or a chat message unchanged.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a payload with identity and time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// SessionID extracts the session the event belongs to, or "" for events
// that are not session-scoped.
func (e *Event) SessionID() string {
	s, _ := e.Data["session_id"].(string)
	return s
}

// EventHandler consumes one event. Returned errors are logged by the bus,
// never propagated to the publisher.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error
}

// EventBus is the publish side and the subscribe side together.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject pattern. Patterns use
	// NATS wildcards: * for one token, > for the remaining tokens.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close tears the bus down; further publishes and subscribes fail.
	Close()
}
