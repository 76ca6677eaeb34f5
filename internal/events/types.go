// Package events defines the event types and bus subjects shared by the
// bridge services and the delivery surfaces (socket gateway, Telegram bot).
package events

// Event types for sessions
const (
	SessionsUpdate      = "sessions_update"
	SessionStateChanged = "session_state_changed"
	ChatUpdated         = "chat_updated"
	CLIThinking         = "cli_thinking"
	CLIThinkingDone     = "cli_thinking_done"
)

// Event types for the message queue
const (
	QueueUpdated = "queue_updated"
)

// Event types for notifications and rendezvous outcomes
const (
	Notification       = "notification"
	PermissionResolved = "permission_resolved"
	ResponseDelivered  = "response_delivered"
)

// Event types for remote tasks
const (
	TaskStarted   = "task_started"
	TaskActivity  = "task_activity"
	TaskCompleted = "task_completed"
	TaskCancelled = "task_cancelled"
)

// Bus subjects. Session-scoped events publish under bridge.session.<id>.<type>
// so surfaces can subscribe with NATS-style wildcards.
const (
	SubjectBroadcast     = "bridge.broadcast"
	SubjectSessionPrefix = "bridge.session"
)

// SessionSubject returns the bus subject for a session-scoped event.
func SessionSubject(sessionID, eventType string) string {
	return SubjectSessionPrefix + "." + sessionID + "." + eventType
}

// AllSessionEvents is the wildcard subject matching every session-scoped event.
const AllSessionEvents = SubjectSessionPrefix + ".>"
