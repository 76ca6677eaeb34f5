package websocket

// Action constants for client requests
const (
	// Health
	ActionHealthCheck = "health.check"

	// Session subscriptions
	ActionSessionSubscribe   = "subscribe"
	ActionSessionUnsubscribe = "unsubscribe"

	// Rendezvous replies
	ActionRespond = "respond"
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

// Notification actions (server -> client)
const (
	ActionSessionsUpdate      = "sessions_update"
	ActionSessionStateChanged = "session_state_changed"
	ActionChatUpdated         = "chat_updated"
	ActionCLIThinking         = "cli_thinking"
	ActionCLIThinkingDone     = "cli_thinking_done"
	ActionQueueUpdated        = "queue_updated"
	ActionNotification        = "notification"
	ActionTaskStarted         = "task_started"
	ActionTaskActivity        = "task_activity"
	ActionTaskCompleted       = "task_completed"
	ActionTaskCancelled       = "task_cancelled"
	ActionPermissionResolved  = "permission_resolved"
	ActionResponseDelivered   = "response_delivered"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnauthorized  = "UNAUTHORIZED"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
