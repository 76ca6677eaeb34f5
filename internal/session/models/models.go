// Package models defines the session domain types: sessions, control states,
// pending requests, queued messages, chat history, settings and notifications.
package models

import (
	"encoding/json"
	"time"
)

// SessionStatus is the last observed state of the Agent CLI for a session.
type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusWaiting SessionStatus = "waiting"
	StatusStopped SessionStatus = "stopped"
)

// ControlState describes who currently drives a session. At most one of the
// CLI and the remote surfaces holds a session at any time.
type ControlState string

const (
	// ControlCLIActive: the CLI is running and processing.
	ControlCLIActive ControlState = "cli_active"

	// ControlCLIWaiting: the CLI is parked at a stop point, waiting for input.
	ControlCLIWaiting ControlState = "cli_waiting"

	// ControlRemoteActive: a remote surface (bot or web) has control.
	ControlRemoteActive ControlState = "remote_active"

	// ControlReleased: remote control was given up, waiting for the CLI.
	ControlReleased ControlState = "released"
)

// validTransitions is the control-state machine. Anything not listed here is
// refused: the registry leaves the state unchanged and emits no event.
var validTransitions = map[ControlState][]ControlState{
	ControlCLIActive:    {ControlCLIWaiting, ControlRemoteActive},
	ControlCLIWaiting:   {ControlRemoteActive},
	ControlRemoteActive: {ControlReleased},
	ControlReleased:     {ControlRemoteActive, ControlCLIActive},
}

// CanTransition reports whether moving from one control state to another is
// allowed. A same-state transition is allowed as an idempotent no-op.
func CanTransition(from, to ControlState) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NormalizeControlState coerces unknown legacy values (from databases written
// by earlier versions) to remote_active.
func NormalizeControlState(raw string) ControlState {
	switch ControlState(raw) {
	case ControlCLIActive, ControlCLIWaiting, ControlRemoteActive, ControlReleased:
		return ControlState(raw)
	default:
		return ControlRemoteActive
	}
}

// NotificationType classifies a pending request or a persisted notification.
type NotificationType string

const (
	NotifyInfo       NotificationType = "info"
	NotifyWarning    NotificationType = "warning"
	NotifyError      NotificationType = "error"
	NotifySuccess    NotificationType = "success"
	NotifyPermission NotificationType = "permission"
	NotifyStop       NotificationType = "stop"
	NotifyStart      NotificationType = "start"
)

// Session is one Agent conversation. The ID is assigned by the Agent.
type Session struct {
	ID             string        `json:"id" db:"id"`
	Name           string        `json:"name" db:"name"`
	ProjectDir     string        `json:"project_dir" db:"project_dir"`
	Status         SessionStatus `json:"status" db:"status"`
	ControlState   ControlState  `json:"control_state" db:"control_state"`
	TranscriptPath string        `json:"transcript_path,omitempty" db:"transcript_path"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// LastActivity is an alias for the updated timestamp kept for API consumers.
func (s *Session) LastActivity() time.Time { return s.UpdatedAt }

// Button is one inline action offered to the human on a notification.
type Button struct {
	Text     string `json:"text"`
	Callback string `json:"callback"`
}

// PendingRequest is one outstanding question from the Agent. It lives in the
// registry's in-memory cache; permission-typed requests are additionally
// mirrored into the permission audit table. Its ID doubles as the rendezvous
// wait key.
type PendingRequest struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	ToolName  string           `json:"tool_name,omitempty"`
	ToolInput json.RawMessage  `json:"tool_input,omitempty"`
	Buttons   []Button         `json:"buttons,omitempty"`
	CreatedAt time.Time        `json:"created_at"`

	// ExternalMessageID lets the bot surface edit the prompt in place
	// once the request resolves.
	ExternalMessageID string `json:"external_message_id,omitempty"`
}

// QueuedMessageStatus is the lifecycle of a buffered message.
type QueuedMessageStatus string

const (
	QueuePending   QueuedMessageStatus = "pending"
	QueueSent      QueuedMessageStatus = "sent"
	QueueCancelled QueuedMessageStatus = "cancelled"
)

// QueuedMessage is a task buffered while the CLI holds control of a session.
// FIFO within a session.
type QueuedMessage struct {
	ID        int64               `json:"id" db:"id"`
	SessionID string              `json:"session_id" db:"session_id"`
	Content   string              `json:"content" db:"content"`
	Source    string              `json:"source" db:"source"`
	Status    QueuedMessageStatus `json:"status" db:"status"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	SentAt    *time.Time          `json:"sent_at,omitempty" db:"sent_at"`
}

// ChatMessage is one persisted line of a session conversation.
type ChatMessage struct {
	ID         int64           `json:"id" db:"id"`
	SessionID  string          `json:"session_id" db:"session_id"`
	Type       string          `json:"type" db:"type"` // user or assistant
	Content    string          `json:"content" db:"content"`
	Status     string          `json:"status,omitempty" db:"status"`
	DurationMS *int64          `json:"duration_ms,omitempty" db:"duration_ms"`
	NumTurns   *int            `json:"num_turns,omitempty" db:"num_turns"`
	Source     string          `json:"source" db:"source"` // cli, web, api, queue, telegram
	Images     json.RawMessage `json:"images,omitempty" db:"images"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// SessionEvent is an audit log entry for a session.
type SessionEvent struct {
	ID        int64           `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	EventType string          `json:"event_type" db:"event_type"`
	EventData json.RawMessage `json:"event_data,omitempty" db:"event_data"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// SessionSettings holds per-session model preferences for headless runs.
type SessionSettings struct {
	SessionID       string    `json:"session_id" db:"session_id"`
	Model           string    `json:"model,omitempty" db:"model"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty" db:"reasoning_effort"`
	AutonomyLevel   string    `json:"autonomy_level,omitempty" db:"autonomy_level"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Notification is a persisted badge item shown in the UI until read.
type Notification struct {
	ID        int64            `json:"id" db:"id"`
	SessionID string           `json:"session_id" db:"session_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Message   string           `json:"message" db:"message"`
	Read      bool             `json:"read" db:"read"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// SessionImage records an uploaded image asset so it can be cleaned up when
// its session is deleted.
type SessionImage struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	PublicID  string    `json:"public_id" db:"public_id"`
	URL       string    `json:"url" db:"url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
