// Package task runs remote prompts through the headless Agent subprocess and
// records their results.
package task

import (
	"encoding/json"
	"time"
)

// Status is the task lifecycle. Terminal rows never mutate again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is one headless Agent run. SessionID is nullable: deleting a session
// keeps its task history.
type Task struct {
	ID          string     `json:"id" db:"id"`
	SessionID   string     `json:"session_id,omitempty" db:"session_id"`
	ProjectDir  string     `json:"project_dir" db:"project_dir"`
	Prompt      string     `json:"prompt" db:"prompt"`
	Model       string     `json:"model,omitempty" db:"model"`
	Source      string     `json:"source" db:"source"`
	Status      Status     `json:"status" db:"status"`
	Result      string     `json:"result,omitempty" db:"result"`
	Success     *bool      `json:"success,omitempty" db:"success"`
	DurationMS  int64      `json:"duration_ms" db:"duration_ms"`
	NumTurns    int        `json:"num_turns" db:"num_turns"`
	Error       string     `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ExecuteRequest describes one task submission.
type ExecuteRequest struct {
	SessionID       string `json:"session_id,omitempty"`
	ProjectDir      string `json:"project_dir"`
	Prompt          string `json:"prompt"`
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	AutonomyLevel   string `json:"autonomy_level,omitempty"`
	Source          string `json:"source,omitempty"`
	Stream          bool   `json:"stream,omitempty"`

	// Fresh forces a brand-new Agent session even when the executor
	// remembers one for the project directory. Free-form bot messages
	// set it.
	Fresh bool `json:"fresh,omitempty"`
}

// Activity is one parsed line of Agent output, forwarded to the surfaces
// while the task runs.
type Activity struct {
	Type   string `json:"type"` // tool_start, status, error, raw, event
	Tool   string `json:"tool,omitempty"`
	Detail string `json:"detail,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Result is the Agent's final JSON object in single-result mode.
type Result struct {
	Result     string `json:"result"`
	SessionID  string `json:"session_id"`
	IsError    bool   `json:"is_error"`
	DurationMS int64  `json:"duration_ms"`
	NumTurns   int    `json:"num_turns"`
}

// StreamLine is one object of the line-delimited streaming output. The
// completion line carries the final fields under its own key names.
type StreamLine struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	FinalText  string          `json:"finalText,omitempty"`
	DurationMS int64           `json:"durationMs,omitempty"`
	NumTurns   int             `json:"numTurns,omitempty"`
	Raw        json.RawMessage `json:"-"`
}
