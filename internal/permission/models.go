// Package permission implements the pattern-matched allow/deny engine
// consulted before every Agent tool use and the audit trail of permission
// asks.
package permission

import (
	"encoding/json"
	"time"
)

// Decision is the verdict for one tool use.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// RuleType classifies a stored rule.
type RuleType string

const (
	RuleAllow RuleType = "allow"
	RuleDeny  RuleType = "deny"
)

// Scope is the reach of a stored rule.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeSession Scope = "session"
)

// Request decisions recorded in the audit table.
const (
	RequestPending         = "pending"
	RequestApproved        = "approved"
	RequestDenied          = "denied"
	RequestApprovedSession = "approved_session"
	RequestDeniedSession   = "denied_session"
	RequestApprovedGlobal  = "approved_global"
	RequestDeniedGlobal    = "denied_global"
)

// Rule is one reusable allow/deny decision.
type Rule struct {
	ID        int64     `json:"id" db:"id"`
	ToolName  string    `json:"tool_name" db:"tool_name"`
	Pattern   string    `json:"pattern" db:"pattern"`
	RuleType  RuleType  `json:"rule_type" db:"rule_type"`
	Scope     Scope     `json:"scope" db:"scope"`
	SessionID string    `json:"session_id,omitempty" db:"session_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Request is the audit record of one hook permission ask. Its ID equals the
// rendezvous wait key for the ask.
type Request struct {
	ID                string          `json:"id" db:"id"`
	SessionID         string          `json:"session_id" db:"session_id"`
	ToolName          string          `json:"tool_name" db:"tool_name"`
	ToolInput         json.RawMessage `json:"tool_input,omitempty" db:"tool_input"`
	Message           string          `json:"message" db:"message"`
	Decision          string          `json:"decision" db:"decision"`
	DecidedBy         string          `json:"decided_by,omitempty" db:"decided_by"`
	ExternalMessageID string          `json:"external_message_id,omitempty" db:"external_message_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	DecidedAt         *time.Time      `json:"decided_at,omitempty" db:"decided_at"`
}
