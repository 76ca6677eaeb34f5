package main

import (
	"encoding/json"
	"io"
	"os"
)

// hookPayload is the JSON the Agent writes to a hook's stdin. Fields vary by
// hook event; the session id arrives in snake or camel case depending on the
// Agent version.
type hookPayload struct {
	SessionID      string          `json:"session_id"`
	SessionIDCamel string          `json:"sessionId"`
	TranscriptPath string          `json:"transcript_path"`
	StopHookActive bool            `json:"stop_hook_active"`
	ToolName       string          `json:"tool_name"`
	ToolInput      json.RawMessage `json:"tool_input"`
	Success        *bool           `json:"success"`
	Error          string          `json:"error"`
	Message        string          `json:"message"`
	Type           string          `json:"type"`
	Prompt         string          `json:"prompt"`
	Summary        string          `json:"summary"`
	Trigger        string          `json:"trigger"`
	Reason         string          `json:"reason"`
	SubagentID     string          `json:"subagent_id"`
	Task           string          `json:"task"`
	Result         string          `json:"result"`
}

func readPayload(r io.Reader) (*hookPayload, error) {
	var p hookPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// sessionID resolves the session identity from the payload, falling back to
// the environment the Agent exports.
func (p *hookPayload) sessionID() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	if p.SessionIDCamel != "" {
		return p.SessionIDCamel
	}
	return os.Getenv("FACTORY_SESSION_ID")
}

// succeeded defaults to true when the Agent omits the field.
func (p *hookPayload) succeeded() bool {
	return p.Success == nil || *p.Success
}

// permissionVerdict is the PreToolUse reply shape the Agent parses.
type permissionVerdict struct {
	HookSpecificOutput permissionDecision `json:"hookSpecificOutput"`
}

type permissionDecision struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

func printAllow(w io.Writer) error {
	return json.NewEncoder(w).Encode(permissionVerdict{
		HookSpecificOutput: permissionDecision{
			HookEventName:      "PreToolUse",
			PermissionDecision: "allow",
		},
	})
}

func printDeny(w io.Writer, reason string) error {
	return json.NewEncoder(w).Encode(permissionVerdict{
		HookSpecificOutput: permissionDecision{
			HookEventName:            "PreToolUse",
			PermissionDecision:       "deny",
			PermissionDecisionReason: reason,
		},
	})
}

// blockVerdict tells the Agent to keep working with a new instruction
// instead of stopping.
type blockVerdict struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

func printBlock(w io.Writer, reason string) error {
	return json.NewEncoder(w).Encode(blockVerdict{Decision: "block", Reason: reason})
}
