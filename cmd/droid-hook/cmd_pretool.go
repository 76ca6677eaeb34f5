package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/pkg/bridgeclient"
)

func preToolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pre-tool",
		Short: "Gate a tool call on the allowlist or a human decision",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runPreTool(loadEnv(), os.Stdin, os.Stdout)
		},
	}
}

// runPreTool implements the PreToolUse exchange. The Agent blocks on this
// process until it prints a permission verdict, so every failure path fails
// open with "allow" rather than stranding the user. Only a human (or a
// stored deny rule) produces a deny.
func runPreTool(env *hookEnv, in io.Reader, out io.Writer) error {
	if env.execMode {
		return nil
	}
	ctx := context.Background()

	if !env.client.Available(ctx) {
		env.log.Warn("bridge not available, allowing tool")
		return printAllow(out)
	}

	payload, err := readPayload(in)
	if err != nil {
		env.log.Warn("failed to parse hook payload, allowing tool", zap.Error(err))
		return printAllow(out)
	}

	sessionID := payload.sessionID()
	if sessionID == "" {
		return fmt.Errorf("no session id in hook payload or environment")
	}
	dir := projectDir()
	name := sessionNameFor(dir)
	toolName := payload.ToolName
	if toolName == "" {
		toolName = "Unknown"
	}

	// Stored rules answer without waking a human.
	if decision := env.client.CheckAllowlist(ctx, sessionID, toolName, payload.ToolInput); decision.Allowed {
		return printAllow(out)
	} else if decision.Denied {
		return printDeny(out, "Denied by stored rule")
	}

	_ = env.client.RegisterSession(ctx, sessionID, dir, name)
	_ = env.client.UpdateStatus(ctx, sessionID, "waiting")

	requestID, err := env.client.Notify(ctx, sessionID, bridgeclient.NotifyRequest{
		SessionName: name,
		Message:     formatPermissionRequest(name, toolName, payload.ToolInput),
		Type:        "permission",
		Buttons: []bridgeclient.Button{
			{Text: "✅ Approve", Callback: "approve"},
			{Text: "❌ Deny", Callback: "deny"},
			{Text: "✅ Always Allow", Callback: "always_allow"},
		},
		ToolName:  toolName,
		ToolInput: payload.ToolInput,
	}, env.notifyTimeout)
	if err != nil {
		env.log.Warn("failed to send permission request, allowing tool", zap.Error(err))
		_ = env.client.UpdateStatus(ctx, sessionID, "running")
		return printAllow(out)
	}

	response, ok, err := env.client.WaitForResponse(ctx, sessionID, requestID, env.permissionTimeout)
	_ = env.client.PatchSession(ctx, sessionID, bridgeclient.SessionPatch{Status: "running", ClearPending: true})
	if err != nil || !ok {
		return printDeny(out, "Permission request timed out")
	}

	switch strings.ToLower(strings.TrimSpace(response)) {
	case "approve", "always_allow", "approve_all", "yes", "y", "ok", "allow":
		return printAllow(out)
	default:
		return printDeny(out, "User denied: "+response)
	}
}
