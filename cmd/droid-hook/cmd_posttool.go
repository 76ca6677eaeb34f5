package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/pkg/bridgeclient"
)

// reportTools are the write-path tools worth surfacing; read-only tools
// would flood the chat.
var reportTools = map[string]bool{
	"Bash":      true,
	"Execute":   true,
	"Write":     true,
	"Create":    true,
	"Edit":      true,
	"MultiEdit": true,
}

// reportErrorsOnly suppresses notifications for successful tool runs.
const reportErrorsOnly = true

func postToolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post-tool",
		Short: "Report a finished tool execution",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runPostTool(loadEnv(), os.Stdin)
		},
	}
}

func runPostTool(env *hookEnv, in io.Reader) error {
	if env.execMode {
		return nil
	}
	ctx := context.Background()
	if !env.client.Available(ctx) {
		env.log.Warn("bridge not available, skipping post-tool notification")
		return nil
	}
	payload, err := readPayload(in)
	if err != nil {
		env.log.Warn("failed to parse hook payload", zap.Error(err))
		return nil
	}
	sessionID := payload.sessionID()
	if sessionID == "" {
		return fmt.Errorf("no session id in hook payload or environment")
	}

	toolName := payload.ToolName
	if toolName == "" {
		toolName = "Unknown"
	}
	if !reportTools[toolName] {
		return nil
	}
	success := payload.succeeded()
	if reportErrorsOnly && success {
		return nil
	}

	dir := projectDir()
	name := sessionNameFor(dir)
	_ = env.client.RegisterSession(ctx, sessionID, dir, name)

	statusEmoji, statusText, notificationType := "✅", "succeeded", "success"
	if !success {
		statusEmoji, statusText, notificationType = "❌", "failed", "error"
	}
	message := fmt.Sprintf("%s *[%s]* Tool %s\n\nTool: `%s`", statusEmoji, name, statusText, toolName)
	if payload.Error != "" {
		message += fmt.Sprintf("\n\n❌ Error:\n```\n%s\n```", clip(payload.Error, 500))
	}

	if _, err := env.client.Notify(ctx, sessionID, bridgeclient.NotifyRequest{
		SessionName: name,
		Message:     message,
		Type:        notificationType,
	}, env.notifyTimeout); err != nil {
		env.log.Warn("failed to send post-tool notification", zap.Error(err))
	}
	return nil
}
