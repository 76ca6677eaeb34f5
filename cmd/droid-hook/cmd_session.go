package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/pkg/bridgeclient"
)

func sessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-start",
		Short: "Register a freshly started Agent session",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSessionStart(loadEnv(), os.Stdin)
		},
	}
}

func runSessionStart(env *hookEnv, in io.Reader) error {
	if env.execMode {
		return nil
	}
	payload, err := readPayload(in)
	if err != nil {
		env.log.Warn("failed to parse hook payload", zap.Error(err))
		return nil
	}
	sessionID := payload.sessionID()
	if sessionID == "" {
		sessionID = "unknown"
	}
	ctx := context.Background()
	dir := projectDir()
	name := sessionNameFor(dir)
	trigger := payload.Trigger
	if trigger == "" {
		trigger = "unknown"
	}

	if err := env.client.RegisterSession(ctx, sessionID, dir, name); err != nil {
		env.log.Warn("failed to register session", zap.Error(err))
	}
	if payload.TranscriptPath != "" {
		_ = env.client.PatchSession(ctx, sessionID, bridgeclient.SessionPatch{TranscriptPath: payload.TranscriptPath})
	}

	message := fmt.Sprintf(
		"▶️ *[%s]* Session Started\n\n📁 Project: `%s`\n🕐 Time: %s\n🔄 Trigger: %s",
		name, dir, time.Now().Format("2006-01-02 15:04:05"), trigger,
	)
	if _, err := env.client.Notify(ctx, sessionID, bridgeclient.NotifyRequest{
		SessionName: name,
		Message:     message,
		Type:        "start",
	}, env.notifyTimeout); err != nil {
		env.log.Warn("failed to send start notification", zap.Error(err))
	}
	return nil
}

func sessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-end",
		Short: "Mark a session stopped and announce why it ended",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSessionEnd(loadEnv(), os.Stdin)
		},
	}
}

// endReasons maps the Agent's machine reasons to readable ones.
var endReasons = map[string]string{
	"prompt_input_exit": "User exited the prompt",
	"task_completed":    "Task completed successfully",
	"error":             "Session ended due to error",
	"timeout":           "Session timed out",
	"user_interrupt":    "User interrupted the session",
}

func runSessionEnd(env *hookEnv, in io.Reader) error {
	if env.execMode {
		return nil
	}
	ctx := context.Background()
	if !env.client.Available(ctx) {
		env.log.Warn("bridge not available, skipping session end notification")
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
	dir := projectDir()
	name := sessionNameFor(dir)

	reason := payload.Reason
	if reason == "" {
		reason = "unknown"
	}
	if friendly, ok := endReasons[reason]; ok {
		reason = friendly
	}

	message := fmt.Sprintf(
		"⏹️ *[%s]* Session Ended\n\n📁 Project: `%s`\n🕐 Time: %s\n📋 Reason: %s",
		name, dir, time.Now().Format("2006-01-02 15:04:05"), reason,
	)
	if _, err := env.client.Notify(ctx, sessionID, bridgeclient.NotifyRequest{
		SessionName: name,
		Message:     message,
		Type:        "info",
	}, env.notifyTimeout); err != nil {
		env.log.Warn("failed to send end notification", zap.Error(err))
	}
	_ = env.client.PatchSession(ctx, sessionID, bridgeclient.SessionPatch{Status: "stopped", ClearPending: true})
	return nil
}

func subagentStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subagent-stop",
		Short: "Report a finished subagent task",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSubagentStop(loadEnv(), os.Stdin)
		},
	}
}

func runSubagentStop(env *hookEnv, in io.Reader) error {
	if env.execMode {
		return nil
	}
	ctx := context.Background()
	if !env.client.Available(ctx) {
		env.log.Warn("bridge not available, skipping subagent notification")
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
	dir := projectDir()
	name := sessionNameFor(dir)

	subagentID := payload.SubagentID
	if subagentID == "" {
		subagentID = "unknown"
	}
	task := payload.Task
	if task == "" {
		task = "Unknown task"
	}
	success := payload.succeeded()

	_ = env.client.RegisterSession(ctx, sessionID, dir, name)

	statusEmoji, statusText, notificationType := "✅", "completed", "success"
	if !success {
		statusEmoji, statusText, notificationType = "❌", "failed", "error"
	}
	message := fmt.Sprintf(
		"%s *[%s]* Subagent %s\n\n🤖 Subagent: `%s`\n📋 Task: %s",
		statusEmoji, name, statusText, subagentID, task,
	)
	if payload.Result != "" {
		message += "\n\n📝 Result:\n" + truncate(payload.Result, 500)
	}

	if _, err := env.client.Notify(ctx, sessionID, bridgeclient.NotifyRequest{
		SessionName: name,
		Message:     message,
		Type:        notificationType,
	}, env.notifyTimeout); err != nil {
		env.log.Warn("failed to send subagent notification", zap.Error(err))
	}
	return nil
}
