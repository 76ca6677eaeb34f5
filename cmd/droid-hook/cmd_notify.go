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

func notifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Forward an Agent notification to the bridge surfaces",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runNotify(loadEnv(), os.Stdin)
		},
	}
}

func runNotify(env *hookEnv, in io.Reader) error {
	if env.execMode {
		return nil
	}
	ctx := context.Background()
	if !env.client.Available(ctx) {
		env.log.Warn("bridge not available, skipping notification")
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

	message := payload.Message
	if message == "" {
		message = "Notification from Droid"
	}
	notificationType := payload.Type
	if notificationType == "" {
		notificationType = "info"
	}

	_ = env.client.RegisterSession(ctx, sessionID, dir, name)
	if _, err := env.client.Notify(ctx, sessionID, bridgeclient.NotifyRequest{
		SessionName: name,
		Message:     formatNotification(name, message, notificationType),
		Type:        notificationType,
	}, env.notifyTimeout); err != nil {
		env.log.Warn("failed to send notification", zap.Error(err))
	}
	return nil
}
