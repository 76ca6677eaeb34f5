package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/pkg/bridgeclient"
)

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Hold the Agent at the end of a turn until the user follows up or ends the session",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStop(loadEnv(), os.Stdin, os.Stdout)
		},
	}
}

// doneWords end the session instead of continuing it.
var doneWords = map[string]bool{
	"/done": true,
	"done":  true,
	"exit":  true,
	"quit":  true,
	"stop":  true,
}

// runStop implements the Stop exchange. Exiting silently lets the Agent
// stop; printing a block verdict feeds it the user's next instruction. Any
// timeout or failure allows the stop so the Agent is never held hostage.
func runStop(env *hookEnv, in io.Reader, out io.Writer) error {
	if env.execMode {
		return nil
	}
	payload, err := readPayload(in)
	if err != nil {
		env.log.Warn("failed to parse hook payload, allowing stop", zap.Error(err))
		return nil
	}
	// The Agent re-fires the Stop hook after a block verdict; a second hold
	// here would loop forever.
	if payload.StopHookActive {
		return nil
	}

	sessionID := payload.sessionID()
	if sessionID == "" {
		sessionID = "unknown"
	}
	ctx := context.Background()
	dir := projectDir()
	name := sessionNameFor(dir)

	_ = env.client.RegisterSession(ctx, sessionID, dir, name)
	_ = env.client.UpdateStatus(ctx, sessionID, "waiting")

	requestID, err := env.client.Notify(ctx, sessionID, bridgeclient.NotifyRequest{
		SessionName: name,
		Message:     formatStopMessage(name, payload.Summary),
		Type:        "stop",
		Buttons: []bridgeclient.Button{
			{Text: "✅ Done", Callback: "done"},
			{Text: "📋 Status", Callback: "status"},
		},
	}, env.notifyTimeout)
	if err != nil {
		env.log.Warn("failed to send stop notification, allowing stop", zap.Error(err))
		_ = env.client.UpdateStatus(ctx, sessionID, "stopped")
		return nil
	}

	response, ok, err := env.client.WaitForResponse(ctx, sessionID, requestID, env.defaultTimeout)
	if err != nil || !ok {
		_ = env.client.PatchSession(ctx, sessionID, bridgeclient.SessionPatch{Status: "stopped", ClearPending: true})
		return nil
	}

	if doneWords[strings.ToLower(strings.TrimSpace(response))] {
		_ = env.client.UpdateStatus(ctx, sessionID, "stopped")
		return nil
	}

	// A fresh instruction arrived; hand it back and keep the session alive.
	_ = env.client.UpdateStatus(ctx, sessionID, "running")
	return printBlock(out, "User instruction: "+response)
}
