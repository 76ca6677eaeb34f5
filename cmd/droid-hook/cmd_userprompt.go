package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func userPromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user-prompt",
		Short: "Record a prompt typed into the Agent's own terminal",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runUserPrompt(loadEnv(), os.Stdin)
		},
	}
}

// runUserPrompt mirrors terminal prompts into the bridge so the web chat
// shows them and can render a thinking indicator. The prompt must proceed
// whatever happens here, so every path exits cleanly.
func runUserPrompt(env *hookEnv, in io.Reader) error {
	if env.execMode {
		return nil
	}
	ctx := context.Background()
	if !env.client.Available(ctx) {
		env.log.Warn("bridge not available, skipping user prompt capture")
		return nil
	}
	payload, err := readPayload(in)
	if err != nil {
		env.log.Warn("failed to parse hook payload", zap.Error(err))
		return nil
	}
	if payload.Prompt == "" {
		return nil
	}
	sessionID := payload.sessionID()
	if sessionID == "" {
		sessionID = "unknown"
	}
	if err := env.client.CLIThinking(ctx, sessionID, payload.Prompt); err != nil {
		env.log.Warn("failed to record user prompt", zap.Error(err))
	}
	return nil
}
