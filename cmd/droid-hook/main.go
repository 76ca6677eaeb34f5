// Command droid-hook adapts the Agent's lifecycle hooks to the bridge. Each
// subcommand reads the hook payload the Agent writes to stdin, talks to the
// bridge over HTTP, and prints on stdout the verdict the Agent expects.
//
// The Agent invokes hooks synchronously, so every subcommand is fail-soft: a
// missing or broken bridge never strands the user. When AGENT_EXEC_MODE=1
// the Agent was spawned by the bridge's own task executor and every
// subcommand exits immediately to avoid re-entering the rendezvous path.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/pkg/bridgeclient"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "droid-hook",
		Short:         "Bridge adapter for the Agent's lifecycle hooks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		preToolCmd(),
		postToolCmd(),
		stopCmd(),
		notifyCmd(),
		userPromptCmd(),
		sessionStartCmd(),
		sessionEndCmd(),
		subagentStopCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// hookEnv carries the per-invocation configuration every subcommand needs.
type hookEnv struct {
	client            *bridgeclient.Client
	log               *logger.Logger
	defaultTimeout    time.Duration
	permissionTimeout time.Duration
	notifyTimeout     time.Duration
	execMode          bool
}

// loadEnv assembles the hook environment from process env vars. Logs go to
// stderr: stdout belongs to the verdict JSON the Agent parses.
func loadEnv() *hookEnv {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      envOr("LOG_LEVEL", "warn"),
		Format:     "json",
		OutputPath: "stderr",
	})
	if err != nil {
		log = logger.Default()
	}
	return &hookEnv{
		client:            bridgeclient.New(os.Getenv("BRIDGE_URL"), os.Getenv("BRIDGE_SECRET"), log),
		log:               log,
		defaultTimeout:    envSeconds("DEFAULT_TIMEOUT", 300),
		permissionTimeout: envSeconds("PERMISSION_TIMEOUT", 120),
		notifyTimeout:     envSeconds("NOTIFY_TIMEOUT", 10),
		execMode:          os.Getenv("AGENT_EXEC_MODE") == "1",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(fallback) * time.Second
}

// projectDir is where the Agent runs, preferring the directory the Agent
// reports over the hook process's own cwd.
func projectDir() string {
	if dir := os.Getenv("FACTORY_PROJECT_DIR"); dir != "" {
		return dir
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
