package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BRIDGE_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.ReadTimeout)
	assert.Equal(t, 330, cfg.Server.WriteTimeout)
	assert.False(t, cfg.Server.EnableDirectoryBrowser)
	assert.Empty(t, cfg.Server.ProjectDirs)

	assert.Equal(t, "bridge.db", cfg.Database.Path)
	assert.Equal(t, "", cfg.NATS.URL)
	assert.Equal(t, "droid-bridge", cfg.NATS.ClientID)
	assert.Equal(t, 10, cfg.NATS.MaxReconnects)

	assert.Equal(t, "test-secret", cfg.Auth.Secret)
	assert.Equal(t, 24, cfg.Auth.JWTExpiryHours)

	assert.Equal(t, "droid", cfg.Agent.Binary)
	assert.Equal(t, "medium", cfg.Agent.DefaultAutonomyLevel)

	assert.Equal(t, 300, cfg.Timeouts.Default)
	assert.Equal(t, 120, cfg.Timeouts.Permission)
	assert.Equal(t, 10, cfg.Timeouts.Notify)

	assert.Equal(t, "uploads", cfg.Uploads.Dir)
	assert.Equal(t, int64(10*1024*1024), cfg.Uploads.MaxBytes)

	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadGeneratesDevJWTSecret(t *testing.T) {
	t.Setenv("BRIDGE_SECRET", "test-secret")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	// Without an explicit JWT secret the server mints a throwaway one so
	// logins work locally but do not survive restarts.
	assert.Contains(t, cfg.Auth.JWTSecret, "dev-secret-change-in-production-")
}

func TestLoadFlatEnvNames(t *testing.T) {
	t.Setenv("BRIDGE_SECRET", "s3cret")
	t.Setenv("BRIDGE_HOST", "127.0.0.1")
	t.Setenv("BRIDGE_PORT", "9000")
	t.Setenv("WEB_UI_URL", "https://bridge.example.com")
	t.Setenv("ENABLE_DIRECTORY_BROWSER", "true")
	t.Setenv("BRIDGE_DB_PATH", "/var/lib/bridge/state.db")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("AUTH_USERNAME", "admin")
	t.Setenv("AUTH_PASSWORD", "hunter2")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("TELEGRAM_BOT_TOKEN", "12345:token")
	t.Setenv("TELEGRAM_CHAT_ID", "987654")
	t.Setenv("AGENT_BINARY", "droid-nightly")
	t.Setenv("DEFAULT_TIMEOUT", "60")
	t.Setenv("PERMISSION_TIMEOUT", "45")
	t.Setenv("NOTIFY_TIMEOUT", "5")
	t.Setenv("UPLOADS_DIR", "/tmp/bridge-uploads")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://bridge.example.com", cfg.Server.WebUIURL)
	assert.True(t, cfg.Server.EnableDirectoryBrowser)
	assert.Equal(t, "/var/lib/bridge/state.db", cfg.Database.Path)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "admin", cfg.Auth.Username)
	assert.Equal(t, "hunter2", cfg.Auth.Password)
	assert.Equal(t, "jwt-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "12345:token", cfg.Telegram.BotToken)
	assert.Equal(t, int64(987654), cfg.Telegram.ChatID)
	assert.Equal(t, "droid-nightly", cfg.Agent.Binary)
	assert.Equal(t, 60, cfg.Timeouts.Default)
	assert.Equal(t, 45, cfg.Timeouts.Permission)
	assert.Equal(t, 5, cfg.Timeouts.Notify)
	assert.Equal(t, "/tmp/bridge-uploads", cfg.Uploads.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadSplitsProjectDirs(t *testing.T) {
	t.Setenv("BRIDGE_SECRET", "test-secret")

	// Pipe separated, so paths may contain commas.
	t.Setenv("PROJECT_DIRS", "/srv/projects|/home/dev/work")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/projects", "/home/dev/work"}, cfg.Server.ProjectDirs)

	// Comma separated works too.
	t.Setenv("PROJECT_DIRS", "/srv/a, /srv/b")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/a", "/srv/b"}, cfg.Server.ProjectDirs)
}

func TestLoadRequiresSharedSecret(t *testing.T) {
	t.Setenv("BRIDGE_SECRET", "")
	t.Setenv("BRIDGE_ALLOW_INSECURE", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret (BRIDGE_SECRET) is required")
}

func TestLoadAllowInsecureSkipsSecretCheck(t *testing.T) {
	t.Setenv("BRIDGE_SECRET", "")
	t.Setenv("BRIDGE_ALLOW_INSECURE", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Auth.Secret)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("BRIDGE_SECRET", "test-secret")

	t.Setenv("BRIDGE_PORT", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be between 1 and 65535")
	t.Setenv("BRIDGE_PORT", "8765")

	t.Setenv("LOG_LEVEL", "verbose")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level must be one of")
	t.Setenv("LOG_LEVEL", "info")

	t.Setenv("DEFAULT_TIMEOUT", "-1")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeouts must be positive")
}

func TestAllowedUserIDs(t *testing.T) {
	tg := TelegramConfig{AllowedUsers: []string{"123", "garbage", "456"}}
	assert.Equal(t, []int64{123, 456}, tg.AllowedUserIDs())

	// Comma-joined entries from the environment expand too.
	tg = TelegramConfig{AllowedUsers: []string{"123,456"}}
	assert.Equal(t, []int64{123, 456}, tg.AllowedUserIDs())

	// No allowlist falls back to the configured chat.
	tg = TelegramConfig{ChatID: 987}
	assert.Equal(t, []int64{987}, tg.AllowedUserIDs())

	tg = TelegramConfig{}
	assert.Empty(t, tg.AllowedUserIDs())
}

func TestDurationHelpers(t *testing.T) {
	timeouts := TimeoutConfig{Default: 300, Permission: 120, Notify: 10}
	assert.Equal(t, 5*time.Minute, timeouts.DefaultDuration())
	assert.Equal(t, 2*time.Minute, timeouts.PermissionDuration())
	assert.Equal(t, 10*time.Second, timeouts.NotifyDuration())

	server := ServerConfig{ReadTimeout: 30, WriteTimeout: 330}
	assert.Equal(t, 30*time.Second, server.ReadTimeoutDuration())
	assert.Equal(t, 330*time.Second, server.WriteTimeoutDuration())

	auth := AuthConfig{JWTExpiryHours: 24}
	assert.Equal(t, 24*time.Hour, auth.JWTExpiry())
}

func TestDirtyFieldTracking(t *testing.T) {
	var cfg Config
	assert.Empty(t, cfg.DirtyFields())

	cfg.MarkDirty("agent.defaultModel")
	cfg.MarkDirty("agent.defaultModel")
	cfg.MarkDirty("agent.defaultAutonomyLevel")

	assert.ElementsMatch(t,
		[]string{"agent.defaultModel", "agent.defaultAutonomyLevel"},
		cfg.DirtyFields())
}

func TestSplitCommaList(t *testing.T) {
	assert.Nil(t, splitCommaList(nil))
	assert.Equal(t, []string{"a", "b", "c"}, splitCommaList([]string{"a,b", "c"}))
	assert.Equal(t, []string{"/x", "/y"}, splitCommaList([]string{" /x | /y "}))
	assert.Nil(t, splitCommaList([]string{"", " , "}))
}
