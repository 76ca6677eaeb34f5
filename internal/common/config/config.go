// Package config provides configuration management for the bridge server.
// It supports loading configuration from environment variables, a config file,
// an optional .env file, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration sections for the bridge server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Uploads  UploadConfig   `mapstructure:"uploads"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// dirty marks fields that were changed at runtime through the settings
	// API. Such changes only take effect after a restart; the UI uses this
	// to show a "restart required" hint.
	dirty map[string]bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
	WebUIURL     string `mapstructure:"webUiUrl"`

	// EnableDirectoryBrowser exposes the filesystem browse endpoint.
	EnableDirectoryBrowser bool `mapstructure:"enableDirectoryBrowser"`

	// ProjectDirs restricts directory browsing and task execution roots.
	// Empty means any absolute path is accepted for task execution and
	// browsing is limited to the user home directory.
	ProjectDirs []string `mapstructure:"projectDirs"`
}

// DatabaseConfig holds the embedded database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Secret is the shared secret accepted from hooks via the
	// X-API-Key / X-Bridge-Secret headers.
	Secret string `mapstructure:"secret"`

	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	JWTSecret      string `mapstructure:"jwtSecret"`
	JWTExpiryHours int    `mapstructure:"jwtExpiryHours"`
}

// TelegramConfig holds Telegram bot configuration. An empty token disables
// the bot surface; the web UI and hook surfaces still work.
type TelegramConfig struct {
	BotToken string `mapstructure:"botToken"`

	// ChatID is the chat that receives unsolicited notifications. Zero means
	// the bot learns it from the first authorized message.
	ChatID int64 `mapstructure:"chatId"`

	// AllowedUsers is the static allowlist of Telegram user IDs,
	// comma-separated when set through the environment. Empty falls back to
	// ChatID when that is set.
	AllowedUsers []string `mapstructure:"allowedUsers"`
}

// AllowedUserIDs parses the allowlist entries into numeric Telegram user IDs.
// Malformed entries are skipped. With no explicit allowlist the configured
// chat ID, if any, is the sole allowed principal.
func (t *TelegramConfig) AllowedUserIDs() []int64 {
	var ids []int64
	for _, entry := range splitCommaList(t.AllowedUsers) {
		var id int64
		if _, err := fmt.Sscanf(entry, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 && t.ChatID != 0 {
		ids = append(ids, t.ChatID)
	}
	return ids
}

// AgentConfig holds configuration for driving the coding agent CLI.
type AgentConfig struct {
	// Binary is the agent executable spawned for remote tasks.
	Binary string `mapstructure:"binary"`

	DefaultModel           string `mapstructure:"defaultModel"`
	DefaultReasoningEffort string `mapstructure:"defaultReasoningEffort"`
	DefaultAutonomyLevel   string `mapstructure:"defaultAutonomyLevel"`
}

// TimeoutConfig holds the rendezvous wait timeouts, in seconds.
type TimeoutConfig struct {
	// Default is how long a stop hook waits for a remote reply.
	Default int `mapstructure:"default"`

	// Permission is how long a permission request waits before it is denied.
	Permission int `mapstructure:"permission"`

	// Notify bounds outbound notification delivery.
	Notify int `mapstructure:"notify"`
}

// UploadConfig holds image upload storage configuration.
type UploadConfig struct {
	Dir string `mapstructure:"dir"`

	// MaxBytes bounds a single uploaded image.
	MaxBytes int64 `mapstructure:"maxBytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DefaultDuration returns the stop-hook wait timeout as a time.Duration.
func (t *TimeoutConfig) DefaultDuration() time.Duration {
	return time.Duration(t.Default) * time.Second
}

// PermissionDuration returns the permission wait timeout as a time.Duration.
func (t *TimeoutConfig) PermissionDuration() time.Duration {
	return time.Duration(t.Permission) * time.Second
}

// NotifyDuration returns the notification delivery timeout as a time.Duration.
func (t *TimeoutConfig) NotifyDuration() time.Duration {
	return time.Duration(t.Notify) * time.Second
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// JWTExpiry returns the token lifetime as a time.Duration.
func (a *AuthConfig) JWTExpiry() time.Duration {
	return time.Duration(a.JWTExpiryHours) * time.Hour
}

// MarkDirty records that a field was changed at runtime and needs a restart
// to take effect.
func (c *Config) MarkDirty(field string) {
	if c.dirty == nil {
		c.dirty = make(map[string]bool)
	}
	c.dirty[field] = true
}

// DirtyFields returns the fields changed at runtime since startup.
func (c *Config) DirtyFields() []string {
	fields := make([]string, 0, len(c.dirty))
	for f := range c.dirty {
		fields = append(fields, f)
	}
	return fields
}

// detectDefaultLogFormat returns the appropriate log format based on
// environment: "json" for production deployments, "text" for terminals.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("BRIDGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.readTimeout", 30)
	// Long write timeout: hook requests block on human responses.
	v.SetDefault("server.writeTimeout", 330)
	v.SetDefault("server.webUiUrl", "")
	v.SetDefault("server.enableDirectoryBrowser", false)
	v.SetDefault("server.projectDirs", []string{})

	// Database defaults
	v.SetDefault("database.path", "bridge.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "droid-bridge")
	v.SetDefault("nats.maxReconnects", 10)

	// Auth defaults
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.jwtExpiryHours", 24)

	// Telegram defaults - empty token disables the bot
	v.SetDefault("telegram.botToken", "")
	v.SetDefault("telegram.chatId", 0)
	v.SetDefault("telegram.allowedUsers", []string{})

	// Agent defaults
	v.SetDefault("agent.binary", "droid")
	v.SetDefault("agent.defaultModel", "")
	v.SetDefault("agent.defaultReasoningEffort", "")
	v.SetDefault("agent.defaultAutonomyLevel", "medium")

	// Timeout defaults, in seconds
	v.SetDefault("timeouts.default", 300)
	v.SetDefault("timeouts.permission", 120)
	v.SetDefault("timeouts.notify", 10)

	// Upload defaults
	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.maxBytes", 10*1024*1024)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, a config file, and
// defaults. Environment variables use the prefix BRIDGE_ with snake_case
// naming; the flat legacy names from earlier deployments (BRIDGE_SECRET,
// TELEGRAM_BOT_TOKEN, DEFAULT_TIMEOUT, ...) are bound explicitly.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	// Best-effort .env load so flat env names work in development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the flat env var names the hook scripts and
	// deployment guides use. AutomaticEnv only covers BRIDGE_SECTION_KEY.
	_ = v.BindEnv("server.host", "BRIDGE_HOST")
	_ = v.BindEnv("server.port", "BRIDGE_PORT")
	_ = v.BindEnv("server.webUiUrl", "WEB_UI_URL")
	_ = v.BindEnv("server.enableDirectoryBrowser", "ENABLE_DIRECTORY_BROWSER")
	_ = v.BindEnv("server.projectDirs", "PROJECT_DIRS")
	_ = v.BindEnv("database.path", "BRIDGE_DB_PATH")
	_ = v.BindEnv("nats.url", "NATS_URL")
	_ = v.BindEnv("auth.secret", "BRIDGE_SECRET")
	_ = v.BindEnv("auth.username", "AUTH_USERNAME")
	_ = v.BindEnv("auth.password", "AUTH_PASSWORD")
	_ = v.BindEnv("auth.jwtSecret", "JWT_SECRET")
	_ = v.BindEnv("auth.jwtExpiryHours", "JWT_EXPIRY_HOURS")
	_ = v.BindEnv("telegram.botToken", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chatId", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("telegram.allowedUsers", "TELEGRAM_ALLOWED_USERS")
	_ = v.BindEnv("agent.binary", "AGENT_BINARY")
	_ = v.BindEnv("timeouts.default", "DEFAULT_TIMEOUT")
	_ = v.BindEnv("timeouts.permission", "PERMISSION_TIMEOUT")
	_ = v.BindEnv("timeouts.notify", "NOTIFY_TIMEOUT")
	_ = v.BindEnv("uploads.dir", "UPLOADS_DIR")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.outputPath", "LOG_FILE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/droid-remote/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// PROJECT_DIRS and TELEGRAM_ALLOWED_USERS arrive comma-separated when
	// set through the environment.
	cfg.Server.ProjectDirs = splitCommaList(cfg.Server.ProjectDirs)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// splitCommaList expands comma- or pipe-joined entries produced by env
// parsing. PROJECT_DIRS historically uses "|" so paths may contain commas.
func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '|' }) {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// The shared secret protects the hook surface; refuse to start without
	// one unless running fully open is requested explicitly.
	if cfg.Auth.Secret == "" && os.Getenv("BRIDGE_ALLOW_INSECURE") != "1" {
		errs = append(errs, "auth.secret (BRIDGE_SECRET) is required")
	}

	// JWT secret defaults to a random value in dev mode; logins then stop
	// surviving restarts, which is acceptable for local use.
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.JWTExpiryHours <= 0 {
		errs = append(errs, "auth.jwtExpiryHours must be positive")
	}

	if cfg.Timeouts.Default <= 0 || cfg.Timeouts.Permission <= 0 || cfg.Timeouts.Notify <= 0 {
		errs = append(errs, "timeouts must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// generateDevSecret generates a random secret for development mode.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
