// Package config holds the chatdesk configuration: a json5 file overlaid
// with environment variables. Secrets (bot tokens, DSN, auth token) are
// env-only and never written to the config file.
package config

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Channel   ChannelConfig   `json:"channel"`
	Generator GeneratorConfig `json:"generator"`
	Database  DatabaseConfig  `json:"database"`
	Tracing   TracingConfig   `json:"tracing"`
}

// ServerConfig configures the agent-facing HTTP API.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AuthToken      string   `json:"-"` // env only: CHATDESK_AUTH_TOKEN
	AllowedOrigins []string `json:"allowed_origins"`
}

// PipelineConfig tunes the message pipeline.
type PipelineConfig struct {
	// DebounceSeconds is the quiet window before buffered fragments flush.
	DebounceSeconds int `json:"debounce_seconds"`
	// RequireApproval parks generated replies as pending_approval instead
	// of sending them directly.
	RequireApproval bool `json:"require_approval"`
	// FallbackReply is sent when the content generator is unreachable.
	// Empty means stay silent on generator failure.
	FallbackReply string `json:"fallback_reply"`
}

// ChannelConfig selects and configures the delivery gateway.
type ChannelConfig struct {
	// Type is "telegram" or "discord".
	Type     string         `json:"type"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures the Telegram gateway client.
type TelegramConfig struct {
	Token string `json:"-"` // env only: CHATDESK_TELEGRAM_TOKEN
	// SendRatePerSecond caps outbound sends (Telegram global limit is ~30/s).
	SendRatePerSecond float64 `json:"send_rate_per_second"`
}

// DiscordConfig configures the Discord gateway client.
type DiscordConfig struct {
	Token string `json:"-"` // env only: CHATDESK_DISCORD_TOKEN
}

// GeneratorConfig points at the content-generation collaborator.
type GeneratorConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver      string `json:"driver"` // "sqlite" (default) or "postgres"
	SQLitePath  string `json:"sqlite_path"`
	PostgresDSN string `json:"-"` // env only: CHATDESK_POSTGRES_DSN
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"` // host:port of the OTLP http collector
}
