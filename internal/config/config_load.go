package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18650,
		},
		Pipeline: PipelineConfig{
			DebounceSeconds: 30,
			RequireApproval: true,
		},
		Channel: ChannelConfig{
			Type: "telegram",
			Telegram: TelegramConfig{
				SendRatePerSecond: 25,
			},
		},
		Generator: GeneratorConfig{
			TimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "chatdesk.db",
		},
	}
}

// Load reads config from a json5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CHATDESK_AUTH_TOKEN", &c.Server.AuthToken)
	envStr("CHATDESK_TELEGRAM_TOKEN", &c.Channel.Telegram.Token)
	envStr("CHATDESK_DISCORD_TOKEN", &c.Channel.Discord.Token)
	envStr("CHATDESK_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CHATDESK_GENERATOR_URL", &c.Generator.BaseURL)
	envStr("CHATDESK_CHANNEL", &c.Channel.Type)
	envStr("CHATDESK_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("CHATDESK_DB_DRIVER", &c.Database.Driver)
}

// Validate checks the parts of the config that must be coherent at startup.
func (c *Config) Validate() error {
	switch c.Channel.Type {
	case "telegram":
		if c.Channel.Telegram.Token == "" {
			return fmt.Errorf("CHATDESK_TELEGRAM_TOKEN is not set")
		}
	case "discord":
		if c.Channel.Discord.Token == "" {
			return fmt.Errorf("CHATDESK_DISCORD_TOKEN is not set")
		}
	case "none":
		// API-only mode: no gateway client, approvals fail at send time.
	default:
		return fmt.Errorf("unknown channel type %q", c.Channel.Type)
	}

	switch c.Database.Driver {
	case "sqlite", "":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("CHATDESK_POSTGRES_DSN is not set")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}
