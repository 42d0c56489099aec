// Package config loads process configuration the way
// ws/config.go and go-server-3's viper setup do: typed struct, env-var
// tags with defaults, a validation pass, and structured-log-friendly
// dumping — but with the keys this hub actually recognizes (spec.md §6).
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// TurnMode selects how ICE servers are sourced for a /api/ice response.
type TurnMode string

const (
	TurnModePublic TurnMode = "public"
	TurnModeCustom TurnMode = "custom"
	TurnModeOff    TurnMode = "off"
)

// Config holds every recognized environment key from spec.md §6 plus
// this server's own operational knobs.
type Config struct {
	// Core service config (spec.md §6)
	DatabaseURL string `env:"DATABASE_URL"`
	NodeEnv     string `env:"NODE_ENV" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"8080"`
	PublicURL   string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	TrustProxy  bool   `env:"TRUST_PROXY" envDefault:"false"`

	TurnMode       TurnMode `env:"TURN_MODE" envDefault:"public"`
	TurnURLs       string   `env:"TURN_URLS"`
	TurnUsername   string   `env:"TURN_USERNAME"`
	TurnCredential string   `env:"TURN_CREDENTIAL"`
	TurnSecret     string   `env:"TURN_SECRET"`
	StunURLs       string   `env:"STUN_URLS" envDefault:"stun:stun.l.google.com:19302"`

	VapidPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VapidPrivateKey string `env:"VAPID_PRIVATE_KEY"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	// Operational knobs, grounded in ws/config.go's style
	Addr           string `env:"ADDR" envDefault:":8080"`
	MaxConnections int    `env:"MAX_CONNECTIONS" envDefault:"20000"`

	// Upload endpoint (spec.md §6 POST /api/upload)
	UploadDir      string `env:"UPLOAD_DIR" envDefault:"./uploads"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	// Resource admission guard (supplemented, grounded in ws/config.go)
	CPULimit           float64 `env:"CPU_LIMIT" envDefault:"2.0"`
	MemoryLimitBytes   int64   `env:"MEMORY_LIMIT_BYTES" envDefault:"2147483648"`
	CPURejectThreshold float64 `env:"CPU_REJECT_THRESHOLD" envDefault:"75"`
	CPUPauseThreshold  float64 `env:"CPU_PAUSE_THRESHOLD" envDefault:"80"`
	MaxGoroutines      int     `env:"MAX_GOROUTINES" envDefault:"50000"`

	// Cross-instance fan-out / audit stream (supplemented, optional)
	NATSURL      string `env:"NATS_URL"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`

	// Admin API auth (supplemented)
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET" envDefault:"dev-secret-change-me"`

	// Monitoring
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: real env vars > .env file > struct defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is fine outside local dev.
		_ = err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

// Validate checks the loaded configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}

	switch c.TurnMode {
	case TurnModePublic, TurnModeCustom, TurnModeOff:
	default:
		return fmt.Errorf("TURN_MODE must be one of public, custom, off (got %q)", c.TurnMode)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}

	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}

	return nil
}

// LogConfig emits the resolved configuration as a single structured log
// line (secrets omitted), mirroring ws/config.go's LogConfig.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("node_env", c.NodeEnv).
		Str("addr", c.Addr).
		Int("max_connections", c.MaxConnections).
		Str("turn_mode", string(c.TurnMode)).
		Bool("nats_enabled", c.NATSURL != "").
		Bool("kafka_enabled", c.KafkaBrokers != "").
		Str("metrics_addr", c.MetricsAddr).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
