// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// Config holds the server configuration settings including security controls
// and the history/retention policy.
type Config struct {
	Port           string   `env:"SERVER_PORT"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE"`
	RateLimit      RateLimitConfig

	// HistoryLimit bounds the snapshot sent to a newly confirmed connection
	// and the /api/messages window.
	HistoryLimit int `env:"HISTORY_LIMIT"`

	// Retention is the age beyond which persisted messages are pruned;
	// PruneInterval is how often the sweep runs.
	Retention     time.Duration `env:"MESSAGE_RETENTION"`
	PruneInterval time.Duration `env:"PRUNE_INTERVAL"`

	// JoinNoticeDelay separates the identity confirmation from the join
	// notice so the client has processed its identity before it has to
	// classify incoming messages as its own or someone else's.
	JoinNoticeDelay time.Duration `env:"JOIN_NOTICE_DELAY"`

	// IdentityAttempts bounds the regeneration loop when a minted identity
	// collides with a live one.
	IdentityAttempts int `env:"IDENTITY_ATTEMPTS"`

	BadgerPath string `env:"BADGER_FILEPATH"`
	LogLevel   string `env:"LOG_LEVEL"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		HistoryLimit:     100,
		Retention:        7 * 24 * time.Hour,
		PruneInterval:    24 * time.Hour,
		JoinNoticeDelay:  200 * time.Millisecond,
		IdentityAttempts: 30,
		BadgerPath:       "data/veilchat",
		LogLevel:         "info",
	}
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	cfg := NewConfig()
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}
	cfg.sanitize()
	return cfg, nil
}

// sanitize clamps out-of-range values back to their defaults so a bad
// environment cannot disable rate limiting or retention entirely.
func (c *Config) sanitize() {
	defaults := NewConfig()

	if c.Port == "" {
		c.Port = defaults.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaults.HistoryLimit
	}
	if c.Retention <= 0 {
		c.Retention = defaults.Retention
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = defaults.PruneInterval
	}
	if c.JoinNoticeDelay < 0 {
		c.JoinNoticeDelay = defaults.JoinNoticeDelay
	}
	if c.IdentityAttempts <= 0 {
		c.IdentityAttempts = defaults.IdentityAttempts
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
}
