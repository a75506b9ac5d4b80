// Package server provides configuration helpers that define runtime
// defaults, validation, and rate-limiting parameters for the RoomChat
// service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/ratelimit"
)

// RateLimitConfig defines the fixed-window limits enforced per subject.
// Messages and Joins are keyed by user id, GlobalPerIP by client address;
// all three share one window length.
type RateLimitConfig struct {
	Messages    int
	Joins       int
	GlobalPerIP int
	Window      time.Duration
}

// Config holds the server configuration settings including security
// controls and the addresses of the shared Redis and Postgres
// collaborators.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RedisURL        string
	DatabaseURL     string
	RateLimit       RateLimitConfig
	ShutdownTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RedisURL:       "redis://localhost:6379",
		RateLimit: RateLimitConfig{
			Messages:    10,
			Joins:       5,
			GlobalPerIP: 100,
			Window:      time.Minute,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = def.RedisURL
	}
	if cfg.RateLimit.Messages <= 0 {
		cfg.RateLimit.Messages = def.RateLimit.Messages
	}
	if cfg.RateLimit.Joins <= 0 {
		cfg.RateLimit.Joins = def.RateLimit.Joins
	}
	if cfg.RateLimit.GlobalPerIP <= 0 {
		cfg.RateLimit.GlobalPerIP = def.RateLimit.GlobalPerIP
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = def.RateLimit.Window
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	return cfg
}

// Windows converts the configured limits into the limiter's per-action
// windows.
func (c Config) Windows() map[ratelimit.Action]ratelimit.Window {
	return map[ratelimit.Action]ratelimit.Window{
		ratelimit.ActionMessages: {Limit: c.RateLimit.Messages, Period: c.RateLimit.Window},
		ratelimit.ActionJoins:    {Limit: c.RateLimit.Joins, Period: c.RateLimit.Window},
		ratelimit.ActionGlobal:   {Limit: c.RateLimit.GlobalPerIP, Period: c.RateLimit.Window},
	}
}

// NewConfig creates a Config instance populated with default values for all
// settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.RedisURL = redisURL
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	if limit := os.Getenv("RATE_LIMIT_MESSAGES"); limit != "" {
		cfg.RateLimit.Messages = parseIntValue(limit, cfg.RateLimit.Messages)
	}

	if limit := os.Getenv("RATE_LIMIT_JOINS"); limit != "" {
		cfg.RateLimit.Joins = parseIntValue(limit, cfg.RateLimit.Joins)
	}

	if limit := os.Getenv("RATE_LIMIT_GLOBAL"); limit != "" {
		cfg.RateLimit.GlobalPerIP = parseIntValue(limit, cfg.RateLimit.GlobalPerIP)
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		cfg.RateLimit.Window = parseSeconds(window, cfg.RateLimit.Window)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
