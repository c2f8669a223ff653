package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all server configuration loaded from environment variables.
type Config struct {
	Port        int    `envconfig:"FARM_PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`
	CacheTTLSec int    `envconfig:"FARM_CACHE_TTL_SECONDS" default:"30"`
	LogLevel    string `envconfig:"FARM_LOG_LEVEL" default:"info"`

	RateLimitRPS   float64 `envconfig:"FARM_RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int     `envconfig:"FARM_RATE_LIMIT_BURST" default:"100"`
}

// LoadConfig reads configuration from .env (if present) then from environment
// variables. godotenv does not override already-set env vars, so real
// environment variables take precedence over .env values.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		} else {
			slog.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", c.Port)
	}
	if c.CacheTTLSec < 1 {
		return fmt.Errorf("cache TTL must be at least 1 second, got %d", c.CacheTTLSec)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit rps must be positive, got %v", c.RateLimitRPS)
	}
	return nil
}

// SlogLevel maps the configured log level string onto a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
