// Package config loads process configuration from the environment.
// Priority: ENV vars > .env file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all shard configuration.
type Config struct {
	// Server basics
	Address string `env:"ADDRESS" envDefault:"0.0.0.0"`
	Port    int    `env:"PORT" envDefault:"5000"`

	// Directory + pub/sub plane
	RedisAddr string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`

	// External collaborators
	TasksPath   string `env:"TASKS_PATH" envDefault:"./tasks.toml"`
	SandboxAddr string `env:"SANDBOX_ADDR" envDefault:"127.0.0.1:50051"`

	// Capacity
	MaxConnections int `env:"MAX_CONNECTIONS" envDefault:"500"`
	SendBuffer     int `env:"SEND_BUFFER" envDefault:"256"`

	// Per-request handler budget
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT" envDefault:"50s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Debug: wipe the well-known development game key at startup
	ShouldResetRedis bool `env:"SHOULD_RESET_REDIS" envDefault:"false"`
}

// Addr is the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Load reads configuration from the optional .env file and the
// environment, then validates it.
func Load(logger *zerolog.Logger) (*Config, error) {
	// A missing .env file is normal in production; only log it.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("SEND_BUFFER must be > 0, got %d", c.SendBuffer)
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("HANDLER_TIMEOUT must be positive, got %s", c.HandlerTimeout)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the loaded configuration with structured fields.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr()).
		Str("redis_addr", c.RedisAddr).
		Str("tasks_path", c.TasksPath).
		Str("sandbox_addr", c.SandboxAddr).
		Int("max_connections", c.MaxConnections).
		Int("send_buffer", c.SendBuffer).
		Dur("handler_timeout", c.HandlerTimeout).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Bool("should_reset_redis", c.ShouldResetRedis).
		Msg("Configuration loaded")
}
