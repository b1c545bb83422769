package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minProductionSecretLength = 16

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	SessionSecret       string        `env:"SESSION_SECRET"`
	SessionMaxAge       time.Duration `env:"SESSION_MAX_AGE" default:"12h"`
	TransmitterUsername string        `env:"TRANSMITTER_USERNAME"`
	TransmitterPassword string        `env:"TRANSMITTER_PASSWORD"`

	RedisURL  string `env:"REDIS_URL"`
	StaticDir string `env:"STATIC_DIR"`

	LivenessInterval    time.Duration `env:"LIVENESS_INTERVAL" default:"2s"`
	InitPollInterval    time.Duration `env:"INIT_POLL_INTERVAL" default:"50ms"`
	InitCaptureWindow   time.Duration `env:"INIT_CAPTURE_WINDOW" default:"700ms"`
	InitHeadStartWindow time.Duration `env:"INIT_HEAD_START_WINDOW" default:"300ms"`
	InitHeadStart       bool          `env:"INIT_HEAD_START" default:"false"`

	SendQueueSize   int   `env:"SEND_QUEUE_SIZE" default:"64"`
	MaxMessageBytes int64 `env:"MAX_MESSAGE_BYTES" default:"0"`

	LoginRatePerSecond float64 `env:"LOGIN_RATE_PER_SECOND" default:"0.2"`
	LoginBurst         int     `env:"LOGIN_BURST" default:"5"`

	MaxConnections       int64   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP  int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectRatePerSecond float64 `env:"CONNECT_RATE_PER_SECOND" default:"10"`
	ConnectBurst         int     `env:"CONNECT_BURST" default:"20"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"SESSION_SECRET", cfg.SessionSecret},
		{"TRANSMITTER_USERNAME", cfg.TransmitterUsername},
		{"TRANSMITTER_PASSWORD", cfg.TransmitterPassword},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if cfg.IsProduction() && len(cfg.SessionSecret) < minProductionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters in production", minProductionSecretLength)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"SESSION_MAX_AGE", cfg.SessionMaxAge},
		{"LIVENESS_INTERVAL", cfg.LivenessInterval},
		{"INIT_POLL_INTERVAL", cfg.InitPollInterval},
		{"INIT_CAPTURE_WINDOW", cfg.InitCaptureWindow},
		{"INIT_HEAD_START_WINDOW", cfg.InitHeadStartWindow},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.value)
		}
	}

	if cfg.SendQueueSize < 1 {
		return errors.New("SEND_QUEUE_SIZE must be at least 1")
	}
	if cfg.MaxMessageBytes < 0 {
		return errors.New("MAX_MESSAGE_BYTES must not be negative")
	}
	if cfg.LoginRatePerSecond <= 0 || cfg.LoginBurst < 1 {
		return errors.New("LOGIN_RATE_PER_SECOND must be positive and LOGIN_BURST at least 1")
	}
	if cfg.MaxConnections < 1 || cfg.MaxConnectionsPerIP < 1 {
		return errors.New("MAX_CONNECTIONS and MAX_CONNECTIONS_PER_IP must be at least 1")
	}
	if cfg.ConnectRatePerSecond <= 0 || cfg.ConnectBurst < 1 {
		return errors.New("CONNECT_RATE_PER_SECOND must be positive and CONNECT_BURST at least 1")
	}

	return nil
}
