package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "test-session-secret")
	t.Setenv("TRANSMITTER_USERNAME", "interpreter")
	t.Setenv("TRANSMITTER_PASSWORD", "hunter2")
}

func TestLoad_AllRequiredVarsSet(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-session-secret", cfg.SessionSecret)
	assert.Equal(t, "interpreter", cfg.TransmitterUsername)
	assert.Equal(t, "hunter2", cfg.TransmitterPassword)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		skipEnv string
		wantErr string
	}{
		{"missing SESSION_SECRET", "SESSION_SECRET", "SESSION_SECRET is required"},
		{"missing TRANSMITTER_USERNAME", "TRANSMITTER_USERNAME", "TRANSMITTER_USERNAME is required"},
		{"missing TRANSMITTER_PASSWORD", "TRANSMITTER_PASSWORD", "TRANSMITTER_PASSWORD is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.skipEnv, "")

			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 12*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, 2*time.Second, cfg.LivenessInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.InitPollInterval)
	assert.Equal(t, 700*time.Millisecond, cfg.InitCaptureWindow)
	assert.Equal(t, 300*time.Millisecond, cfg.InitHeadStartWindow)
	assert.False(t, cfg.InitHeadStart)
	assert.Equal(t, 64, cfg.SendQueueSize)
	assert.Equal(t, int64(0), cfg.MaxMessageBytes)
	assert.InDelta(t, 0.2, cfg.LoginRatePerSecond, 1e-9)
	assert.Equal(t, 5, cfg.LoginBurst)
	assert.Equal(t, int64(10000), cfg.MaxConnections)
	assert.Equal(t, 50, cfg.MaxConnectionsPerIP)
	assert.InDelta(t, 10.0, cfg.ConnectRatePerSecond, 1e-9)
	assert.Equal(t, 20, cfg.ConnectBurst)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.StaticDir)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("INIT_HEAD_START", "true")
	t.Setenv("INIT_CAPTURE_WINDOW", "1s")
	t.Setenv("SEND_QUEUE_SIZE", "256")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.InitHeadStart)
	assert.Equal(t, time.Second, cfg.InitCaptureWindow)
	assert.Equal(t, 256, cfg.SendQueueSize)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"zero liveness interval", "LIVENESS_INTERVAL", "0s", "LIVENESS_INTERVAL must be positive"},
		{"negative capture window", "INIT_CAPTURE_WINDOW", "-1s", "INIT_CAPTURE_WINDOW must be positive"},
		{"empty send queue", "SEND_QUEUE_SIZE", "0", "SEND_QUEUE_SIZE must be at least 1"},
		{"negative message limit", "MAX_MESSAGE_BYTES", "-5", "MAX_MESSAGE_BYTES must not be negative"},
		{"zero login burst", "LOGIN_BURST", "0", "LOGIN_BURST at least 1"},
		{"zero connection cap", "MAX_CONNECTIONS", "0", "MAX_CONNECTIONS and MAX_CONNECTIONS_PER_IP must be at least 1"},
		{"zero connect rate", "CONNECT_RATE_PER_SECOND", "0", "CONNECT_RATE_PER_SECOND must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ProductionRequiresLongSessionSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("SESSION_SECRET", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 16 characters in production")

	t.Setenv("SESSION_SECRET", "a-much-longer-production-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
