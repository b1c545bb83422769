package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/audiorelay/internal/adapter/httpserver"
	"github.com/pscheid92/audiorelay/internal/adapter/metrics"
	"github.com/pscheid92/audiorelay/internal/adapter/redis"
	"github.com/pscheid92/audiorelay/internal/adapter/websocket"
	"github.com/pscheid92/audiorelay/internal/domain"
	"github.com/pscheid92/audiorelay/internal/platform/config"
	"github.com/pscheid92/audiorelay/internal/platform/logging"
	"github.com/pscheid92/audiorelay/internal/platform/retry"
	"github.com/pscheid92/audiorelay/internal/platform/version"
	"github.com/pscheid92/audiorelay/internal/relay"
	goredis "github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout     = 10 * time.Second
	redisConnectTimeout = 30 * time.Second
)

func runGracefulShutdown(srv *httpserver.Server, registry *relay.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Closes every transmitter and client; their sessions unwind on their own.
		registry.Stop()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	redisMetrics := metrics.NewRedisMetrics(reg)
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Clock:          clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	client, err := retry.Do(ctx, policy, nil, func(ctx context.Context) (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL, redisMetrics)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "build", version.Get().String())

	reg := metrics.NewRegistry()

	registry := relay.NewRegistry(clock, metrics.NewRelayMetrics(reg))

	healthChecks := []httpserver.HealthCheck{
		{Name: "registry", Check: func(context.Context) error { return registry.Ping() }},
	}

	// Keep the directory a nil interface when Redis is off.
	var directory domain.ChannelDirectory
	var directoryLister httpserver.DirectoryLister
	if cfg.RedisURL != "" {
		redisClient := setupRedis(cfg, clock, reg)
		defer func() { _ = redisClient.Close() }()

		redisDirectory := redis.NewDirectory(redisClient, clock, 0)
		directory = redisDirectory
		directoryLister = redisDirectory
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "redis", Check: redisDirectory.Ping})
	}

	relayCfg := relay.Config{
		LivenessInterval: cfg.LivenessInterval,
		PollInterval:     cfg.InitPollInterval,
		CaptureWindow:    cfg.InitCaptureWindow,
		HeadStartWindow:  cfg.InitHeadStartWindow,
		HeadStart:        cfg.InitHeadStart,
		Detector:         relay.WebMTracksDetector(),
		Instance:         version.NewInstanceID(),
	}
	service := relay.NewService(registry, directory, clock, relayCfg)

	wsMetrics := metrics.NewWebSocketMetrics(reg)
	wsHandler := websocket.NewHandler(service, clock, wsMetrics, websocket.Options{
		QueueSize:       cfg.SendQueueSize,
		MaxMessageBytes: cfg.MaxMessageBytes,
		CheckOrigin:     websocket.NewCheckOrigin(cfg.AppURL, !cfg.IsProduction()),
	})

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Channels:         registry,
		Directory:        directoryLister,
		Sessions:         wsHandler,
		HealthChecks:     healthChecks,
		HTTPMetrics:      metrics.NewHTTPMetrics(reg),
		WebSocketMetrics: wsMetrics,
		MetricsHandler:   metrics.Handler(reg),
		Clock:            clock,
	})

	done := runGracefulShutdown(srv, registry)

	slog.Info("Server starting", "port", cfg.Port, "instance", relayCfg.Instance)
	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
