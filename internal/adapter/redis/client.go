package redis

import (
	"context"
	"fmt"

	"github.com/pscheid92/audiorelay/internal/adapter/metrics"
	"github.com/pscheid92/audiorelay/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient creates a go-redis client from a URL (e.g., "redis://localhost:6379"),
// installs the circuit breaker hook, and verifies connectivity. redisMetrics may be nil.
func NewClient(ctx context.Context, redisURL string, redisMetrics *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	if opts.ClientName == "" {
		opts.ClientName = version.ClientName()
	}

	client := goredis.NewClient(opts)
	client.AddHook(NewCircuitBreakerHook(redisMetrics))

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
