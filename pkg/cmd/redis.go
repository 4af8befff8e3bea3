package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/marketflow/pkg/lock"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL. An empty URL returns a nil client.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewLocker shares run locks through Redis when a client is configured and
// falls back to an in-process lock otherwise.
func NewLocker(client *redis.Client, ttl time.Duration) lock.Locker {
	if client == nil {
		return lock.NewLocal()
	}

	return lock.NewRedis(client, ttl)
}
