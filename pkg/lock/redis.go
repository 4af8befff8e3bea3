package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can block a workflow.
	DefaultTTL = 15 * time.Minute

	keyPrefix = "marketflow:lock:"
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) TryAcquire(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	if !ok {
		return nil, ErrHeld
	}

	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}

		return nil
	}, nil
}
