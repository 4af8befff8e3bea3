package lock

import (
	"testing"
	"time"

	"github.com/dukex/marketflow/pkg/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	return testutil.SetupRedis(t)
}

func TestRedis_ExclusiveAcrossLockers(t *testing.T) {
	client := setupRedis(t)
	ctx := t.Context()

	first := NewRedis(client, time.Minute)
	second := NewRedis(client, time.Minute)

	release, err := first.TryAcquire(ctx, "wf-1")
	require.NoError(t, err)

	_, err = second.TryAcquire(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrHeld)

	ttl, err := client.PTTL(ctx, keyPrefix+"wf-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, release(ctx))

	releaseSecond, err := second.TryAcquire(ctx, "wf-1")
	require.NoError(t, err)

	// A stale release must not drop the new holder's lock.
	require.NoError(t, release(ctx))

	_, err = first.TryAcquire(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, releaseSecond(ctx))
}

func TestNewRedis_DefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NewRedis(nil, 0).ttl)
}
