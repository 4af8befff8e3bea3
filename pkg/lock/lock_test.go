package lock

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Exclusive(t *testing.T) {
	locker := NewLocal()

	release, err := locker.TryAcquire(t.Context(), "wf-1")
	require.NoError(t, err)

	_, err = locker.TryAcquire(t.Context(), "wf-1")
	assert.ErrorIs(t, err, ErrHeld)

	other, err := locker.TryAcquire(t.Context(), "wf-2")
	require.NoError(t, err)
	require.NoError(t, other(t.Context()))

	require.NoError(t, release(t.Context()))

	again, err := locker.TryAcquire(t.Context(), "wf-1")
	require.NoError(t, err)
	require.NoError(t, again(t.Context()))
}

func TestLocal_DoubleReleaseDoesNotFreeNewHolder(t *testing.T) {
	locker := NewLocal()

	release, err := locker.TryAcquire(t.Context(), "wf-1")
	require.NoError(t, err)
	require.NoError(t, release(t.Context()))

	_, err = locker.TryAcquire(t.Context(), "wf-1")
	require.NoError(t, err)

	require.NoError(t, release(t.Context()))

	_, err = locker.TryAcquire(t.Context(), "wf-1")
	assert.ErrorIs(t, err, ErrHeld)
}

func TestLocal_ConcurrentAcquireSingleWinner(t *testing.T) {
	locker := NewLocal()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := locker.TryAcquire(t.Context(), "wf-1"); err == nil {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
