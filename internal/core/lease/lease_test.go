package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisLocker(client)
	require.NoError(t, err)
	return l, mr
}

func TestSourceKey(t *testing.T) {
	assert.Equal(t, "kbsync:lease:org-1:policy:p-1", SourceKey("org-1", "policy", "p-1"))
	assert.NotEqual(t, SourceKey("org-1", "policy", "p-1"), SourceKey("org-2", "policy", "p-1"))
}

func TestRedisLockerExclusive(t *testing.T) {
	l, mr := newTestRedisLocker(t)
	ctx := context.Background()
	key := SourceKey("org-1", "policy", "p-1")

	release, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	_, err = l.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(key))

	release, err = l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLockerExpiredHolderCannotReleaseNewLease(t *testing.T) {
	l, mr := newTestRedisLocker(t)
	ctx := context.Background()
	key := SourceKey("org-1", "context", "c-1")

	stale, err := l.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists(key), "stale release must not drop the newer lease")

	require.NoError(t, fresh(ctx))
	assert.False(t, mr.Exists(key))
}

func TestNewRedisLockerRequiresClient(t *testing.T) {
	_, err := NewRedisLocker(nil)
	assert.Error(t, err)
}

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	other, err := l.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.NoError(t, err)
}

func TestLocalLockerExpiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, fresh(ctx))
}

func TestLocalLockerConcurrentAcquire(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(ctx, "k", time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
