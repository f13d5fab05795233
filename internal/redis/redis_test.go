package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-gateway/internal/slots"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewRedisClientFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisClient(ctx, Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestSessionLockSerializesSubmissions(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewRedisSessionLocker(client, 5*time.Second)
	ctx := context.Background()

	err := locker.WithSessionLock(ctx, "sid-1", func(ctx context.Context) error {
		assert.True(t, mr.Exists(lockKey("sid-1")))

		inner := locker.WithSessionLock(ctx, "sid-1", func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		other := locker.WithSessionLock(ctx, "sid-2", func(context.Context) error { return nil })
		assert.NoError(t, other)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(lockKey("sid-1")), "lock released after fn")
}

func TestSessionLockReleasedOnError(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewRedisSessionLocker(client, 5*time.Second)
	boom := errors.New("upstream down")

	err := locker.WithSessionLock(context.Background(), "sid-1", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(lockKey("sid-1")))
}

func TestSessionLockDoesNotReleaseForeignToken(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewRedisSessionLocker(client, 5*time.Second)

	err := locker.WithSessionLock(context.Background(), "sid-1", func(context.Context) error {
		// lock expired and somebody else took it
		require.NoError(t, mr.Set(lockKey("sid-1"), "someone-else"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get(lockKey("sid-1"))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestMemoryLocker(t *testing.T) {
	locker := NewMemoryLocker()

	err := locker.WithSessionLock(context.Background(), "sid", func(ctx context.Context) error {
		return locker.WithSessionLock(ctx, "sid", func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.NoError(t, locker.WithSessionLock(context.Background(), "sid", func(context.Context) error { return nil }))
}

func TestSelectionTracker(t *testing.T) {
	client, mr := newTestClient(t)
	tracker := NewSelectionTracker(client, time.Hour)
	ctx := context.Background()

	_, ok, err := tracker.Current(ctx, "sid")
	require.NoError(t, err)
	assert.False(t, ok)

	sel := slots.Selection{DoctorID: "doc-1", Date: "2025-06-10"}
	require.NoError(t, tracker.Select(ctx, "sid", sel))

	got, ok, err := tracker.Current(ctx, "sid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sel, got)
	assert.Equal(t, time.Hour, mr.TTL(pickerKey("sid")))
}
