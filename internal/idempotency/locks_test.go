package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyspace(t *testing.T) (*Keyspace, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, zerolog.Nop()), mr
}

func TestAcquireRelease(t *testing.T) {
	k, _ := newTestKeyspace(t)
	ctx := context.Background()
	key := Key("process_signal", "sig-1")

	res, err := k.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	require.NotNil(t, res.Token)

	// Second worker cannot take the held lock
	second, err := k.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, second.Acquired)
	assert.False(t, second.AlreadyCompleted)

	require.NoError(t, k.Release(ctx, res.Token))

	third, err := k.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, third.Acquired)
}

func TestAlreadyCompleted(t *testing.T) {
	k, _ := newTestKeyspace(t)
	ctx := context.Background()
	key := Key("trade", "sig-1", "user-1")

	res, err := k.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Acquired)
	require.NoError(t, k.MarkCompleted(ctx, res.Token, "trades=3", time.Hour))

	// Any later acquire short-circuits with the payload
	again, err := k.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, again.Acquired)
	assert.True(t, again.AlreadyCompleted)
	assert.Equal(t, "trades=3", again.Payload)
}

func TestLockExpiresAfterCrash(t *testing.T) {
	k, mr := newTestKeyspace(t)
	ctx := context.Background()
	key := Key("close_position", "pos-1")

	res, err := k.Acquire(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	// Worker dies without releasing; the TTL frees the lock
	mr.FastForward(100 * time.Millisecond)

	after, err := k.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, after.Acquired)
}

func TestReleaseIsOwnershipChecked(t *testing.T) {
	k, mr := newTestKeyspace(t)
	ctx := context.Background()
	key := Key("process_signal", "sig-2")

	res, err := k.Acquire(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	// Lock expires and another worker re-acquires under a new token
	mr.FastForward(100 * time.Millisecond)
	other, err := k.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, other.Acquired)

	// The stale token must not release the new holder's lock
	require.NoError(t, k.Release(ctx, res.Token))
	held, err := k.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, held.Acquired)
}
