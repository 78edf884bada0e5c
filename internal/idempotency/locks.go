// Package idempotency provides short-TTL distributed locks that let at most
// one worker perform a given operation, with a completion marker so a retry
// after success returns early instead of re-executing.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Keyspace issues idempotency tokens backed by Redis. A crashed worker's
// lock releases itself when the TTL lapses.
type Keyspace struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// New creates a Keyspace on an existing Redis client
func New(client *redis.Client, logger zerolog.Logger) *Keyspace {
	return &Keyspace{
		client: client,
		prefix: "whalecopy:idem:",
		logger: logger,
	}
}

// Key builds a lock key from its parts, e.g. Key("process_signal", id)
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Token is a held idempotency lock. Release or MarkCompleted must be called
// with the same token value that acquired the lock.
type Token struct {
	key   string
	value string
}

// AcquireResult classifies an acquire attempt
type AcquireResult struct {
	Acquired         bool
	AlreadyCompleted bool
	// Payload is the completion payload recorded by the worker that
	// finished the operation, when AlreadyCompleted
	Payload string
	Token   *Token
}

// releaseScript deletes the lock only when the caller still holds it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the lock for key with the given TTL. When another worker
// already completed the operation, AlreadyCompleted is set and no lock is
// taken.
func (k *Keyspace) Acquire(ctx context.Context, key string, ttl time.Duration) (*AcquireResult, error) {
	doneKey := k.prefix + key + ":done"
	payload, err := k.client.Get(ctx, doneKey).Result()
	if err == nil {
		return &AcquireResult{AlreadyCompleted: true, Payload: payload}, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to check completion marker: %w", err)
	}

	lockKey := k.prefix + key
	value := uuid.NewString()
	ok, err := k.client.SetNX(ctx, lockKey, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire idempotency lock: %w", err)
	}
	if !ok {
		k.logger.Debug().Str("key", key).Msg("Idempotency lock held elsewhere")
		return &AcquireResult{}, nil
	}

	return &AcquireResult{
		Acquired: true,
		Token:    &Token{key: lockKey, value: value},
	}, nil
}

// MarkCompleted records the operation's completion payload and releases the
// lock. The marker outlives the lock so late retries short-circuit.
func (k *Keyspace) MarkCompleted(ctx context.Context, token *Token, payload string, markerTTL time.Duration) error {
	doneKey := token.key + ":done"
	if err := k.client.Set(ctx, doneKey, payload, markerTTL).Err(); err != nil {
		return fmt.Errorf("failed to write completion marker: %w", err)
	}
	return k.Release(ctx, token)
}

// Release drops the lock if still held by this token
func (k *Keyspace) Release(ctx context.Context, token *Token) error {
	if token == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, k.client, []string{token.key}, token.value).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release idempotency lock: %w", err)
	}
	return nil
}
