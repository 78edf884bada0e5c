package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// Snapshot is the cached position set from a whale's last poll. Absence is
// indistinguishable from "first observation"; the diff treats both as
// store-without-emitting.
type Snapshot struct {
	WhaleID    uuid.UUID              `json:"whale_id"`
	CapturedAt time.Time              `json:"captured_at"`
	Positions  []venue.PositionSample `json:"positions"`
}

// SnapshotCache stores per-whale position snapshots in Redis with a TTL of
// a few polling intervals, so a whale that leaves the rotation ages out on
// its own.
type SnapshotCache struct {
	client *redis.Client
	prefix string
}

// NewSnapshotCache creates a snapshot cache on an existing Redis client
func NewSnapshotCache(client *redis.Client) *SnapshotCache {
	return &SnapshotCache{client: client, prefix: "whalecopy:snapshot:"}
}

func (c *SnapshotCache) key(whaleID uuid.UUID) string {
	return c.prefix + whaleID.String()
}

// Get returns the cached snapshot and whether one exists
func (c *SnapshotCache) Get(ctx context.Context, whaleID uuid.UUID) (*Snapshot, bool, error) {
	data, err := c.client.Get(ctx, c.key(whaleID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		// A corrupt entry degrades to first observation
		log.Warn().Err(err).Str("whale_id", whaleID.String()).Msg("Discarding undecodable snapshot")
		return nil, false, nil
	}
	return &snap, true, nil
}

// Put replaces the whale's snapshot
func (c *SnapshotCache) Put(ctx context.Context, whaleID uuid.UUID, positions []venue.PositionSample, ttl time.Duration) error {
	snap := Snapshot{
		WhaleID:    whaleID,
		CapturedAt: time.Now().UTC(),
		Positions:  positions,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key(whaleID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Delete drops the whale's snapshot
func (c *SnapshotCache) Delete(ctx context.Context, whaleID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(whaleID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
