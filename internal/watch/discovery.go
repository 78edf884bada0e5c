package watch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// defaultPollingInterval is assigned to newly discovered whales; the
// scheduler's tier selection refines the effective cadence from there
const defaultPollingInterval = 45

// Discovery periodically walks venue leaderboards and registers new whales.
// Existing whales only have their display name and priority refreshed.
type Discovery struct {
	store    *store.Store
	adapters map[venue.Venue]venue.Adapter
	cfg      config.PollingConfig
	logger   zerolog.Logger
}

// NewDiscovery wires a leaderboard discovery worker
func NewDiscovery(st *store.Store, adapters map[venue.Venue]venue.Adapter, cfg config.PollingConfig, logger zerolog.Logger) *Discovery {
	return &Discovery{store: st, adapters: adapters, cfg: cfg, logger: logger}
}

// Run sweeps the leaderboards on the configured interval until ctx ends
func (d *Discovery) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.DiscoveryInterval)
	defer ticker.Stop()

	// First sweep at startup so a fresh deployment has whales to poll
	d.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Discovery) sweep(ctx context.Context) {
	for v, adapter := range d.adapters {
		count, err := d.sweepVenue(ctx, v, adapter)
		if errors.Is(err, venue.ErrUnsupported) {
			continue
		}
		if err != nil {
			d.logger.Error().Err(err).Str("venue", string(v)).Msg("Leaderboard sweep failed")
			continue
		}
		d.logger.Info().
			Str("venue", string(v)).
			Int("traders", count).
			Msg("Leaderboard sweep complete")
	}
}

func (d *Discovery) sweepVenue(ctx context.Context, v venue.Venue, adapter venue.Adapter) (int, error) {
	total := 0
	for page := 1; page <= d.cfg.DiscoveryPageLimit; page++ {
		rows, err := adapter.GetLeaderboard(ctx, observedMarket, page)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			w := &store.Whale{
				ID:                     uuid.New(),
				Venue:                  v,
				VenueUID:               row.VenueUID,
				DisplayName:            row.DisplayName,
				Kind:                   store.WhaleKindCEXTrader,
				DataStatus:             store.DataStatusActive,
				PriorityScore:          scoreTrader(row),
				PollingIntervalSeconds: defaultPollingInterval,
			}
			if err := d.store.UpsertWhale(ctx, w); err != nil {
				d.logger.Error().Err(err).
					Str("venue_uid", row.VenueUID).
					Msg("Failed to upsert discovered whale")
				continue
			}
			total++
		}
	}
	return total, nil
}

// scoreTrader derives an initial priority score from leaderboard stats.
// ROI dominates; a large follower count nudges the score up.
func scoreTrader(row venue.TraderSummary) int {
	score := int(row.ROI / 2)
	if row.FollowerCnt > 1000 {
		score += 10
	}
	if score < 1 {
		score = 1
	}
	if score > 100 {
		score = 100
	}
	return score
}
