package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/metrics"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// outcome classifies one leaderboard poll
type outcome int

const (
	outcomeSamples outcome = iota
	outcomeEmpty
	outcomeAuthOrRate
	outcomeAdapterError
)

// observedMarket is the market segment leaderboards expose positions for
const observedMarket = venue.MarketUSDMFutures

// whalePollers limits concurrent whale polls within one tier tick
const whalePollers = 8

// Scheduler polls whales across four cadence tiers, diffs each whale's
// position set against its cached snapshot and persists the resulting
// signals. One instance per deployment.
type Scheduler struct {
	store    *store.Store
	adapters map[venue.Venue]venue.Adapter
	snaps    *SnapshotCache
	bus      *events.Bus
	cfg      config.PollingConfig
	logger   zerolog.Logger
}

// NewScheduler wires a scheduler; adapters maps each enabled venue to its
// resilience-wrapped adapter.
func NewScheduler(st *store.Store, adapters map[venue.Venue]venue.Adapter, snaps *SnapshotCache, bus *events.Bus, cfg config.PollingConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    st,
		adapters: adapters,
		snaps:    snaps,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts the four tier tickers and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	tiers := []struct {
		tier     store.PollTier
		interval time.Duration
	}{
		{store.TierCritical, s.cfg.CriticalInterval},
		{store.TierHigh, s.cfg.HighInterval},
		{store.TierNormal, s.cfg.NormalInterval},
		{store.TierLow, s.cfg.LowInterval},
	}
	for _, t := range tiers {
		g.Go(func() error {
			return s.runTier(ctx, t.tier, t.interval)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runTier(ctx context.Context, tier store.PollTier, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().
		Str("tier", string(tier)).
		Dur("interval", interval).
		Msg("Polling tier started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, tier)
		}
	}
}

// tick runs one selection round for a tier. Critical polling is never
// throttled; the lower tiers back off while the signal queue is deep.
func (s *Scheduler) tick(ctx context.Context, tier store.PollTier) {
	if tier != store.TierCritical {
		depth, err := s.store.CountPending(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to read signal queue depth")
		} else {
			metrics.SignalQueueDepth.Set(float64(depth))
			if depth > s.cfg.BackpressureDepth {
				s.logger.Warn().
					Str("tier", string(tier)).
					Int64("queue_depth", depth).
					Msg("Signal queue backed up, skipping tier tick")
				return
			}
		}
	}

	whales, err := s.store.SelectForTier(ctx, tier, s.cfg.TierBatchSize)
	if err != nil {
		s.logger.Error().Err(err).Str("tier", string(tier)).Msg("Whale selection failed")
		return
	}
	if len(whales) == 0 {
		return
	}

	// When a venue's circuit opens mid-tick, skip its remaining whales for
	// this round instead of burning fail-fast calls
	var mu sync.Mutex
	suspended := make(map[venue.Venue]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(whalePollers)
	for _, w := range whales {
		g.Go(func() error {
			mu.Lock()
			skip := suspended[w.Venue]
			mu.Unlock()
			if skip {
				return nil
			}

			start := time.Now()
			err := s.pollWhale(gctx, w)
			metrics.PollDuration.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
			if errors.Is(err, venue.ErrCircuitOpen) {
				mu.Lock()
				suspended[w.Venue] = true
				mu.Unlock()
			} else if err != nil {
				// One whale's failure never blocks the rest of the tier
				s.logger.Error().Err(err).
					Str("whale_id", w.ID.String()).
					Str("venue", string(w.Venue)).
					Msg("Whale poll failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// pollWhale fetches one whale's public positions, updates sharing state and
// emits signals for the symbol-level diff
func (s *Scheduler) pollWhale(ctx context.Context, w *store.Whale) error {
	adapter, ok := s.adapters[w.Venue]
	if !ok {
		return s.store.TouchChecked(ctx, w.ID)
	}

	result, err := adapter.GetTraderPositions(ctx, w.VenueUID, observedMarket)
	switch s.classify(result, err) {
	case outcomeAuthOrRate:
		if isRateLimited(err) {
			until := time.Now().Add(s.cfg.RateLimitCooldown)
			if markErr := s.store.MarkRateLimited(ctx, w.ID, until); markErr != nil {
				return markErr
			}
		} else if touchErr := s.store.TouchChecked(ctx, w.ID); touchErr != nil {
			return touchErr
		}
		return err

	case outcomeAdapterError:
		if errors.Is(err, venue.ErrCircuitOpen) {
			return err
		}
		if touchErr := s.store.TouchChecked(ctx, w.ID); touchErr != nil {
			return touchErr
		}
		return err

	case outcomeEmpty:
		empties, err := s.store.RecordEmptyCheck(ctx, w.ID, s.cfg.EmptyChecksLimit, s.cfg.SharingRecheck)
		if err != nil {
			return err
		}
		if empties >= s.cfg.EmptyChecksLimit {
			s.logger.Info().
				Str("whale_id", w.ID.String()).
				Int("consecutive_empty_checks", empties).
				Msg("Whale sharing disabled, backing off")
		}
		return s.diffAndEmit(ctx, w, nil)

	default: // outcomeSamples
		if err := s.store.RecordPositionsFound(ctx, w.ID); err != nil {
			return err
		}
		return s.diffAndEmit(ctx, w, result.Samples)
	}
}

func (s *Scheduler) classify(result *venue.TraderPositionsResult, err error) outcome {
	if err != nil {
		if errors.Is(err, venue.ErrAuthFailure) || isRateLimited(err) {
			return outcomeAuthOrRate
		}
		return outcomeAdapterError
	}
	if result == nil || !result.Shared || len(result.Samples) == 0 {
		return outcomeEmpty
	}
	return outcomeSamples
}

func isRateLimited(err error) bool {
	var rl *venue.RateLimitError
	return errors.As(err, &rl)
}

// diffAndEmit compares the current position set against the cached snapshot,
// persists a signal per opened and closed symbol, then replaces the snapshot.
// On first observation the set is stored silently so followers are not
// entered into positions the whale already held.
func (s *Scheduler) diffAndEmit(ctx context.Context, w *store.Whale, current []venue.PositionSample) error {
	previous, seen, err := s.snaps.Get(ctx, w.ID)
	if err != nil {
		return err
	}

	ttl := time.Duration(w.PollingIntervalSeconds) * time.Second * time.Duration(s.cfg.SnapshotTTLFactor)
	if !seen {
		s.logger.Debug().
			Str("whale_id", w.ID.String()).
			Int("positions", len(current)).
			Msg("First observation, storing snapshot without signals")
		return s.snaps.Put(ctx, w.ID, current, ttl)
	}

	ch := Diff(previous.Positions, current)
	if len(ch.Opened) > 0 || len(ch.Closed) > 0 {
		flags, err := s.store.GetFollowerFlags(ctx, w.ID)
		if err != nil {
			return err
		}
		detectedAt := time.Now().UTC()
		// Closes go first so a side flip exits followers before re-entry
		for _, sample := range ch.Closed {
			s.emitSignal(ctx, w, sample, true, detectedAt, flags)
		}
		for _, sample := range ch.Opened {
			s.emitSignal(ctx, w, sample, false, detectedAt, flags)
		}
	}

	return s.snaps.Put(ctx, w.ID, current, ttl)
}

// emitSignal persists one signal as PENDING. Duplicate fingerprints from
// overlapping polls are silently absorbed by the unique index.
func (s *Scheduler) emitSignal(ctx context.Context, w *store.Whale, sample venue.PositionSample, isClose bool, detectedAt time.Time, flags store.FollowerFlags) {
	action := store.SignalActionBuy
	if isClose {
		// Closing acts on the opposite side of the recorded position
		if sample.Side == venue.SideLong || sample.Side == venue.SideBuy {
			action = store.SignalActionSell
		}
	} else if sample.Side == venue.SideShort || sample.Side == venue.SideSell {
		action = store.SignalActionSell
	}

	score := Score(w.PriorityScore, sample.ROE, sample.Leverage)
	confidence := Bucket(score)

	sig := &store.Signal{
		ID:              uuid.New(),
		WhaleID:         &w.ID,
		Source:          store.SignalSourceWhale,
		Fingerprint:     Fingerprint(w.ID, sample.Symbol, action, isClose, detectedAt),
		Action:          action,
		Symbol:          sample.Symbol,
		Market:          sample.Market,
		Venue:           w.Venue,
		IsClose:         isClose,
		Confidence:      confidence,
		ConfidenceScore: score,
		Priority:        DerivePriority(flags, confidence),
		Status:          store.SignalStatusPending,
	}
	if sample.Leverage > 0 {
		lev := sample.Leverage
		sig.WhaleLeverage = &lev
	}
	if !sample.MarkPrice.IsZero() {
		price := sample.MarkPrice
		sig.PriceAtSignal = &price
	}
	if notional := sample.Quantity.Mul(sample.EntryPrice); !notional.IsZero() {
		sig.AmountHintUSD = &notional
	}

	inserted, err := s.store.InsertSignal(ctx, sig)
	if err != nil {
		s.logger.Error().Err(err).
			Str("whale_id", w.ID.String()).
			Str("symbol", sample.Symbol).
			Msg("Failed to persist signal")
		return
	}
	if !inserted {
		return
	}

	metrics.SignalsEmitted.WithLabelValues(string(action), fmt.Sprintf("%t", isClose)).Inc()
	s.logger.Info().
		Str("signal_id", sig.ID.String()).
		Str("whale_id", w.ID.String()).
		Str("symbol", sample.Symbol).
		Str("action", string(action)).
		Bool("is_close", isClose).
		Int("confidence_score", score).
		Str("priority", string(sig.Priority)).
		Msg("Signal detected")

	e := events.New(events.SignalDetected)
	e.WhaleID = &w.ID
	e.SignalID = &sig.ID
	e.Venue = w.Venue
	e.Symbol = sample.Symbol
	s.bus.Publish(e)
}

// Fingerprint derives the stable signal identity used for deduplication.
// Detection time is bucketed to the minute so overlapping polls of the same
// change collapse onto one signal.
func Fingerprint(whaleID uuid.UUID, symbol string, action store.SignalAction, isClose bool, detectedAt time.Time) string {
	kind := "open"
	if isClose {
		kind = "close"
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d", whaleID, symbol, action, kind, detectedAt.Truncate(time.Minute).Unix())
}
