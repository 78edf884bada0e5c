package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/idempotency"
	"github.com/ajitpratap0/whalecopy/internal/metrics"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// Run starts the signal-processing workers and the lifecycle sweeper,
// blocking until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		logger := config.NewWorkerLogger(i + 1)
		g.Go(func() error {
			return e.worker(ctx, logger)
		})
	}
	g.Go(func() error {
		return e.sweep(ctx)
	})
	return g.Wait()
}

// worker claims and processes pending signals until ctx ends
func (e *Engine) worker(ctx context.Context, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sig, err := e.store.ClaimNextPending(ctx, e.signals.Expiry)
		if errors.Is(err, store.ErrNotFound) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.PollInterval):
			}
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("Failed to claim signal")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.PollInterval):
			}
			continue
		}

		e.processSignal(ctx, sig)
	}
}

// sweep expires stale PENDING signals and frees signals stuck in
// PROCESSING past the hard limit (a crashed worker's claim)
func (e *Engine) sweep(ctx context.Context) error {
	ticker := time.NewTicker(e.signals.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := e.store.ExpireStale(ctx, e.signals.Expiry); err != nil {
				e.logger.Error().Err(err).Msg("Signal expiry sweep failed")
			} else if n > 0 {
				e.logger.Info().Int64("expired", n).Msg("Swept stale signals")
				metrics.SignalsProcessed.WithLabelValues(string(store.SignalStatusExpired)).Add(float64(n))
			}
			if n, err := e.store.ReleaseStuckProcessing(ctx, e.cfg.HardLimit); err != nil {
				e.logger.Error().Err(err).Msg("Stuck-processing sweep failed")
			} else if n > 0 {
				e.logger.Warn().Int64("released", n).Msg("Released signals stuck in processing")
			}
		}
	}
}

// processSignal runs one claimed signal end to end. The idempotency token
// guards against double dispatch across engine restarts; the store claim
// already serializes concurrent workers.
func (e *Engine) processSignal(ctx context.Context, sig *store.Signal) {
	logger := e.logger.With().
		Str("signal_id", sig.ID.String()).
		Str("symbol", sig.Symbol).
		Str("action", string(sig.Action)).
		Bool("is_close", sig.IsClose).
		Logger()

	lock, err := e.locks.Acquire(ctx, idempotency.Key("process_signal", sig.ID.String()), e.cfg.ProcessTTL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to acquire signal lock")
		return
	}
	if lock.AlreadyCompleted {
		// A previous engine run finished this signal but crashed before
		// recording the terminal status
		_ = e.store.FinishSignal(ctx, sig.ID, store.SignalStatusProcessed, 0, nil)
		return
	}
	if !lock.Acquired {
		return
	}
	defer func() { _ = e.locks.Release(ctx, lock.Token) }()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.HardLimit)
	defer cancel()

	followers, err := e.enumerate(ctx, sig)
	if err != nil {
		msg := err.Error()
		_ = e.store.FinishSignal(ctx, sig.ID, store.SignalStatusFailed, 0, &msg)
		metrics.SignalsProcessed.WithLabelValues(string(store.SignalStatusFailed)).Inc()
		return
	}

	if len(followers) == 0 && sig.WhaleID != nil && sig.Priority == store.PriorityLow {
		// Nobody copies this whale and nothing urgent rides on the signal
		if err := e.store.SkipSignal(ctx, sig.ID, "no active copiers"); err != nil {
			logger.Error().Err(err).Msg("Failed to skip signal")
			return
		}
		metrics.SignalsProcessed.WithLabelValues(string(store.SignalStatusSkipped)).Inc()
		logger.Info().Msg("Signal skipped, whale has no active copiers")
		_ = e.locks.MarkCompleted(ctx, lock.Token, "trades=0", completionMarkerTTL)
		return
	}

	started := time.Now()
	executed := 0
	failures := 0
	var lastErr error
	for _, f := range followers {
		if time.Since(started) > e.cfg.SoftLimit {
			logger.Warn().
				Int("remaining", len(followers)-executed-failures).
				Msg("Soft limit reached, stopping follower enrollment")
			break
		}
		res := e.executeFollower(ctx, sig, f)
		switch res.outcome {
		case execExecuted:
			executed++
		case execFailed:
			failures++
			lastErr = res.err
		}
	}

	status := store.SignalStatusProcessed
	var errMsg *string
	if len(followers) > 0 && executed == 0 && failures == len(followers) && venueWide(lastErr) {
		status = store.SignalStatusFailed
		msg := lastErr.Error()
		errMsg = &msg
	}

	if err := e.store.FinishSignal(ctx, sig.ID, status, executed, errMsg); err != nil {
		logger.Error().Err(err).Msg("Failed to finish signal")
		return
	}
	metrics.SignalsProcessed.WithLabelValues(string(status)).Inc()

	eventType := events.SignalProcessed
	if status == store.SignalStatusFailed {
		eventType = events.SignalFailed
	}
	ev := events.New(eventType)
	ev.SignalID = &sig.ID
	ev.WhaleID = sig.WhaleID
	ev.Venue = sig.Venue
	ev.Symbol = sig.Symbol
	e.bus.Publish(ev)

	logger.Info().
		Int("followers", len(followers)).
		Int("executed", executed).
		Int("failures", failures).
		Str("status", string(status)).
		Msg("Signal dispatched")

	_ = e.locks.MarkCompleted(ctx, lock.Token, fmt.Sprintf("trades=%d", executed), completionMarkerTTL)
}

// enumerate selects the follower set for a signal
func (e *Engine) enumerate(ctx context.Context, sig *store.Signal) ([]*store.Follower, error) {
	if sig.WhaleID == nil {
		// Indicator and manual signals carry no whale to enumerate from;
		// they execute only through the manual copy path
		return nil, nil
	}
	if sig.IsClose {
		return e.store.ClosingFollowers(ctx, *sig.WhaleID, sig.Symbol, sig.Market)
	}
	return e.store.OpeningFollowers(ctx, *sig.WhaleID, sig.Venue)
}

// venueWide reports whether an error indicates the venue itself was
// unreachable, as opposed to a per-user business rejection
func venueWide(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, venue.ErrCircuitOpen) || venue.IsRetryable(err)
}

// CopySignalManually executes a PENDING signal for one explicit user,
// bypassing follower enumeration. sizeOverride of zero means the sizing
// precedence applies; venueOverride redirects execution to another venue
// the user holds credentials for.
func (e *Engine) CopySignalManually(ctx context.Context, userID, signalID uuid.UUID, sizeOverride decimal.Decimal, venueOverride *venue.Venue) error {
	sig, err := e.store.ClaimSignal(ctx, signalID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("signal %s is not pending", signalID)
	}
	if err != nil {
		return err
	}
	if venueOverride != nil {
		sig.Venue = *venueOverride
	}

	follower, err := e.manualFollower(ctx, userID, sig.WhaleID)
	if err != nil {
		msg := err.Error()
		_ = e.store.FinishSignal(ctx, sig.ID, store.SignalStatusFailed, 0, &msg)
		return err
	}

	var res followerResult
	if sig.IsClose {
		res = e.closeForFollower(ctx, sig, follower)
	} else {
		res = e.openForFollower(ctx, sig, follower, sizeOverride)
	}

	executed := 0
	status := store.SignalStatusProcessed
	var errMsg *string
	switch res.outcome {
	case execExecuted:
		executed = 1
	case execFailed:
		status = store.SignalStatusFailed
		msg := res.err.Error()
		errMsg = &msg
	}
	if err := e.store.FinishSignal(ctx, sig.ID, status, executed, errMsg); err != nil {
		return err
	}
	metrics.SignalsProcessed.WithLabelValues(string(status)).Inc()
	return res.err
}

// manualFollower assembles the follower context for a manual copy. A
// follow row is optional; without one the user's settings drive sizing.
func (e *Engine) manualFollower(ctx context.Context, userID uuid.UUID, whaleID *uuid.UUID) (*store.Follower, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	settings, err := e.store.GetUserSettings(ctx, userID)
	if err != nil {
		return nil, err
	}

	f := &store.Follower{User: *user, Settings: *settings}
	if whaleID != nil {
		if follow, err := e.store.GetFollower(ctx, userID, *whaleID); err == nil {
			f.Follow = follow.Follow
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return f, nil
}
