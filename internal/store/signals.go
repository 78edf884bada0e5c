package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const signalColumns = `
	id, whale_id, source, fingerprint, action, symbol, market, venue,
	is_close, whale_leverage, amount_hint_usd, price_at_signal,
	confidence, confidence_score, priority, status, version, created_at,
	processing_started_at, processed_at, trades_executed, error`

func scanSignal(row pgx.Row) (*Signal, error) {
	var sig Signal
	err := row.Scan(
		&sig.ID, &sig.WhaleID, &sig.Source, &sig.Fingerprint, &sig.Action, &sig.Symbol, &sig.Market, &sig.Venue,
		&sig.IsClose, &sig.WhaleLeverage, &sig.AmountHintUSD, &sig.PriceAtSignal,
		&sig.Confidence, &sig.ConfidenceScore, &sig.Priority, &sig.Status, &sig.Version, &sig.CreatedAt,
		&sig.ProcessingStartedAt, &sig.ProcessedAt, &sig.TradesExecuted, &sig.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan signal: %w", err)
	}
	return &sig, nil
}

// GetSignal fetches a signal by id
func (s *Store) GetSignal(ctx context.Context, signalID uuid.UUID) (*Signal, error) {
	query := `SELECT` + signalColumns + ` FROM signals WHERE id = $1`
	return scanSignal(s.pool.QueryRow(ctx, query, signalID))
}

// InsertSignal persists a new PENDING signal. The fingerprint unique index
// absorbs duplicate detections of the same position change; the bool result
// reports whether this call actually inserted the row.
func (s *Store) InsertSignal(ctx context.Context, sig *Signal) (bool, error) {
	query := `
		INSERT INTO signals (
			id, whale_id, source, fingerprint, action, symbol, market, venue,
			is_close, whale_leverage, amount_hint_usd, price_at_signal,
			confidence, confidence_score, priority, status, version, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			'PENDING', 0, NOW()
		)
		ON CONFLICT (fingerprint) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		sig.ID, sig.WhaleID, sig.Source, sig.Fingerprint, sig.Action, sig.Symbol, sig.Market, sig.Venue,
		sig.IsClose, sig.WhaleLeverage, sig.AmountHintUSD, sig.PriceAtSignal,
		sig.Confidence, sig.ConfidenceScore, sig.Priority,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert signal: %w", err)
	}

	inserted := tag.RowsAffected() > 0
	if inserted {
		log.Info().
			Str("signal_id", sig.ID.String()).
			Str("action", string(sig.Action)).
			Str("symbol", sig.Symbol).
			Bool("is_close", sig.IsClose).
			Str("priority", string(sig.Priority)).
			Msg("Signal persisted")
	}
	return inserted, nil
}

// ClaimNextPending atomically claims the hottest dispatchable PENDING signal,
// moving it to PROCESSING. Returns ErrNotFound when the queue is empty.
// SKIP LOCKED keeps concurrent workers from colliding on the same row.
func (s *Store) ClaimNextPending(ctx context.Context, expiry time.Duration) (*Signal, error) {
	query := `
		UPDATE signals
		SET status = 'PROCESSING',
		    processing_started_at = NOW(),
		    version = version + 1
		WHERE id = (
			SELECT id FROM signals
			WHERE status = 'PENDING' AND created_at > NOW() - $1::interval
			ORDER BY
				CASE priority WHEN 'HIGH' THEN 0 WHEN 'MEDIUM' THEN 1 ELSE 2 END,
				created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING` + signalColumns

	return scanSignal(s.pool.QueryRow(ctx, query, expiry.String()))
}

// ClaimSignal claims one specific PENDING signal (manual copy path). Returns
// ErrNotFound when another worker already claimed it.
func (s *Store) ClaimSignal(ctx context.Context, signalID uuid.UUID) (*Signal, error) {
	query := `
		UPDATE signals
		SET status = 'PROCESSING',
		    processing_started_at = NOW(),
		    version = version + 1
		WHERE id = $1 AND status = 'PENDING'
		RETURNING` + signalColumns

	return scanSignal(s.pool.QueryRow(ctx, query, signalID))
}

// FinishSignal moves a PROCESSING signal to a terminal status with its
// execution counts. The status guard makes the transition single-shot.
func (s *Store) FinishSignal(ctx context.Context, signalID uuid.UUID, status SignalStatus, tradesExecuted int, errMsg *string) error {
	query := `
		UPDATE signals
		SET status = $2,
		    trades_executed = $3,
		    error = $4,
		    processed_at = NOW(),
		    version = version + 1
		WHERE id = $1 AND status = 'PROCESSING'
	`
	tag, err := s.pool.Exec(ctx, query, signalID, status, tradesExecuted, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finish signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("signal %s not in PROCESSING: %w", signalID, ErrNotFound)
	}
	return nil
}

// SkipSignal moves a signal that has not reached execution to SKIPPED.
// Valid from PENDING and from PROCESSING (a claimed signal whose follower
// enumeration came back empty).
func (s *Store) SkipSignal(ctx context.Context, signalID uuid.UUID, reason string) error {
	query := `
		UPDATE signals
		SET status = 'SKIPPED', error = $2, processed_at = NOW(), version = version + 1
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`
	tag, err := s.pool.Exec(ctx, query, signalID, reason)
	if err != nil {
		return fmt.Errorf("failed to skip signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireStale sweeps PENDING signals older than expiry to EXPIRED and
// returns how many were swept
func (s *Store) ExpireStale(ctx context.Context, expiry time.Duration) (int64, error) {
	query := `
		UPDATE signals
		SET status = 'EXPIRED', processed_at = NOW(), version = version + 1
		WHERE status = 'PENDING' AND created_at <= NOW() - $1::interval
	`
	tag, err := s.pool.Exec(ctx, query, expiry.String())
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale signals: %w", err)
	}

	if tag.RowsAffected() > 0 {
		log.Info().Int64("expired", tag.RowsAffected()).Msg("Stale signals swept to EXPIRED")
	}
	return tag.RowsAffected(), nil
}

// ReleaseStuckProcessing returns signals stuck in PROCESSING past the hard
// limit to FAILED so operators can see them. The dispatcher's own idempotency
// lock has long expired by then.
func (s *Store) ReleaseStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE signals
		SET status = 'FAILED', error = 'processing exceeded hard limit', processed_at = NOW(), version = version + 1
		WHERE status = 'PROCESSING' AND processing_started_at <= NOW() - $1::interval
	`
	tag, err := s.pool.Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck signals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountPending reports the PENDING queue depth, used for backpressure and
// the queue gauge
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM signals WHERE status = 'PENDING'`
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending signals: %w", err)
	}
	return count, nil
}
