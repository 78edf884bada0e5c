package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrStaleVersion means a version-checked update lost an optimistic
// concurrency race; the caller should re-read and retry
var ErrStaleVersion = errors.New("stale version")

const tradeColumns = `
	id, user_id, signal_id, whale_id, venue, market, symbol, side,
	order_type, requested_quantity, trade_value_usdt, leverage, status,
	client_order_id, venue_order_id, executed_price, executed_quantity,
	fee, realized_pnl, version, created_at, executed_at, error`

func scanTrade(row pgx.Row) (*Trade, error) {
	var t Trade
	err := row.Scan(
		&t.ID, &t.UserID, &t.SignalID, &t.WhaleID, &t.Venue, &t.Market, &t.Symbol, &t.Side,
		&t.OrderType, &t.RequestedQuantity, &t.TradeValueUSDT, &t.Leverage, &t.Status,
		&t.ClientOrderID, &t.VenueOrderID, &t.ExecutedPrice, &t.ExecutedQuantity,
		&t.Fee, &t.RealizedPnL, &t.Version, &t.CreatedAt, &t.ExecutedAt, &t.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}
	return &t, nil
}

func scanTrades(rows pgx.Rows) ([]*Trade, error) {
	defer rows.Close()
	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetTrade fetches a trade by id
func (s *Store) GetTrade(ctx context.Context, tradeID uuid.UUID) (*Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE id = $1`
	return scanTrade(s.pool.QueryRow(ctx, query, tradeID))
}

// InsertTrade writes a PENDING trade inside the Phase-1 transaction
func (s *Store) InsertTrade(ctx context.Context, tx pgx.Tx, t *Trade) error {
	query := `
		INSERT INTO trades (
			id, user_id, signal_id, whale_id, venue, market, symbol, side,
			order_type, requested_quantity, trade_value_usdt, leverage,
			status, client_order_id, version, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			'PENDING', $13, 0, NOW()
		)
	`
	_, err := tx.Exec(ctx, query,
		t.ID, t.UserID, t.SignalID, t.WhaleID, t.Venue, t.Market, t.Symbol, t.Side,
		t.OrderType, t.RequestedQuantity, t.TradeValueUSDT, t.Leverage,
		t.ClientOrderID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	log.Debug().
		Str("trade_id", t.ID.String()).
		Str("user_id", t.UserID.String()).
		Str("symbol", t.Symbol).
		Str("reserved", t.TradeValueUSDT.String()).
		Msg("Trade created in PENDING")
	return nil
}

// TransitionTrade moves a trade between statuses with an optimistic version
// check. Returns ErrStaleVersion when another writer got there first.
func (s *Store) TransitionTrade(ctx context.Context, tradeID uuid.UUID, from, to TradeStatus, version int) error {
	query := `
		UPDATE trades
		SET status = $3, version = version + 1
		WHERE id = $1 AND status = $2 AND version = $4
	`
	tag, err := s.pool.Exec(ctx, query, tradeID, from, to, version)
	if err != nil {
		return fmt.Errorf("failed to transition trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}
	return nil
}

// FillTrade completes Phase 2 on success: EXECUTING (or NEEDS_RECONCILIATION,
// for the reconciler) to FILLED with the fill attached. Version-checked.
func (s *Store) FillTrade(ctx context.Context, tx pgx.Tx, tradeID uuid.UUID, from TradeStatus, version int, venueOrderID string, price, quantity, fee decimal.Decimal) error {
	query := `
		UPDATE trades
		SET status = 'FILLED',
		    venue_order_id = $4,
		    executed_price = $5,
		    executed_quantity = $6,
		    fee = $7,
		    executed_at = NOW(),
		    version = version + 1
		WHERE id = $1 AND status = $2 AND version = $3
	`
	tag, err := tx.Exec(ctx, query, tradeID, from, version, venueOrderID, price, quantity, fee)
	if err != nil {
		return fmt.Errorf("failed to fill trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}
	return nil
}

// FailTrade completes Phase 2 on failure. Version-checked; runs inside the
// rollback transaction together with the balance refund.
func (s *Store) FailTrade(ctx context.Context, tx pgx.Tx, tradeID uuid.UUID, from TradeStatus, version int, errMsg string) error {
	query := `
		UPDATE trades
		SET status = 'FAILED', error = $4, version = version + 1
		WHERE id = $1 AND status = $2 AND version = $3
	`
	tag, err := tx.Exec(ctx, query, tradeID, from, version, errMsg)
	if err != nil {
		return fmt.Errorf("failed to fail trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}
	return nil
}

// SetTradePnL records the realized PnL on a closing trade
func (s *Store) SetTradePnL(ctx context.Context, tx pgx.Tx, tradeID uuid.UUID, pnl decimal.Decimal) error {
	query := `UPDATE trades SET realized_pnl = $2, version = version + 1 WHERE id = $1`
	if _, err := tx.Exec(ctx, query, tradeID, pnl); err != nil {
		return fmt.Errorf("failed to set trade pnl: %w", err)
	}
	return nil
}

// MarkNeedsReconciliation parks a trade whose exchange outcome is unknown
func (s *Store) MarkNeedsReconciliation(ctx context.Context, tradeID uuid.UUID, from TradeStatus, version int, errMsg string) error {
	query := `
		UPDATE trades
		SET status = 'NEEDS_RECONCILIATION', error = $4, version = version + 1
		WHERE id = $1 AND status = $2 AND version = $3
	`
	tag, err := s.pool.Exec(ctx, query, tradeID, from, version, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark trade for reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}

	log.Warn().
		Str("trade_id", tradeID.String()).
		Str("reason", errMsg).
		Msg("Trade parked in NEEDS_RECONCILIATION")
	return nil
}

// ListNeedsReconciliation returns trades awaiting venue lookup
func (s *Store) ListNeedsReconciliation(ctx context.Context, limit int) ([]*Trade, error) {
	query := `SELECT` + tradeColumns + `
		FROM trades WHERE status = 'NEEDS_RECONCILIATION'
		ORDER BY created_at ASC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation trades: %w", err)
	}
	return scanTrades(rows)
}

// ListStalePending returns PENDING trades older than grace. A PENDING trade
// that old means the worker died between Phase 1 and the exchange call.
func (s *Store) ListStalePending(ctx context.Context, grace time.Duration, limit int) ([]*Trade, error) {
	query := `SELECT` + tradeColumns + `
		FROM trades WHERE status = 'PENDING' AND created_at <= NOW() - $1::interval
		ORDER BY created_at ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, grace.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending trades: %w", err)
	}
	return scanTrades(rows)
}

// ListStuckExecuting returns EXECUTING trades older than the hard limit;
// the reconciler moves these to NEEDS_RECONCILIATION
func (s *Store) ListStuckExecuting(ctx context.Context, olderThan time.Duration, limit int) ([]*Trade, error) {
	query := `SELECT` + tradeColumns + `
		FROM trades WHERE status = 'EXECUTING' AND created_at <= NOW() - $1::interval
		ORDER BY created_at ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, olderThan.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck executing trades: %w", err)
	}
	return scanTrades(rows)
}

// DailyRealizedLoss sums today's realized losses for a user, UTC day
// boundary. Profitable trades do not offset losses here; the limit guards
// downside only.
func (s *Store) DailyRealizedLoss(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var loss decimal.Decimal
	query := `
		SELECT COALESCE(SUM(-realized_pnl), 0)
		FROM trades
		WHERE user_id = $1 AND status = 'FILLED'
		  AND realized_pnl < 0
		  AND executed_at >= date_trunc('day', NOW() AT TIME ZONE 'UTC')
	`
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&loss); err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute daily loss: %w", err)
	}
	return loss, nil
}

// TradeFilter narrows ListTrades
type TradeFilter struct {
	Status *TradeStatus
	Symbol *string
	Limit  int
}

// ListTrades returns a user's trades, newest first
func (s *Store) ListTrades(ctx context.Context, userID uuid.UUID, filter TradeFilter) ([]*Trade, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT` + tradeColumns + `
		FROM trades
		WHERE user_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR symbol = $3)
		ORDER BY created_at DESC LIMIT $4`
	rows, err := s.pool.Query(ctx, query, userID, filter.Status, filter.Symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return scanTrades(rows)
}
