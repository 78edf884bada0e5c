package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// ErrPositionExists means an OPEN position already exists for the
// (user, venue, symbol, market) key
var ErrPositionExists = errors.New("open position already exists")

const positionColumns = `
	id, user_id, whale_id, entry_trade_id, exit_trade_id, venue, market,
	symbol, side, leverage, entry_price, current_price, exit_price, quantity,
	stop_loss_price, stop_loss_order_id, take_profit_price, take_profit_order_id,
	unrealized_pnl, realized_pnl, status, close_reason, version, opened_at, closed_at`

func scanPosition(row pgx.Row) (*Position, error) {
	var p Position
	err := row.Scan(
		&p.ID, &p.UserID, &p.WhaleID, &p.EntryTradeID, &p.ExitTradeID, &p.Venue, &p.Market,
		&p.Symbol, &p.Side, &p.Leverage, &p.EntryPrice, &p.CurrentPrice, &p.ExitPrice, &p.Quantity,
		&p.StopLossPrice, &p.StopLossOrderID, &p.TakeProfitPrice, &p.TakeProfitOrderID,
		&p.UnrealizedPnL, &p.RealizedPnL, &p.Status, &p.CloseReason, &p.Version, &p.OpenedAt, &p.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]*Position, error) {
	defer rows.Close()
	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetPosition fetches a position by id
func (s *Store) GetPosition(ctx context.Context, positionID uuid.UUID) (*Position, error) {
	query := `SELECT` + positionColumns + ` FROM positions WHERE id = $1`
	return scanPosition(s.pool.QueryRow(ctx, query, positionID))
}

// GetOpenPosition fetches the single OPEN position for a key, if any
func (s *Store) GetOpenPosition(ctx context.Context, userID uuid.UUID, v venue.Venue, symbol string, market venue.Market) (*Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions
		WHERE user_id = $1 AND venue = $2 AND symbol = $3 AND market = $4 AND status = 'OPEN'`
	return scanPosition(s.pool.QueryRow(ctx, query, userID, v, symbol, market))
}

// InsertPosition opens a position inside the Phase-2 confirm transaction.
// The partial unique index on (user_id, venue, symbol, market) WHERE
// status = 'OPEN' enforces at most one OPEN position per key; a conflict
// surfaces as ErrPositionExists.
func (s *Store) InsertPosition(ctx context.Context, tx pgx.Tx, p *Position) error {
	query := `
		INSERT INTO positions (
			id, user_id, whale_id, entry_trade_id, venue, market, symbol, side,
			leverage, entry_price, quantity, stop_loss_price, take_profit_price,
			unrealized_pnl, realized_pnl, status, version, opened_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			0, 0, 'OPEN', 0, NOW()
		)
		ON CONFLICT (user_id, venue, symbol, market) WHERE status = 'OPEN' DO NOTHING
	`
	tag, err := tx.Exec(ctx, query,
		p.ID, p.UserID, p.WhaleID, p.EntryTradeID, p.Venue, p.Market, p.Symbol, p.Side,
		p.Leverage, p.EntryPrice, p.Quantity, p.StopLossPrice, p.TakeProfitPrice,
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionExists
	}

	log.Info().
		Str("position_id", p.ID.String()).
		Str("user_id", p.UserID.String()).
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Msg("Position opened")
	return nil
}

// ClosePosition moves an OPEN position to CLOSED with exit data attached.
// Version-checked; runs inside the Phase-2 confirm transaction of the
// closing trade.
func (s *Store) ClosePosition(ctx context.Context, tx pgx.Tx, positionID uuid.UUID, version int, exitTradeID uuid.UUID, exitPrice, realizedPnL decimal.Decimal, reason CloseReason) error {
	query := `
		UPDATE positions
		SET status = 'CLOSED',
		    exit_trade_id = $3,
		    exit_price = $4,
		    realized_pnl = $5,
		    unrealized_pnl = 0,
		    close_reason = $6,
		    closed_at = NOW(),
		    version = version + 1
		WHERE id = $1 AND status = 'OPEN' AND version = $2
	`
	tag, err := tx.Exec(ctx, query, positionID, version, exitTradeID, exitPrice, realizedPnL, reason)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}

	log.Info().
		Str("position_id", positionID.String()).
		Str("exit_price", exitPrice.String()).
		Str("realized_pnl", realizedPnL.String()).
		Str("close_reason", string(reason)).
		Msg("Position closed")
	return nil
}

// MarkLiquidated moves an OPEN position to LIQUIDATED. Only the reconciler
// calls this, when the position is gone from the exchange with a loss past
// maintenance margin.
func (s *Store) MarkLiquidated(ctx context.Context, tx pgx.Tx, positionID uuid.UUID, version int, exitPrice, realizedPnL decimal.Decimal) error {
	query := `
		UPDATE positions
		SET status = 'LIQUIDATED',
		    exit_price = $3,
		    realized_pnl = $4,
		    unrealized_pnl = 0,
		    close_reason = 'LIQUIDATION',
		    closed_at = NOW(),
		    version = version + 1
		WHERE id = $1 AND status = 'OPEN' AND version = $2
	`
	tag, err := tx.Exec(ctx, query, positionID, version, exitPrice, realizedPnL)
	if err != nil {
		return fmt.Errorf("failed to mark position liquidated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}
	return nil
}

// UpdatePositionPrice refreshes current_price and unrealized_pnl during
// monitor re-pricing. Not version-bumped: price refreshes must not invalidate
// a concurrent close.
func (s *Store) UpdatePositionPrice(ctx context.Context, positionID uuid.UUID, price, unrealizedPnL decimal.Decimal) error {
	query := `
		UPDATE positions
		SET current_price = $2, unrealized_pnl = $3
		WHERE id = $1 AND status = 'OPEN'
	`
	if _, err := s.pool.Exec(ctx, query, positionID, price, unrealizedPnL); err != nil {
		return fmt.Errorf("failed to update position price: %w", err)
	}
	return nil
}

// SetStopLossOrder records the venue-side stop order id after placement
func (s *Store) SetStopLossOrder(ctx context.Context, positionID uuid.UUID, orderID string) error {
	query := `UPDATE positions SET stop_loss_order_id = $2 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, positionID, orderID); err != nil {
		return fmt.Errorf("failed to set stop loss order: %w", err)
	}
	return nil
}

// ListOpenPositions pages through every OPEN position for the monitor
func (s *Store) ListOpenPositions(ctx context.Context, limit int, after uuid.UUID) ([]*Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions WHERE status = 'OPEN' AND id > $2
		ORDER BY id ASC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit, after)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	return scanPositions(rows)
}

// ListOpenByUser returns a user's OPEN positions
func (s *Store) ListOpenByUser(ctx context.Context, userID uuid.UUID) ([]*Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions WHERE user_id = $1 AND status = 'OPEN'
		ORDER BY opened_at DESC`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user positions: %w", err)
	}
	return scanPositions(rows)
}

// ListOpenUsersByVenue returns the distinct users holding OPEN positions on
// a venue, for external reconciliation
func (s *Store) ListOpenUsersByVenue(ctx context.Context, v venue.Venue, market venue.Market) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT user_id FROM positions
		WHERE venue = $1 AND market = $2 AND status = 'OPEN'
	`
	rows, err := s.pool.Query(ctx, query, v, market)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with open positions: %w", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// CountOpenPositions counts a user's OPEN positions for the risk check
func (s *Store) CountOpenPositions(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM positions WHERE user_id = $1 AND status = 'OPEN'`
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return count, nil
}

// PortfolioSummary aggregates a user's portfolio for the query API
type PortfolioSummary struct {
	OpenPositions int
	TotalInvested decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// GetPortfolioSummary returns the user's aggregate exposure and PnL
func (s *Store) GetPortfolioSummary(ctx context.Context, userID uuid.UUID) (*PortfolioSummary, error) {
	var summary PortfolioSummary
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'OPEN'),
			COALESCE(SUM(entry_price * quantity) FILTER (WHERE status = 'OPEN'), 0),
			COALESCE(SUM(unrealized_pnl) FILTER (WHERE status = 'OPEN'), 0),
			COALESCE(SUM(realized_pnl) FILTER (WHERE status <> 'OPEN'), 0)
		FROM positions WHERE user_id = $1
	`
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&summary.OpenPositions, &summary.TotalInvested,
		&summary.UnrealizedPnL, &summary.RealizedPnL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio summary: %w", err)
	}
	return &summary, nil
}
