package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrNotFound means the requested row does not exist
var ErrNotFound = errors.New("not found")

// ErrInsufficientAvailable means a balance reservation would take
// available_balance below zero
var ErrInsufficientAvailable = errors.New("insufficient available balance")

const userColumns = `
	id, external_id, subscription_tier, subscription_expires_at,
	is_active, is_banned, total_balance, available_balance,
	two_factor_enabled, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.ExternalID, &u.SubscriptionTier, &u.SubscriptionExpiresAt,
		&u.IsActive, &u.IsBanned, &u.TotalBalance, &u.AvailableBalance,
		&u.TwoFactorEnabled, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// GetUser fetches a user by id
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.pool.QueryRow(ctx, query, userID))
}

// LockUser fetches a user under an exclusive row lock. Must run inside the
// transaction that mutates the balance.
func (s *Store) LockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return scanUser(tx.QueryRow(ctx, query, userID))
}

// ReserveBalance deducts amount from available_balance inside tx. The guard
// in the WHERE clause keeps available_balance non-negative even if the
// caller's read was stale.
func (s *Store) ReserveBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE users
		SET available_balance = available_balance - $1, updated_at = NOW()
		WHERE id = $2 AND available_balance >= $1
	`
	tag, err := tx.Exec(ctx, query, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to reserve balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientAvailable
	}

	log.Debug().
		Str("user_id", userID.String()).
		Str("amount", amount.String()).
		Msg("Balance reserved")
	return nil
}

// RefundBalance returns a failed trade's reservation to available_balance
func (s *Store) RefundBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE users
		SET available_balance = available_balance + $1, updated_at = NOW()
		WHERE id = $2
	`
	tag, err := tx.Exec(ctx, query, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to refund balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SettleBalance releases a closed position's reservation plus its realized
// PnL into available_balance and applies the PnL to total_balance. pnl may
// be negative; the GREATEST guards keep both balances non-negative on
// pathological losses.
func (s *Store) SettleBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, reserved, pnl decimal.Decimal) error {
	query := `
		UPDATE users
		SET available_balance = GREATEST(available_balance + $1 + $2, 0),
		    total_balance = GREATEST(total_balance + $2, 0),
		    updated_at = NOW()
		WHERE id = $3
	`
	tag, err := tx.Exec(ctx, query, reserved, pnl, userID)
	if err != nil {
		return fmt.Errorf("failed to settle balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	log.Debug().
		Str("user_id", userID.String()).
		Str("reserved", reserved.String()).
		Str("pnl", pnl.String()).
		Msg("Position settled into balance")
	return nil
}

const settingsColumns = `
	user_id, trading_mode, preferred_venue, auto_copy_enabled,
	default_trade_size_usdt, max_trade_size_usdt, stop_loss_percent,
	take_profit_percent, daily_loss_limit_usdt, max_open_positions,
	default_leverage, max_leverage, auto_close_on_tp, auto_close_on_whale_exit`

func scanSettings(row pgx.Row) (*UserSettings, error) {
	var us UserSettings
	err := row.Scan(
		&us.UserID, &us.TradingMode, &us.PreferredVenue, &us.AutoCopyEnabled,
		&us.DefaultTradeSizeUSDT, &us.MaxTradeSizeUSDT, &us.StopLossPercent,
		&us.TakeProfitPercent, &us.DailyLossLimitUSDT, &us.MaxOpenPositions,
		&us.DefaultLeverage, &us.MaxLeverage, &us.AutoCloseOnTP, &us.AutoCloseOnWhaleExit,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user settings: %w", err)
	}
	return &us, nil
}

// GetUserSettings fetches a user's settings
func (s *Store) GetUserSettings(ctx context.Context, userID uuid.UUID) (*UserSettings, error) {
	query := `SELECT` + settingsColumns + ` FROM user_settings WHERE user_id = $1`
	return scanSettings(s.pool.QueryRow(ctx, query, userID))
}

// HasVenueCredential reports whether the user registered a credential handle
// for the venue. The handle itself lives in the credential store.
func (s *Store) HasVenueCredential(ctx context.Context, userID uuid.UUID, v string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM user_venue_credentials WHERE user_id = $1 AND venue = $2 AND NOT broken)`
	if err := s.pool.QueryRow(ctx, query, userID, v).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check venue credential: %w", err)
	}
	return exists, nil
}

// MarkCredentialBroken flags a credential handle after an auth failure so
// the engine stops using it until the user rotates keys
func (s *Store) MarkCredentialBroken(ctx context.Context, userID uuid.UUID, v string) error {
	query := `UPDATE user_venue_credentials SET broken = TRUE, updated_at = NOW() WHERE user_id = $1 AND venue = $2`
	if _, err := s.pool.Exec(ctx, query, userID, v); err != nil {
		return fmt.Errorf("failed to mark credential broken: %w", err)
	}
	log.Warn().
		Str("user_id", userID.String()).
		Str("venue", v).
		Msg("Venue credential marked broken after auth failure")
	return nil
}
