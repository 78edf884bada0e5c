package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// PollTier selects which scheduler tier a whale query serves
type PollTier string

const (
	TierCritical PollTier = "critical"
	TierHigh     PollTier = "high"
	TierNormal   PollTier = "normal"
	TierLow      PollTier = "low"
)

const whaleColumns = `
	id, venue, venue_uid, wallet_address, display_name, kind, data_status,
	consecutive_empty_checks, sharing_disabled_at, sharing_recheck_at,
	rate_limited_until, priority_score, polling_interval_seconds,
	last_checked_at, last_position_found_at, created_at, updated_at`

func scanWhale(row pgx.Row) (*Whale, error) {
	var w Whale
	err := row.Scan(
		&w.ID, &w.Venue, &w.VenueUID, &w.WalletAddress, &w.DisplayName, &w.Kind, &w.DataStatus,
		&w.ConsecutiveEmptyChecks, &w.SharingDisabledAt, &w.SharingRecheckAt,
		&w.RateLimitedUntil, &w.PriorityScore, &w.PollingIntervalSeconds,
		&w.LastCheckedAt, &w.LastPositionFoundAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan whale: %w", err)
	}
	return &w, nil
}

func scanWhales(rows pgx.Rows) ([]*Whale, error) {
	defer rows.Close()
	var whales []*Whale
	for rows.Next() {
		w, err := scanWhale(rows)
		if err != nil {
			return nil, err
		}
		whales = append(whales, w)
	}
	return whales, rows.Err()
}

// GetWhale fetches a whale by id
func (s *Store) GetWhale(ctx context.Context, whaleID uuid.UUID) (*Whale, error) {
	query := `SELECT` + whaleColumns + ` FROM whales WHERE id = $1`
	return scanWhale(s.pool.QueryRow(ctx, query, whaleID))
}

// UpsertWhale inserts a whale or refreshes its display name and priority on
// identity conflict. Used by leaderboard discovery.
func (s *Store) UpsertWhale(ctx context.Context, w *Whale) error {
	query := `
		INSERT INTO whales (
			id, venue, venue_uid, wallet_address, display_name, kind,
			data_status, priority_score, polling_interval_seconds,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (venue, venue_uid) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    priority_score = GREATEST(whales.priority_score, EXCLUDED.priority_score),
		    updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		w.ID, w.Venue, w.VenueUID, w.WalletAddress, w.DisplayName, w.Kind,
		w.DataStatus, w.PriorityScore, w.PollingIntervalSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert whale: %w", err)
	}
	return nil
}

// whaleEligible excludes whales whose sharing or rate-limit backoff has not
// elapsed, and skips whales polled more recently than their own interval
const whaleEligible = `
	(
	  data_status = 'ACTIVE'
	  OR (data_status = 'SHARING_DISABLED' AND sharing_recheck_at <= NOW())
	  OR (data_status = 'RATE_LIMITED' AND (rate_limited_until IS NULL OR rate_limited_until <= NOW()))
	)
	AND (last_checked_at IS NULL OR last_checked_at <= NOW() - make_interval(secs => polling_interval_seconds))`

// SelectForTier returns up to limit whales eligible for one scheduler tier,
// hottest first. Tiers partition on priority_score except critical, which is
// driven by active auto-copy followers with recent whale activity.
func (s *Store) SelectForTier(ctx context.Context, tier PollTier, limit int) ([]*Whale, error) {
	var filter string
	switch tier {
	case TierCritical:
		filter = `
			EXISTS (
				SELECT 1 FROM whale_follows wf
				JOIN users u ON u.id = wf.user_id
				WHERE wf.whale_id = whales.id AND wf.active AND wf.auto_copy_enabled
				  AND u.is_active AND NOT u.is_banned
			)
			AND last_position_found_at >= NOW() - INTERVAL '24 hours'`
	case TierHigh:
		filter = `priority_score >= 70`
	case TierNormal:
		filter = `priority_score >= 30 AND priority_score < 70`
	case TierLow:
		filter = `priority_score < 30`
	default:
		return nil, fmt.Errorf("unknown poll tier: %s", tier)
	}

	query := `SELECT` + whaleColumns + ` FROM whales WHERE ` + whaleEligible + `
		AND ` + filter + `
		ORDER BY priority_score DESC, last_checked_at ASC NULLS FIRST
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select whales for tier %s: %w", tier, err)
	}
	return scanWhales(rows)
}

// RecordPositionsFound resets the empty-check streak and restores ACTIVE
// after a poll that returned positions
func (s *Store) RecordPositionsFound(ctx context.Context, whaleID uuid.UUID) error {
	query := `
		UPDATE whales
		SET consecutive_empty_checks = 0,
		    data_status = 'ACTIVE',
		    sharing_disabled_at = NULL,
		    sharing_recheck_at = NULL,
		    last_position_found_at = NOW(),
		    last_checked_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, whaleID); err != nil {
		return fmt.Errorf("failed to record positions found: %w", err)
	}
	return nil
}

// RecordEmptyCheck increments the empty-check streak; once the streak reaches
// limit the whale flips to SHARING_DISABLED with a recheck scheduled after
// recheckAfter. Returns the new streak value.
func (s *Store) RecordEmptyCheck(ctx context.Context, whaleID uuid.UUID, limit int, recheckAfter time.Duration) (int, error) {
	query := `
		UPDATE whales
		SET consecutive_empty_checks = consecutive_empty_checks + 1,
		    data_status = CASE WHEN consecutive_empty_checks + 1 >= $2 THEN 'SHARING_DISABLED' ELSE data_status END,
		    sharing_disabled_at = CASE WHEN consecutive_empty_checks + 1 >= $2 THEN NOW() ELSE sharing_disabled_at END,
		    sharing_recheck_at = CASE WHEN consecutive_empty_checks + 1 >= $2 THEN NOW() + $3::interval ELSE sharing_recheck_at END,
		    last_checked_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING consecutive_empty_checks
	`
	var count int
	err := s.pool.QueryRow(ctx, query, whaleID, limit, recheckAfter.String()).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record empty check: %w", err)
	}

	if count >= limit {
		log.Warn().
			Str("whale_id", whaleID.String()).
			Int("empty_checks", count).
			Msg("Whale marked SHARING_DISABLED")
	}
	return count, nil
}

// MarkRateLimited puts a whale into a short rate-limit cooldown
func (s *Store) MarkRateLimited(ctx context.Context, whaleID uuid.UUID, until time.Time) error {
	query := `
		UPDATE whales
		SET data_status = 'RATE_LIMITED',
		    rate_limited_until = $2,
		    last_checked_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, whaleID, until); err != nil {
		return fmt.Errorf("failed to mark whale rate limited: %w", err)
	}
	return nil
}

// TouchChecked updates last_checked_at after a poll whose outcome changes no
// other whale state (transient adapter errors)
func (s *Store) TouchChecked(ctx context.Context, whaleID uuid.UUID) error {
	query := `UPDATE whales SET last_checked_at = NOW(), updated_at = NOW() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, whaleID); err != nil {
		return fmt.Errorf("failed to touch whale: %w", err)
	}
	return nil
}

// FollowerFlags summarizes a whale's follower context for signal priority
type FollowerFlags struct {
	HasActive   bool
	HasAutoCopy bool
}

// GetFollowerFlags reports whether at least one active, unbanned user
// follows the whale, and whether any of them auto-copies. Drives signal
// priority.
func (s *Store) GetFollowerFlags(ctx context.Context, whaleID uuid.UUID) (FollowerFlags, error) {
	var f FollowerFlags
	query := `
		SELECT
			COUNT(*) > 0,
			COUNT(*) FILTER (WHERE wf.auto_copy_enabled) > 0
		FROM whale_follows wf
		JOIN users u ON u.id = wf.user_id
		WHERE wf.whale_id = $1 AND wf.active
		  AND u.is_active AND NOT u.is_banned
	`
	if err := s.pool.QueryRow(ctx, query, whaleID).Scan(&f.HasActive, &f.HasAutoCopy); err != nil {
		return f, fmt.Errorf("failed to check followers: %w", err)
	}
	return f, nil
}

const followerColumns = `
	wf.user_id, wf.whale_id, wf.auto_copy_enabled, wf.trade_size_usdt,
	wf.trade_size_percent, wf.leverage_override, wf.copy_whale_leverage,
	wf.stop_loss_percent, wf.take_profit_percent, wf.active, wf.created_at,` +
	userColumnsPrefixed + `,` + settingsColumnsPrefixed

const userColumnsPrefixed = `
	u.id, u.external_id, u.subscription_tier, u.subscription_expires_at,
	u.is_active, u.is_banned, u.total_balance, u.available_balance,
	u.two_factor_enabled, u.created_at, u.updated_at`

const settingsColumnsPrefixed = `
	us.user_id, us.trading_mode, us.preferred_venue, us.auto_copy_enabled,
	us.default_trade_size_usdt, us.max_trade_size_usdt, us.stop_loss_percent,
	us.take_profit_percent, us.daily_loss_limit_usdt, us.max_open_positions,
	us.default_leverage, us.max_leverage, us.auto_close_on_tp, us.auto_close_on_whale_exit`

func scanFollowers(rows pgx.Rows) ([]*Follower, error) {
	defer rows.Close()
	var followers []*Follower
	for rows.Next() {
		var f Follower
		err := rows.Scan(
			&f.Follow.UserID, &f.Follow.WhaleID, &f.Follow.AutoCopyEnabled, &f.Follow.TradeSizeUSDT,
			&f.Follow.TradeSizePercent, &f.Follow.LeverageOverride, &f.Follow.CopyWhaleLeverage,
			&f.Follow.StopLossPercent, &f.Follow.TakeProfitPercent, &f.Follow.Active, &f.Follow.CreatedAt,
			&f.User.ID, &f.User.ExternalID, &f.User.SubscriptionTier, &f.User.SubscriptionExpiresAt,
			&f.User.IsActive, &f.User.IsBanned, &f.User.TotalBalance, &f.User.AvailableBalance,
			&f.User.TwoFactorEnabled, &f.User.CreatedAt, &f.User.UpdatedAt,
			&f.Settings.UserID, &f.Settings.TradingMode, &f.Settings.PreferredVenue, &f.Settings.AutoCopyEnabled,
			&f.Settings.DefaultTradeSizeUSDT, &f.Settings.MaxTradeSizeUSDT, &f.Settings.StopLossPercent,
			&f.Settings.TakeProfitPercent, &f.Settings.DailyLossLimitUSDT, &f.Settings.MaxOpenPositions,
			&f.Settings.DefaultLeverage, &f.Settings.MaxLeverage, &f.Settings.AutoCloseOnTP, &f.Settings.AutoCloseOnWhaleExit,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan follower: %w", err)
		}
		followers = append(followers, &f)
	}
	return followers, rows.Err()
}

// OpeningFollowers enumerates the followers eligible for an opening signal:
// active auto-copy follows of active, unbanned users who registered a
// working credential for the venue
func (s *Store) OpeningFollowers(ctx context.Context, whaleID uuid.UUID, v venue.Venue) ([]*Follower, error) {
	query := `SELECT` + followerColumns + `
		FROM whale_follows wf
		JOIN users u ON u.id = wf.user_id
		JOIN user_settings us ON us.user_id = wf.user_id
		WHERE wf.whale_id = $1 AND wf.active AND wf.auto_copy_enabled
		  AND u.is_active AND NOT u.is_banned
		  AND EXISTS (
			SELECT 1 FROM user_venue_credentials uvc
			WHERE uvc.user_id = u.id AND uvc.venue = $2 AND NOT uvc.broken
		  )
		ORDER BY wf.created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, whaleID, v)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate opening followers: %w", err)
	}
	return scanFollowers(rows)
}

// ClosingFollowers enumerates the followers eligible for a closing signal:
// active follows of users with auto_close_on_whale_exit who hold an OPEN
// position linked to this whale and symbol
func (s *Store) ClosingFollowers(ctx context.Context, whaleID uuid.UUID, symbol string, market venue.Market) ([]*Follower, error) {
	query := `SELECT` + followerColumns + `
		FROM whale_follows wf
		JOIN users u ON u.id = wf.user_id
		JOIN user_settings us ON us.user_id = wf.user_id
		WHERE wf.whale_id = $1 AND wf.active
		  AND u.is_active AND NOT u.is_banned
		  AND us.auto_close_on_whale_exit
		  AND EXISTS (
			SELECT 1 FROM positions p
			WHERE p.user_id = u.id AND p.whale_id = $1
			  AND p.symbol = $2 AND p.market = $3 AND p.status = 'OPEN'
		  )
		ORDER BY wf.created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, whaleID, symbol, market)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate closing followers: %w", err)
	}
	return scanFollowers(rows)
}

// GetFollower loads one (follow, user, settings) row for manual copy
func (s *Store) GetFollower(ctx context.Context, userID, whaleID uuid.UUID) (*Follower, error) {
	query := `SELECT` + followerColumns + `
		FROM whale_follows wf
		JOIN users u ON u.id = wf.user_id
		JOIN user_settings us ON us.user_id = wf.user_id
		WHERE wf.user_id = $1 AND wf.whale_id = $2
	`
	rows, err := s.pool.Query(ctx, query, userID, whaleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load follower: %w", err)
	}
	followers, err := scanFollowers(rows)
	if err != nil {
		return nil, err
	}
	if len(followers) == 0 {
		return nil, ErrNotFound
	}
	return followers[0], nil
}

// UpsertFollow creates or updates a follow relationship
func (s *Store) UpsertFollow(ctx context.Context, f *WhaleFollow) error {
	query := `
		INSERT INTO whale_follows (
			user_id, whale_id, auto_copy_enabled, trade_size_usdt,
			trade_size_percent, leverage_override, copy_whale_leverage,
			stop_loss_percent, take_profit_percent, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, NOW())
		ON CONFLICT (user_id, whale_id) DO UPDATE
		SET auto_copy_enabled = EXCLUDED.auto_copy_enabled,
		    trade_size_usdt = EXCLUDED.trade_size_usdt,
		    trade_size_percent = EXCLUDED.trade_size_percent,
		    leverage_override = EXCLUDED.leverage_override,
		    copy_whale_leverage = EXCLUDED.copy_whale_leverage,
		    stop_loss_percent = EXCLUDED.stop_loss_percent,
		    take_profit_percent = EXCLUDED.take_profit_percent,
		    active = TRUE
	`
	_, err := s.pool.Exec(ctx, query,
		f.UserID, f.WhaleID, f.AutoCopyEnabled, f.TradeSizeUSDT,
		f.TradeSizePercent, f.LeverageOverride, f.CopyWhaleLeverage,
		f.StopLossPercent, f.TakeProfitPercent,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert follow: %w", err)
	}
	return nil
}

// DeactivateFollow soft-deletes a follow; open positions stay untouched
func (s *Store) DeactivateFollow(ctx context.Context, userID, whaleID uuid.UUID) error {
	query := `UPDATE whale_follows SET active = FALSE WHERE user_id = $1 AND whale_id = $2`
	tag, err := s.pool.Exec(ctx, query, userID, whaleID)
	if err != nil {
		return fmt.Errorf("failed to deactivate follow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountFollowedWhales counts a user's active follows, for tier limits
func (s *Store) CountFollowedWhales(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM whale_follows WHERE user_id = $1 AND active`
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count follows: %w", err)
	}
	return count, nil
}
