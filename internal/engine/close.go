package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/creds"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/idempotency"
	"github.com/ajitpratap0/whalecopy/internal/metrics"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// closeForFollower closes the follower's position linked to a whale exit
func (e *Engine) closeForFollower(ctx context.Context, sig *store.Signal, f *store.Follower) followerResult {
	position, err := e.store.GetOpenPosition(ctx, f.User.ID, sig.Venue, sig.Symbol, sig.Market)
	if errors.Is(err, store.ErrNotFound) {
		return skipped()
	}
	if err != nil {
		return failed(err)
	}
	if err := e.ClosePosition(ctx, position.ID, store.CloseReasonWhaleExit, &sig.ID); err != nil {
		return failed(err)
	}
	return followerResult{outcome: execExecuted}
}

// ClosePosition closes one open position under the same two-phase commit as
// an open: a PENDING exit trade, the venue call outside any transaction,
// then a version-checked confirm that settles the balance. Idempotent per
// position via the close lock; callers are the dispatcher (whale exit), the
// monitor (stop-loss, take-profit, reconciliation) and the command API.
func (e *Engine) ClosePosition(ctx context.Context, positionID uuid.UUID, reason store.CloseReason, signalID *uuid.UUID) error {
	lock, err := e.locks.Acquire(ctx, idempotency.Key("close_position", positionID.String()), e.cfg.CloseLockTTL)
	if err != nil {
		return err
	}
	if lock.AlreadyCompleted || !lock.Acquired {
		return nil
	}
	defer func() { _ = e.locks.Release(ctx, lock.Token) }()

	position, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if position.Status != store.PositionStatusOpen {
		return nil
	}

	adapter, ok := e.adapter(position.Venue)
	if !ok {
		return fmt.Errorf("no adapter for venue %s", position.Venue)
	}
	credentials, err := e.creds.Get(ctx, position.UserID, position.Venue)
	if err != nil {
		if errors.Is(err, creds.ErrNotFound) {
			return fmt.Errorf("user %s has no credential for %s", position.UserID, position.Venue)
		}
		return err
	}

	// The entry trade's reservation is what settles back on close
	entryTrade, err := e.store.GetTrade(ctx, position.EntryTradeID)
	if err != nil {
		return err
	}
	entryFee := decimal.Zero
	if entryTrade.Fee != nil {
		entryFee = *entryTrade.Fee
	}

	// Phase 1: create the PENDING exit trade. Nothing new is reserved.
	var exitTrade *store.Trade
	err = e.store.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := e.store.LockUser(ctx, tx, position.UserID); err != nil {
			return err
		}
		exitTrade = &store.Trade{
			ID:                uuid.New(),
			UserID:            position.UserID,
			SignalID:          signalID,
			WhaleID:           position.WhaleID,
			Venue:             position.Venue,
			Market:            position.Market,
			Symbol:            position.Symbol,
			Side:              position.Side.Closing(),
			OrderType:         store.OrderTypeMarket,
			RequestedQuantity: position.Quantity,
			TradeValueUSDT:    decimal.Zero,
			Leverage:          &position.Leverage,
		}
		exitTrade.ClientOrderID = clientOrderID(exitTrade.ID)
		return e.store.InsertTrade(ctx, tx, exitTrade)
	})
	if err != nil {
		return err
	}

	if err := e.store.TransitionTrade(ctx, exitTrade.ID, store.TradeStatusPending, store.TradeStatusExecuting, 0); err != nil {
		return err
	}
	version := 1

	var result *venue.OrderResult
	if position.Market.IsFutures() {
		result, err = adapter.CloseFuturesPosition(ctx, credentials, position.Symbol, position.Side, position.Quantity, position.Market, exitTrade.ClientOrderID)
	} else {
		result, err = adapter.PlaceSpotMarket(ctx, credentials, position.Symbol, venue.SideSell, position.Quantity, decimal.Zero, exitTrade.ClientOrderID)
	}
	if err != nil {
		if errors.Is(err, venue.ErrAuthFailure) {
			_ = e.store.MarkCredentialBroken(ctx, position.UserID, string(position.Venue))
		}
		// A close failure leaves the position open; no reservation to refund
		res := e.rollbackOrPark(ctx, exitTrade, version, decimal.Zero, err)
		return res.err
	}

	realized := RealizedPnL(position, result.FilledPrice).Sub(entryFee).Sub(result.Fee)

	var buf events.Buffer
	err = e.store.InTx(ctx, func(tx pgx.Tx) error {
		if err := e.store.FillTrade(ctx, tx, exitTrade.ID, store.TradeStatusExecuting, version, result.VenueOrderID, result.FilledPrice, result.FilledQuantity, result.Fee); err != nil {
			return err
		}
		if err := e.store.SetTradePnL(ctx, tx, exitTrade.ID, realized); err != nil {
			return err
		}
		if err := e.store.ClosePosition(ctx, tx, position.ID, position.Version, exitTrade.ID, result.FilledPrice, realized, reason); err != nil {
			return err
		}
		return e.store.SettleBalance(ctx, tx, position.UserID, entryTrade.TradeValueUSDT, realized)
	})
	if err != nil {
		e.logger.Error().Err(err).
			Str("trade_id", exitTrade.ID.String()).
			Str("position_id", position.ID.String()).
			Msg("Phase-2 close confirm failed after fill")
		_ = e.store.MarkNeedsReconciliation(ctx, exitTrade.ID, store.TradeStatusExecuting, version, err.Error())
		return err
	}

	te := events.New(events.TradeExecuted)
	te.UserID = &position.UserID
	te.WhaleID = position.WhaleID
	te.TradeID = &exitTrade.ID
	te.SignalID = signalID
	te.Venue = position.Venue
	te.Symbol = position.Symbol
	te.Side = exitTrade.Side
	te.Price = &result.FilledPrice
	te.Quantity = &result.FilledQuantity
	buf.Add(te)

	pc := events.New(events.PositionClosed)
	pc.UserID = &position.UserID
	pc.WhaleID = position.WhaleID
	pc.PositionID = &position.ID
	pc.Venue = position.Venue
	pc.Symbol = position.Symbol
	pc.Side = position.Side
	pc.Price = &result.FilledPrice
	pc.PnL = &realized
	pc.Reason = string(reason)
	buf.Add(pc)
	buf.FlushTo(e.bus)

	metrics.TradesTotal.WithLabelValues(string(position.Venue), string(store.TradeStatusFilled)).Inc()
	e.logger.Info().
		Str("position_id", position.ID.String()).
		Str("exit_price", result.FilledPrice.String()).
		Str("realized_pnl", realized.String()).
		Str("close_reason", string(reason)).
		Msg("Position closed")

	_ = e.locks.MarkCompleted(ctx, lock.Token, "trade="+exitTrade.ID.String(), completionMarkerTTL)
	return nil
}

// RealizedPnL computes the gross profit of closing a position at exitPrice:
// (exit - entry) * quantity * direction * leverage. Fees are deducted by
// the caller, which knows both legs.
func RealizedPnL(p *store.Position, exitPrice decimal.Decimal) decimal.Decimal {
	return exitPrice.Sub(p.EntryPrice).
		Mul(p.Quantity).
		Mul(decimal.NewFromInt(p.Side.Direction())).
		Mul(decimal.NewFromInt(int64(p.Leverage)))
}

// UnrealizedPnL computes the mark-to-market profit of an open position
func UnrealizedPnL(p *store.Position, price decimal.Decimal) decimal.Decimal {
	return RealizedPnL(p, price)
}
