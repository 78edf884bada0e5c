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
	"github.com/ajitpratap0/whalecopy/internal/risk"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// quantityPrecision is the fractional digits kept on computed base
// quantities
const quantityPrecision = 8

// marginAsset is the quote asset reserved as futures margin
const marginAsset = "USDT"

// errRiskRejected aborts the Phase-1 transaction without writing rows; a
// risk rejection is a business outcome, not a failure
var errRiskRejected = errors.New("risk rejected")

// execOutcome classifies one follower's result for signal accounting
type execOutcome int

const (
	execExecuted execOutcome = iota
	execSkipped
	execFailed
)

type followerResult struct {
	outcome execOutcome
	err     error
}

func skipped() followerResult         { return followerResult{outcome: execSkipped} }
func failed(err error) followerResult { return followerResult{outcome: execFailed, err: err} }

// clientOrderID derives the deterministic venue client order id for a
// trade, so reconciliation can recover an orphaned Phase 2
func clientOrderID(tradeID uuid.UUID) string {
	return "wc-" + tradeID.String()
}

// executeFollower runs one follower's copy of a signal
func (e *Engine) executeFollower(ctx context.Context, sig *store.Signal, f *store.Follower) followerResult {
	if sig.IsClose {
		return e.closeForFollower(ctx, sig, f)
	}
	return e.openForFollower(ctx, sig, f, decimal.Zero)
}

// modeAllows checks the user's trading mode against the signal's market
func modeAllows(mode store.TradingMode, market venue.Market) bool {
	switch mode {
	case store.TradingModeSpot:
		return market == venue.MarketSpot
	case store.TradingModeFutures:
		return market.IsFutures()
	default:
		return true
	}
}

// openForFollower performs the two-phase commit for one opening trade.
// requestedSize overrides the sizing precedence for manual copies; zero
// means compute it.
func (e *Engine) openForFollower(ctx context.Context, sig *store.Signal, f *store.Follower, requestedSize decimal.Decimal) followerResult {
	logger := e.logger.With().
		Str("signal_id", sig.ID.String()).
		Str("user_id", f.User.ID.String()).
		Str("symbol", sig.Symbol).
		Logger()

	if !modeAllows(f.Settings.TradingMode, sig.Market) {
		logger.Debug().Str("trading_mode", string(f.Settings.TradingMode)).Msg("Signal market outside user trading mode")
		return skipped()
	}

	adapter, ok := e.adapter(sig.Venue)
	if !ok {
		return failed(fmt.Errorf("no adapter for venue %s", sig.Venue))
	}

	// Per-follower idempotency: a crashed worker's retry must not place a
	// second order for the same (signal, user)
	lock, err := e.locks.Acquire(ctx, idempotency.Key("trade", sig.ID.String(), f.User.ID.String()), e.cfg.TradeLockTTL)
	if err != nil {
		return failed(err)
	}
	if lock.AlreadyCompleted || !lock.Acquired {
		return skipped()
	}
	defer func() { _ = e.locks.Release(ctx, lock.Token) }()

	// At most one OPEN position per (user, venue, symbol, market)
	if _, err := e.store.GetOpenPosition(ctx, f.User.ID, sig.Venue, sig.Symbol, sig.Market); err == nil {
		logger.Debug().Msg("User already holds a position for this key")
		return skipped()
	} else if !errors.Is(err, store.ErrNotFound) {
		return failed(err)
	}

	dailyLoss, err := e.store.DailyRealizedLoss(ctx, f.User.ID)
	if err != nil {
		return failed(err)
	}
	openCount, err := e.store.CountOpenPositions(ctx, f.User.ID)
	if err != nil {
		return failed(err)
	}

	price, err := e.signalPrice(ctx, adapter, sig)
	if err != nil {
		return failed(err)
	}

	credentials, err := e.creds.Get(ctx, f.User.ID, sig.Venue)
	if err != nil {
		if errors.Is(err, creds.ErrNotFound) {
			logger.Warn().Msg("User has no credential for signal venue")
			return skipped()
		}
		return failed(err)
	}

	// Phase 1: lock the user, re-check risk against the fresh balance,
	// create the PENDING trade and reserve its value
	var trade *store.Trade
	var riskReason string
	err = e.store.InTx(ctx, func(tx pgx.Tx) error {
		user, err := e.store.LockUser(ctx, tx, f.User.ID)
		if err != nil {
			return err
		}

		res := e.risk.Check(risk.Input{
			User:          user,
			Settings:      &f.Settings,
			Follow:        &f.Follow,
			Signal:        sig,
			Venue:         sig.Venue,
			Market:        sig.Market,
			RequestedSize: requestedSize,
			DailyLoss:     dailyLoss,
			OpenPositions: openCount,
		})
		if !res.Allowed {
			riskReason = res.Reason
			return errRiskRejected
		}

		side := venue.Side(sig.Action)
		if sig.Market.IsFutures() {
			side = venue.SideLong
			if sig.Action == store.SignalActionSell {
				side = venue.SideShort
			}
		}

		leverage := res.Leverage
		quantity := res.Size.
			Mul(decimal.NewFromInt(int64(leverage))).
			DivRound(price, quantityPrecision)

		trade = &store.Trade{
			ID:                uuid.New(),
			UserID:            user.ID,
			SignalID:          &sig.ID,
			WhaleID:           sig.WhaleID,
			Venue:             sig.Venue,
			Market:            sig.Market,
			Symbol:            sig.Symbol,
			Side:              side,
			OrderType:         store.OrderTypeMarket,
			RequestedQuantity: quantity,
			TradeValueUSDT:    res.Size,
			Leverage:          &leverage,
		}
		trade.ClientOrderID = clientOrderID(trade.ID)

		if err := e.store.InsertTrade(ctx, tx, trade); err != nil {
			return err
		}
		return e.store.ReserveBalance(ctx, tx, user.ID, res.Size)
	})
	if errors.Is(err, errRiskRejected) {
		logger.Info().Str("reason", riskReason).Msg("Risk check rejected follower")
		return skipped()
	}
	if err != nil {
		return failed(err)
	}

	res := e.placeAndConfirm(ctx, adapter, credentials, sig, f, trade)
	if res.outcome == execExecuted {
		_ = e.locks.MarkCompleted(ctx, lock.Token, "trade="+trade.ID.String(), completionMarkerTTL)
	}
	return res
}

// placeAndConfirm runs the exchange call and Phase 2 for an opening trade
func (e *Engine) placeAndConfirm(ctx context.Context, adapter venue.Adapter, credentials *venue.Credentials, sig *store.Signal, f *store.Follower, trade *store.Trade) followerResult {
	logger := e.logger.With().
		Str("trade_id", trade.ID.String()).
		Str("user_id", trade.UserID.String()).
		Str("symbol", trade.Symbol).
		Logger()

	// The exchange call runs outside any DB transaction
	if err := e.store.TransitionTrade(ctx, trade.ID, store.TradeStatusPending, store.TradeStatusExecuting, 0); err != nil {
		return failed(err)
	}
	version := 1

	if trade.Market.IsFutures() {
		if err := adapter.SetLeverage(ctx, credentials, trade.Symbol, *trade.Leverage, trade.Market); err != nil {
			return e.rollbackOrPark(ctx, trade, version, trade.TradeValueUSDT, err)
		}
		e.ensureFuturesMargin(ctx, adapter, credentials, trade)
	}

	var result *venue.OrderResult
	var err error
	if trade.Market.IsFutures() {
		result, err = adapter.PlaceFuturesMarket(ctx, credentials, trade.Symbol, trade.Side, trade.RequestedQuantity, trade.Market, trade.ClientOrderID)
	} else {
		result, err = adapter.PlaceSpotMarket(ctx, credentials, trade.Symbol, trade.Side, decimal.Zero, trade.TradeValueUSDT, trade.ClientOrderID)
	}
	if err != nil {
		if errors.Is(err, venue.ErrAuthFailure) {
			_ = e.store.MarkCredentialBroken(ctx, trade.UserID, string(trade.Venue))
		}
		return e.rollbackOrPark(ctx, trade, version, trade.TradeValueUSDT, err)
	}

	// Phase 2: confirm the fill and open the position atomically
	var buf events.Buffer
	position := e.buildPosition(sig, f, trade, result)
	err = e.store.InTx(ctx, func(tx pgx.Tx) error {
		if err := e.store.FillTrade(ctx, tx, trade.ID, store.TradeStatusExecuting, version, result.VenueOrderID, result.FilledPrice, result.FilledQuantity, result.Fee); err != nil {
			return err
		}
		return e.store.InsertPosition(ctx, tx, position)
	})
	if err != nil {
		// The venue filled but the confirm failed; never refund here, the
		// reconciler owns the outcome
		logger.Error().Err(err).Msg("Phase-2 confirm failed after fill")
		_ = e.store.MarkNeedsReconciliation(ctx, trade.ID, store.TradeStatusExecuting, version, err.Error())
		return failed(err)
	}

	te := events.New(events.TradeExecuted)
	te.UserID = &trade.UserID
	te.WhaleID = trade.WhaleID
	te.SignalID = &sig.ID
	te.TradeID = &trade.ID
	te.Venue = trade.Venue
	te.Symbol = trade.Symbol
	te.Side = trade.Side
	te.Price = &result.FilledPrice
	te.Quantity = &result.FilledQuantity
	buf.Add(te)

	pe := events.New(events.PositionOpened)
	pe.UserID = &trade.UserID
	pe.WhaleID = trade.WhaleID
	pe.PositionID = &position.ID
	pe.Venue = trade.Venue
	pe.Symbol = trade.Symbol
	pe.Side = position.Side
	pe.Price = &result.FilledPrice
	pe.Quantity = &result.FilledQuantity
	buf.Add(pe)
	buf.FlushTo(e.bus)

	metrics.TradesTotal.WithLabelValues(string(trade.Venue), string(store.TradeStatusFilled)).Inc()
	logger.Info().
		Str("venue_order_id", result.VenueOrderID).
		Str("filled_price", result.FilledPrice.String()).
		Str("filled_quantity", result.FilledQuantity.String()).
		Msg("Copy trade filled")

	e.placeStopLoss(ctx, adapter, credentials, position)
	return followerResult{outcome: execExecuted}
}

// ensureFuturesMargin tops up the futures wallet from spot when it cannot
// cover the trade's reserved value. Best effort: on venues with a unified
// wallet there is nothing to move, and when the check or transfer fails
// the order placement renders the verdict.
func (e *Engine) ensureFuturesMargin(ctx context.Context, adapter venue.Adapter, credentials *venue.Credentials, trade *store.Trade) {
	available, err := adapter.GetFuturesAvailable(ctx, credentials, marginAsset, trade.Market)
	if errors.Is(err, venue.ErrUnsupported) {
		return
	}
	if err != nil {
		e.logger.Warn().Err(err).
			Str("trade_id", trade.ID.String()).
			Msg("Futures wallet check failed, placing order anyway")
		return
	}
	if available.GreaterThanOrEqual(trade.TradeValueUSDT) {
		return
	}

	deficit := trade.TradeValueUSDT.Sub(available)
	if err := adapter.TransferToFutures(ctx, credentials, marginAsset, deficit, trade.Market); err != nil {
		if !errors.Is(err, venue.ErrUnsupported) {
			e.logger.Warn().Err(err).
				Str("trade_id", trade.ID.String()).
				Str("amount", deficit.String()).
				Msg("Spot to futures transfer failed, placing order anyway")
		}
		return
	}
	e.logger.Info().
		Str("trade_id", trade.ID.String()).
		Str("amount", deficit.String()).
		Msg("Topped up futures wallet from spot")
}

// rollbackOrPark decides a failing trade's fate. Terminal venue errors and
// an open circuit mean the order never existed: fail and refund. Anything
// ambiguous parks the trade for the reconciler with the reservation held.
func (e *Engine) rollbackOrPark(ctx context.Context, trade *store.Trade, version int, refund decimal.Decimal, cause error) followerResult {
	if venue.IsTerminal(cause) || errors.Is(cause, venue.ErrCircuitOpen) {
		err := e.store.InTx(ctx, func(tx pgx.Tx) error {
			if err := e.store.FailTrade(ctx, tx, trade.ID, store.TradeStatusExecuting, version, cause.Error()); err != nil {
				return err
			}
			if refund.IsPositive() {
				return e.store.RefundBalance(ctx, tx, trade.UserID, refund)
			}
			return nil
		})
		if err != nil {
			return failed(err)
		}

		fe := events.New(events.TradeFailed)
		fe.UserID = &trade.UserID
		fe.TradeID = &trade.ID
		fe.Venue = trade.Venue
		fe.Symbol = trade.Symbol
		fe.Reason = cause.Error()
		e.bus.Publish(fe)

		metrics.TradesTotal.WithLabelValues(string(trade.Venue), string(store.TradeStatusFailed)).Inc()
		return failed(cause)
	}

	// Unknown outcome: the venue may have accepted the order
	if err := e.store.MarkNeedsReconciliation(ctx, trade.ID, store.TradeStatusExecuting, version, cause.Error()); err != nil {
		return failed(err)
	}
	metrics.TradesTotal.WithLabelValues(string(trade.Venue), string(store.TradeStatusNeedsReconciliation)).Inc()
	return failed(cause)
}

// buildPosition derives the position row for a filled opening trade,
// including local stop-loss and take-profit levels
func (e *Engine) buildPosition(sig *store.Signal, f *store.Follower, trade *store.Trade, result *venue.OrderResult) *store.Position {
	side := venue.SideLong
	if trade.Side == venue.SideShort || trade.Side == venue.SideSell {
		side = venue.SideShort
	}
	if trade.Market == venue.MarketSpot {
		side = venue.SideLong
	}

	leverage := 1
	if trade.Leverage != nil {
		leverage = *trade.Leverage
	}

	p := &store.Position{
		ID:           uuid.New(),
		UserID:       trade.UserID,
		WhaleID:      trade.WhaleID,
		EntryTradeID: trade.ID,
		Venue:        trade.Venue,
		Market:       trade.Market,
		Symbol:       trade.Symbol,
		Side:         side,
		Leverage:     leverage,
		EntryPrice:   result.FilledPrice,
		Quantity:     result.FilledQuantity,
	}

	slPct := f.Settings.StopLossPercent
	if f.Follow.StopLossPercent != nil {
		slPct = *f.Follow.StopLossPercent
	}
	if slPct.IsPositive() {
		sl := offsetPrice(result.FilledPrice, slPct, side, false)
		p.StopLossPrice = &sl
	}

	tpPct := f.Settings.TakeProfitPercent
	if f.Follow.TakeProfitPercent != nil {
		tpPct = f.Follow.TakeProfitPercent
	}
	if tpPct != nil && tpPct.IsPositive() {
		tp := offsetPrice(result.FilledPrice, *tpPct, side, true)
		p.TakeProfitPrice = &tp
	}

	return p
}

// offsetPrice shifts entry by pct percent against (stop) or with (profit)
// the position's direction
func offsetPrice(entry, pct decimal.Decimal, side venue.Side, profit bool) decimal.Decimal {
	frac := pct.Div(decimal.NewFromInt(100))
	down := entry.Mul(decimal.NewFromInt(1).Sub(frac))
	up := entry.Mul(decimal.NewFromInt(1).Add(frac))

	long := side == venue.SideLong
	if profit == long {
		return up
	}
	return down
}

// placeStopLoss tries a server-side stop; venues without one keep the
// local stop_loss_price for the monitor to trigger
func (e *Engine) placeStopLoss(ctx context.Context, adapter venue.Adapter, credentials *venue.Credentials, p *store.Position) {
	if p.StopLossPrice == nil {
		return
	}
	orderID, err := adapter.PlaceStopLoss(ctx, credentials, p.Symbol, p.Side, p.Quantity, *p.StopLossPrice, p.Market)
	if errors.Is(err, venue.ErrUnsupported) {
		return
	}
	if err != nil {
		e.logger.Warn().Err(err).
			Str("position_id", p.ID.String()).
			Msg("Server-side stop rejected, falling back to local trigger")
		return
	}
	if err := e.store.SetStopLossOrder(ctx, p.ID, orderID); err != nil {
		e.logger.Error().Err(err).Str("position_id", p.ID.String()).Msg("Failed to record stop order id")
	}
}

// signalPrice resolves the reference price used for quantity computation
func (e *Engine) signalPrice(ctx context.Context, adapter venue.Adapter, sig *store.Signal) (decimal.Decimal, error) {
	if sig.PriceAtSignal != nil && sig.PriceAtSignal.IsPositive() {
		return *sig.PriceAtSignal, nil
	}
	price, err := adapter.GetTicker(ctx, sig.Symbol, sig.Market)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to price signal: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("venue returned non-positive price for %s", sig.Symbol)
	}
	return price, nil
}
