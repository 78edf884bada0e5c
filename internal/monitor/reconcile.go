package monitor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/creds"
	"github.com/ajitpratap0/whalecopy/internal/engine"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/metrics"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// reconcileBatch bounds how many trades one sweep resolves per list
const reconcileBatch = 50

// reconcile runs the trade-recovery sweeps in order: parked trades first,
// then stale PENDING, then stuck EXECUTING, then externally closed positions
func (m *Monitor) reconcile(ctx context.Context) {
	m.resolveParked(ctx)
	m.failStalePending(ctx)
	m.parkStuckExecuting(ctx)
	m.detectExternalCloses(ctx)
}

// resolveParked settles trades in NEEDS_RECONCILIATION by asking the venue
// what became of the client order id
func (m *Monitor) resolveParked(ctx context.Context) {
	trades, err := m.store.ListNeedsReconciliation(ctx, reconcileBatch)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list parked trades")
		return
	}

	for _, trade := range trades {
		if err := m.resolveTrade(ctx, trade); err != nil {
			m.logger.Warn().Err(err).
				Str("trade_id", trade.ID.String()).
				Msg("Parked trade left for next sweep")
		}
	}
}

func (m *Monitor) resolveTrade(ctx context.Context, trade *store.Trade) error {
	adapter, err := m.adapterFor(trade.Venue)
	if err != nil {
		return err
	}
	credentials, err := m.creds.Get(ctx, trade.UserID, trade.Venue)
	if err != nil {
		if errors.Is(err, creds.ErrNotFound) {
			// No credential means we can never confirm the order; give up
			// and hold the reservation for manual resolution
			return m.deadLetter(ctx, trade, "credential missing during reconciliation")
		}
		return err
	}

	lookup, err := adapter.GetOrderByClientID(ctx, credentials, trade.Symbol, trade.ClientOrderID, trade.Market)
	if errors.Is(err, venue.ErrOrderNotFound) {
		// The order never reached the venue: the Phase-1 reservation can be
		// returned safely
		return m.failAndRefund(ctx, trade, "order not found at venue")
	}
	if err != nil {
		return err
	}

	switch lookup.Status {
	case venue.OrderStateFilled:
		if trade.TradeValueUSDT.IsZero() {
			return m.completeClose(ctx, trade, lookup)
		}
		return m.completeOpen(ctx, trade, lookup)
	case venue.OrderStateCanceled, venue.OrderStateRejected:
		return m.failAndRefund(ctx, trade, "order "+string(lookup.Status)+" at venue")
	default:
		// Still working; a market order should never linger here for long
		m.logger.Info().
			Str("trade_id", trade.ID.String()).
			Str("order_state", string(lookup.Status)).
			Msg("Parked order still working at venue")
		return nil
	}
}

// completeOpen finishes the lost Phase 2 of an opening trade: confirm the
// fill and open the position. Recovered positions carry no stop or target;
// the user closes them manually or the whale exit does.
func (m *Monitor) completeOpen(ctx context.Context, trade *store.Trade, lookup *venue.OrderLookup) error {
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

	position := &store.Position{
		ID:           uuid.New(),
		UserID:       trade.UserID,
		WhaleID:      trade.WhaleID,
		EntryTradeID: trade.ID,
		Venue:        trade.Venue,
		Market:       trade.Market,
		Symbol:       trade.Symbol,
		Side:         side,
		Leverage:     leverage,
		EntryPrice:   lookup.FilledPrice,
		Quantity:     lookup.FilledQuantity,
	}

	err := m.store.InTx(ctx, func(tx pgx.Tx) error {
		if err := m.store.FillTrade(ctx, tx, trade.ID, trade.Status, trade.Version, lookup.VenueOrderID, lookup.FilledPrice, lookup.FilledQuantity, lookup.Fee); err != nil {
			return err
		}
		return m.store.InsertPosition(ctx, tx, position)
	})
	if errors.Is(err, store.ErrPositionExists) {
		// A position for this key already opened elsewhere; confirm only the
		// trade and let the external-close sweep sort out the exposure
		err = m.store.InTx(ctx, func(tx pgx.Tx) error {
			return m.store.FillTrade(ctx, tx, trade.ID, trade.Status, trade.Version, lookup.VenueOrderID, lookup.FilledPrice, lookup.FilledQuantity, lookup.Fee)
		})
	}
	if err != nil {
		return m.deadLetter(ctx, trade, "open recovery failed: "+err.Error())
	}

	m.logger.Info().
		Str("trade_id", trade.ID.String()).
		Str("symbol", trade.Symbol).
		Msg("Recovered filled opening trade")
	metrics.TradesTotal.WithLabelValues(string(trade.Venue), string(store.TradeStatusFilled)).Inc()

	ev := events.New(events.PositionOpened)
	ev.UserID = &trade.UserID
	ev.WhaleID = trade.WhaleID
	ev.PositionID = &position.ID
	ev.Venue = trade.Venue
	ev.Symbol = trade.Symbol
	ev.Side = position.Side
	m.bus.Publish(ev)
	return nil
}

// completeClose finishes the lost Phase 2 of a closing trade: confirm the
// fill and, when the position is still open, close and settle it
func (m *Monitor) completeClose(ctx context.Context, trade *store.Trade, lookup *venue.OrderLookup) error {
	position, err := m.store.GetOpenPosition(ctx, trade.UserID, trade.Venue, trade.Symbol, trade.Market)
	if errors.Is(err, store.ErrNotFound) {
		// The position was already closed by the crashed worker's Phase 2;
		// only the trade row is behind
		return m.store.InTx(ctx, func(tx pgx.Tx) error {
			return m.store.FillTrade(ctx, tx, trade.ID, trade.Status, trade.Version, lookup.VenueOrderID, lookup.FilledPrice, lookup.FilledQuantity, lookup.Fee)
		})
	}
	if err != nil {
		return err
	}

	entryTrade, err := m.store.GetTrade(ctx, position.EntryTradeID)
	if err != nil {
		return err
	}
	entryFee := decimal.Zero
	if entryTrade.Fee != nil {
		entryFee = *entryTrade.Fee
	}
	realized := engine.RealizedPnL(position, lookup.FilledPrice).Sub(entryFee).Sub(lookup.Fee)

	err = m.store.InTx(ctx, func(tx pgx.Tx) error {
		if err := m.store.FillTrade(ctx, tx, trade.ID, trade.Status, trade.Version, lookup.VenueOrderID, lookup.FilledPrice, lookup.FilledQuantity, lookup.Fee); err != nil {
			return err
		}
		if err := m.store.SetTradePnL(ctx, tx, trade.ID, realized); err != nil {
			return err
		}
		if err := m.store.ClosePosition(ctx, tx, position.ID, position.Version, trade.ID, lookup.FilledPrice, realized, store.CloseReasonWhaleExit); err != nil {
			return err
		}
		return m.store.SettleBalance(ctx, tx, position.UserID, entryTrade.TradeValueUSDT, realized)
	})
	if err != nil {
		return m.deadLetter(ctx, trade, "close recovery failed: "+err.Error())
	}

	m.logger.Info().
		Str("trade_id", trade.ID.String()).
		Str("position_id", position.ID.String()).
		Str("realized_pnl", realized.String()).
		Msg("Recovered filled closing trade")

	ev := events.New(events.PositionClosed)
	ev.UserID = &position.UserID
	ev.WhaleID = position.WhaleID
	ev.PositionID = &position.ID
	ev.Venue = position.Venue
	ev.Symbol = position.Symbol
	ev.Side = position.Side
	ev.PnL = &realized
	ev.Reason = string(store.CloseReasonWhaleExit)
	m.bus.Publish(ev)
	return nil
}

// failAndRefund rolls a dead trade back and returns its reservation
func (m *Monitor) failAndRefund(ctx context.Context, trade *store.Trade, reason string) error {
	err := m.store.InTx(ctx, func(tx pgx.Tx) error {
		if err := m.store.FailTrade(ctx, tx, trade.ID, trade.Status, trade.Version, reason); err != nil {
			return err
		}
		if trade.TradeValueUSDT.IsPositive() {
			return m.store.RefundBalance(ctx, tx, trade.UserID, trade.TradeValueUSDT)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info().
		Str("trade_id", trade.ID.String()).
		Str("reason", reason).
		Msg("Reconciled trade as failed, reservation refunded")
	metrics.TradesTotal.WithLabelValues(string(trade.Venue), string(store.TradeStatusFailed)).Inc()

	ev := events.New(events.TradeFailed)
	ev.UserID = &trade.UserID
	ev.TradeID = &trade.ID
	ev.Venue = trade.Venue
	ev.Symbol = trade.Symbol
	ev.Reason = reason
	m.bus.Publish(ev)
	return nil
}

// failStalePending fails PENDING trades older than the grace window. A
// PENDING trade never reached the venue call, but the order is checked
// anyway in case the transition write was the thing that failed.
func (m *Monitor) failStalePending(ctx context.Context) {
	trades, err := m.store.ListStalePending(ctx, m.cfg.PendingGrace, reconcileBatch)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list stale pending trades")
		return
	}

	for _, trade := range trades {
		found, err := m.orderExists(ctx, trade)
		if err != nil {
			m.logger.Warn().Err(err).
				Str("trade_id", trade.ID.String()).
				Msg("Stale pending trade left for next sweep")
			continue
		}
		if found {
			// Someone placed the order after all; park it for the full
			// resolution path
			if err := m.store.MarkNeedsReconciliation(ctx, trade.ID, trade.Status, trade.Version, "stale pending with venue order"); err != nil {
				m.logger.Error().Err(err).Str("trade_id", trade.ID.String()).Msg("Failed to park stale pending trade")
			}
			continue
		}
		if err := m.failAndRefund(ctx, trade, "pending past grace, no venue order"); err != nil {
			m.logger.Error().Err(err).Str("trade_id", trade.ID.String()).Msg("Failed to fail stale pending trade")
		}
	}
}

func (m *Monitor) orderExists(ctx context.Context, trade *store.Trade) (bool, error) {
	adapter, err := m.adapterFor(trade.Venue)
	if err != nil {
		return false, err
	}
	credentials, err := m.creds.Get(ctx, trade.UserID, trade.Venue)
	if err != nil {
		return false, err
	}
	_, err = adapter.GetOrderByClientID(ctx, credentials, trade.Symbol, trade.ClientOrderID, trade.Market)
	if errors.Is(err, venue.ErrOrderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// parkStuckExecuting moves trades stuck in EXECUTING past the hard limit
// into NEEDS_RECONCILIATION; the next sweep resolves them against the venue
func (m *Monitor) parkStuckExecuting(ctx context.Context) {
	trades, err := m.store.ListStuckExecuting(ctx, m.cfg.ExecutingLimit, reconcileBatch)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list stuck executing trades")
		return
	}
	for _, trade := range trades {
		if err := m.store.MarkNeedsReconciliation(ctx, trade.ID, trade.Status, trade.Version, "executing past limit"); err != nil {
			m.logger.Error().Err(err).Str("trade_id", trade.ID.String()).Msg("Failed to park stuck trade")
		}
	}
}

// deadLetter records a trade the reconciler cannot resolve automatically
func (m *Monitor) deadLetter(ctx context.Context, trade *store.Trade, reason string) error {
	metrics.DeadLetters.WithLabelValues("reconcile_trade").Inc()
	m.alerts.DeadLetter("reconcile_trade", "trade "+trade.ID.String()+": "+reason)
	return m.store.InsertDeadLetter(ctx, &store.DeadLetter{
		ID:   uuid.New(),
		Task: "reconcile_trade",
		Args: map[string]interface{}{
			"trade_id": trade.ID.String(),
			"user_id":  trade.UserID.String(),
			"symbol":   trade.Symbol,
			"venue":    string(trade.Venue),
		},
		Error: reason,
	})
}
