package monitor

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/engine"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// detectExternalCloses finds futures positions that are OPEN locally but no
// longer exist on the venue: the user closed them directly, or the venue
// liquidated them. Either way the local book must catch up.
func (m *Monitor) detectExternalCloses(ctx context.Context) {
	for v, adapter := range m.adapters {
		for _, mkt := range []venue.Market{venue.MarketUSDMFutures, venue.MarketCOINMFutures} {
			m.sweepVenueMarket(ctx, v, adapter, mkt)
		}
	}
}

func (m *Monitor) sweepVenueMarket(ctx context.Context, v venue.Venue, adapter venue.Adapter, mkt venue.Market) {
	users, err := m.store.ListOpenUsersByVenue(ctx, v, mkt)
	if err != nil {
		m.logger.Error().Err(err).Str("venue", string(v)).Msg("Failed to list users with open positions")
		return
	}

	for _, userID := range users {
		credentials, err := m.creds.Get(ctx, userID, v)
		if err != nil {
			continue
		}
		samples, err := adapter.GetOpenPositions(ctx, credentials, mkt)
		if err != nil {
			m.logger.Warn().Err(err).
				Str("user_id", userID.String()).
				Str("venue", string(v)).
				Msg("Failed to query venue positions")
			continue
		}
		held := make(map[string]bool, len(samples))
		for _, s := range samples {
			held[s.Symbol] = true
		}

		positions, err := m.store.ListOpenByUser(ctx, userID)
		if err != nil {
			m.logger.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to list local positions")
			continue
		}
		for _, p := range positions {
			if p.Venue != v || p.Market != mkt || held[p.Symbol] {
				continue
			}
			if err := m.settleExternalClose(ctx, p); err != nil {
				m.logger.Error().Err(err).
					Str("position_id", p.ID.String()).
					Msg("Failed to settle externally closed position")
			}
		}
	}
}

// settleExternalClose closes a position the venue no longer holds. The exit
// price is the last mark we can get; when the loss reaches the full margin
// the position is recorded as liquidated.
func (m *Monitor) settleExternalClose(ctx context.Context, p *store.Position) error {
	exitPrice := p.EntryPrice
	if price, ok := m.price(ctx, p); ok {
		exitPrice = price
	} else if p.CurrentPrice != nil {
		exitPrice = *p.CurrentPrice
	}

	entryTrade, err := m.store.GetTrade(ctx, p.EntryTradeID)
	if err != nil {
		return err
	}
	margin := entryTrade.TradeValueUSDT

	realized := engine.RealizedPnL(p, exitPrice)
	liquidated := realized.LessThanOrEqual(margin.Neg())
	if liquidated {
		// The margin is gone in full; nothing more can be lost
		realized = margin.Neg()
	}

	reason := store.CloseReasonReconciliationExternalClose
	if liquidated {
		reason = store.CloseReasonLiquidation
	}

	err = m.store.InTx(ctx, func(tx pgx.Tx) error {
		if liquidated {
			if err := m.store.MarkLiquidated(ctx, tx, p.ID, p.Version, exitPrice, realized); err != nil {
				return err
			}
			return m.store.SettleBalance(ctx, tx, p.UserID, margin, realized)
		}

		// A regular external close still gets an exit trade so the closed
		// position points at a fill
		exitTrade := &store.Trade{
			ID:                uuid.New(),
			UserID:            p.UserID,
			WhaleID:           p.WhaleID,
			Venue:             p.Venue,
			Market:            p.Market,
			Symbol:            p.Symbol,
			Side:              p.Side.Closing(),
			OrderType:         store.OrderTypeMarket,
			RequestedQuantity: p.Quantity,
			TradeValueUSDT:    decimal.Zero,
			Leverage:          &p.Leverage,
			ClientOrderID:     "ext-" + p.ID.String(),
		}
		if err := m.store.InsertTrade(ctx, tx, exitTrade); err != nil {
			return err
		}
		if err := m.store.FillTrade(ctx, tx, exitTrade.ID, store.TradeStatusPending, 0, "external", exitPrice, p.Quantity, decimal.Zero); err != nil {
			return err
		}
		if err := m.store.SetTradePnL(ctx, tx, exitTrade.ID, realized); err != nil {
			return err
		}
		if err := m.store.ClosePosition(ctx, tx, p.ID, p.Version, exitTrade.ID, exitPrice, realized, reason); err != nil {
			return err
		}
		return m.store.SettleBalance(ctx, tx, p.UserID, margin, realized)
	})
	if err != nil {
		return err
	}

	m.logger.Warn().
		Str("position_id", p.ID.String()).
		Str("symbol", p.Symbol).
		Str("exit_price", exitPrice.String()).
		Str("realized_pnl", realized.String()).
		Bool("liquidated", liquidated).
		Msg("Settled externally closed position")

	eventType := events.PositionClosed
	if liquidated {
		eventType = events.PositionLiquidated
	}
	ev := events.New(eventType)
	ev.UserID = &p.UserID
	ev.WhaleID = p.WhaleID
	ev.PositionID = &p.ID
	ev.Venue = p.Venue
	ev.Symbol = p.Symbol
	ev.Side = p.Side
	ev.Price = &exitPrice
	ev.PnL = &realized
	ev.Reason = string(reason)
	m.bus.Publish(ev)
	return nil
}
