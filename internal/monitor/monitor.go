// Package monitor watches open positions and in-flight trades: it refreshes
// mark prices, fires local stop-loss and take-profit triggers, and reconciles
// trades whose venue outcome was lost to a crash or an ambiguous failure.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/whalecopy/internal/alerts"
	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/creds"
	"github.com/ajitpratap0/whalecopy/internal/engine"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/market"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// positionPageSize bounds one keyset page of open positions per sweep step
const positionPageSize = 200

// Closer is the close-position entry point the monitor drives. Satisfied by
// *engine.Engine.
type Closer interface {
	ClosePosition(ctx context.Context, positionID uuid.UUID, reason store.CloseReason, signalID *uuid.UUID) error
}

// Monitor runs the reprice, trigger and reconcile loops
type Monitor struct {
	store    *store.Store
	closer   Closer
	creds    creds.Provider
	adapters map[venue.Venue]venue.Adapter
	cache    *market.TickerCache
	bus      *events.Bus
	alerts   *alerts.Notifier
	cfg      config.MonitorConfig
	logger   zerolog.Logger
}

// SetAlerts attaches the operator notifier; a nil notifier stays a no-op
func (m *Monitor) SetAlerts(n *alerts.Notifier) { m.alerts = n }

// New wires a monitor. cache may be nil; prices then always come from the
// venue adapters.
func New(
	st *store.Store,
	closer Closer,
	credProvider creds.Provider,
	adapters map[venue.Venue]venue.Adapter,
	cache *market.TickerCache,
	bus *events.Bus,
	cfg config.MonitorConfig,
	logger zerolog.Logger,
) *Monitor {
	return &Monitor{
		store:    st,
		closer:   closer,
		creds:    credProvider,
		adapters: adapters,
		cache:    cache,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts the three loops and blocks until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.loop(ctx, m.cfg.RepriceInterval, m.sweepPrices) })
	g.Go(func() error { return m.loop(ctx, m.cfg.TriggerInterval, m.sweepTriggers) })
	g.Go(func() error { return m.loop(ctx, m.cfg.ReconcileInterval, m.reconcile) })
	return g.Wait()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// forEachOpenPosition pages through all OPEN positions keyset-style
func (m *Monitor) forEachOpenPosition(ctx context.Context, fn func(*store.Position)) {
	var after uuid.UUID
	for {
		page, err := m.store.ListOpenPositions(ctx, positionPageSize, after)
		if err != nil {
			m.logger.Error().Err(err).Msg("Failed to page open positions")
			return
		}
		for _, p := range page {
			fn(p)
		}
		if len(page) < positionPageSize {
			return
		}
		after = page[len(page)-1].ID
	}
}

// sweepPrices refreshes current_price and unrealized PnL on every open
// position
func (m *Monitor) sweepPrices(ctx context.Context) {
	m.forEachOpenPosition(ctx, func(p *store.Position) {
		price, ok := m.price(ctx, p)
		if !ok {
			return
		}
		upnl := engine.UnrealizedPnL(p, price)
		if err := m.store.UpdatePositionPrice(ctx, p.ID, price, upnl); err != nil {
			m.logger.Error().Err(err).
				Str("position_id", p.ID.String()).
				Msg("Failed to update position price")
		}
	})
}

// price resolves the freshest mark for a position: ticker cache first, then
// a direct venue query
func (m *Monitor) price(ctx context.Context, p *store.Position) (decimal.Decimal, bool) {
	if m.cache != nil {
		if price, ok, err := m.cache.Price(ctx, p.Venue, p.Market, p.Symbol); err == nil && ok {
			return price, true
		}
	}
	adapter, ok := m.adapters[p.Venue]
	if !ok {
		return decimal.Zero, false
	}
	price, err := adapter.GetTicker(ctx, p.Symbol, p.Market)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

// sweepTriggers closes positions whose local stop-loss or take-profit level
// was crossed by the last observed price
func (m *Monitor) sweepTriggers(ctx context.Context) {
	m.forEachOpenPosition(ctx, func(p *store.Position) {
		if p.CurrentPrice == nil {
			return
		}
		price := *p.CurrentPrice

		// Server-side stops are the venue's job; the local trigger only
		// covers positions without one
		if p.StopLossOrderID == nil && stopTriggered(p, price) {
			m.closeTriggered(ctx, p, store.CloseReasonStopLoss, price)
			return
		}
		if takeProfitTriggered(p, price) {
			m.closeTriggered(ctx, p, store.CloseReasonTakeProfit, price)
		}
	})
}

func (m *Monitor) closeTriggered(ctx context.Context, p *store.Position, reason store.CloseReason, price decimal.Decimal) {
	m.logger.Info().
		Str("position_id", p.ID.String()).
		Str("symbol", p.Symbol).
		Str("price", price.String()).
		Str("reason", string(reason)).
		Msg("Local trigger fired")
	if err := m.closer.ClosePosition(ctx, p.ID, reason, nil); err != nil {
		m.logger.Error().Err(err).
			Str("position_id", p.ID.String()).
			Msg("Triggered close failed")
	}
}

// stopTriggered reports whether price crossed the position's stop level
func stopTriggered(p *store.Position, price decimal.Decimal) bool {
	if p.StopLossPrice == nil {
		return false
	}
	if p.Side == venue.SideShort {
		return price.GreaterThanOrEqual(*p.StopLossPrice)
	}
	return price.LessThanOrEqual(*p.StopLossPrice)
}

// takeProfitTriggered reports whether price crossed the position's target
func takeProfitTriggered(p *store.Position, price decimal.Decimal) bool {
	if p.TakeProfitPrice == nil {
		return false
	}
	if p.Side == venue.SideShort {
		return price.LessThanOrEqual(*p.TakeProfitPrice)
	}
	return price.GreaterThanOrEqual(*p.TakeProfitPrice)
}

var errNoAdapter = errors.New("no adapter for venue")

func (m *Monitor) adapterFor(v venue.Venue) (venue.Adapter, error) {
	if a, ok := m.adapters[v]; ok {
		return a, nil
	}
	return nil, errNoAdapter
}
