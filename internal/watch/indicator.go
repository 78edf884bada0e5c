package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/metrics"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

const (
	rsiPeriod   = 14
	klineWindow = 100
	klineFrame  = "15m"
)

// indicatorConfidence is fixed: technical signals carry no whale history
const indicatorConfidence = 50

// IndicatorSource emits RSI-based signals on configured symbols as a
// secondary signal stream next to whale observation. Signals land in the
// same store and are dispatched by the same engine; they only reach users
// who copy them manually, since they have no whale to enumerate followers
// from.
type IndicatorSource struct {
	store   *store.Store
	adapter venue.Adapter
	cfg     config.IndicatorConfig
	logger  zerolog.Logger
}

// NewIndicatorSource wires the RSI signal source against one venue's
// public kline feed
func NewIndicatorSource(st *store.Store, adapter venue.Adapter, cfg config.IndicatorConfig, logger zerolog.Logger) *IndicatorSource {
	return &IndicatorSource{store: st, adapter: adapter, cfg: cfg, logger: logger}
}

// Run evaluates every configured symbol on the configured interval
func (i *IndicatorSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, symbol := range i.cfg.Symbols {
				if err := i.evaluate(ctx, symbol); err != nil {
					i.logger.Error().Err(err).Str("symbol", symbol).Msg("Indicator evaluation failed")
				}
			}
		}
	}
}

func (i *IndicatorSource) evaluate(ctx context.Context, symbol string) error {
	klines, err := i.adapter.GetKlines(ctx, symbol, venue.MarketSpot, klineFrame, klineWindow)
	if err != nil {
		return err
	}
	if len(klines) < rsiPeriod+1 {
		return nil
	}

	rsi, ok := latestRSI(klines)
	if !ok {
		return nil
	}

	var action store.SignalAction
	switch {
	case rsi <= i.cfg.RSIBuy:
		action = store.SignalActionBuy
	case rsi >= i.cfg.RSISell:
		action = store.SignalActionSell
	default:
		return nil
	}

	last := klines[len(klines)-1]
	now := time.Now().UTC()
	sig := &store.Signal{
		ID:              uuid.New(),
		Source:          store.SignalSourceIndicator,
		Fingerprint:     fmt.Sprintf("rsi:%s:%s:%d", symbol, action, now.Truncate(i.cfg.Interval).Unix()),
		Action:          action,
		Symbol:          symbol,
		Market:          venue.MarketSpot,
		Venue:           i.adapter.Venue(),
		Confidence:      Bucket(indicatorConfidence),
		ConfidenceScore: indicatorConfidence,
		Priority:        store.PriorityLow,
		Status:          store.SignalStatusPending,
		PriceAtSignal:   &last.Close,
	}

	inserted, err := i.store.InsertSignal(ctx, sig)
	if err != nil {
		return err
	}
	if inserted {
		metrics.SignalsEmitted.WithLabelValues(string(action), "false").Inc()
		i.logger.Info().
			Str("symbol", symbol).
			Float64("rsi", rsi).
			Str("action", string(action)).
			Msg("Indicator signal emitted")
	}
	return nil
}

// latestRSI computes the most recent RSI value over the kline closes
func latestRSI(klines []venue.Kline) (float64, bool) {
	closes := make(chan float64, len(klines))
	for _, k := range klines {
		v, _ := k.Close.Float64()
		closes <- v
	}
	close(closes)

	rsi := momentum.NewRsiWithPeriod[float64](rsiPeriod)
	var last float64
	seen := false
	for v := range rsi.Compute(closes) {
		last = v
		seen = true
	}
	return last, seen
}
