package venue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/whalecopy/internal/metrics"
)

// BreakerSettings holds circuit breaker configuration for venue scopes
type BreakerSettings struct {
	FailureThreshold uint32        // consecutive failures before the circuit opens
	OpenTimeout      time.Duration // how long the circuit stays open
	HalfOpenMaxReqs  uint32        // probe calls admitted in half-open
}

// DefaultBreakerSettings returns the default breaker configuration
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
		HalfOpenMaxReqs:  2,
	}
}

// StateChangeHook is invoked on circuit state transitions (for operator alerts)
type StateChangeHook func(venue Venue, scope string, from, to gobreaker.State)

// Resilient wraps an Adapter with bounded retry and a per-credential-scope
// circuit breaker. It is the only component that records venue success and
// failure counters. When a scope's circuit is open, calls fail fast with
// ErrCircuitOpen without contacting the venue.
type Resilient struct {
	inner       Adapter
	retry       RetryConfig
	breakerCfg  BreakerSettings
	callTimeout time.Duration
	onChange    StateChangeHook
	logger      zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewResilient wraps adapter. onChange may be nil.
func NewResilient(adapter Adapter, retry RetryConfig, breaker BreakerSettings, callTimeout time.Duration, logger zerolog.Logger, onChange StateChangeHook) *Resilient {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Resilient{
		inner:       adapter,
		retry:       retry,
		breakerCfg:  breaker,
		callTimeout: callTimeout,
		onChange:    onChange,
		logger:      logger,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Venue returns the wrapped adapter's venue tag
func (r *Resilient) Venue() Venue { return r.inner.Venue() }

// Inner returns the wrapped adapter
func (r *Resilient) Inner() Adapter { return r.inner }

// PublicScope is the breaker scope for unauthenticated calls
const PublicScope = "public"

func scopeOf(creds *Credentials) string {
	if creds == nil || creds.Scope == "" {
		return PublicScope
	}
	return creds.Scope
}

func (r *Resilient) breaker(scope string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[scope]; ok {
		return cb
	}

	v := r.inner.Venue()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(v) + "/" + scope,
		MaxRequests: r.breakerCfg.HalfOpenMaxReqs,
		Timeout:     r.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.breakerCfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// Business outcomes are not venue availability problems
			return err == nil || IsTerminal(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().
				Str("scope", scope).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.SetBreakerState(string(v), scope, to)
			if r.onChange != nil {
				r.onChange(v, scope, from, to)
			}
		},
	})
	r.breakers[scope] = cb
	return cb
}

// execute runs op through retry and the scope's breaker with a hard timeout
func (r *Resilient) execute(ctx context.Context, scope string, op func(ctx context.Context) error) error {
	cb := r.breaker(scope)

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	return WithRetry(ctx, r.retry, func() error {
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, op(ctx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Timeouts surface as retryable
			return Retryable(err)
		}
		return err
	})
}

// PlaceSpotMarket places a spot market order through the wrapper
func (r *Resilient) PlaceSpotMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, quoteQuantity decimal.Decimal, clientOrderID string) (*OrderResult, error) {
	var res *OrderResult
	err := r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		var err error
		res, err = r.inner.PlaceSpotMarket(ctx, creds, symbol, side, quantity, quoteQuantity, clientOrderID)
		return err
	})
	return res, err
}

// PlaceFuturesMarket places a futures market order through the wrapper
func (r *Resilient) PlaceFuturesMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error) {
	var res *OrderResult
	err := r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		var err error
		res, err = r.inner.PlaceFuturesMarket(ctx, creds, symbol, side, quantity, market, clientOrderID)
		return err
	})
	return res, err
}

// CloseFuturesPosition closes (part of) a futures position through the wrapper
func (r *Resilient) CloseFuturesPosition(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error) {
	var res *OrderResult
	err := r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		var err error
		res, err = r.inner.CloseFuturesPosition(ctx, creds, symbol, side, quantity, market, clientOrderID)
		return err
	})
	return res, err
}

// SetLeverage sets leverage through the wrapper
func (r *Resilient) SetLeverage(ctx context.Context, creds *Credentials, symbol string, leverage int, market Market) error {
	return r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		return r.inner.SetLeverage(ctx, creds, symbol, leverage, market)
	})
}

// GetFuturesAvailable reads the futures wallet balance through the wrapper
func (r *Resilient) GetFuturesAvailable(ctx context.Context, creds *Credentials, asset string, market Market) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		var err error
		available, err = r.inner.GetFuturesAvailable(ctx, creds, asset, market)
		return err
	})
	return available, err
}

// TransferToFutures moves spot funds into the futures wallet through the wrapper
func (r *Resilient) TransferToFutures(ctx context.Context, creds *Credentials, asset string, amount decimal.Decimal, market Market) error {
	return r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		return r.inner.TransferToFutures(ctx, creds, asset, amount, market)
	})
}

// PlaceStopLoss places a server-side stop through the wrapper
func (r *Resilient) PlaceStopLoss(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, stopPrice decimal.Decimal, market Market) (string, error) {
	var orderID string
	err := r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		var err error
		orderID, err = r.inner.PlaceStopLoss(ctx, creds, symbol, side, quantity, stopPrice, market)
		return err
	})
	return orderID, err
}

// GetTicker fetches the last price through the wrapper
func (r *Resilient) GetTicker(ctx context.Context, symbol string, market Market) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := r.execute(ctx, PublicScope, func(ctx context.Context) error {
		var err error
		price, err = r.inner.GetTicker(ctx, symbol, market)
		return err
	})
	return price, err
}

// GetBalances fetches account balances through the wrapper
func (r *Resilient) GetBalances(ctx context.Context, creds *Credentials) ([]Balance, error) {
	var balances []Balance
	err := r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		var err error
		balances, err = r.inner.GetBalances(ctx, creds)
		return err
	})
	return balances, err
}

// GetOrderByClientID looks up an order through the wrapper
func (r *Resilient) GetOrderByClientID(ctx context.Context, creds *Credentials, symbol, clientOrderID string, market Market) (*OrderLookup, error) {
	var lookup *OrderLookup
	err := r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		var err error
		lookup, err = r.inner.GetOrderByClientID(ctx, creds, symbol, clientOrderID, market)
		return err
	})
	return lookup, err
}

// GetOpenPositions lists the user's open positions through the wrapper
func (r *Resilient) GetOpenPositions(ctx context.Context, creds *Credentials, market Market) ([]PositionSample, error) {
	var samples []PositionSample
	err := r.execute(ctx, scopeOf(creds), func(ctx context.Context) error {
		var err error
		samples, err = r.inner.GetOpenPositions(ctx, creds, market)
		return err
	})
	return samples, err
}

// GetTraderPositions samples a leaderboard trader through the wrapper
func (r *Resilient) GetTraderPositions(ctx context.Context, venueUID string, market Market) (*TraderPositionsResult, error) {
	var result *TraderPositionsResult
	err := r.execute(ctx, PublicScope, func(ctx context.Context) error {
		var err error
		result, err = r.inner.GetTraderPositions(ctx, venueUID, market)
		return err
	})
	return result, err
}

// GetLeaderboard fetches one leaderboard page through the wrapper
func (r *Resilient) GetLeaderboard(ctx context.Context, market Market, page int) ([]TraderSummary, error) {
	var rows []TraderSummary
	err := r.execute(ctx, PublicScope, func(ctx context.Context) error {
		var err error
		rows, err = r.inner.GetLeaderboard(ctx, market, page)
		return err
	})
	return rows, err
}

// GetKlines fetches candlesticks through the wrapper
func (r *Resilient) GetKlines(ctx context.Context, symbol string, market Market, interval string, limit int) ([]Kline, error) {
	var klines []Kline
	err := r.execute(ctx, PublicScope, func(ctx context.Context) error {
		var err error
		klines, err = r.inner.GetKlines(ctx, symbol, market, interval, limit)
		return err
	})
	return klines, err
}

var _ Adapter = (*Resilient)(nil)
