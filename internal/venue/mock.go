package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// WalletTransfer records one spot-to-futures transfer the mock accepted
type WalletTransfer struct {
	Asset  string
	Amount decimal.Decimal
	Market Market
	Scope  string
}

// PlacedOrder records one order the mock accepted, for test assertions
type PlacedOrder struct {
	Symbol        string
	Side          Side
	Market        Market
	Quantity      decimal.Decimal
	QuoteQuantity decimal.Decimal
	ClientOrderID string
	ReduceOnly    bool
	Scope         string
}

// MockAdapter is an in-memory Adapter for tests. Prices, trader positions
// and failures are injected per call site; placed orders are recorded.
type MockAdapter struct {
	mu sync.Mutex

	VenueTag Venue

	// Prices maps symbol to last price. FillPrice, when set, overrides the
	// price used for fills.
	Prices    map[string]decimal.Decimal
	FillPrice decimal.Decimal
	// FeeRate is applied to the notional of every fill
	FeeRate decimal.Decimal

	// Traders maps venueUID to the positions returned by GetTraderPositions.
	// UIDs in Hidden report Shared=false.
	Traders map[string][]PositionSample
	Hidden  map[string]bool

	// Leaderboard rows returned page by page
	LeaderboardRows []TraderSummary

	Balances  []Balance
	Positions []PositionSample
	Orders    map[string]*OrderLookup
	Klines    []Kline

	// FuturesFree, when set, is the available futures wallet balance; nil
	// reports a wallet ample enough that opens never need a top-up
	FuturesFree *decimal.Decimal
	Transfers   []WalletTransfer

	// Err, when set, fails every call. PlaceErr/QueryErr scope the failure
	// to order placement or read paths.
	Err      error
	PlaceErr error
	QueryErr error

	// FailCount fails the first N calls with Err (or a retryable error when
	// Err is nil), then succeeds. Used to exercise retry and breaker paths.
	FailCount int

	Placed    []PlacedOrder
	Leverages map[string]int
	nextID    int
}

// NewMockAdapter creates a mock for the given venue with a default price
func NewMockAdapter(v Venue) *MockAdapter {
	return &MockAdapter{
		VenueTag:  v,
		Prices:    make(map[string]decimal.Decimal),
		Traders:   make(map[string][]PositionSample),
		Hidden:    make(map[string]bool),
		Orders:    make(map[string]*OrderLookup),
		Leverages: make(map[string]int),
		FeeRate:   decimal.NewFromFloat(0.001),
	}
}

// Venue returns the mock's venue tag
func (m *MockAdapter) Venue() Venue { return m.VenueTag }

// SetPrice sets the last price for symbol
func (m *MockAdapter) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[symbol] = price
}

// SetTrader sets the positions returned for venueUID
func (m *MockAdapter) SetTrader(venueUID string, positions []PositionSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Traders[venueUID] = positions
	delete(m.Hidden, venueUID)
}

// HideTrader makes venueUID report sharing disabled
func (m *MockAdapter) HideTrader(venueUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hidden[venueUID] = true
}

// PlacedOrders returns a copy of the recorded orders
func (m *MockAdapter) PlacedOrders() []PlacedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlacedOrder, len(m.Placed))
	copy(out, m.Placed)
	return out
}

// failInjected consumes the failure budget under m.mu
func (m *MockAdapter) failInjected() error {
	if m.FailCount > 0 {
		m.FailCount--
		if m.Err != nil {
			return m.Err
		}
		return Retryable(fmt.Errorf("injected transient failure"))
	}
	return m.Err
}

func (m *MockAdapter) priceFor(symbol string) decimal.Decimal {
	if !m.FillPrice.IsZero() {
		return m.FillPrice
	}
	if p, ok := m.Prices[symbol]; ok {
		return p
	}
	return decimal.NewFromInt(100)
}

func (m *MockAdapter) fill(symbol string, side Side, market Market, quantity, quoteQuantity decimal.Decimal, clientOrderID string, reduceOnly bool, scope string) (*OrderResult, error) {
	if err := m.failInjected(); err != nil {
		return nil, err
	}
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}

	price := m.priceFor(symbol)
	qty := quantity
	if qty.IsZero() && !quoteQuantity.IsZero() && !price.IsZero() {
		qty = quoteQuantity.Div(price)
	}

	m.nextID++
	m.Placed = append(m.Placed, PlacedOrder{
		Symbol:        symbol,
		Side:          side,
		Market:        market,
		Quantity:      quantity,
		QuoteQuantity: quoteQuantity,
		ClientOrderID: clientOrderID,
		ReduceOnly:    reduceOnly,
		Scope:         scope,
	})

	result := &OrderResult{
		VenueOrderID:   fmt.Sprintf("mock-%d", m.nextID),
		FilledPrice:    price,
		FilledQuantity: qty,
		Fee:            price.Mul(qty).Mul(m.FeeRate),
		Timestamp:      time.Now().UTC(),
	}
	if clientOrderID != "" {
		m.Orders[clientOrderID] = &OrderLookup{
			VenueOrderID:   result.VenueOrderID,
			Status:         OrderStateFilled,
			FilledPrice:    result.FilledPrice,
			FilledQuantity: result.FilledQuantity,
			Fee:            result.Fee,
		}
	}
	return result, nil
}

// PlaceSpotMarket fills a spot market order at the configured price
func (m *MockAdapter) PlaceSpotMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, quoteQuantity decimal.Decimal, clientOrderID string) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fill(symbol, side, MarketSpot, quantity, quoteQuantity, clientOrderID, false, scopeOf(creds))
}

// PlaceFuturesMarket fills a futures market order at the configured price
func (m *MockAdapter) PlaceFuturesMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fill(symbol, side, market, quantity, decimal.Zero, clientOrderID, false, scopeOf(creds))
}

// CloseFuturesPosition fills a reduce-only order on the closing side
func (m *MockAdapter) CloseFuturesPosition(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fill(symbol, side.Closing(), market, quantity, decimal.Zero, clientOrderID, true, scopeOf(creds))
}

// SetLeverage records the requested leverage
func (m *MockAdapter) SetLeverage(ctx context.Context, creds *Credentials, symbol string, leverage int, market Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return err
	}
	m.Leverages[symbol] = leverage
	return nil
}

// GetFuturesAvailable returns the configured futures wallet balance
func (m *MockAdapter) GetFuturesAvailable(ctx context.Context, creds *Credentials, asset string, market Market) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return decimal.Zero, err
	}
	if m.QueryErr != nil {
		return decimal.Zero, m.QueryErr
	}
	if m.FuturesFree == nil {
		return decimal.NewFromInt(1_000_000_000), nil
	}
	return *m.FuturesFree, nil
}

// TransferToFutures records the transfer and credits the futures wallet
func (m *MockAdapter) TransferToFutures(ctx context.Context, creds *Credentials, asset string, amount decimal.Decimal, market Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return err
	}
	m.Transfers = append(m.Transfers, WalletTransfer{Asset: asset, Amount: amount, Market: market, Scope: scopeOf(creds)})
	if m.FuturesFree != nil {
		credited := m.FuturesFree.Add(amount)
		m.FuturesFree = &credited
	}
	return nil
}

// PlaceStopLoss records a stop order and returns its id
func (m *MockAdapter) PlaceStopLoss(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, stopPrice decimal.Decimal, market Market) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return "", err
	}
	m.nextID++
	return fmt.Sprintf("mock-stop-%d", m.nextID), nil
}

// GetTicker returns the configured last price
func (m *MockAdapter) GetTicker(ctx context.Context, symbol string, market Market) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return decimal.Zero, err
	}
	if m.QueryErr != nil {
		return decimal.Zero, m.QueryErr
	}
	return m.priceFor(symbol), nil
}

// GetBalances returns the configured balances
func (m *MockAdapter) GetBalances(ctx context.Context, creds *Credentials) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return nil, err
	}
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	return m.Balances, nil
}

// GetOrderByClientID returns a recorded order or ErrOrderNotFound
func (m *MockAdapter) GetOrderByClientID(ctx context.Context, creds *Credentials, symbol, clientOrderID string, market Market) (*OrderLookup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return nil, err
	}
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	if lookup, ok := m.Orders[clientOrderID]; ok {
		return lookup, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, clientOrderID)
}

// GetOpenPositions returns the configured own positions
func (m *MockAdapter) GetOpenPositions(ctx context.Context, creds *Credentials, market Market) ([]PositionSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return nil, err
	}
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	return m.Positions, nil
}

// GetTraderPositions returns the configured trader positions
func (m *MockAdapter) GetTraderPositions(ctx context.Context, venueUID string, market Market) (*TraderPositionsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return nil, err
	}
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	if m.Hidden[venueUID] {
		return &TraderPositionsResult{Shared: false}, nil
	}
	return &TraderPositionsResult{Samples: m.Traders[venueUID], Shared: true}, nil
}

// GetLeaderboard returns the configured rows on page 1, nothing after
func (m *MockAdapter) GetLeaderboard(ctx context.Context, market Market, page int) ([]TraderSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return nil, err
	}
	if page > 1 {
		return nil, nil
	}
	return m.LeaderboardRows, nil
}

// GetKlines returns the configured candlesticks
func (m *MockAdapter) GetKlines(ctx context.Context, symbol string, market Market, interval string, limit int) ([]Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInjected(); err != nil {
		return nil, err
	}
	if limit > 0 && len(m.Klines) > limit {
		return m.Klines[len(m.Klines)-limit:], nil
	}
	return m.Klines, nil
}

var _ Adapter = (*MockAdapter)(nil)
