package venue

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies one centralized exchange
type Venue string

const (
	VenueBinance Venue = "BINANCE"
	VenueBybit   Venue = "BYBIT"
	VenueOKX     Venue = "OKX"
	VenueBitget  Venue = "BITGET"
)

// Market identifies the market segment an order targets
type Market string

const (
	MarketSpot         Market = "SPOT"
	MarketUSDMFutures  Market = "USDM_FUTURES"
	MarketCOINMFutures Market = "COINM_FUTURES"
)

// IsFutures reports whether the market is a futures segment
func (m Market) IsFutures() bool {
	return m == MarketUSDMFutures || m == MarketCOINMFutures
}

// Side represents an order or position side
type Side string

const (
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Closing returns the side that closes a position of this side
func (s Side) Closing() Side {
	switch s {
	case SideLong, SideBuy:
		return SideSell
	default:
		return SideBuy
	}
}

// Direction returns +1 for long exposure, -1 for short
func (s Side) Direction() int64 {
	switch s {
	case SideLong, SideBuy:
		return 1
	default:
		return -1
	}
}

// Credentials carries one user's decrypted API credentials for a venue.
// Scope labels the circuit-breaker scope for the calls made with these
// credentials; it must never contain key material.
type Credentials struct {
	Scope      string
	APIKey     string
	APISecret  string
	Passphrase string
}

// OrderResult is the normalized outcome of a filled market order
type OrderResult struct {
	VenueOrderID   string
	FilledPrice    decimal.Decimal
	FilledQuantity decimal.Decimal
	Fee            decimal.Decimal
	Timestamp      time.Time
}

// OrderLookup is the normalized status of an order queried by client order id
type OrderLookup struct {
	VenueOrderID   string
	Status         OrderState
	FilledPrice    decimal.Decimal
	FilledQuantity decimal.Decimal
	Fee            decimal.Decimal
}

// OrderState is the normalized venue-side order state
type OrderState string

const (
	OrderStateNew      OrderState = "NEW"
	OrderStateFilled   OrderState = "FILLED"
	OrderStateCanceled OrderState = "CANCELED"
	OrderStateRejected OrderState = "REJECTED"
)

// PositionSample is one open position observed on a trader's public profile
// or on a user's own account
type PositionSample struct {
	Symbol     string
	Market     Market
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	Leverage   int
	ROE        float64 // percent, 0 when the venue does not report it
}

// TraderSummary is one leaderboard row
type TraderSummary struct {
	VenueUID    string
	DisplayName string
	ROI         float64
	PnL         float64
	FollowerCnt int
}

// Balance is one asset balance on a user's account
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Kline is one normalized candlestick, used by the indicator signal source
type Kline struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// TraderPositionsResult classifies the outcome of a leaderboard position fetch.
// An empty Samples slice with Shared=true means the trader currently holds
// nothing; Shared=false means the profile no longer exposes positions.
type TraderPositionsResult struct {
	Samples []PositionSample
	Shared  bool
}
