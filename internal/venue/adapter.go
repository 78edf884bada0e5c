package venue

import (
	"context"

	"github.com/shopspring/decimal"
)

// Adapter is the venue-neutral contract every exchange adapter implements.
// Symbol formats, position-side encodings and other venue peculiarities are
// normalized behind this interface; no caller ever sees them.
//
// Methods taking Credentials act on one user's account. Methods without act
// on public data. quoteQuantity on PlaceSpotMarket is an alternative to
// quantity (pass zero for the unused one).
type Adapter interface {
	Venue() Venue

	PlaceSpotMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, quoteQuantity decimal.Decimal, clientOrderID string) (*OrderResult, error)
	PlaceFuturesMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error)
	CloseFuturesPosition(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error)

	// SetLeverage is idempotent
	SetLeverage(ctx context.Context, creds *Credentials, symbol string, leverage int, market Market) error

	// GetFuturesAvailable reports the free margin asset balance in the
	// user's futures wallet; returns ErrUnsupported on venues whose
	// unified account has no separate futures wallet
	GetFuturesAvailable(ctx context.Context, creds *Credentials, asset string, market Market) (decimal.Decimal, error)

	// TransferToFutures moves funds from the spot wallet into the futures
	// wallet; returns ErrUnsupported on venues without internal transfers
	TransferToFutures(ctx context.Context, creds *Credentials, asset string, amount decimal.Decimal, market Market) error

	// PlaceStopLoss returns ErrUnsupported on venues without server-side stops
	PlaceStopLoss(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, stopPrice decimal.Decimal, market Market) (string, error)

	GetTicker(ctx context.Context, symbol string, market Market) (decimal.Decimal, error)
	GetBalances(ctx context.Context, creds *Credentials) ([]Balance, error)

	// GetOrderByClientID recovers the outcome of an order whose response was
	// lost; returns ErrOrderNotFound when the venue never saw it
	GetOrderByClientID(ctx context.Context, creds *Credentials, symbol, clientOrderID string, market Market) (*OrderLookup, error)

	// GetOpenPositions lists the user's own open futures positions
	GetOpenPositions(ctx context.Context, creds *Credentials, market Market) ([]PositionSample, error)

	// GetTraderPositions samples a leaderboard trader's public open positions.
	// Shared=false distinguishes "profile hidden" from "holds nothing";
	// auth and rate-limit failures come back as errors.
	GetTraderPositions(ctx context.Context, venueUID string, market Market) (*TraderPositionsResult, error)

	GetLeaderboard(ctx context.Context, market Market, page int) ([]TraderSummary, error)

	GetKlines(ctx context.Context, symbol string, market Market, interval string, limit int) ([]Kline, error)
}
