package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// Tier represents a subscription tier (database enum)
type Tier string

const (
	TierFree  Tier = "FREE"
	TierPro   Tier = "PRO"
	TierElite Tier = "ELITE"
)

// TradingMode restricts which markets a user copies into
type TradingMode string

const (
	TradingModeSpot    TradingMode = "SPOT"
	TradingModeFutures TradingMode = "FUTURES"
	TradingModeMixed   TradingMode = "MIXED"
)

// User represents a subscriber account
type User struct {
	ID                    uuid.UUID
	ExternalID            string
	SubscriptionTier      Tier
	SubscriptionExpiresAt *time.Time
	IsActive              bool
	IsBanned              bool
	TotalBalance          decimal.Decimal
	AvailableBalance      decimal.Decimal
	TwoFactorEnabled      bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// UserSettings holds a user's copy-trading preferences (1:1 with User)
type UserSettings struct {
	UserID               uuid.UUID
	TradingMode          TradingMode
	PreferredVenue       venue.Venue
	AutoCopyEnabled      bool
	DefaultTradeSizeUSDT decimal.Decimal
	MaxTradeSizeUSDT     *decimal.Decimal
	StopLossPercent      decimal.Decimal
	TakeProfitPercent    *decimal.Decimal
	DailyLossLimitUSDT   decimal.Decimal
	MaxOpenPositions     int
	DefaultLeverage      int
	MaxLeverage          int
	AutoCloseOnTP        bool
	AutoCloseOnWhaleExit bool
}

// WhaleKind distinguishes leaderboard traders from on-chain wallets
type WhaleKind string

const (
	WhaleKindCEXTrader     WhaleKind = "CEX_TRADER"
	WhaleKindOnchainWallet WhaleKind = "ONCHAIN_WALLET"
)

// DataStatus is the observability state of a whale's public profile
type DataStatus string

const (
	DataStatusActive          DataStatus = "ACTIVE"
	DataStatusSharingDisabled DataStatus = "SHARING_DISABLED"
	DataStatusRateLimited     DataStatus = "RATE_LIMITED"
)

// Whale represents one observed trader
type Whale struct {
	ID                     uuid.UUID
	Venue                  venue.Venue
	VenueUID               string
	WalletAddress          *string
	DisplayName            string
	Kind                   WhaleKind
	DataStatus             DataStatus
	ConsecutiveEmptyChecks int
	SharingDisabledAt      *time.Time
	SharingRecheckAt       *time.Time
	RateLimitedUntil       *time.Time
	PriorityScore          int // [1,100]
	PollingIntervalSeconds int
	LastCheckedAt          *time.Time
	LastPositionFoundAt    *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// WhaleFollow links a user to a whale with per-follow overrides
type WhaleFollow struct {
	UserID            uuid.UUID
	WhaleID           uuid.UUID
	AutoCopyEnabled   bool
	TradeSizeUSDT     *decimal.Decimal
	TradeSizePercent  *decimal.Decimal
	LeverageOverride  *int
	CopyWhaleLeverage bool
	StopLossPercent   *decimal.Decimal
	TakeProfitPercent *decimal.Decimal
	Active            bool
	CreatedAt         time.Time
}

// SignalSource identifies what produced a signal
type SignalSource string

const (
	SignalSourceWhale     SignalSource = "WHALE"
	SignalSourceManual    SignalSource = "MANUAL"
	SignalSourceIndicator SignalSource = "INDICATOR"
)

// SignalAction is the trade direction a signal requests
type SignalAction string

const (
	SignalActionBuy  SignalAction = "BUY"
	SignalActionSell SignalAction = "SELL"
)

// Confidence buckets a signal's confidence score
type Confidence string

const (
	ConfidenceLow      Confidence = "LOW"
	ConfidenceMedium   Confidence = "MEDIUM"
	ConfidenceHigh     Confidence = "HIGH"
	ConfidenceVeryHigh Confidence = "VERY_HIGH"
)

// Priority orders signal dispatch
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// SignalStatus is the signal lifecycle state (database enum)
type SignalStatus string

const (
	SignalStatusPending    SignalStatus = "PENDING"
	SignalStatusProcessing SignalStatus = "PROCESSING"
	SignalStatusProcessed  SignalStatus = "PROCESSED"
	SignalStatusSkipped    SignalStatus = "SKIPPED"
	SignalStatusFailed     SignalStatus = "FAILED"
	SignalStatusExpired    SignalStatus = "EXPIRED"
)

// Signal is an intent record derived from a whale position change
type Signal struct {
	ID                  uuid.UUID
	WhaleID             *uuid.UUID
	Source              SignalSource
	Fingerprint         string
	Action              SignalAction
	Symbol              string
	Market              venue.Market
	Venue               venue.Venue
	IsClose             bool
	WhaleLeverage       *int
	AmountHintUSD       *decimal.Decimal
	PriceAtSignal       *decimal.Decimal
	Confidence          Confidence
	ConfidenceScore     int // [0,100]
	Priority            Priority
	Status              SignalStatus
	Version             int
	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	TradesExecuted      int
	Error               *string
}

// TradeStatus is the trade lifecycle state (database enum)
type TradeStatus string

const (
	TradeStatusPending             TradeStatus = "PENDING"
	TradeStatusExecuting           TradeStatus = "EXECUTING"
	TradeStatusFilled              TradeStatus = "FILLED"
	TradeStatusFailed              TradeStatus = "FAILED"
	TradeStatusNeedsReconciliation TradeStatus = "NEEDS_RECONCILIATION"
)

// OrderType represents order type (database enum)
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Trade is the aggregate root of one copy execution for one user
type Trade struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	SignalID          *uuid.UUID
	WhaleID           *uuid.UUID
	Venue             venue.Venue
	Market            venue.Market
	Symbol            string
	Side              venue.Side
	OrderType         OrderType
	RequestedQuantity decimal.Decimal
	TradeValueUSDT    decimal.Decimal // the Phase-1 reservation
	Leverage          *int
	Status            TradeStatus
	ClientOrderID     string
	VenueOrderID      *string
	ExecutedPrice     *decimal.Decimal
	ExecutedQuantity  *decimal.Decimal
	Fee               *decimal.Decimal
	RealizedPnL       *decimal.Decimal
	Version           int
	CreatedAt         time.Time
	ExecutedAt        *time.Time
	Error             *string
}

// PositionStatus is the position lifecycle state (database enum)
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusClosed     PositionStatus = "CLOSED"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
)

// CloseReason explains why a position left OPEN
type CloseReason string

const (
	CloseReasonManual                      CloseReason = "MANUAL"
	CloseReasonStopLoss                    CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit                  CloseReason = "TAKE_PROFIT"
	CloseReasonWhaleExit                   CloseReason = "WHALE_EXIT"
	CloseReasonLiquidation                 CloseReason = "LIQUIDATION"
	CloseReasonReconciliationExternalClose CloseReason = "RECONCILIATION_EXTERNAL_CLOSE"
)

// Position represents one open or closed copy position
type Position struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	WhaleID           *uuid.UUID
	EntryTradeID      uuid.UUID
	ExitTradeID       *uuid.UUID
	Venue             venue.Venue
	Market            venue.Market
	Symbol            string
	Side              venue.Side // LONG or SHORT; SPOT uses LONG
	Leverage          int
	EntryPrice        decimal.Decimal
	CurrentPrice      *decimal.Decimal
	ExitPrice         *decimal.Decimal
	Quantity          decimal.Decimal
	StopLossPrice     *decimal.Decimal
	StopLossOrderID   *string
	TakeProfitPrice   *decimal.Decimal
	TakeProfitOrderID *string
	UnrealizedPnL     decimal.Decimal
	RealizedPnL       decimal.Decimal
	Status            PositionStatus
	CloseReason       *CloseReason
	Version           int
	OpenedAt          time.Time
	ClosedAt          *time.Time
}

// Follower is one eligible (follow, user, settings) row enumerated for a signal
type Follower struct {
	Follow   WhaleFollow
	User     User
	Settings UserSettings
}

// DeadLetter records a background job that exhausted its retry budget
type DeadLetter struct {
	ID        uuid.UUID
	Task      string
	Args      map[string]interface{}
	Error     string
	Stack     string
	CreatedAt time.Time
}
