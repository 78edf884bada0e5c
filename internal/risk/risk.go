// Package risk holds the stateless pre-trade policy: sizing, leverage
// clamping, balance and notional floors, daily-loss and open-position
// limits. The engine gathers the inputs; Check never touches a store.
package risk

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// Manager evaluates the pre-trade policy
type Manager struct {
	cfg    config.RiskConfig
	tiers  map[string]config.TierLimits
	venues map[string]config.VenueConfig
	logger zerolog.Logger
}

// NewManager creates a risk manager from static configuration
func NewManager(cfg config.RiskConfig, tiers map[string]config.TierLimits, venues map[string]config.VenueConfig, logger zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, tiers: tiers, venues: venues, logger: logger}
}

// Limits returns the configured limits for a subscription tier. Unknown
// tiers get the zero value, which forbids everything.
func (m *Manager) Limits(tier store.Tier) config.TierLimits {
	return m.tiers[string(tier)]
}

// Input carries everything one risk evaluation needs. DailyLoss and
// OpenPositions are read by the engine under the Phase-1 row lock.
type Input struct {
	User     *store.User
	Settings *store.UserSettings
	Follow   *store.WhaleFollow // nil for manual copies without a follow row
	Signal   *store.Signal

	Venue  venue.Venue
	Market venue.Market

	// RequestedSize overrides the sizing precedence (manual copy); zero
	// means compute from the precedence chain
	RequestedSize decimal.Decimal

	DailyLoss     decimal.Decimal
	OpenPositions int
}

// Result is the policy decision
type Result struct {
	Allowed  bool
	Size     decimal.Decimal // adjusted trade value in USDT
	Leverage int
	Warnings []string
	Reason   string // set when rejected
}

func reject(reason string) *Result {
	return &Result{Allowed: false, Reason: reason}
}

// ComputeSize evaluates the sizing precedence chain strictly in order:
// follow fixed size, follow percent of available balance, settings default,
// then 1% of available balance.
func ComputeSize(follow *store.WhaleFollow, settings *store.UserSettings, available decimal.Decimal) decimal.Decimal {
	if follow != nil {
		if follow.TradeSizeUSDT != nil && follow.TradeSizeUSDT.IsPositive() {
			return *follow.TradeSizeUSDT
		}
		if follow.TradeSizePercent != nil && follow.TradeSizePercent.IsPositive() {
			return available.Mul(*follow.TradeSizePercent).Div(decimal.NewFromInt(100))
		}
	}
	if settings.DefaultTradeSizeUSDT.IsPositive() {
		return settings.DefaultTradeSizeUSDT
	}
	return available.Mul(decimal.RequireFromString("0.01"))
}

// ComputeLeverage evaluates the leverage precedence chain strictly in
// order: follow override, whale leverage (when copied), settings default,
// then the built-in default. Every source is clamped to the settings and
// venue caps; SPOT always trades at 1x.
func (m *Manager) ComputeLeverage(follow *store.WhaleFollow, settings *store.UserSettings, sig *store.Signal, v venue.Venue, market venue.Market) int {
	if market == venue.MarketSpot {
		return 1
	}

	venueCap := 125
	if vc, ok := m.venues[string(v)]; ok && vc.MaxLeverage > 0 {
		venueCap = vc.MaxLeverage
	}

	leverage := m.cfg.DefaultLeverage
	if leverage <= 0 {
		leverage = 5
	}
	switch {
	case follow != nil && follow.LeverageOverride != nil && *follow.LeverageOverride > 0:
		leverage = *follow.LeverageOverride
	case follow != nil && follow.CopyWhaleLeverage && sig != nil && sig.WhaleLeverage != nil && *sig.WhaleLeverage > 0:
		leverage = *sig.WhaleLeverage
	case settings.DefaultLeverage > 0:
		leverage = settings.DefaultLeverage
	}

	if settings.MaxLeverage > 0 && leverage > settings.MaxLeverage {
		leverage = settings.MaxLeverage
	}
	if leverage > venueCap {
		leverage = venueCap
	}
	if leverage < 1 {
		leverage = 1
	}
	return leverage
}

// minNotional returns the venue's minimum order notional for a market
func (m *Manager) minNotional(v venue.Venue, market venue.Market) decimal.Decimal {
	if vc, ok := m.venues[string(v)]; ok {
		if n, ok := vc.MinNotional[string(market)]; ok {
			return decimal.NewFromFloat(n)
		}
	}
	return decimal.NewFromFloat(m.cfg.MinTradeSize)
}

// Check runs the policy checks in order and returns the adjusted size and
// leverage. Rejections are business outcomes, not errors.
func (m *Manager) Check(in Input) *Result {
	if !in.User.IsActive || in.User.IsBanned {
		return reject("user inactive or banned")
	}

	available := in.User.AvailableBalance
	minBalance := decimal.NewFromFloat(m.cfg.MinTradingBalance)
	minTrade := decimal.NewFromFloat(m.cfg.MinTradeSize)

	if available.LessThan(minBalance) {
		return reject(fmt.Sprintf("available balance below minimum %s USDT", minBalance))
	}

	size := in.RequestedSize
	if size.IsZero() {
		size = ComputeSize(in.Follow, in.Settings, available)
	}
	if size.LessThan(minTrade) {
		return reject(fmt.Sprintf("trade size %s below minimum %s USDT", size, minTrade))
	}

	tier, ok := m.tiers[string(in.User.SubscriptionTier)]
	if !ok {
		tier = m.tiers[string(store.TierFree)]
	}
	if in.Market.IsFutures() && !tier.FuturesAllowed {
		return reject(fmt.Sprintf("futures requires PRO, user tier is %s", in.User.SubscriptionTier))
	}

	var warnings []string

	// Auto-adjust: when the balance cannot cover the requested size, trade
	// a fraction of what is left instead of rejecting outright
	if available.LessThan(size) {
		adjusted := available.Mul(decimal.NewFromFloat(m.cfg.BalanceAdjustPct))
		if adjusted.LessThan(minTrade) {
			return reject(fmt.Sprintf("insufficient balance: %s available, %s requested", available, size))
		}
		warnings = append(warnings, fmt.Sprintf("size reduced from %s to %s to fit balance", size, adjusted))
		size = adjusted
	}

	if in.Settings.MaxTradeSizeUSDT != nil && size.GreaterThan(*in.Settings.MaxTradeSizeUSDT) {
		warnings = append(warnings, fmt.Sprintf("size clamped to max %s", in.Settings.MaxTradeSizeUSDT))
		size = *in.Settings.MaxTradeSizeUSDT
	}

	if in.Settings.DailyLossLimitUSDT.IsPositive() && in.DailyLoss.GreaterThanOrEqual(in.Settings.DailyLossLimitUSDT) {
		return reject(fmt.Sprintf("daily loss limit reached: %s of %s USDT", in.DailyLoss, in.Settings.DailyLossLimitUSDT))
	}

	maxPositions := in.Settings.MaxOpenPositions
	if tier.MaxOpenPositions > 0 && (maxPositions <= 0 || tier.MaxOpenPositions < maxPositions) {
		maxPositions = tier.MaxOpenPositions
	}
	if maxPositions > 0 && in.OpenPositions >= maxPositions {
		return reject(fmt.Sprintf("open position limit reached: %d of %d", in.OpenPositions, maxPositions))
	}

	leverage := m.ComputeLeverage(in.Follow, in.Settings, in.Signal, in.Venue, in.Market)
	if tier.MaxLeverage > 0 && leverage > tier.MaxLeverage {
		leverage = tier.MaxLeverage
	}

	// Notional floor, with a fee and slippage buffer when bumping up
	minNotional := m.minNotional(in.Venue, in.Market)
	notional := size.Mul(decimal.NewFromInt(int64(leverage)))
	if notional.LessThan(minNotional) {
		buffered := minNotional.Mul(decimal.NewFromFloat(m.cfg.NotionalBufferPct))
		bumpedSize := buffered.Div(decimal.NewFromInt(int64(leverage)))
		tenPct := available.Mul(decimal.RequireFromString("0.1"))
		if bumpedSize.GreaterThan(tenPct) || bumpedSize.GreaterThan(available) {
			return reject(fmt.Sprintf("notional %s below venue minimum %s", notional, minNotional))
		}
		warnings = append(warnings, fmt.Sprintf("size bumped to %s to clear venue minimum notional", bumpedSize))
		size = bumpedSize
	}

	if len(warnings) > 0 {
		m.logger.Debug().
			Str("user_id", in.User.ID.String()).
			Strs("warnings", warnings).
			Msg("Risk check passed with adjustments")
	}

	return &Result{
		Allowed:  true,
		Size:     size,
		Leverage: leverage,
		Warnings: warnings,
	}
}
