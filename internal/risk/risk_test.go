package risk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(n int) *int { return &n }

func testManager() *Manager {
	return NewManager(
		config.RiskConfig{
			MinTradingBalance: 5,
			MinTradeSize:      5,
			BalanceAdjustPct:  0.80,
			NotionalBufferPct: 1.20,
			DefaultLeverage:   5,
		},
		map[string]config.TierLimits{
			"FREE":  {MaxOpenPositions: 3, MaxLeverage: 5, FuturesAllowed: false},
			"PRO":   {MaxOpenPositions: 20, MaxLeverage: 20, FuturesAllowed: true},
			"ELITE": {MaxOpenPositions: 0, MaxLeverage: 50, FuturesAllowed: true},
		},
		map[string]config.VenueConfig{
			"BINANCE": {
				MaxLeverage: 125,
				MinNotional: map[string]float64{
					"SPOT":          5,
					"USDM_FUTURES":  100,
					"COINM_FUTURES": 100,
				},
			},
		},
		zerolog.Nop(),
	)
}

func activeUser(tier store.Tier, available string) *store.User {
	return &store.User{
		ID:               uuid.New(),
		SubscriptionTier: tier,
		IsActive:         true,
		TotalBalance:     dec(available),
		AvailableBalance: dec(available),
	}
}

func defaultSettings() *store.UserSettings {
	return &store.UserSettings{
		DefaultTradeSizeUSDT: dec("100"),
		DailyLossLimitUSDT:   dec("500"),
		MaxOpenPositions:     10,
		DefaultLeverage:      3,
		MaxLeverage:          10,
	}
}

func TestComputeSizePrecedence(t *testing.T) {
	available := dec("1000")

	t.Run("follow fixed size wins", func(t *testing.T) {
		follow := &store.WhaleFollow{
			TradeSizeUSDT:    decPtr("250"),
			TradeSizePercent: decPtr("5"),
		}
		got := ComputeSize(follow, defaultSettings(), available)
		assert.True(t, got.Equal(dec("250")))
	})

	t.Run("follow percent of available", func(t *testing.T) {
		follow := &store.WhaleFollow{TradeSizePercent: decPtr("5")}
		got := ComputeSize(follow, defaultSettings(), available)
		assert.True(t, got.Equal(dec("50")))
	})

	t.Run("settings default", func(t *testing.T) {
		got := ComputeSize(&store.WhaleFollow{}, defaultSettings(), available)
		assert.True(t, got.Equal(dec("100")))
	})

	t.Run("one percent fallback", func(t *testing.T) {
		settings := defaultSettings()
		settings.DefaultTradeSizeUSDT = decimal.Zero
		got := ComputeSize(nil, settings, available)
		assert.True(t, got.Equal(dec("10")))
	})
}

func TestComputeLeveragePrecedence(t *testing.T) {
	m := testManager()
	settings := defaultSettings()

	t.Run("follow override wins", func(t *testing.T) {
		follow := &store.WhaleFollow{LeverageOverride: intPtr(7), CopyWhaleLeverage: true}
		sig := &store.Signal{WhaleLeverage: intPtr(20)}
		got := m.ComputeLeverage(follow, settings, sig, venue.VenueBinance, venue.MarketUSDMFutures)
		assert.Equal(t, 7, got)
	})

	t.Run("whale leverage when copied", func(t *testing.T) {
		follow := &store.WhaleFollow{CopyWhaleLeverage: true}
		sig := &store.Signal{WhaleLeverage: intPtr(8)}
		got := m.ComputeLeverage(follow, settings, sig, venue.VenueBinance, venue.MarketUSDMFutures)
		assert.Equal(t, 8, got)
	})

	t.Run("whale leverage clamped to settings max", func(t *testing.T) {
		follow := &store.WhaleFollow{CopyWhaleLeverage: true}
		sig := &store.Signal{WhaleLeverage: intPtr(50)}
		got := m.ComputeLeverage(follow, settings, sig, venue.VenueBinance, venue.MarketUSDMFutures)
		assert.Equal(t, 10, got)
	})

	t.Run("settings default", func(t *testing.T) {
		got := m.ComputeLeverage(nil, settings, nil, venue.VenueBinance, venue.MarketUSDMFutures)
		assert.Equal(t, 3, got)
	})

	t.Run("built-in fallback", func(t *testing.T) {
		s := defaultSettings()
		s.DefaultLeverage = 0
		got := m.ComputeLeverage(nil, s, nil, venue.VenueBinance, venue.MarketUSDMFutures)
		assert.Equal(t, 5, got)
	})

	t.Run("spot always one", func(t *testing.T) {
		follow := &store.WhaleFollow{LeverageOverride: intPtr(7)}
		got := m.ComputeLeverage(follow, settings, nil, venue.VenueBinance, venue.MarketSpot)
		assert.Equal(t, 1, got)
	})
}

func TestCheckRejectsInactiveOrBanned(t *testing.T) {
	m := testManager()

	user := activeUser(store.TierPro, "1000")
	user.IsActive = false
	res := m.Check(Input{User: user, Settings: defaultSettings(), Venue: venue.VenueBinance, Market: venue.MarketSpot})
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "inactive")

	user = activeUser(store.TierPro, "1000")
	user.IsBanned = true
	res = m.Check(Input{User: user, Settings: defaultSettings(), Venue: venue.VenueBinance, Market: venue.MarketSpot})
	assert.False(t, res.Allowed)
}

func TestCheckRejectsBelowMinimumBalance(t *testing.T) {
	m := testManager()
	user := activeUser(store.TierPro, "4.99")
	res := m.Check(Input{User: user, Settings: defaultSettings(), Venue: venue.VenueBinance, Market: venue.MarketSpot})
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "below minimum")
}

func TestCheckRejectsFuturesForFreeTier(t *testing.T) {
	m := testManager()
	user := activeUser(store.TierFree, "1000")
	res := m.Check(Input{
		User:     user,
		Settings: defaultSettings(),
		Venue:    venue.VenueBinance,
		Market:   venue.MarketUSDMFutures,
	})
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "futures requires PRO")
}

func TestCheckAutoAdjustsToBalance(t *testing.T) {
	m := testManager()
	user := activeUser(store.TierPro, "40")
	res := m.Check(Input{
		User:          user,
		Settings:      defaultSettings(),
		Venue:         venue.VenueBinance,
		Market:        venue.MarketSpot,
		RequestedSize: dec("50"),
	})
	require.True(t, res.Allowed)
	assert.True(t, res.Size.Equal(dec("32")), "expected 40 * 0.80, got %s", res.Size)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "reduced")
}

func TestCheckRejectsWhenAdjustedBelowMinimum(t *testing.T) {
	m := testManager()
	user := activeUser(store.TierPro, "6")
	res := m.Check(Input{
		User:          user,
		Settings:      defaultSettings(),
		Venue:         venue.VenueBinance,
		Market:        venue.MarketSpot,
		RequestedSize: dec("50"),
	})
	// 6 * 0.80 = 4.80 < min trade size 5
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "insufficient balance")
}

func TestCheckClampsToMaxTradeSize(t *testing.T) {
	m := testManager()
	user := activeUser(store.TierPro, "10000")
	settings := defaultSettings()
	settings.MaxTradeSizeUSDT = decPtr("200")
	res := m.Check(Input{
		User:          user,
		Settings:      settings,
		Venue:         venue.VenueBinance,
		Market:        venue.MarketSpot,
		RequestedSize: dec("500"),
	})
	require.True(t, res.Allowed)
	assert.True(t, res.Size.Equal(dec("200")))
}

func TestCheckDailyLossLimit(t *testing.T) {
	m := testManager()
	user := activeUser(store.TierPro, "1000")

	res := m.Check(Input{
		User:      user,
		Settings:  defaultSettings(),
		Venue:     venue.VenueBinance,
		Market:    venue.MarketSpot,
		DailyLoss: dec("499.99"),
	})
	assert.True(t, res.Allowed)

	// Exactly at the limit rejects
	res = m.Check(Input{
		User:      user,
		Settings:  defaultSettings(),
		Venue:     venue.VenueBinance,
		Market:    venue.MarketSpot,
		DailyLoss: dec("500"),
	})
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "daily loss limit")
}

func TestCheckOpenPositionLimit(t *testing.T) {
	m := testManager()

	t.Run("tier limit applies", func(t *testing.T) {
		user := activeUser(store.TierFree, "1000")
		res := m.Check(Input{
			User:          user,
			Settings:      defaultSettings(),
			Venue:         venue.VenueBinance,
			Market:        venue.MarketSpot,
			OpenPositions: 3,
		})
		require.False(t, res.Allowed)
		assert.Contains(t, res.Reason, "position limit")
	})

	t.Run("elite tier is unlimited", func(t *testing.T) {
		user := activeUser(store.TierElite, "1000")
		settings := defaultSettings()
		settings.MaxOpenPositions = 0
		res := m.Check(Input{
			User:          user,
			Settings:      settings,
			Venue:         venue.VenueBinance,
			Market:        venue.MarketSpot,
			OpenPositions: 500,
		})
		assert.True(t, res.Allowed)
	})
}

func TestCheckMinNotional(t *testing.T) {
	m := testManager()

	t.Run("bumps small futures order", func(t *testing.T) {
		user := activeUser(store.TierPro, "1000")
		settings := defaultSettings()
		settings.DefaultLeverage = 2
		res := m.Check(Input{
			User:          user,
			Settings:      settings,
			Venue:         venue.VenueBinance,
			Market:        venue.MarketUSDMFutures,
			RequestedSize: dec("30"),
		})
		// 30 * 2 = 60 notional < 100 minimum; bumped to 100*1.20/2 = 60,
		// which is well under 10% of the balance
		require.True(t, res.Allowed)
		assert.True(t, res.Size.Equal(dec("60")), "got %s", res.Size)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "minimum notional")
	})

	t.Run("rejects when bump exceeds ten percent of balance", func(t *testing.T) {
		user := activeUser(store.TierPro, "200")
		settings := defaultSettings()
		settings.DefaultLeverage = 2
		res := m.Check(Input{
			User:          user,
			Settings:      settings,
			Venue:         venue.VenueBinance,
			Market:        venue.MarketUSDMFutures,
			RequestedSize: dec("30"),
		})
		// bump target 60 > 10% of 200
		require.False(t, res.Allowed)
		assert.Contains(t, res.Reason, "below venue minimum")
	})

	t.Run("exact minimum passes untouched", func(t *testing.T) {
		user := activeUser(store.TierPro, "1000")
		settings := defaultSettings()
		settings.DefaultLeverage = 2
		res := m.Check(Input{
			User:          user,
			Settings:      settings,
			Venue:         venue.VenueBinance,
			Market:        venue.MarketUSDMFutures,
			RequestedSize: dec("50"),
		})
		require.True(t, res.Allowed)
		assert.True(t, res.Size.Equal(dec("50")))
		assert.Empty(t, res.Warnings)
	})
}

func TestCheckTierLeverageCap(t *testing.T) {
	m := testManager()
	user := activeUser(store.TierPro, "1000")
	settings := defaultSettings()
	settings.MaxLeverage = 50
	follow := &store.WhaleFollow{LeverageOverride: intPtr(40)}
	res := m.Check(Input{
		User:     user,
		Settings: settings,
		Follow:   follow,
		Venue:    venue.VenueBinance,
		Market:   venue.MarketUSDMFutures,
	})
	require.True(t, res.Allowed)
	assert.Equal(t, 20, res.Leverage, "PRO tier caps leverage at 20")
}
