package engine

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openPosition(side venue.Side, entry string, qty string, leverage int) *store.Position {
	return &store.Position{
		ID:         uuid.New(),
		Side:       side,
		Leverage:   leverage,
		EntryPrice: dec(entry),
		Quantity:   dec(qty),
	}
}

func TestRealizedPnL(t *testing.T) {
	tests := []struct {
		name     string
		position *store.Position
		exit     string
		want     string
	}{
		{"long profit", openPosition(venue.SideLong, "50000", "0.02", 10), "51000", "200"},
		{"long loss", openPosition(venue.SideLong, "50000", "0.02", 10), "49000", "-200"},
		{"short profit", openPosition(venue.SideShort, "50000", "0.02", 10), "49000", "200"},
		{"short loss", openPosition(venue.SideShort, "50000", "0.02", 10), "51000", "-200"},
		{"spot one x", openPosition(venue.SideLong, "100", "5", 1), "110", "50"},
		{"flat exit", openPosition(venue.SideLong, "50000", "0.02", 10), "50000", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RealizedPnL(tt.position, dec(tt.exit))
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestUnrealizedPnLTracksMark(t *testing.T) {
	p := openPosition(venue.SideShort, "2000", "1", 5)
	assert.True(t, UnrealizedPnL(p, dec("1900")).Equal(dec("500")))
	assert.True(t, UnrealizedPnL(p, dec("2100")).Equal(dec("-500")))
}

func TestOffsetPrice(t *testing.T) {
	entry := dec("50000")
	pct := dec("5")

	// A long's stop sits below entry, its target above
	assert.True(t, offsetPrice(entry, pct, venue.SideLong, false).Equal(dec("47500")))
	assert.True(t, offsetPrice(entry, pct, venue.SideLong, true).Equal(dec("52500")))

	// A short mirrors both
	assert.True(t, offsetPrice(entry, pct, venue.SideShort, false).Equal(dec("52500")))
	assert.True(t, offsetPrice(entry, pct, venue.SideShort, true).Equal(dec("47500")))
}

func TestModeAllows(t *testing.T) {
	assert.True(t, modeAllows(store.TradingModeSpot, venue.MarketSpot))
	assert.False(t, modeAllows(store.TradingModeSpot, venue.MarketUSDMFutures))
	assert.True(t, modeAllows(store.TradingModeFutures, venue.MarketUSDMFutures))
	assert.True(t, modeAllows(store.TradingModeFutures, venue.MarketCOINMFutures))
	assert.False(t, modeAllows(store.TradingModeFutures, venue.MarketSpot))
	assert.True(t, modeAllows(store.TradingModeMixed, venue.MarketSpot))
	assert.True(t, modeAllows(store.TradingModeMixed, venue.MarketUSDMFutures))
}

func TestClientOrderIDIsDeterministic(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, clientOrderID(id), clientOrderID(id))
	assert.True(t, strings.HasPrefix(clientOrderID(id), "wc-"))
	assert.NotEqual(t, clientOrderID(id), clientOrderID(uuid.New()))
}

func TestVenueWide(t *testing.T) {
	assert.True(t, venueWide(venue.ErrCircuitOpen))
	assert.True(t, venueWide(venue.Retryable(assert.AnError)))
	assert.False(t, venueWide(venue.ErrInsufficientBalance))
	assert.False(t, venueWide(assert.AnError))
	assert.False(t, venueWide(nil))
}
