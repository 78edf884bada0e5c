package watch

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

func sample(symbol string, side venue.Side) venue.PositionSample {
	return venue.PositionSample{
		Symbol:     symbol,
		Market:     venue.MarketUSDMFutures,
		Side:       side,
		Quantity:   decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(50000),
		Leverage:   10,
	}
}

func TestDiff(t *testing.T) {
	t.Run("detects opened and closed symbols", func(t *testing.T) {
		prev := []venue.PositionSample{sample("BTCUSDT", venue.SideLong), sample("ETHUSDT", venue.SideShort)}
		curr := []venue.PositionSample{sample("BTCUSDT", venue.SideLong), sample("SOLUSDT", venue.SideLong)}

		ch := Diff(prev, curr)
		assert.Len(t, ch.Opened, 1)
		assert.Equal(t, "SOLUSDT", ch.Opened[0].Symbol)
		assert.Len(t, ch.Closed, 1)
		assert.Equal(t, "ETHUSDT", ch.Closed[0].Symbol)
		assert.Equal(t, venue.SideShort, ch.Closed[0].Side)
	})

	t.Run("no changes on identical sets", func(t *testing.T) {
		set := []venue.PositionSample{sample("BTCUSDT", venue.SideLong)}
		ch := Diff(set, set)
		assert.Empty(t, ch.Opened)
		assert.Empty(t, ch.Closed)
	})

	t.Run("all closed when current is empty", func(t *testing.T) {
		prev := []venue.PositionSample{sample("BTCUSDT", venue.SideLong), sample("ETHUSDT", venue.SideLong)}
		ch := Diff(prev, nil)
		assert.Empty(t, ch.Opened)
		assert.Len(t, ch.Closed, 2)
	})

	t.Run("side flip closes the old side and opens the new", func(t *testing.T) {
		prev := []venue.PositionSample{sample("BTCUSDT", venue.SideLong)}
		curr := []venue.PositionSample{sample("BTCUSDT", venue.SideShort)}
		ch := Diff(prev, curr)
		assert.Len(t, ch.Closed, 1)
		assert.Equal(t, venue.SideLong, ch.Closed[0].Side)
		assert.Len(t, ch.Opened, 1)
		assert.Equal(t, venue.SideShort, ch.Opened[0].Side)
	})

	t.Run("duplicate symbols in current count once", func(t *testing.T) {
		curr := []venue.PositionSample{sample("BTCUSDT", venue.SideLong), sample("BTCUSDT", venue.SideLong)}
		ch := Diff(nil, curr)
		assert.Len(t, ch.Opened, 1)
	})

	t.Run("same symbol on different markets are distinct", func(t *testing.T) {
		spot := sample("BTCUSDT", venue.SideLong)
		spot.Market = venue.MarketSpot
		prev := []venue.PositionSample{sample("BTCUSDT", venue.SideLong)}
		curr := []venue.PositionSample{sample("BTCUSDT", venue.SideLong), spot}
		ch := Diff(prev, curr)
		assert.Len(t, ch.Opened, 1)
		assert.Equal(t, venue.MarketSpot, ch.Opened[0].Market)
	})
}

func TestScore(t *testing.T) {
	// 0.5*80 + min(30, 25*3) - min(20, 10*1.5) = 40 + 30 - 15 = 55
	assert.Equal(t, 55, Score(80, 25, 10))

	// ROE bonus caps at 30, leverage penalty caps at 20
	assert.Equal(t, 60, Score(100, 900, 100))

	// Floor at 10
	assert.Equal(t, 10, Score(1, 0, 100))

	// Negative ROE contributes through its magnitude
	assert.Equal(t, Score(50, 10, 5), Score(50, -10, 5))
}

func TestBucket(t *testing.T) {
	assert.Equal(t, store.ConfidenceLow, Bucket(39))
	assert.Equal(t, store.ConfidenceMedium, Bucket(40))
	assert.Equal(t, store.ConfidenceMedium, Bucket(59))
	assert.Equal(t, store.ConfidenceHigh, Bucket(60))
	assert.Equal(t, store.ConfidenceHigh, Bucket(79))
	assert.Equal(t, store.ConfidenceVeryHigh, Bucket(80))
}

func TestDerivePriority(t *testing.T) {
	autoCopy := store.FollowerFlags{HasActive: true, HasAutoCopy: true}
	passive := store.FollowerFlags{HasActive: true}
	none := store.FollowerFlags{}

	assert.Equal(t, store.PriorityHigh, DerivePriority(autoCopy, store.ConfidenceLow))
	assert.Equal(t, store.PriorityHigh, DerivePriority(none, store.ConfidenceVeryHigh))
	assert.Equal(t, store.PriorityMedium, DerivePriority(passive, store.ConfidenceMedium))
	assert.Equal(t, store.PriorityLow, DerivePriority(none, store.ConfidenceHigh))
}

func TestFingerprint(t *testing.T) {
	whaleID := uuid.New()
	at := time.Date(2026, 3, 1, 12, 30, 15, 0, time.UTC)

	// Detections within the same minute collapse
	a := Fingerprint(whaleID, "BTCUSDT", store.SignalActionBuy, false, at)
	b := Fingerprint(whaleID, "BTCUSDT", store.SignalActionBuy, false, at.Add(40*time.Second))
	assert.Equal(t, a, b)

	// Open and close of the same symbol never collide
	c := Fingerprint(whaleID, "BTCUSDT", store.SignalActionSell, true, at)
	assert.NotEqual(t, a, c)

	// Different whales never collide
	d := Fingerprint(uuid.New(), "BTCUSDT", store.SignalActionBuy, false, at)
	assert.NotEqual(t, a, d)
}
