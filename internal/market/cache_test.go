package market

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/whalecopy/internal/venue"
)

func newTestCache(t *testing.T) (*TickerCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTickerCache(client), mr
}

func TestTickerCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, ok, err := cache.Price(ctx, venue.VenueBinance, venue.MarketSpot, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	price := decimal.RequireFromString("50123.45")
	require.NoError(t, cache.Set(ctx, venue.VenueBinance, venue.MarketSpot, "BTCUSDT", price))

	got, ok, err := cache.Price(ctx, venue.VenueBinance, venue.MarketSpot, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(price))
}

func TestTickerCacheKeysAreSegmented(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	spot := decimal.NewFromInt(50000)
	futures := decimal.NewFromInt(50100)
	require.NoError(t, cache.Set(ctx, venue.VenueBinance, venue.MarketSpot, "BTCUSDT", spot))
	require.NoError(t, cache.Set(ctx, venue.VenueBinance, venue.MarketUSDMFutures, "BTCUSDT", futures))

	got, ok, err := cache.Price(ctx, venue.VenueBinance, venue.MarketUSDMFutures, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(futures))

	// A different venue never sees the Binance price
	_, ok, err = cache.Price(ctx, venue.VenueBybit, venue.MarketSpot, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTickerCacheExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, venue.VenueBinance, venue.MarketSpot, "ETHUSDT", decimal.NewFromInt(3000)))
	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Price(ctx, venue.VenueBinance, venue.MarketSpot, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeMiniTickers(t *testing.T) {
	data := []byte(`[{"s":"BTCUSDT","c":"50000.10"},{"s":"ETHUSDT","c":"3000.55"}]`)
	batch, err := decodeMiniTickers(data)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "BTCUSDT", batch[0].Symbol)
	assert.Equal(t, "3000.55", batch[1].Close)
}
