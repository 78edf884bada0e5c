// Package market maintains a short-lived ticker cache fed by venue
// websocket streams. The adapter's GetTicker stays authoritative; the
// cache only spares the position monitor a REST call per reprice.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// tickerTTL bounds how stale a cached price may get before readers fall
// back to the adapter
const tickerTTL = time.Minute

// TickerCache stores last prices per (venue, market, symbol) in Redis
type TickerCache struct {
	client *redis.Client
	prefix string
}

// NewTickerCache creates a ticker cache on an existing Redis client
func NewTickerCache(client *redis.Client) *TickerCache {
	return &TickerCache{client: client, prefix: "whalecopy:ticker:"}
}

func (c *TickerCache) key(v venue.Venue, market venue.Market, symbol string) string {
	return fmt.Sprintf("%s%s:%s:%s", c.prefix, v, market, symbol)
}

// Set records the last price for a symbol
func (c *TickerCache) Set(ctx context.Context, v venue.Venue, market venue.Market, symbol string, price decimal.Decimal) error {
	if err := c.client.Set(ctx, c.key(v, market, symbol), price.String(), tickerTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache ticker: %w", err)
	}
	return nil
}

// Price returns the cached last price, or ok=false when absent or expired
func (c *TickerCache) Price(ctx context.Context, v venue.Venue, market venue.Market, symbol string) (decimal.Decimal, bool, error) {
	raw, err := c.client.Get(ctx, c.key(v, market, symbol)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read ticker: %w", err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}
