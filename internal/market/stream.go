package market

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/venue"
)

const (
	binanceSpotStreamURL    = "wss://stream.binance.com:9443/ws/!miniTicker@arr"
	binanceFuturesStreamURL = "wss://fstream.binance.com/ws/!miniTicker@arr"

	streamPongWait  = 3 * time.Minute
	streamReconnect = 5 * time.Second
)

// miniTicker is the Binance 24h mini-ticker payload; only symbol and close
// price are consumed
type miniTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// BinanceStream feeds the ticker cache from Binance's all-market mini
// ticker websocket. One stream per market segment.
type BinanceStream struct {
	cache  *TickerCache
	market venue.Market
	url    string
	logger zerolog.Logger
}

// NewBinanceStream creates a stream for one Binance market segment
func NewBinanceStream(cache *TickerCache, market venue.Market, logger zerolog.Logger) *BinanceStream {
	url := binanceSpotStreamURL
	if market.IsFutures() {
		url = binanceFuturesStreamURL
	}
	return &BinanceStream{cache: cache, market: market, url: url, logger: logger}
}

// Run consumes the stream until ctx is cancelled, reconnecting on any
// transport failure
func (s *BinanceStream) Run(ctx context.Context) error {
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).
				Str("market", string(s.market)).
				Msg("Ticker stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(streamReconnect):
		}
	}
}

func (s *BinanceStream) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Binance pings from the server side; answering pongs is handled by
	// gorilla's default ping handler, we only need to keep the deadline fresh
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))

	s.logger.Info().
		Str("market", string(s.market)).
		Str("url", s.url).
		Msg("Ticker stream connected")

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))

		batch, err := decodeMiniTickers(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Undecodable ticker frame")
			continue
		}
		s.apply(ctx, batch)
	}
}

func (s *BinanceStream) apply(ctx context.Context, batch []miniTicker) {
	for _, t := range batch {
		price, err := decimal.NewFromString(t.Close)
		if err != nil || price.IsZero() {
			continue
		}
		if err := s.cache.Set(ctx, venue.VenueBinance, s.market, t.Symbol, price); err != nil {
			s.logger.Warn().Err(err).Str("symbol", t.Symbol).Msg("Failed to cache ticker")
			return
		}
	}
}

func decodeMiniTickers(data []byte) ([]miniTicker, error) {
	var batch []miniTicker
	err := json.Unmarshal(data, &batch)
	return batch, err
}
