package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Public leaderboard endpoints (bapi). Not part of the signed API surface.
	binanceLeaderboardBase = "https://www.binance.com/bapi/futures/v1/public/future/leaderboard"
)

// BinanceAdapter normalizes the Binance REST surface to the Adapter contract.
// Spot and USD-M futures are fully supported; COIN-M order placement is not
// wired (contract-size conversion is not implemented for this venue) and
// returns ErrUnsupported.
type BinanceAdapter struct {
	testnet    bool
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     zerolog.Logger
}

// BinanceConfig configures the Binance adapter
type BinanceConfig struct {
	Testnet        bool
	RequestsPerSec float64
}

// NewBinanceAdapter creates the Binance adapter
func NewBinanceAdapter(cfg BinanceConfig, logger zerolog.Logger) *BinanceAdapter {
	if cfg.Testnet {
		binance.UseTestnet = true
		futures.UseTestnet = true
		logger.Info().Msg("Binance adapter initialized (TESTNET mode)")
	} else {
		logger.Warn().Msg("Binance adapter initialized (LIVE TRADING mode)")
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	return &BinanceAdapter{
		testnet:    cfg.Testnet,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Venue returns the venue tag
func (b *BinanceAdapter) Venue() Venue { return VenueBinance }

func (b *BinanceAdapter) spot(creds *Credentials) *binance.Client {
	if creds == nil {
		return binance.NewClient("", "")
	}
	return binance.NewClient(creds.APIKey, creds.APISecret)
}

func (b *BinanceAdapter) fut(creds *Credentials) *futures.Client {
	if creds == nil {
		return futures.NewClient("", "")
	}
	return futures.NewClient(creds.APIKey, creds.APISecret)
}

// normalizeSymbol maps "BTC-USDT" and "BTC/USDT" to Binance's "BTCUSDT"
func normalizeSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	return strings.ToUpper(s)
}

// classifyBinanceErr maps Binance API error codes onto the adapter taxonomy
func classifyBinanceErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !asAPIError(err, &apiErr) {
		// Transport-level failure
		return Retryable(err)
	}
	switch apiErr.Code {
	case -1003, -1015:
		return &RateLimitError{}
	case -1001, -1021:
		return Retryable(err)
	case -2010, -2019:
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, apiErr.Message)
	case -1111, -1013, -1121, -4164:
		return fmt.Errorf("%w: %s", ErrInvalidOrder, apiErr.Message)
	case -4028:
		return fmt.Errorf("%w: %s", ErrInvalidLeverage, apiErr.Message)
	case -2011, -2013:
		return fmt.Errorf("%w: %s", ErrOrderNotFound, apiErr.Message)
	case -2014, -2015, -1022:
		return fmt.Errorf("%w: %s", ErrAuthFailure, apiErr.Message)
	}
	if apiErr.Code >= 500 || (apiErr.Code <= -1000 && apiErr.Code > -1100) {
		return Retryable(err)
	}
	return &APIError{Venue: VenueBinance, Code: int(apiErr.Code), Message: apiErr.Message}
}

func asAPIError(err error, target **common.APIError) bool {
	for err != nil {
		if ae, ok := err.(*common.APIError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// PlaceSpotMarket places a spot market order
func (b *BinanceAdapter) PlaceSpotMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, quoteQuantity decimal.Decimal, clientOrderID string) (*OrderResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sideType := binance.SideTypeBuy
	if side == SideSell {
		sideType = binance.SideTypeSell
	}

	svc := b.spot(creds).NewCreateOrderService().
		Symbol(normalizeSymbol(symbol)).
		Side(sideType).
		Type(binance.OrderTypeMarket)
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}
	if !quantity.IsZero() {
		svc = svc.Quantity(quantity.StringFixed(8))
	} else {
		svc = svc.QuoteOrderQty(quoteQuantity.StringFixed(8))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}

	executed, _ := decimal.NewFromString(resp.ExecutedQuantity)
	cumQuote, _ := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	price := decimal.Zero
	if executed.IsPositive() {
		price = cumQuote.Div(executed)
	}
	fee := decimal.Zero
	for _, fill := range resp.Fills {
		c, _ := decimal.NewFromString(fill.Commission)
		fee = fee.Add(c)
	}

	return &OrderResult{
		VenueOrderID:   strconv.FormatInt(resp.OrderID, 10),
		FilledPrice:    price,
		FilledQuantity: executed,
		Fee:            fee,
		Timestamp:      time.UnixMilli(resp.TransactTime),
	}, nil
}

// PlaceFuturesMarket places a USD-M futures market order
func (b *BinanceAdapter) PlaceFuturesMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error) {
	if market != MarketUSDMFutures {
		return nil, fmt.Errorf("%w: %s futures orders on %s", ErrUnsupported, market, VenueBinance)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sideType := futures.SideTypeBuy
	if side == SideShort || side == SideSell {
		sideType = futures.SideTypeSell
	}

	svc := b.fut(creds).NewCreateOrderService().
		Symbol(normalizeSymbol(symbol)).
		Side(sideType).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.StringFixed(8))
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}

	return futuresOrderResult(resp), nil
}

// CloseFuturesPosition closes (part of) a USD-M futures position with a
// reduce-only market order. side is the side of the position being closed.
func (b *BinanceAdapter) CloseFuturesPosition(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error) {
	if market != MarketUSDMFutures {
		return nil, fmt.Errorf("%w: %s futures orders on %s", ErrUnsupported, market, VenueBinance)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	closeSide := futures.SideTypeSell
	if side == SideShort {
		closeSide = futures.SideTypeBuy
	}

	svc := b.fut(creds).NewCreateOrderService().
		Symbol(normalizeSymbol(symbol)).
		Side(closeSide).
		Type(futures.OrderTypeMarket).
		ReduceOnly(true).
		Quantity(quantity.StringFixed(8))
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}

	return futuresOrderResult(resp), nil
}

func futuresOrderResult(resp *futures.CreateOrderResponse) *OrderResult {
	executed, _ := decimal.NewFromString(resp.ExecutedQuantity)
	avgPrice, _ := decimal.NewFromString(resp.AvgPrice)
	return &OrderResult{
		VenueOrderID:   strconv.FormatInt(resp.OrderID, 10),
		FilledPrice:    avgPrice,
		FilledQuantity: executed,
		Timestamp:      time.UnixMilli(resp.UpdateTime),
	}
}

// SetLeverage sets futures leverage for a symbol. Binance treats repeated
// calls with the same value as a no-op.
func (b *BinanceAdapter) SetLeverage(ctx context.Context, creds *Credentials, symbol string, leverage int, market Market) error {
	if market != MarketUSDMFutures {
		return fmt.Errorf("%w: leverage on %s %s", ErrUnsupported, VenueBinance, market)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := b.fut(creds).NewChangeLeverageService().
		Symbol(normalizeSymbol(symbol)).
		Leverage(leverage).
		Do(ctx)
	return classifyBinanceErr(err)
}

// GetFuturesAvailable reports the free USD-M futures wallet balance for
// the margin asset
func (b *BinanceAdapter) GetFuturesAvailable(ctx context.Context, creds *Credentials, asset string, market Market) (decimal.Decimal, error) {
	if market != MarketUSDMFutures {
		return decimal.Zero, fmt.Errorf("%w: futures balance on %s %s", ErrUnsupported, VenueBinance, market)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	balances, err := b.fut(creds).NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, classifyBinanceErr(err)
	}
	for _, bal := range balances {
		if bal.Asset != asset {
			continue
		}
		available, err := decimal.NewFromString(bal.AvailableBalance)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse futures balance: %w", err)
		}
		return available, nil
	}
	return decimal.Zero, nil
}

// TransferToFutures moves asset from the spot wallet into the USD-M
// futures wallet
func (b *BinanceAdapter) TransferToFutures(ctx context.Context, creds *Credentials, asset string, amount decimal.Decimal, market Market) error {
	if market != MarketUSDMFutures {
		return fmt.Errorf("%w: internal transfer on %s %s", ErrUnsupported, VenueBinance, market)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	amt := amount.Round(8).String()
	_, err := b.spot(creds).NewFuturesTransferService().
		Asset(asset).
		Amount(amt).
		Type(binance.FuturesTransferTypeToFutures).
		Do(ctx)
	return classifyBinanceErr(err)
}

// PlaceStopLoss places a reduce-only STOP_MARKET order on futures. Spot
// stops are not supported here.
func (b *BinanceAdapter) PlaceStopLoss(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, stopPrice decimal.Decimal, market Market) (string, error) {
	if market != MarketUSDMFutures {
		return "", fmt.Errorf("%w: stop loss on %s %s", ErrUnsupported, VenueBinance, market)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	// The stop closes the position, so it sits on the opposite side
	closeSide := futures.SideTypeSell
	if side == SideShort {
		closeSide = futures.SideTypeBuy
	}

	resp, err := b.fut(creds).NewCreateOrderService().
		Symbol(normalizeSymbol(symbol)).
		Side(closeSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(stopPrice.StringFixed(8)).
		ReduceOnly(true).
		Quantity(quantity.StringFixed(8)).
		Do(ctx)
	if err != nil {
		return "", classifyBinanceErr(err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// GetTicker returns the last price for a symbol
func (b *BinanceAdapter) GetTicker(ctx context.Context, symbol string, market Market) (decimal.Decimal, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	sym := normalizeSymbol(symbol)
	if market == MarketUSDMFutures {
		prices, err := futures.NewClient("", "").NewListPricesService().Symbol(sym).Do(ctx)
		if err != nil {
			return decimal.Zero, classifyBinanceErr(err)
		}
		if len(prices) == 0 {
			return decimal.Zero, fmt.Errorf("%w: no price for %s", ErrInvalidOrder, sym)
		}
		p, err := decimal.NewFromString(prices[0].Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse price: %w", err)
		}
		return p, nil
	}
	if market == MarketCOINMFutures {
		return decimal.Zero, fmt.Errorf("%w: COIN-M ticker on %s", ErrUnsupported, VenueBinance)
	}

	prices, err := binance.NewClient("", "").NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return decimal.Zero, classifyBinanceErr(err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", ErrInvalidOrder, sym)
	}
	p, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price: %w", err)
	}
	return p, nil
}

// GetBalances lists spot account balances with a nonzero total
func (b *BinanceAdapter) GetBalances(ctx context.Context, creds *Credentials) ([]Balance, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	account, err := b.spot(creds).NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}

	var balances []Balance
	for _, bal := range account.Balances {
		free, _ := decimal.NewFromString(bal.Free)
		locked, _ := decimal.NewFromString(bal.Locked)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		balances = append(balances, Balance{Asset: bal.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// GetOrderByClientID looks up an order by the client order id we attached
func (b *BinanceAdapter) GetOrderByClientID(ctx context.Context, creds *Credentials, symbol, clientOrderID string, market Market) (*OrderLookup, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sym := normalizeSymbol(symbol)
	if market.IsFutures() {
		order, err := b.fut(creds).NewGetOrderService().
			Symbol(sym).
			OrigClientOrderID(clientOrderID).
			Do(ctx)
		if err != nil {
			return nil, classifyBinanceErr(err)
		}
		executed, _ := decimal.NewFromString(order.ExecutedQuantity)
		avgPrice, _ := decimal.NewFromString(order.AvgPrice)
		return &OrderLookup{
			VenueOrderID:   strconv.FormatInt(order.OrderID, 10),
			Status:         convertOrderState(string(order.Status)),
			FilledPrice:    avgPrice,
			FilledQuantity: executed,
		}, nil
	}

	order, err := b.spot(creds).NewGetOrderService().
		Symbol(sym).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}
	executed, _ := decimal.NewFromString(order.ExecutedQuantity)
	cumQuote, _ := decimal.NewFromString(order.CummulativeQuoteQuantity)
	price := decimal.Zero
	if executed.IsPositive() {
		price = cumQuote.Div(executed)
	}
	return &OrderLookup{
		VenueOrderID:   strconv.FormatInt(order.OrderID, 10),
		Status:         convertOrderState(string(order.Status)),
		FilledPrice:    price,
		FilledQuantity: executed,
	}, nil
}

func convertOrderState(status string) OrderState {
	switch status {
	case "FILLED":
		return OrderStateFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		return OrderStateCanceled
	case "REJECTED":
		return OrderStateRejected
	default:
		return OrderStateNew
	}
}

// GetOpenPositions lists the user's own open USD-M futures positions
func (b *BinanceAdapter) GetOpenPositions(ctx context.Context, creds *Credentials, market Market) ([]PositionSample, error) {
	if market != MarketUSDMFutures {
		return nil, fmt.Errorf("%w: positions on %s %s", ErrUnsupported, VenueBinance, market)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	risks, err := b.fut(creds).NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}

	var samples []PositionSample
	for _, r := range risks {
		amt, _ := decimal.NewFromString(r.PositionAmt)
		if amt.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(r.EntryPrice)
		mark, _ := decimal.NewFromString(r.MarkPrice)
		leverage, _ := strconv.Atoi(r.Leverage)
		side := SideLong
		if amt.IsNegative() {
			side = SideShort
		}
		samples = append(samples, PositionSample{
			Symbol:     r.Symbol,
			Market:     MarketUSDMFutures,
			Side:       side,
			Quantity:   amt.Abs(),
			EntryPrice: entry,
			MarkPrice:  mark,
			Leverage:   leverage,
		})
	}
	return samples, nil
}

// leaderboard wire shapes

type lbPositionResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *struct {
		OtherPositionRetList []struct {
			Symbol     string  `json:"symbol"`
			EntryPrice float64 `json:"entryPrice"`
			MarkPrice  float64 `json:"markPrice"`
			Amount     float64 `json:"amount"`
			Leverage   int     `json:"leverage"`
			Roe        float64 `json:"roe"`
		} `json:"otherPositionRetList"`
	} `json:"data"`
}

type lbBaseInfoResp struct {
	Success bool `json:"success"`
	Data    *struct {
		PositionShared bool   `json:"positionShared"`
		NickName       string `json:"nickName"`
	} `json:"data"`
}

type lbRankResp struct {
	Success bool `json:"success"`
	Data    []struct {
		EncryptedUID  string  `json:"encryptedUid"`
		NickName      string  `json:"nickName"`
		Value         float64 `json:"value"`
		Pnl           float64 `json:"pnl"`
		FollowerCount int     `json:"followerCount"`
	} `json:"data"`
}

func (b *BinanceAdapter) leaderboardPost(ctx context.Context, endpoint string, payload, out interface{}) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, binanceLeaderboardBase+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create leaderboard request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Retryable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Retryable(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: leaderboard returned %d", ErrAuthFailure, resp.StatusCode)
	case resp.StatusCode >= 500:
		return Retryable(fmt.Errorf("leaderboard returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return &APIError{Venue: VenueBinance, Code: resp.StatusCode, Message: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse leaderboard response: %w", err)
	}
	return nil
}

// GetTraderPositions samples a leaderboard trader's public open positions.
// When the list is empty a second call checks whether the profile still
// shares positions at all.
func (b *BinanceAdapter) GetTraderPositions(ctx context.Context, venueUID string, market Market) (*TraderPositionsResult, error) {
	if market != MarketUSDMFutures {
		return nil, fmt.Errorf("%w: leaderboard positions on %s %s", ErrUnsupported, VenueBinance, market)
	}

	var posResp lbPositionResp
	payload := map[string]string{"encryptedUid": venueUID, "tradeType": "PERPETUAL"}
	if err := b.leaderboardPost(ctx, "/getOtherPosition", payload, &posResp); err != nil {
		return nil, err
	}
	if !posResp.Success || posResp.Data == nil {
		return &TraderPositionsResult{Shared: false}, nil
	}

	var samples []PositionSample
	for _, p := range posResp.Data.OtherPositionRetList {
		side := SideLong
		amount := p.Amount
		if amount < 0 {
			side = SideShort
			amount = -amount
		}
		samples = append(samples, PositionSample{
			Symbol:     normalizeSymbol(p.Symbol),
			Market:     MarketUSDMFutures,
			Side:       side,
			Quantity:   decimal.NewFromFloat(amount),
			EntryPrice: decimal.NewFromFloat(p.EntryPrice),
			MarkPrice:  decimal.NewFromFloat(p.MarkPrice),
			Leverage:   p.Leverage,
			ROE:        p.Roe * 100,
		})
	}

	if len(samples) > 0 {
		return &TraderPositionsResult{Samples: samples, Shared: true}, nil
	}

	// Empty list: check whether the profile still shares positions
	var baseResp lbBaseInfoResp
	if err := b.leaderboardPost(ctx, "/getOtherLeaderboardBaseInfo", map[string]string{"encryptedUid": venueUID}, &baseResp); err != nil {
		return nil, err
	}
	shared := baseResp.Success && baseResp.Data != nil && baseResp.Data.PositionShared
	return &TraderPositionsResult{Shared: shared}, nil
}

// GetLeaderboard fetches one page of the futures ROI leaderboard
func (b *BinanceAdapter) GetLeaderboard(ctx context.Context, market Market, page int) ([]TraderSummary, error) {
	if market != MarketUSDMFutures {
		return nil, fmt.Errorf("%w: leaderboard on %s %s", ErrUnsupported, VenueBinance, market)
	}

	payload := map[string]interface{}{
		"tradeType":      "PERPETUAL",
		"statisticsType": "ROI",
		"periodType":     "WEEKLY",
		"isShared":       true,
		"pageNumber":     page,
		"pageSize":       20,
	}
	var rankResp lbRankResp
	if err := b.leaderboardPost(ctx, "/getLeaderboardRank", payload, &rankResp); err != nil {
		return nil, err
	}
	if !rankResp.Success {
		return nil, &APIError{Venue: VenueBinance, Code: 0, Message: "leaderboard rank request rejected"}
	}

	summaries := make([]TraderSummary, 0, len(rankResp.Data))
	for _, row := range rankResp.Data {
		summaries = append(summaries, TraderSummary{
			VenueUID:    row.EncryptedUID,
			DisplayName: row.NickName,
			ROI:         row.Value,
			PnL:         row.Pnl,
			FollowerCnt: row.FollowerCount,
		})
	}
	return summaries, nil
}

// GetKlines fetches spot candlesticks for the indicator signal source
func (b *BinanceAdapter) GetKlines(ctx context.Context, symbol string, market Market, interval string, limit int) ([]Kline, error) {
	if market != MarketSpot {
		return nil, fmt.Errorf("%w: klines on %s %s", ErrUnsupported, VenueBinance, market)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := binance.NewClient("", "").NewKlinesService().
		Symbol(normalizeSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		open, _ := decimal.NewFromString(k.Open)
		high, _ := decimal.NewFromString(k.High)
		low, _ := decimal.NewFromString(k.Low)
		closeP, _ := decimal.NewFromString(k.Close)
		volume, _ := decimal.NewFromString(k.Volume)
		klines = append(klines, Kline{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
			Volume:   volume,
		})
	}
	return klines, nil
}

var _ Adapter = (*BinanceAdapter)(nil)
