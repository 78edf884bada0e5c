package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	bybitMainnetURL = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"
	bybitRecvWindow = "5000"
)

// BybitAdapter normalizes the Bybit V5 REST surface to the Adapter contract.
// Bybit uses "Buy"/"Sell" side strings and a category tag per market; both
// stay local to this file. The public copy-trading leaderboard has no stable
// REST surface, so the observation operations return ErrUnsupported.
type BybitAdapter struct {
	baseURL    string
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     zerolog.Logger
}

// BybitConfig configures the Bybit adapter
type BybitConfig struct {
	Testnet        bool
	RequestsPerSec float64
}

// NewBybitAdapter creates the Bybit adapter
func NewBybitAdapter(cfg BybitConfig, logger zerolog.Logger) *BybitAdapter {
	baseURL := bybitMainnetURL
	if cfg.Testnet {
		baseURL = bybitTestnetURL
		logger.Info().Msg("Bybit adapter initialized (TESTNET mode)")
	} else {
		logger.Warn().Msg("Bybit adapter initialized (LIVE TRADING mode)")
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	return &BybitAdapter{
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Venue returns the venue tag
func (b *BybitAdapter) Venue() Venue { return VenueBybit }

func bybitCategory(market Market) (string, error) {
	switch market {
	case MarketSpot:
		return "spot", nil
	case MarketUSDMFutures:
		return "linear", nil
	case MarketCOINMFutures:
		return "inverse", nil
	}
	return "", fmt.Errorf("%w: market %s", ErrInvalidOrder, market)
}

func bybitSide(side Side) string {
	switch side {
	case SideBuy, SideLong:
		return "Buy"
	default:
		return "Sell"
	}
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// classifyBybitCode maps Bybit return codes onto the adapter taxonomy.
// 110043 (leverage not modified) is success: SetLeverage is idempotent.
func classifyBybitCode(code int, msg string) error {
	switch code {
	case 0, 110043:
		return nil
	case 10006, 10018:
		return &RateLimitError{}
	case 10003, 10004, 10005, 33004:
		return fmt.Errorf("%w: %s", ErrAuthFailure, msg)
	case 110007, 110012, 110052, 170131:
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, msg)
	case 110009, 110013:
		return fmt.Errorf("%w: %s", ErrInvalidLeverage, msg)
	case 110017, 110025:
		return fmt.Errorf("%w: %s", ErrPositionNotFound, msg)
	case 10001, 110003, 170130, 170140:
		return fmt.Errorf("%w: %s", ErrInvalidOrder, msg)
	case 10002, 10016:
		return Retryable(fmt.Errorf("bybit error %d: %s", code, msg))
	}
	return &APIError{Venue: VenueBybit, Code: code, Message: msg}
}

func (b *BybitAdapter) sign(creds *Credentials, timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(creds.APISecret))
	mac.Write([]byte(timestamp + creds.APIKey + bybitRecvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// request performs a Bybit V5 request. For GET the payload is the encoded
// query string; for POST it is the JSON body.
func (b *BybitAdapter) request(ctx context.Context, creds *Credentials, method, path string, query url.Values, body interface{}, out interface{}) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload string
	var reader io.Reader
	reqURL := b.baseURL + path
	if method == http.MethodGet {
		payload = query.Encode()
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = string(data)
		reader = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	if creds != nil {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", creds.APIKey)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
		req.Header.Set("X-BAPI-SIGN", b.sign(creds, timestamp, payload))
	}

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
	case resp.StatusCode >= 500:
		return Retryable(fmt.Errorf("bybit returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: bybit returned %d", ErrAuthFailure, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return &APIError{Venue: VenueBybit, Code: resp.StatusCode, Message: string(respBody)}
	}

	var envelope bybitEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if err := classifyBybitCode(envelope.RetCode, envelope.RetMsg); err != nil {
		return err
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to parse result: %w", err)
		}
	}
	return nil
}

type bybitCreateOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type bybitOrderListResult struct {
	List []struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		OrderStatus string `json:"orderStatus"`
		AvgPrice    string `json:"avgPrice"`
		CumExecQty  string `json:"cumExecQty"`
		CumExecFee  string `json:"cumExecFee"`
	} `json:"list"`
}

// createOrder places a market order and fetches its fill via the realtime
// order endpoint (Bybit's create response carries no fill data)
func (b *BybitAdapter) createOrder(ctx context.Context, creds *Credentials, category, symbol, side, qty, clientOrderID string, reduceOnly bool) (*OrderResult, error) {
	body := map[string]interface{}{
		"category":  category,
		"symbol":    symbol,
		"side":      side,
		"orderType": "Market",
		"qty":       qty,
	}
	if clientOrderID != "" {
		body["orderLinkId"] = clientOrderID
	}
	if reduceOnly {
		body["reduceOnly"] = true
	}

	var created bybitCreateOrderResult
	if err := b.request(ctx, creds, http.MethodPost, "/v5/order/create", nil, body, &created); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", symbol)
	query.Set("orderId", created.OrderID)

	var orders bybitOrderListResult
	if err := b.request(ctx, creds, http.MethodGet, "/v5/order/realtime", query, nil, &orders); err != nil {
		// The order exists; surface its id so reconciliation can recover it
		return &OrderResult{VenueOrderID: created.OrderID, Timestamp: time.Now().UTC()}, err
	}
	if len(orders.List) == 0 {
		return &OrderResult{VenueOrderID: created.OrderID, Timestamp: time.Now().UTC()}, nil
	}

	o := orders.List[0]
	price, _ := decimal.NewFromString(o.AvgPrice)
	qtyFilled, _ := decimal.NewFromString(o.CumExecQty)
	fee, _ := decimal.NewFromString(o.CumExecFee)
	return &OrderResult{
		VenueOrderID:   o.OrderID,
		FilledPrice:    price,
		FilledQuantity: qtyFilled,
		Fee:            fee,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// PlaceSpotMarket places a spot market order
func (b *BybitAdapter) PlaceSpotMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, quoteQuantity decimal.Decimal, clientOrderID string) (*OrderResult, error) {
	// Bybit spot market buys take quote quantity; sells take base quantity
	qty := quantity
	if qty.IsZero() {
		qty = quoteQuantity
	}
	return b.createOrder(ctx, creds, "spot", normalizeSymbol(symbol), bybitSide(side), qty.StringFixed(8), clientOrderID, false)
}

// PlaceFuturesMarket places a linear or inverse futures market order
func (b *BybitAdapter) PlaceFuturesMarket(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error) {
	category, err := bybitCategory(market)
	if err != nil {
		return nil, err
	}
	return b.createOrder(ctx, creds, category, normalizeSymbol(symbol), bybitSide(side), quantity.StringFixed(8), clientOrderID, false)
}

// CloseFuturesPosition closes (part of) a futures position with a
// reduce-only market order
func (b *BybitAdapter) CloseFuturesPosition(ctx context.Context, creds *Credentials, symbol string, side Side, quantity decimal.Decimal, market Market, clientOrderID string) (*OrderResult, error) {
	category, err := bybitCategory(market)
	if err != nil {
		return nil, err
	}
	return b.createOrder(ctx, creds, category, normalizeSymbol(symbol), bybitSide(side.Closing()), quantity.StringFixed(8), clientOrderID, true)
}

// SetLeverage sets symbol leverage on both sides
func (b *BybitAdapter) SetLeverage(ctx context.Context, creds *Credentials, symbol string, leverage int, market Market) error {
	category, err := bybitCategory(market)
	if err != nil {
		return err
	}
	lev := strconv.Itoa(leverage)
	body := map[string]interface{}{
		"category":     category,
		"symbol":       normalizeSymbol(symbol),
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	return b.request(ctx, creds, http.MethodPost, "/v5/position/set-leverage", nil, body, nil)
}

// GetFuturesAvailable returns ErrUnsupported. The V5 unified trading
// account funds derivatives from the same wallet as spot, so there is no
// separate futures balance to check.
func (b *BybitAdapter) GetFuturesAvailable(ctx context.Context, creds *Credentials, asset string, market Market) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("%w: %s has a unified wallet", ErrUnsupported, VenueBybit)
}

// TransferToFutures returns ErrUnsupported for the same reason
func (b *BybitAdapter) TransferToFutures(ctx context.Context, creds *Credentials, asset string, amount decimal.Decimal, market Market) error {
	return fmt.Errorf("%w: %s has a unified wallet", ErrUnsupported, VenueBybit)
}

// PlaceStopLoss places a reduce-only stop market order
func (b *BybitAdapter) PlaceStopLoss(ctx context.Context, creds *Credentials, symbol string, side Side, quantity, stopPrice decimal.Decimal, market Market) (string, error) {
	category, err := bybitCategory(market)
	if err != nil {
		return "", err
	}
	if category == "spot" {
		return "", fmt.Errorf("%w: spot stop loss on %s", ErrUnsupported, VenueBybit)
	}

	// triggerDirection: 1 = rises to trigger, 2 = falls to trigger
	triggerDirection := 2
	if side == SideShort {
		triggerDirection = 1
	}

	body := map[string]interface{}{
		"category":         category,
		"symbol":           normalizeSymbol(symbol),
		"side":             bybitSide(side.Closing()),
		"orderType":        "Market",
		"qty":              quantity.StringFixed(8),
		"triggerPrice":     stopPrice.StringFixed(8),
		"triggerDirection": triggerDirection,
		"reduceOnly":       true,
	}
	var created bybitCreateOrderResult
	if err := b.request(ctx, creds, http.MethodPost, "/v5/order/create", nil, body, &created); err != nil {
		return "", err
	}
	return created.OrderID, nil
}

type bybitTickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

// GetTicker returns the last traded price
func (b *BybitAdapter) GetTicker(ctx context.Context, symbol string, market Market) (decimal.Decimal, error) {
	category, err := bybitCategory(market)
	if err != nil {
		return decimal.Zero, err
	}

	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", normalizeSymbol(symbol))

	var tickers bybitTickersResult
	if err := b.request(ctx, nil, http.MethodGet, "/v5/market/tickers", query, nil, &tickers); err != nil {
		return decimal.Zero, err
	}
	if len(tickers.List) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no ticker for %s", ErrInvalidOrder, symbol)
	}
	price, err := decimal.NewFromString(tickers.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price: %w", err)
	}
	return price, nil
}

type bybitWalletResult struct {
	List []struct {
		Coin []struct {
			Coin            string `json:"coin"`
			WalletBalance   string `json:"walletBalance"`
			Locked          string `json:"locked"`
			AvailableToWithdraw string `json:"availableToWithdraw"`
		} `json:"coin"`
	} `json:"list"`
}

// GetBalances lists unified account balances with a nonzero total
func (b *BybitAdapter) GetBalances(ctx context.Context, creds *Credentials) ([]Balance, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")

	var wallet bybitWalletResult
	if err := b.request(ctx, creds, http.MethodGet, "/v5/account/wallet-balance", query, nil, &wallet); err != nil {
		return nil, err
	}

	var balances []Balance
	for _, acct := range wallet.List {
		for _, coin := range acct.Coin {
			total, _ := decimal.NewFromString(coin.WalletBalance)
			if total.IsZero() {
				continue
			}
			locked, _ := decimal.NewFromString(coin.Locked)
			balances = append(balances, Balance{
				Asset:  coin.Coin,
				Free:   total.Sub(locked),
				Locked: locked,
			})
		}
	}
	return balances, nil
}

// GetOrderByClientID looks up an order by orderLinkId
func (b *BybitAdapter) GetOrderByClientID(ctx context.Context, creds *Credentials, symbol, clientOrderID string, market Market) (*OrderLookup, error) {
	category, err := bybitCategory(market)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", normalizeSymbol(symbol))
	query.Set("orderLinkId", clientOrderID)

	var orders bybitOrderListResult
	if err := b.request(ctx, creds, http.MethodGet, "/v5/order/realtime", query, nil, &orders); err != nil {
		return nil, err
	}
	if len(orders.List) == 0 {
		// Fall back to order history for settled orders
		var history bybitOrderListResult
		if err := b.request(ctx, creds, http.MethodGet, "/v5/order/history", query, nil, &history); err != nil {
			return nil, err
		}
		orders = history
	}
	if len(orders.List) == 0 {
		return nil, fmt.Errorf("%w: orderLinkId %s", ErrOrderNotFound, clientOrderID)
	}

	o := orders.List[0]
	price, _ := decimal.NewFromString(o.AvgPrice)
	qty, _ := decimal.NewFromString(o.CumExecQty)
	fee, _ := decimal.NewFromString(o.CumExecFee)
	return &OrderLookup{
		VenueOrderID:   o.OrderID,
		Status:         convertBybitOrderState(o.OrderStatus),
		FilledPrice:    price,
		FilledQuantity: qty,
		Fee:            fee,
	}, nil
}

func convertBybitOrderState(status string) OrderState {
	switch status {
	case "Filled":
		return OrderStateFilled
	case "Cancelled", "Deactivated":
		return OrderStateCanceled
	case "Rejected":
		return OrderStateRejected
	default:
		return OrderStateNew
	}
}

type bybitPositionListResult struct {
	List []struct {
		Symbol     string `json:"symbol"`
		Side       string `json:"side"` // "Buy" = long, "Sell" = short
		Size       string `json:"size"`
		AvgPrice   string `json:"avgPrice"`
		MarkPrice  string `json:"markPrice"`
		Leverage   string `json:"leverage"`
	} `json:"list"`
}

// GetOpenPositions lists the user's own open futures positions
func (b *BybitAdapter) GetOpenPositions(ctx context.Context, creds *Credentials, market Market) ([]PositionSample, error) {
	category, err := bybitCategory(market)
	if err != nil {
		return nil, err
	}
	if category == "spot" {
		return nil, fmt.Errorf("%w: positions on %s spot", ErrUnsupported, VenueBybit)
	}

	query := url.Values{}
	query.Set("category", category)
	if category == "linear" {
		query.Set("settleCoin", "USDT")
	}

	var positions bybitPositionListResult
	if err := b.request(ctx, creds, http.MethodGet, "/v5/position/list", query, nil, &positions); err != nil {
		return nil, err
	}

	var samples []PositionSample
	for _, p := range positions.List {
		size, _ := decimal.NewFromString(p.Size)
		if size.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.AvgPrice)
		mark, _ := decimal.NewFromString(p.MarkPrice)
		leverage, _ := strconv.ParseFloat(p.Leverage, 64)
		side := SideLong
		if p.Side == "Sell" {
			side = SideShort
		}
		samples = append(samples, PositionSample{
			Symbol:     p.Symbol,
			Market:     market,
			Side:       side,
			Quantity:   size,
			EntryPrice: entry,
			MarkPrice:  mark,
			Leverage:   int(leverage),
		})
	}
	return samples, nil
}

// GetTraderPositions is not available: Bybit's copy-trading leaderboard has
// no public REST surface
func (b *BybitAdapter) GetTraderPositions(ctx context.Context, venueUID string, market Market) (*TraderPositionsResult, error) {
	return nil, fmt.Errorf("%w: leaderboard positions on %s", ErrUnsupported, VenueBybit)
}

// GetLeaderboard is not available on Bybit
func (b *BybitAdapter) GetLeaderboard(ctx context.Context, market Market, page int) ([]TraderSummary, error) {
	return nil, fmt.Errorf("%w: leaderboard on %s", ErrUnsupported, VenueBybit)
}

type bybitKlineResult struct {
	List [][]string `json:"list"`
}

// GetKlines fetches candlesticks (most recent first per Bybit; reversed here)
func (b *BybitAdapter) GetKlines(ctx context.Context, symbol string, market Market, interval string, limit int) ([]Kline, error) {
	category, err := bybitCategory(market)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", normalizeSymbol(symbol))
	query.Set("interval", bybitInterval(interval))
	query.Set("limit", strconv.Itoa(limit))

	var result bybitKlineResult
	if err := b.request(ctx, nil, http.MethodGet, "/v5/market/kline", query, nil, &result); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := decimal.NewFromString(row[1])
		high, _ := decimal.NewFromString(row[2])
		low, _ := decimal.NewFromString(row[3])
		closeP, _ := decimal.NewFromString(row[4])
		volume, _ := decimal.NewFromString(row[5])
		klines = append(klines, Kline{
			OpenTime: time.UnixMilli(ts),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
			Volume:   volume,
		})
	}
	return klines, nil
}

// bybitInterval maps "1m"/"5m"/"1h" style intervals to Bybit's bare-minute form
func bybitInterval(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	}
	return interval
}

var _ Adapter = (*BybitAdapter)(nil)
