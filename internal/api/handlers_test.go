package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/risk"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type closeCall struct {
	positionID uuid.UUID
	reason     store.CloseReason
}

type copyCall struct {
	userID   uuid.UUID
	signalID uuid.UUID
	size     decimal.Decimal
	venue    *venue.Venue
}

// fakeTrader records commands instead of executing them
type fakeTrader struct {
	closes   []closeCall
	copies   []copyCall
	closeErr error
	copyErr  error
}

func (f *fakeTrader) ClosePosition(_ context.Context, positionID uuid.UUID, reason store.CloseReason, _ *uuid.UUID) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closes = append(f.closes, closeCall{positionID: positionID, reason: reason})
	return nil
}

func (f *fakeTrader) CopySignalManually(_ context.Context, userID, signalID uuid.UUID, size decimal.Decimal, v *venue.Venue) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copies = append(f.copies, copyCall{userID: userID, signalID: signalID, size: size, venue: v})
	return nil
}

type apiFixture struct {
	store  *store.Store
	trader *fakeTrader
	server *Server
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("whalecopy_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("Skipping integration test: failed to start container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	st := store.New(pool)
	require.NoError(t, st.ApplySchema(ctx))

	riskMgr := risk.NewManager(
		config.RiskConfig{MinTradingBalance: 5, MinTradeSize: 5, BalanceAdjustPct: 0.80, NotionalBufferPct: 1.20, DefaultLeverage: 5},
		map[string]config.TierLimits{
			"FREE": {MaxFollowedWhales: 1, MaxOpenPositions: 2, MaxLeverage: 5},
			"PRO":  {MaxFollowedWhales: 10, MaxOpenPositions: 10, MaxLeverage: 20, FuturesAllowed: true},
		},
		map[string]config.VenueConfig{"BINANCE": {Enabled: true, MaxLeverage: 125}},
		zerolog.Nop(),
	)

	trader := &fakeTrader{}
	server := NewServer(config.APIConfig{Host: "127.0.0.1", Port: 0}, st, trader, riskMgr, zerolog.Nop())
	return &apiFixture{store: st, trader: trader, server: server}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seedUser(t *testing.T, tier store.Tier, balance string) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	_, err := f.store.Pool().Exec(context.Background(), `
		INSERT INTO users (id, external_id, subscription_tier, total_balance, available_balance)
		VALUES ($1, $2, $3, $4, $4)`, userID, "ext-"+userID.String(), tier, balance)
	require.NoError(t, err)
	_, err = f.store.Pool().Exec(context.Background(), `INSERT INTO user_settings (user_id) VALUES ($1)`, userID)
	require.NoError(t, err)
	return userID
}

func (f *apiFixture) seedWhale(t *testing.T) uuid.UUID {
	t.Helper()
	w := &store.Whale{
		ID:                     uuid.New(),
		Venue:                  venue.VenueBinance,
		VenueUID:               "uid-" + uuid.NewString(),
		DisplayName:            "test whale",
		Kind:                   store.WhaleKindCEXTrader,
		DataStatus:             store.DataStatusActive,
		PriorityScore:          80,
		PollingIntervalSeconds: 15,
	}
	require.NoError(t, f.store.UpsertWhale(context.Background(), w))
	return w.ID
}

func (f *apiFixture) seedOpenPosition(t *testing.T, userID uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	trade := &store.Trade{
		ID:                uuid.New(),
		UserID:            userID,
		Venue:             venue.VenueBinance,
		Market:            venue.MarketUSDMFutures,
		Symbol:            "BTCUSDT",
		Side:              venue.SideBuy,
		OrderType:         store.OrderTypeMarket,
		RequestedQuantity: decimal.RequireFromString("0.02"),
		TradeValueUSDT:    decimal.RequireFromString("100"),
		ClientOrderID:     "wc-" + uuid.NewString(),
	}
	position := &store.Position{
		ID:           uuid.New(),
		UserID:       userID,
		EntryTradeID: trade.ID,
		Venue:        venue.VenueBinance,
		Market:       venue.MarketUSDMFutures,
		Symbol:       "BTCUSDT",
		Side:         venue.SideLong,
		Leverage:     10,
		EntryPrice:   decimal.RequireFromString("50000"),
		Quantity:     decimal.RequireFromString("0.02"),
	}
	require.NoError(t, f.store.InTx(ctx, func(tx pgx.Tx) error {
		if err := f.store.InsertTrade(ctx, tx, trade); err != nil {
			return err
		}
		if err := f.store.FillTrade(ctx, tx, trade.ID, store.TradeStatusPending, 0, "v-1", position.EntryPrice, trade.RequestedQuantity, decimal.Zero); err != nil {
			return err
		}
		return f.store.InsertPosition(ctx, tx, position)
	}))
	return position.ID
}

func TestHealthEndpoint(t *testing.T) {
	f := setupAPI(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestFollowAndUnfollowWhale(t *testing.T) {
	f := setupAPI(t)
	userID := f.seedUser(t, store.TierPro, "1000")
	whaleID := f.seedWhale(t)

	w := f.do(t, http.MethodPost, "/api/v1/users/"+userID.String()+"/follows", gin.H{
		"whale_id":          whaleID,
		"auto_copy_enabled": true,
		"trade_size_usdt":   "100",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	follower, err := f.store.GetFollower(context.Background(), userID, whaleID)
	require.NoError(t, err)
	assert.True(t, follower.Follow.AutoCopyEnabled)
	assert.Equal(t, "100", follower.Follow.TradeSizeUSDT.String())

	w = f.do(t, http.MethodDelete, "/api/v1/users/"+userID.String()+"/follows/"+whaleID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/users/"+userID.String()+"/follows/"+whaleID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFollowRejectsOverTierLeverage(t *testing.T) {
	f := setupAPI(t)
	userID := f.seedUser(t, store.TierFree, "1000")
	whaleID := f.seedWhale(t)

	w := f.do(t, http.MethodPost, "/api/v1/users/"+userID.String()+"/follows", gin.H{
		"whale_id":          whaleID,
		"leverage_override": 20,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestFollowEnforcesTierWhaleLimit(t *testing.T) {
	f := setupAPI(t)
	userID := f.seedUser(t, store.TierFree, "1000")
	first := f.seedWhale(t)
	second := f.seedWhale(t)

	w := f.do(t, http.MethodPost, "/api/v1/users/"+userID.String()+"/follows", gin.H{"whale_id": first})
	require.Equal(t, http.StatusOK, w.Code)

	// FREE allows one followed whale
	w = f.do(t, http.MethodPost, "/api/v1/users/"+userID.String()+"/follows", gin.H{"whale_id": second})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Updating the existing follow is not a new follow
	w = f.do(t, http.MethodPost, "/api/v1/users/"+userID.String()+"/follows", gin.H{"whale_id": first, "auto_copy_enabled": true})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFollowUnknownWhale(t *testing.T) {
	f := setupAPI(t)
	userID := f.seedUser(t, store.TierPro, "1000")

	w := f.do(t, http.MethodPost, "/api/v1/users/"+userID.String()+"/follows", gin.H{"whale_id": uuid.New()})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPositionsAndPortfolio(t *testing.T) {
	f := setupAPI(t)
	userID := f.seedUser(t, store.TierPro, "1000")
	f.seedOpenPosition(t, userID)

	w := f.do(t, http.MethodGet, "/api/v1/users/"+userID.String()+"/positions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var positions struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &positions))
	assert.Equal(t, 1, positions.Total)

	w = f.do(t, http.MethodGet, "/api/v1/users/"+userID.String()+"/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var portfolio struct {
		OpenPositions int    `json:"open_positions"`
		TotalBalance  string `json:"total_balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &portfolio))
	assert.Equal(t, 1, portfolio.OpenPositions)
	assert.Equal(t, "1000", portfolio.TotalBalance)
}

func TestListTradesFilters(t *testing.T) {
	f := setupAPI(t)
	userID := f.seedUser(t, store.TierPro, "1000")
	f.seedOpenPosition(t, userID)

	w := f.do(t, http.MethodGet, "/api/v1/users/"+userID.String()+"/trades?status=FILLED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var filled struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filled))
	assert.Equal(t, 1, filled.Total)

	w = f.do(t, http.MethodGet, "/api/v1/users/"+userID.String()+"/trades?status=FAILED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var failed struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	assert.Equal(t, 0, failed.Total)
}

func TestClosePositionCommand(t *testing.T) {
	f := setupAPI(t)
	userID := f.seedUser(t, store.TierPro, "1000")
	positionID := f.seedOpenPosition(t, userID)

	w := f.do(t, http.MethodPost, "/api/v1/positions/"+positionID.String()+"/close", gin.H{"user_id": uuid.New()})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.trader.closes)

	w = f.do(t, http.MethodPost, "/api/v1/positions/"+positionID.String()+"/close", gin.H{"user_id": userID})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.trader.closes, 1)
	assert.Equal(t, positionID, f.trader.closes[0].positionID)
	assert.Equal(t, store.CloseReasonManual, f.trader.closes[0].reason)
}

func TestCopySignalCommand(t *testing.T) {
	f := setupAPI(t)
	userID := f.seedUser(t, store.TierPro, "1000")
	signalID := uuid.New()

	w := f.do(t, http.MethodPost,
		"/api/v1/users/"+userID.String()+"/signals/"+signalID.String()+"/copy",
		gin.H{"size": "25", "venue": "BINANCE"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.trader.copies, 1)
	call := f.trader.copies[0]
	assert.Equal(t, userID, call.userID)
	assert.Equal(t, signalID, call.signalID)
	assert.Equal(t, "25", call.size.String())
	require.NotNil(t, call.venue)
	assert.Equal(t, venue.VenueBinance, *call.venue)

	w = f.do(t, http.MethodPost,
		"/api/v1/users/"+userID.String()+"/signals/"+signalID.String()+"/copy",
		gin.H{"venue": "KRAKEN"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCopySignalNotFound(t *testing.T) {
	f := setupAPI(t)
	f.trader.copyErr = store.ErrNotFound
	userID := f.seedUser(t, store.TierPro, "1000")

	w := f.do(t, http.MethodPost,
		"/api/v1/users/"+userID.String()+"/signals/"+uuid.NewString()+"/copy", gin.H{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
