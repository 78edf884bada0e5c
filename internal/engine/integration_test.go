package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/creds"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/idempotency"
	"github.com/ajitpratap0/whalecopy/internal/risk"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

type engineFixture struct {
	store *store.Store
	mock  *venue.MockAdapter
	creds *creds.Static
	bus   *events.Bus
	eng   *Engine
}

// setupEngine boots a disposable PostgreSQL container, an in-process Redis
// and a mock venue, and wires a real engine over them. Skips when Docker is
// unavailable.
func setupEngine(t *testing.T) *engineFixture {
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

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locks := idempotency.New(client, zerolog.Nop())

	bus := events.NewBus(zerolog.Nop())
	t.Cleanup(bus.Close)

	mock := venue.NewMockAdapter(venue.VenueBinance)
	mock.FeeRate = decimal.Zero

	credProvider := creds.NewStatic()

	riskMgr := risk.NewManager(
		config.RiskConfig{
			MinTradingBalance: 5,
			MinTradeSize:      5,
			BalanceAdjustPct:  0.80,
			NotionalBufferPct: 1.20,
			DefaultLeverage:   5,
		},
		map[string]config.TierLimits{
			"FREE":  {MaxFollowedWhales: 1, MaxOpenPositions: 2, MaxLeverage: 5},
			"PRO":   {MaxFollowedWhales: 10, MaxOpenPositions: 10, MaxLeverage: 20, FuturesAllowed: true},
			"ELITE": {MaxFollowedWhales: 50, MaxOpenPositions: 0, MaxLeverage: 50, FuturesAllowed: true},
		},
		map[string]config.VenueConfig{
			"BINANCE": {Enabled: true, MaxLeverage: 125, MinNotional: map[string]float64{
				"SPOT": 5, "USDM_FUTURES": 5, "COINM_FUTURES": 10,
			}},
		},
		zerolog.Nop(),
	)

	eng := New(st, riskMgr, credProvider, locks, bus,
		map[venue.Venue]venue.Adapter{venue.VenueBinance: mock},
		config.EngineConfig{
			Workers:      1,
			PollInterval: 50 * time.Millisecond,
			ProcessTTL:   time.Minute,
			SoftLimit:    30 * time.Second,
			HardLimit:    time.Minute,
			TradeLockTTL: time.Minute,
			CloseLockTTL: time.Minute,
		},
		config.SignalConfig{Expiry: time.Minute, SweepInterval: time.Second},
		zerolog.Nop(),
	)

	return &engineFixture{store: st, mock: mock, creds: credProvider, bus: bus, eng: eng}
}

func (f *engineFixture) seedUser(t *testing.T, tier store.Tier, balance decimal.Decimal) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()
	_, err := f.store.Pool().Exec(ctx, `
		INSERT INTO users (id, external_id, subscription_tier, total_balance, available_balance)
		VALUES ($1, $2, $3, $4, $4)`, userID, "ext-"+userID.String(), tier, balance)
	require.NoError(t, err)
	_, err = f.store.Pool().Exec(ctx, `INSERT INTO user_settings (user_id) VALUES ($1)`, userID)
	require.NoError(t, err)
	_, err = f.store.Pool().Exec(ctx, `
		INSERT INTO user_venue_credentials (user_id, venue, credential_ref)
		VALUES ($1, 'BINANCE', 'vault')`, userID)
	require.NoError(t, err)
	f.creds.Set(userID, venue.VenueBinance, "key", "secret")
	return userID
}

func (f *engineFixture) seedWhale(t *testing.T) uuid.UUID {
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

func (f *engineFixture) follow(t *testing.T, userID, whaleID uuid.UUID, sizeUSDT string) {
	t.Helper()
	size := dec(sizeUSDT)
	require.NoError(t, f.store.UpsertFollow(context.Background(), &store.WhaleFollow{
		UserID:            userID,
		WhaleID:           whaleID,
		AutoCopyEnabled:   true,
		TradeSizeUSDT:     &size,
		CopyWhaleLeverage: true,
	}))
}

func openSignal(whaleID uuid.UUID, fingerprint string) *store.Signal {
	lev := 10
	price := dec("50000")
	return &store.Signal{
		ID:            uuid.New(),
		WhaleID:       &whaleID,
		Source:        store.SignalSourceWhale,
		Fingerprint:   fingerprint,
		Action:        store.SignalActionBuy,
		Symbol:        "BTCUSDT",
		Market:        venue.MarketUSDMFutures,
		Venue:         venue.VenueBinance,
		WhaleLeverage: &lev,
		PriceAtSignal: &price,
		Confidence:    store.ConfidenceHigh,
		Priority:      store.PriorityHigh,
	}
}

func closeSignal(whaleID uuid.UUID, fingerprint string) *store.Signal {
	sig := openSignal(whaleID, fingerprint)
	sig.Action = store.SignalActionSell
	sig.IsClose = true
	return sig
}

// dispatch inserts the signal, claims it like a worker and processes it,
// returning the terminal signal row
func (f *engineFixture) dispatch(t *testing.T, sig *store.Signal) *store.Signal {
	t.Helper()
	ctx := context.Background()

	inserted, err := f.store.InsertSignal(ctx, sig)
	require.NoError(t, err)
	require.True(t, inserted)

	claimed, err := f.store.ClaimNextPending(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, sig.ID, claimed.ID)

	f.eng.processSignal(ctx, claimed)

	final, err := f.store.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	return final
}

func TestOpenHappyPathIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")
	f.mock.FillPrice = dec("50000")

	executed := make(chan events.Event, 4)
	f.bus.Subscribe("test", func(ctx context.Context, e events.Event) {
		executed <- e
	}, events.TradeExecuted, events.PositionOpened)

	final := f.dispatch(t, openSignal(whaleID, "fp-s1"))
	assert.Equal(t, store.SignalStatusProcessed, final.Status)
	assert.Equal(t, 1, final.TradesExecuted)

	// quantity = 100 USDT * 10x / 50000
	pos, err := f.store.GetOpenPosition(ctx, userID, venue.VenueBinance, "BTCUSDT", venue.MarketUSDMFutures)
	require.NoError(t, err)
	assert.Equal(t, venue.SideLong, pos.Side)
	assert.Equal(t, 10, pos.Leverage)
	assert.True(t, pos.EntryPrice.Equal(dec("50000")))
	assert.True(t, pos.Quantity.Equal(dec("0.02")))
	require.NotNil(t, pos.StopLossPrice, "default stop-loss percent should set a local stop")
	assert.True(t, pos.StopLossPrice.Equal(dec("47500")))

	status := store.TradeStatusFilled
	trades, err := f.store.ListTrades(ctx, userID, store.TradeFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, clientOrderID(trades[0].ID), trades[0].ClientOrderID)
	require.NotNil(t, trades[0].VenueOrderID)
	assert.True(t, trades[0].TradeValueUSDT.Equal(dec("100")))

	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("900")))
	assert.True(t, u.TotalBalance.Equal(dec("1000")))

	assert.Equal(t, 10, f.mock.Leverages["BTCUSDT"])

	seen := map[events.Type]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-executed:
			seen[e.Type] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.True(t, seen[events.TradeExecuted])
	assert.True(t, seen[events.PositionOpened])
}

func TestFuturesWalletTopUpIntegration(t *testing.T) {
	f := setupEngine(t)
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")
	f.mock.FillPrice = dec("50000")
	free := dec("40")
	f.mock.FuturesFree = &free

	final := f.dispatch(t, openSignal(whaleID, "fp-topup"))
	assert.Equal(t, store.SignalStatusProcessed, final.Status)
	assert.Equal(t, 1, final.TradesExecuted)

	// Only the 60 USDT shortfall moves from spot to futures
	require.Len(t, f.mock.Transfers, 1)
	assert.Equal(t, "USDT", f.mock.Transfers[0].Asset)
	assert.True(t, f.mock.Transfers[0].Amount.Equal(dec("60")))
	assert.Equal(t, venue.MarketUSDMFutures, f.mock.Transfers[0].Market)
}

func TestFuturesWalletCoveredSkipsTransferIntegration(t *testing.T) {
	f := setupEngine(t)
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")
	f.mock.FillPrice = dec("50000")
	free := dec("500")
	f.mock.FuturesFree = &free

	final := f.dispatch(t, openSignal(whaleID, "fp-no-topup"))
	assert.Equal(t, store.SignalStatusProcessed, final.Status)
	assert.Empty(t, f.mock.Transfers)
}

func TestCloseOnWhaleExitIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")

	f.mock.FillPrice = dec("50000")
	final := f.dispatch(t, openSignal(whaleID, "fp-open"))
	require.Equal(t, 1, final.TradesExecuted)

	f.mock.FillPrice = dec("51000")
	final = f.dispatch(t, closeSignal(whaleID, "fp-close"))
	assert.Equal(t, store.SignalStatusProcessed, final.Status)
	assert.Equal(t, 1, final.TradesExecuted)

	_, err := f.store.GetOpenPosition(ctx, userID, venue.VenueBinance, "BTCUSDT", venue.MarketUSDMFutures)
	assert.ErrorIs(t, err, store.ErrNotFound)

	positions, err := f.store.ListOpenByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, positions)

	// realized = (51000 - 50000) * 0.02 * 10
	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("1200")), "got %s", u.AvailableBalance)
	assert.True(t, u.TotalBalance.Equal(dec("1200")))

	status := store.TradeStatusFilled
	trades, err := f.store.ListTrades(ctx, userID, store.TradeFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, trades, 2)

	var exit *store.Trade
	for _, tr := range trades {
		if tr.RealizedPnL != nil {
			exit = tr
		}
	}
	require.NotNil(t, exit)
	assert.True(t, exit.RealizedPnL.Equal(dec("200")))
	assert.Equal(t, venue.SideSell, exit.Side)
}

func TestCloseIsIdempotentIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")

	f.mock.FillPrice = dec("50000")
	f.dispatch(t, openSignal(whaleID, "fp-open"))
	pos, err := f.store.GetOpenPosition(ctx, userID, venue.VenueBinance, "BTCUSDT", venue.MarketUSDMFutures)
	require.NoError(t, err)

	f.mock.FillPrice = dec("51000")
	require.NoError(t, f.eng.ClosePosition(ctx, pos.ID, store.CloseReasonManual, nil))
	require.NoError(t, f.eng.ClosePosition(ctx, pos.ID, store.CloseReasonManual, nil))

	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("1200")), "second close must not settle again, got %s", u.AvailableBalance)

	trades, err := f.store.ListTrades(ctx, userID, store.TradeFilter{})
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestDispatchIsIdempotentIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")
	f.mock.FillPrice = dec("50000")

	sig := openSignal(whaleID, "fp-twice")
	final := f.dispatch(t, sig)
	require.Equal(t, 1, final.TradesExecuted)

	// A replayed claim after a crash short-circuits on the completion marker
	f.eng.processSignal(ctx, final)

	trades, err := f.store.ListTrades(ctx, userID, store.TradeFilter{})
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	positions, err := f.store.ListOpenByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestAutoAdjustSizingIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(50))
	f.follow(t, userID, whaleID, "100")
	f.mock.FillPrice = dec("50000")

	final := f.dispatch(t, openSignal(whaleID, "fp-adjust"))
	assert.Equal(t, store.SignalStatusProcessed, final.Status)
	assert.Equal(t, 1, final.TradesExecuted)

	// 80% of the 50 available replaces the requested 100
	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("10")), "got %s", u.AvailableBalance)

	trades, err := f.store.ListTrades(ctx, userID, store.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].TradeValueUSDT.Equal(dec("40")))
}

func TestFuturesGatedByTierIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierFree, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")

	final := f.dispatch(t, openSignal(whaleID, "fp-free"))
	assert.Equal(t, store.SignalStatusProcessed, final.Status)
	assert.Equal(t, 0, final.TradesExecuted)

	trades, err := f.store.ListTrades(ctx, userID, store.TradeFilter{})
	require.NoError(t, err)
	assert.Empty(t, trades, "a risk rejection must not create a trade")

	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("1000")))
}

func TestTerminalVenueErrorRefundsIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")
	f.mock.PlaceErr = venue.ErrInsufficientBalance

	final := f.dispatch(t, openSignal(whaleID, "fp-terminal"))
	// A per-user business failure does not fail the signal
	assert.Equal(t, store.SignalStatusProcessed, final.Status)
	assert.Equal(t, 0, final.TradesExecuted)

	status := store.TradeStatusFailed
	trades, err := f.store.ListTrades(ctx, userID, store.TradeFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].Error)

	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("1000")), "reservation must round-trip, got %s", u.AvailableBalance)

	positions, err := f.store.ListOpenByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestCircuitOpenFailsSignalIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")
	f.mock.PlaceErr = venue.ErrCircuitOpen

	final := f.dispatch(t, openSignal(whaleID, "fp-circuit"))
	// Every follower hit the open breaker: the venue itself was down
	assert.Equal(t, store.SignalStatusFailed, final.Status)
	require.NotNil(t, final.Error)

	// The breaker rejected before the venue was contacted, so the order
	// never existed and the reservation comes straight back
	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("1000")))

	status := store.TradeStatusFailed
	trades, err := f.store.ListTrades(ctx, userID, store.TradeFilter{Status: &status})
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestAmbiguousFailureParksForReconciliationIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")
	f.mock.PlaceErr = venue.Retryable(assert.AnError)

	final := f.dispatch(t, openSignal(whaleID, "fp-ambiguous"))
	assert.Equal(t, store.SignalStatusFailed, final.Status)

	status := store.TradeStatusNeedsReconciliation
	trades, err := f.store.ListTrades(ctx, userID, store.TradeFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	// The order may exist at the venue; the reservation stays held
	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("900")))
}

func TestExistingPositionSkipsFollowerIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")
	f.mock.FillPrice = dec("50000")

	f.dispatch(t, openSignal(whaleID, "fp-first"))
	final := f.dispatch(t, openSignal(whaleID, "fp-second"))

	assert.Equal(t, store.SignalStatusProcessed, final.Status)
	assert.Equal(t, 0, final.TradesExecuted)

	positions, err := f.store.ListOpenByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestEmptyFollowersProcessedIntegration(t *testing.T) {
	f := setupEngine(t)
	whaleID := f.seedWhale(t)

	final := f.dispatch(t, openSignal(whaleID, "fp-nobody"))
	assert.Equal(t, store.SignalStatusProcessed, final.Status)
	assert.Equal(t, 0, final.TradesExecuted)
}

func TestLowPriorityNoCopiersSkippedIntegration(t *testing.T) {
	f := setupEngine(t)
	whaleID := f.seedWhale(t)

	sig := openSignal(whaleID, "fp-low-nobody")
	sig.Priority = store.PriorityLow

	final := f.dispatch(t, sig)
	assert.Equal(t, store.SignalStatusSkipped, final.Status)
	assert.Equal(t, 0, final.TradesExecuted)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "no active copiers")
}

func TestManualCopyIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.mock.FillPrice = dec("50000")

	sig := openSignal(whaleID, "fp-manual")
	inserted, err := f.store.InsertSignal(ctx, sig)
	require.NoError(t, err)
	require.True(t, inserted)

	require.NoError(t, f.eng.CopySignalManually(ctx, userID, sig.ID, dec("25"), nil))

	pos, err := f.store.GetOpenPosition(ctx, userID, venue.VenueBinance, "BTCUSDT", venue.MarketUSDMFutures)
	require.NoError(t, err)
	// No follow row: settings default leverage applies, not the whale's
	assert.Equal(t, 5, pos.Leverage)

	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("975")))

	// A processed signal cannot be copied again
	err = f.eng.CopySignalManually(ctx, userID, sig.ID, dec("25"), nil)
	assert.Error(t, err)
}

func TestBrokenCredentialMarkedOnAuthFailureIntegration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	whaleID := f.seedWhale(t)
	userID := f.seedUser(t, store.TierPro, decimal.NewFromInt(1000))
	f.follow(t, userID, whaleID, "100")
	f.mock.PlaceErr = venue.ErrAuthFailure

	final := f.dispatch(t, openSignal(whaleID, "fp-auth"))
	assert.Equal(t, store.SignalStatusProcessed, final.Status)

	var broken bool
	err := f.store.Pool().QueryRow(ctx, `
		SELECT broken FROM user_venue_credentials
		WHERE user_id = $1 AND venue = 'BINANCE'`, userID).Scan(&broken)
	require.NoError(t, err)
	assert.True(t, broken)

	// Auth failures are terminal: the reservation is refunded
	u, err := f.store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(dec("1000")))
}
