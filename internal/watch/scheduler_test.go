package watch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

func testPollingConfig() config.PollingConfig {
	return config.PollingConfig{
		CriticalInterval:  15 * time.Second,
		HighInterval:      30 * time.Second,
		NormalInterval:    45 * time.Second,
		LowInterval:       120 * time.Second,
		TierBatchSize:     50,
		SnapshotTTLFactor: 2,
		EmptyChecksLimit:  5,
		SharingRecheck:    24 * time.Hour,
		RateLimitCooldown: 5 * time.Minute,
		BackpressureDepth: 500,
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, pgxmock.PgxPoolIface, *venue.MockAdapter, *SnapshotCache) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	snaps := NewSnapshotCache(client)

	adapter := venue.NewMockAdapter(venue.VenueBinance)
	bus := events.NewBus(zerolog.Nop())
	t.Cleanup(bus.Close)

	sched := NewScheduler(
		store.New(mock),
		map[venue.Venue]venue.Adapter{venue.VenueBinance: adapter},
		snaps, bus, testPollingConfig(), zerolog.Nop(),
	)
	return sched, mock, adapter, snaps
}

func testWhale() *store.Whale {
	return &store.Whale{
		ID:                     uuid.New(),
		Venue:                  venue.VenueBinance,
		VenueUID:               "whale-1",
		Kind:                   store.WhaleKindCEXTrader,
		DataStatus:             store.DataStatusActive,
		PriorityScore:          80,
		PollingIntervalSeconds: 30,
	}
}

func TestPollWhaleFirstObservationStoresSilently(t *testing.T) {
	sched, mock, adapter, snaps := newTestScheduler(t)
	w := testWhale()
	adapter.SetTrader(w.VenueUID, []venue.PositionSample{sample("BTCUSDT", venue.SideLong)})

	mock.ExpectExec("UPDATE whales").
		WithArgs(w.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	require.NoError(t, sched.pollWhale(ctx, w))
	require.NoError(t, mock.ExpectationsWereMet())

	// No signal insert was expected; the snapshot must now exist
	snap, ok, err := snaps.Get(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, snap.Positions, 1)
}

func TestPollWhaleEmitsSignalOnNewPosition(t *testing.T) {
	sched, mock, adapter, snaps := newTestScheduler(t)
	w := testWhale()
	ctx := context.Background()

	require.NoError(t, snaps.Put(ctx, w.ID, []venue.PositionSample{sample("BTCUSDT", venue.SideLong)}, time.Minute))
	adapter.SetTrader(w.VenueUID, []venue.PositionSample{
		sample("BTCUSDT", venue.SideLong),
		sample("ETHUSDT", venue.SideShort),
	})

	mock.ExpectExec("UPDATE whales").
		WithArgs(w.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT").
		WithArgs(w.ID).
		WillReturnRows(pgxmock.NewRows([]string{"has_active", "has_auto_copy"}).AddRow(true, true))
	mock.ExpectExec("INSERT INTO signals").
		WithArgs(
			pgxmock.AnyArg(), &w.ID, store.SignalSourceWhale, pgxmock.AnyArg(),
			store.SignalActionSell, "ETHUSDT", venue.MarketUSDMFutures, venue.VenueBinance,
			false, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), store.PriorityHigh,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sched.pollWhale(ctx, w))
	require.NoError(t, mock.ExpectationsWereMet())

	snap, ok, err := snaps.Get(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, snap.Positions, 2)
}

func TestPollWhaleEmitsClosingSignal(t *testing.T) {
	sched, mock, adapter, snaps := newTestScheduler(t)
	w := testWhale()
	ctx := context.Background()

	require.NoError(t, snaps.Put(ctx, w.ID, []venue.PositionSample{sample("BTCUSDT", venue.SideLong)}, time.Minute))
	adapter.SetTrader(w.VenueUID, nil) // shared, holds nothing now

	// Empty outcome feeds the sharing tracker first
	mock.ExpectQuery("UPDATE whales").
		WithArgs(w.ID, 5, "24h0m0s").
		WillReturnRows(pgxmock.NewRows([]string{"consecutive_empty_checks"}).AddRow(1))
	mock.ExpectQuery("SELECT").
		WithArgs(w.ID).
		WillReturnRows(pgxmock.NewRows([]string{"has_active", "has_auto_copy"}).AddRow(true, false))
	// Closing a LONG emits SELL with is_close
	mock.ExpectExec("INSERT INTO signals").
		WithArgs(
			pgxmock.AnyArg(), &w.ID, store.SignalSourceWhale, pgxmock.AnyArg(),
			store.SignalActionSell, "BTCUSDT", venue.MarketUSDMFutures, venue.VenueBinance,
			true, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sched.pollWhale(ctx, w))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPollWhaleSideFlipEmitsCloseThenOpen(t *testing.T) {
	sched, mock, adapter, snaps := newTestScheduler(t)
	w := testWhale()
	ctx := context.Background()

	require.NoError(t, snaps.Put(ctx, w.ID, []venue.PositionSample{sample("BTCUSDT", venue.SideLong)}, time.Minute))
	adapter.SetTrader(w.VenueUID, []venue.PositionSample{sample("BTCUSDT", venue.SideShort)})

	mock.ExpectExec("UPDATE whales").
		WithArgs(w.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT").
		WithArgs(w.ID).
		WillReturnRows(pgxmock.NewRows([]string{"has_active", "has_auto_copy"}).AddRow(true, true))
	// The old LONG is closed before the new SHORT is opened
	mock.ExpectExec("INSERT INTO signals").
		WithArgs(
			pgxmock.AnyArg(), &w.ID, store.SignalSourceWhale, pgxmock.AnyArg(),
			store.SignalActionSell, "BTCUSDT", venue.MarketUSDMFutures, venue.VenueBinance,
			true, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO signals").
		WithArgs(
			pgxmock.AnyArg(), &w.ID, store.SignalSourceWhale, pgxmock.AnyArg(),
			store.SignalActionSell, "BTCUSDT", venue.MarketUSDMFutures, venue.VenueBinance,
			false, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sched.pollWhale(ctx, w))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPollWhaleHiddenProfileCountsAsEmpty(t *testing.T) {
	sched, mock, adapter, _ := newTestScheduler(t)
	w := testWhale()
	adapter.HideTrader(w.VenueUID)

	mock.ExpectQuery("UPDATE whales").
		WithArgs(w.ID, 5, "24h0m0s").
		WillReturnRows(pgxmock.NewRows([]string{"consecutive_empty_checks"}).AddRow(3))

	// First observation of a hidden profile: empty snapshot stored, no diff
	require.NoError(t, sched.pollWhale(context.Background(), w))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPollWhaleRateLimitBacksOff(t *testing.T) {
	sched, mock, adapter, _ := newTestScheduler(t)
	w := testWhale()
	adapter.QueryErr = &venue.RateLimitError{RetryAfter: time.Second}

	mock.ExpectExec("UPDATE whales").
		WithArgs(w.ID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := sched.pollWhale(context.Background(), w)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t)

	shared := &venue.TraderPositionsResult{Shared: true, Samples: []venue.PositionSample{sample("BTCUSDT", venue.SideLong)}}
	assert.Equal(t, outcomeSamples, sched.classify(shared, nil))

	empty := &venue.TraderPositionsResult{Shared: true}
	assert.Equal(t, outcomeEmpty, sched.classify(empty, nil))

	hidden := &venue.TraderPositionsResult{Shared: false}
	assert.Equal(t, outcomeEmpty, sched.classify(hidden, nil))

	assert.Equal(t, outcomeAuthOrRate, sched.classify(nil, venue.ErrAuthFailure))
	assert.Equal(t, outcomeAuthOrRate, sched.classify(nil, &venue.RateLimitError{}))
	assert.Equal(t, outcomeAdapterError, sched.classify(nil, venue.Retryable(context.DeadlineExceeded)))
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	snaps := NewSnapshotCache(client)

	ctx := context.Background()
	whaleID := uuid.New()

	_, ok, err := snaps.Get(ctx, whaleID)
	require.NoError(t, err)
	assert.False(t, ok)

	positions := []venue.PositionSample{sample("BTCUSDT", venue.SideLong)}
	require.NoError(t, snaps.Put(ctx, whaleID, positions, time.Minute))

	snap, ok, err := snaps.Get(ctx, whaleID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, whaleID, snap.WhaleID)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "BTCUSDT", snap.Positions[0].Symbol)

	// Snapshots age out with the whale's polling cadence
	mr.FastForward(2 * time.Minute)
	_, ok, err = snaps.Get(ctx, whaleID)
	require.NoError(t, err)
	assert.False(t, ok)
}
