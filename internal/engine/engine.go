// Package engine dispatches signals to followers and executes each copy
// trade under a crash-safe two-phase commit: reserve balance locally, call
// the venue outside any transaction, then confirm or roll back with
// version-checked updates. The only durable in-flight state after a crash
// is a PENDING or EXECUTING trade, which the reconciler resolves.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/creds"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/idempotency"
	"github.com/ajitpratap0/whalecopy/internal/risk"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// completionMarkerTTL keeps "already done" markers around long enough for
// any delayed retry of the same work to short-circuit
const completionMarkerTTL = time.Hour

// Engine coordinates signal dispatch and per-follower execution
type Engine struct {
	store    *store.Store
	risk     *risk.Manager
	creds    creds.Provider
	locks    *idempotency.Keyspace
	bus      *events.Bus
	adapters map[venue.Venue]venue.Adapter
	cfg      config.EngineConfig
	signals  config.SignalConfig
	logger   zerolog.Logger
}

// New wires an engine. adapters maps each enabled venue to its
// resilience-wrapped adapter.
func New(
	st *store.Store,
	riskMgr *risk.Manager,
	credProvider creds.Provider,
	locks *idempotency.Keyspace,
	bus *events.Bus,
	adapters map[venue.Venue]venue.Adapter,
	cfg config.EngineConfig,
	signals config.SignalConfig,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		store:    st,
		risk:     riskMgr,
		creds:    credProvider,
		locks:    locks,
		bus:      bus,
		adapters: adapters,
		cfg:      cfg,
		signals:  signals,
		logger:   logger,
	}
}

func (e *Engine) adapter(v venue.Venue) (venue.Adapter, bool) {
	a, ok := e.adapters[v]
	return a, ok
}
