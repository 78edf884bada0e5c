// The monitor daemon reprices open positions, fires stop-loss and
// take-profit triggers, reconciles parked and stale trades, and detects
// positions closed directly on the venue. Closes go through an engine
// instance; the close lock keeps them idempotent across daemons.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ajitpratap0/whalecopy/internal/app"
	"github.com/ajitpratap0/whalecopy/internal/engine"
	"github.com/ajitpratap0/whalecopy/internal/idempotency"
	"github.com/ajitpratap0/whalecopy/internal/market"
	"github.com/ajitpratap0/whalecopy/internal/monitor"
	"github.com/ajitpratap0/whalecopy/internal/risk"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, *configPath, "monitor")
	if err != nil {
		os.Stderr.WriteString("bootstrap failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer rt.Shutdown(context.Background())

	credProvider, err := rt.Credentials()
	if err != nil {
		rt.Logger.Fatal().Err(err).Msg("Failed to initialize credential provider")
	}

	adapters := rt.Adapters()
	eng := engine.New(
		rt.Store,
		risk.NewManager(rt.Cfg.Risk, rt.Cfg.Tiers, rt.Cfg.Venues, rt.Logger),
		credProvider,
		idempotency.New(rt.Redis, rt.Logger),
		rt.Bus,
		adapters,
		rt.Cfg.Engine,
		rt.Cfg.Signals,
		rt.Logger,
	)

	mon := monitor.New(
		rt.Store,
		eng,
		credProvider,
		adapters,
		market.NewTickerCache(rt.Redis),
		rt.Bus,
		rt.Cfg.Monitor,
		rt.Logger,
	)
	mon.SetAlerts(rt.Notifier)

	rt.Logger.Info().Msg("Monitor started")
	if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
		rt.Logger.Error().Err(err).Msg("Monitor exited with error")
		os.Exit(1)
	}
	rt.Logger.Info().Msg("Monitor stopped")
}
