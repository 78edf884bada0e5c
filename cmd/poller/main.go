// The poller daemon watches whales: leaderboard discovery, tiered position
// polling with snapshot diffing, the optional RSI signal source, and the
// ticker streams that keep the shared price cache warm.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/whalecopy/internal/app"
	"github.com/ajitpratap0/whalecopy/internal/market"
	"github.com/ajitpratap0/whalecopy/internal/venue"
	"github.com/ajitpratap0/whalecopy/internal/watch"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, *configPath, "poller")
	if err != nil {
		os.Stderr.WriteString("bootstrap failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer rt.Shutdown(context.Background())

	adapters := rt.Adapters()
	snaps := watch.NewSnapshotCache(rt.Redis)
	scheduler := watch.NewScheduler(rt.Store, adapters, snaps, rt.Bus, rt.Cfg.Polling, rt.Logger)
	discovery := watch.NewDiscovery(rt.Store, adapters, rt.Cfg.Polling, rt.Logger)

	cache := market.NewTickerCache(rt.Redis)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return discovery.Run(ctx) })

	for _, mkt := range []venue.Market{venue.MarketSpot, venue.MarketUSDMFutures} {
		stream := market.NewBinanceStream(cache, mkt, rt.Logger)
		g.Go(func() error { return stream.Run(ctx) })
	}

	if rt.Cfg.Indicator.Enabled {
		if adapter, ok := adapters[venue.VenueBinance]; ok {
			source := watch.NewIndicatorSource(rt.Store, adapter, rt.Cfg.Indicator, rt.Logger)
			g.Go(func() error { return source.Run(ctx) })
		} else {
			rt.Logger.Warn().Msg("Indicator source enabled but Binance adapter is not")
		}
	}

	rt.Logger.Info().Int("venues", len(adapters)).Msg("Poller started")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		rt.Logger.Error().Err(err).Msg("Poller exited with error")
		os.Exit(1)
	}
	rt.Logger.Info().Msg("Poller stopped")
}
