// The engine daemon claims pending signals and executes copy trades for
// every eligible follower under the two-phase commit.
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
	"github.com/ajitpratap0/whalecopy/internal/risk"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, *configPath, "engine")
	if err != nil {
		os.Stderr.WriteString("bootstrap failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer rt.Shutdown(context.Background())

	credProvider, err := rt.Credentials()
	if err != nil {
		rt.Logger.Fatal().Err(err).Msg("Failed to initialize credential provider")
	}

	eng := engine.New(
		rt.Store,
		risk.NewManager(rt.Cfg.Risk, rt.Cfg.Tiers, rt.Cfg.Venues, rt.Logger),
		credProvider,
		idempotency.New(rt.Redis, rt.Logger),
		rt.Bus,
		rt.Adapters(),
		rt.Cfg.Engine,
		rt.Cfg.Signals,
		rt.Logger,
	)

	rt.Logger.Info().Int("workers", rt.Cfg.Engine.Workers).Msg("Engine started")
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		rt.Logger.Error().Err(err).Msg("Engine exited with error")
		os.Exit(1)
	}
	rt.Logger.Info().Msg("Engine stopped")
}
