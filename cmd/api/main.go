// The api daemon serves the REST surface. Commands run through a local
// engine instance; the Redis locks make them safe next to the dispatcher.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ajitpratap0/whalecopy/internal/api"
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

	rt, err := app.Bootstrap(ctx, *configPath, "api")
	if err != nil {
		os.Stderr.WriteString("bootstrap failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer rt.Shutdown(context.Background())

	credProvider, err := rt.Credentials()
	if err != nil {
		rt.Logger.Fatal().Err(err).Msg("Failed to initialize credential provider")
	}

	riskMgr := risk.NewManager(rt.Cfg.Risk, rt.Cfg.Tiers, rt.Cfg.Venues, rt.Logger)
	eng := engine.New(
		rt.Store,
		riskMgr,
		credProvider,
		idempotency.New(rt.Redis, rt.Logger),
		rt.Bus,
		rt.Adapters(),
		rt.Cfg.Engine,
		rt.Cfg.Signals,
		rt.Logger,
	)

	server := api.NewServer(rt.Cfg.API, rt.Store, eng, riskMgr, rt.Logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		rt.Logger.Error().Err(err).Msg("Server error")
	case <-ctx.Done():
		rt.Logger.Info().Msg("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		rt.Logger.Error().Err(err).Msg("Failed to stop server gracefully")
		os.Exit(1)
	}
	rt.Logger.Info().Msg("Server stopped")
}
