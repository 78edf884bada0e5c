// Package app holds the bootstrap shared by the daemons: configuration,
// logging, store, Redis, the event bus and its NATS relay, Telegram
// alerting, metrics, and the resilience-wrapped venue adapters.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/whalecopy/internal/alerts"
	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/creds"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/metrics"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// Runtime carries the shared infrastructure one daemon runs on
type Runtime struct {
	Cfg      *config.Config
	Logger   zerolog.Logger
	Store    *store.Store
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Bus      *events.Bus
	Notifier *alerts.Notifier

	relay   *events.Relay
	metrics *metrics.Server
}

// Bootstrap loads configuration and connects the shared infrastructure.
// Call Shutdown when the daemon exits.
func Bootstrap(ctx context.Context, configPath, service string) (*Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger(service)

	st, pool, err := store.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.PoolSize)
	if err != nil {
		return nil, err
	}
	if err := st.ApplySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rt := &Runtime{
		Cfg:    cfg,
		Logger: logger,
		Store:  st,
		Pool:   pool,
		Redis:  redisClient,
		Bus:    events.NewBus(logger),
	}

	if cfg.NATS.Enabled {
		relay, err := events.NewRelay(events.RelayConfig{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix})
		if err != nil {
			logger.Warn().Err(err).Msg("Event relay unavailable, continuing without NATS")
		} else {
			relay.Attach(rt.Bus)
			rt.relay = relay
		}
	}

	notifier, err := alerts.NewNotifier(cfg.Alerts, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Telegram alerting unavailable, continuing without alerts")
	} else {
		notifier.Attach(rt.Bus)
		rt.Notifier = notifier
	}

	if cfg.Monitoring.EnableMetrics {
		rt.metrics = metrics.NewServer(cfg.Monitoring.PrometheusPort)
		rt.metrics.Start()
	}

	logger.Info().
		Str("environment", cfg.App.Environment).
		Msg("Runtime initialized")
	return rt, nil
}

// Adapters builds the resilience-wrapped adapter per enabled venue
func (rt *Runtime) Adapters() map[venue.Venue]venue.Adapter {
	retry := venue.RetryConfig{
		MaxRetries:     rt.Cfg.Resilience.MaxRetries,
		InitialBackoff: rt.Cfg.Resilience.InitialBackoff,
		MaxBackoff:     rt.Cfg.Resilience.MaxBackoff,
		BackoffFactor:  rt.Cfg.Resilience.BackoffFactor,
	}
	breaker := venue.BreakerSettings{
		FailureThreshold: rt.Cfg.Resilience.FailureThreshold,
		OpenTimeout:      rt.Cfg.Resilience.OpenTimeout,
		HalfOpenMaxReqs:  rt.Cfg.Resilience.HalfOpenMaxReqs,
	}
	hook := rt.Notifier.BreakerHook()

	adapters := make(map[venue.Venue]venue.Adapter)
	for name, vc := range rt.Cfg.Venues {
		if !vc.Enabled {
			continue
		}
		tag := venue.Venue(strings.ToUpper(name))
		venueLogger := config.NewVenueLogger(string(tag))
		var inner venue.Adapter
		switch tag {
		case venue.VenueBinance:
			inner = venue.NewBinanceAdapter(venue.BinanceConfig{
				Testnet:        vc.Testnet,
				RequestsPerSec: vc.RequestsPerSec,
			}, venueLogger)
		case venue.VenueBybit:
			inner = venue.NewBybitAdapter(venue.BybitConfig{
				Testnet:        vc.Testnet,
				RequestsPerSec: vc.RequestsPerSec,
			}, venueLogger)
		default:
			rt.Logger.Warn().Str("venue", name).Msg("Unknown venue in configuration, skipping")
			continue
		}
		adapters[inner.Venue()] = venue.NewResilient(
			inner, retry, breaker, rt.Cfg.Resilience.CallTimeout, venueLogger, hook,
		)
	}
	return adapters
}

// Credentials builds the Vault-backed credential provider
func (rt *Runtime) Credentials() (creds.Provider, error) {
	return creds.NewVaultProvider(creds.VaultProviderConfig{
		Address:   rt.Cfg.Vault.Address,
		Token:     rt.Cfg.Vault.Token,
		MountPath: rt.Cfg.Vault.MountPath,
	}, rt.Logger)
}

// Shutdown releases the shared infrastructure in dependency order
func (rt *Runtime) Shutdown(ctx context.Context) {
	if rt.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = rt.metrics.Shutdown(shutdownCtx)
		cancel()
	}
	rt.Bus.Close()
	if rt.relay != nil {
		rt.relay.Close()
	}
	_ = rt.Redis.Close()
	rt.Pool.Close()
	rt.Logger.Info().Msg("Runtime shut down")
}
