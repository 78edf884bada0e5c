package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig               `mapstructure:"app"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Redis      RedisConfig             `mapstructure:"redis"`
	NATS       NATSConfig              `mapstructure:"nats"`
	Vault      VaultConfig             `mapstructure:"vault"`
	Polling    PollingConfig           `mapstructure:"polling"`
	Signals    SignalConfig            `mapstructure:"signals"`
	Engine     EngineConfig            `mapstructure:"engine"`
	Risk       RiskConfig              `mapstructure:"risk"`
	Resilience ResilienceConfig        `mapstructure:"resilience"`
	Monitor    MonitorConfig           `mapstructure:"monitor"`
	Venues     map[string]VenueConfig  `mapstructure:"venues"`
	Tiers      map[string]TierLimits   `mapstructure:"tiers"`
	API        APIConfig               `mapstructure:"api"`
	Monitoring MonitoringConfig        `mapstructure:"monitoring"`
	Alerts     AlertsConfig            `mapstructure:"alerts"`
	Indicator  IndicatorConfig         `mapstructure:"indicator"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings (snapshot cache, idempotency locks, tickers)
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS settings for the external event relay
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// VaultConfig contains HashiCorp Vault settings for the credential store
type VaultConfig struct {
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
}

// PollingConfig contains the per-tier polling cadence for the whale scheduler
type PollingConfig struct {
	CriticalInterval   time.Duration `mapstructure:"critical_interval"`
	HighInterval       time.Duration `mapstructure:"high_interval"`
	NormalInterval     time.Duration `mapstructure:"normal_interval"`
	LowInterval        time.Duration `mapstructure:"low_interval"`
	TierBatchSize      int           `mapstructure:"tier_batch_size"`
	SnapshotTTLFactor  int           `mapstructure:"snapshot_ttl_factor"`
	EmptyChecksLimit   int           `mapstructure:"empty_checks_limit"`
	SharingRecheck     time.Duration `mapstructure:"sharing_recheck"`
	RateLimitCooldown  time.Duration `mapstructure:"rate_limit_cooldown"`
	BackpressureDepth  int64         `mapstructure:"backpressure_depth"`
	DiscoveryInterval  time.Duration `mapstructure:"discovery_interval"`
	DiscoveryPageLimit int           `mapstructure:"discovery_page_limit"`
}

// SignalConfig contains signal lifecycle settings
type SignalConfig struct {
	Expiry        time.Duration `mapstructure:"expiry"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// EngineConfig contains copy-trade engine settings
type EngineConfig struct {
	Workers          int           `mapstructure:"workers"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ProcessTTL       time.Duration `mapstructure:"process_ttl"`
	SoftLimit        time.Duration `mapstructure:"soft_limit"`
	HardLimit        time.Duration `mapstructure:"hard_limit"`
	TradeLockTTL     time.Duration `mapstructure:"trade_lock_ttl"`
	CloseLockTTL     time.Duration `mapstructure:"close_lock_ttl"`
	TxRetries        int           `mapstructure:"tx_retries"`
}

// RiskConfig contains risk manager settings
type RiskConfig struct {
	MinTradingBalance float64 `mapstructure:"min_trading_balance"` // USDT
	MinTradeSize      float64 `mapstructure:"min_trade_size"`      // USDT
	BalanceAdjustPct  float64 `mapstructure:"balance_adjust_pct"`  // 0.80
	NotionalBufferPct float64 `mapstructure:"notional_buffer_pct"` // 1.20
	DefaultLeverage   int     `mapstructure:"default_leverage"`
}

// ResilienceConfig contains retry and circuit breaker settings
type ResilienceConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	BackoffFactor    float64       `mapstructure:"backoff_factor"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxReqs  uint32        `mapstructure:"half_open_max_reqs"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
}

// MonitorConfig contains position monitor settings
type MonitorConfig struct {
	RepriceInterval   time.Duration `mapstructure:"reprice_interval"`
	TriggerInterval   time.Duration `mapstructure:"trigger_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	PendingGrace      time.Duration `mapstructure:"pending_grace"`
	ExecutingLimit    time.Duration `mapstructure:"executing_limit"`
}

// VenueConfig contains per-venue settings
type VenueConfig struct {
	Enabled          bool               `mapstructure:"enabled"`
	Testnet          bool               `mapstructure:"testnet"`
	MaxLeverage      int                `mapstructure:"max_leverage"`
	RequestsPerSec   float64            `mapstructure:"requests_per_sec"`
	MinNotional      map[string]float64 `mapstructure:"min_notional"` // keyed by market tag
	LeaderboardPages int                `mapstructure:"leaderboard_pages"`
}

// TierLimits contains subscription-tier limits
type TierLimits struct {
	MaxFollowedWhales int     `mapstructure:"max_followed_whales"`
	MaxOpenPositions  int     `mapstructure:"max_open_positions"` // 0 = unlimited
	MaxLeverage       int     `mapstructure:"max_leverage"`
	FuturesAllowed    bool    `mapstructure:"futures_allowed"`
	CommissionRate    float64 `mapstructure:"commission_rate"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains Prometheus settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// AlertsConfig contains operator alert settings
type AlertsConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
}

// IndicatorConfig contains settings for the indicator signal source
type IndicatorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Symbols  []string      `mapstructure:"symbols"`
	Interval time.Duration `mapstructure:"interval"`
	RSIBuy   float64       `mapstructure:"rsi_buy"`
	RSISell  float64       `mapstructure:"rsi_sell"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("WHALECOPY")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "whalecopy")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "whalecopy")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.prefix", "whalecopy.events.")

	// Vault defaults
	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.mount_path", "secret")

	// Polling tier defaults (spec-tier cadence)
	v.SetDefault("polling.critical_interval", "15s")
	v.SetDefault("polling.high_interval", "30s")
	v.SetDefault("polling.normal_interval", "45s")
	v.SetDefault("polling.low_interval", "120s")
	v.SetDefault("polling.tier_batch_size", 50)
	v.SetDefault("polling.snapshot_ttl_factor", 2)
	v.SetDefault("polling.empty_checks_limit", 5)
	v.SetDefault("polling.sharing_recheck", "24h")
	v.SetDefault("polling.rate_limit_cooldown", "5m")
	v.SetDefault("polling.backpressure_depth", 500)
	v.SetDefault("polling.discovery_interval", "1h")
	v.SetDefault("polling.discovery_page_limit", 3)

	// Signal lifecycle defaults
	v.SetDefault("signals.expiry", "60s")
	v.SetDefault("signals.sweep_interval", "30s")

	// Engine defaults
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.poll_interval", "1s")
	v.SetDefault("engine.process_ttl", "5m")
	v.SetDefault("engine.soft_limit", "9m")
	v.SetDefault("engine.hard_limit", "10m")
	v.SetDefault("engine.trade_lock_ttl", "2m")
	v.SetDefault("engine.close_lock_ttl", "2m")
	v.SetDefault("engine.tx_retries", 3)

	// Risk defaults
	v.SetDefault("risk.min_trading_balance", 5.0)
	v.SetDefault("risk.min_trade_size", 5.0)
	v.SetDefault("risk.balance_adjust_pct", 0.80)
	v.SetDefault("risk.notional_buffer_pct", 1.20)
	v.SetDefault("risk.default_leverage", 5)

	// Resilience defaults
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.initial_backoff", "500ms")
	v.SetDefault("resilience.max_backoff", "10s")
	v.SetDefault("resilience.backoff_factor", 2.0)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.open_timeout", "60s")
	v.SetDefault("resilience.half_open_max_reqs", 2)
	v.SetDefault("resilience.call_timeout", "30s")

	// Monitor defaults
	v.SetDefault("monitor.reprice_interval", "10s")
	v.SetDefault("monitor.trigger_interval", "10s")
	v.SetDefault("monitor.reconcile_interval", "30s")
	v.SetDefault("monitor.pending_grace", "2m")
	v.SetDefault("monitor.executing_limit", "10m")

	// Venue defaults
	v.SetDefault("venues.binance.enabled", true)
	v.SetDefault("venues.binance.max_leverage", 125)
	v.SetDefault("venues.binance.requests_per_sec", 10)
	v.SetDefault("venues.binance.min_notional.SPOT", 5.0)
	v.SetDefault("venues.binance.min_notional.USDM_FUTURES", 5.0)
	v.SetDefault("venues.binance.min_notional.COINM_FUTURES", 10.0)
	v.SetDefault("venues.binance.leaderboard_pages", 3)
	v.SetDefault("venues.bybit.enabled", true)
	v.SetDefault("venues.bybit.max_leverage", 100)
	v.SetDefault("venues.bybit.requests_per_sec", 5)
	v.SetDefault("venues.bybit.min_notional.SPOT", 5.0)
	v.SetDefault("venues.bybit.min_notional.USDM_FUTURES", 5.0)
	v.SetDefault("venues.bybit.leaderboard_pages", 2)

	// Subscription tier defaults
	v.SetDefault("tiers.FREE.max_followed_whales", 1)
	v.SetDefault("tiers.FREE.max_open_positions", 2)
	v.SetDefault("tiers.FREE.max_leverage", 5)
	v.SetDefault("tiers.FREE.futures_allowed", false)
	v.SetDefault("tiers.FREE.commission_rate", 0.10)
	v.SetDefault("tiers.PRO.max_followed_whales", 10)
	v.SetDefault("tiers.PRO.max_open_positions", 10)
	v.SetDefault("tiers.PRO.max_leverage", 20)
	v.SetDefault("tiers.PRO.futures_allowed", true)
	v.SetDefault("tiers.PRO.commission_rate", 0.05)
	v.SetDefault("tiers.ELITE.max_followed_whales", 50)
	v.SetDefault("tiers.ELITE.max_open_positions", 0)
	v.SetDefault("tiers.ELITE.max_leverage", 50)
	v.SetDefault("tiers.ELITE.futures_allowed", true)
	v.SetDefault("tiers.ELITE.commission_rate", 0.03)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Alerts defaults
	v.SetDefault("alerts.telegram_enabled", false)

	// Indicator source defaults
	v.SetDefault("indicator.enabled", false)
	v.SetDefault("indicator.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("indicator.interval", "5m")
	v.SetDefault("indicator.rsi_buy", 30.0)
	v.SetDefault("indicator.rsi_sell", 70.0)
}

// Validate performs basic sanity checks on loaded configuration
func (c *Config) Validate() error {
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database.pool_size must be positive")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if c.Engine.SoftLimit > c.Engine.HardLimit {
		return fmt.Errorf("engine.soft_limit must not exceed engine.hard_limit")
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("resilience.max_retries must not be negative")
	}
	if c.Resilience.BackoffFactor < 1 {
		return fmt.Errorf("resilience.backoff_factor must be >= 1")
	}
	if c.Polling.EmptyChecksLimit <= 0 {
		return fmt.Errorf("polling.empty_checks_limit must be positive")
	}
	if c.Signals.Expiry <= 0 {
		return fmt.Errorf("signals.expiry must be positive")
	}
	for name, venue := range c.Venues {
		if venue.Enabled && venue.RequestsPerSec <= 0 {
			return fmt.Errorf("venues.%s.requests_per_sec must be positive", name)
		}
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
