// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Venue      VenueConfig      `toml:"venue"`
	Engine     EngineConfig     `toml:"engine"`
	Risk       RiskConfig       `toml:"risk"`
	Exit       ExitConfig       `toml:"exit"`
	Resolution ResolutionConfig `toml:"resolution"`
	Markets    MarketsConfig    `toml:"markets"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Store      StoreConfig      `toml:"store"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	// CleanRestart wipes the ledger and the paper wallet at startup.
	CleanRestart bool `toml:"clean_restart"`
	// KillSwitch starts the engine with new entries forbidden. Resolution
	// handling and position closing still run.
	KillSwitch bool `toml:"kill_switch"`
}

// WalletConfig holds Ethereum wallet credentials for live trading.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// VenueConfig holds exchange endpoints and paper-trading parameters.
type VenueConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	ChainID   int64  `toml:"chain_id"`
	// FillPollAttempts bounds how long a live order is polled for its fill.
	FillPollInterval duration `toml:"fill_poll_interval"`
	FillPollAttempts int      `toml:"fill_poll_attempts"`

	Paper PaperConfig `toml:"paper"`
}

// PaperConfig tunes the simulated venue used in paper mode.
type PaperConfig struct {
	StartingBalance float64 `toml:"starting_balance"`
	SlippageBps     int64   `toml:"slippage_bps"`
	TakerFeeRate    float64 `toml:"taker_fee_rate"`
}

// EngineConfig drives the scan loop.
type EngineConfig struct {
	ScanInterval duration `toml:"scan_interval"`
	// UrgencyWeight and EdgeWeight combine into the dispatch priority.
	UrgencyWeight          float64  `toml:"urgency_weight"`
	EdgeWeight             float64  `toml:"edge_weight"`
	MaxConcurrentPositions int      `toml:"max_concurrent_positions"`
	MaxStacksPerCondition  int      `toml:"max_stacks_per_condition"`
	SummaryInterval        duration `toml:"summary_interval"`
}

// RiskConfig holds the executor's per-order caps and the circuit breaker's
// trip thresholds.
type RiskConfig struct {
	MaxOrderNotional float64  `toml:"max_order_notional"`
	MinOrderNotional float64  `toml:"min_order_notional"`
	QuantityDecimals int      `toml:"quantity_decimals"`
	PriceDecimals    int      `toml:"price_decimals"`
	DedupeTTL        duration `toml:"dedupe_ttl"`

	MaxDailyLoss         float64  `toml:"max_daily_loss"`
	MaxDrawdownPct       float64  `toml:"max_drawdown_pct"`
	MaxConsecutiveLosses int      `toml:"max_consecutive_losses"`
	BreakerCooldown      duration `toml:"breaker_cooldown"`
}

// ExitConfig holds the position closer's rules. A zero threshold disables
// that rule.
type ExitConfig struct {
	Interval        duration `toml:"interval"`
	StopLossPct     float64  `toml:"stop_loss_pct"`
	ProfitTargetPct float64  `toml:"profit_target_pct"`
	MaxPositionAge  duration `toml:"max_position_age"`
}

// ResolutionConfig drives the resolution poll loop.
type ResolutionConfig struct {
	PollInterval duration `toml:"poll_interval"`
	Lookback     duration `toml:"lookback"`
}

// MarketsConfig filters the market universe pulled each cycle.
type MarketsConfig struct {
	MinVolume float64 `toml:"min_volume"`
	PageSize  int     `toml:"page_size"`
	MaxPages  int     `toml:"max_pages"`
}

// StrategyConfig selects the active strategy modules and tunes each one.
type StrategyConfig struct {
	// Active lists the module names to run concurrently.
	Active []string `toml:"active"`

	BinaryArb        BinaryArbConfig        `toml:"binary_arb"`
	ResolvedDiscount ResolvedDiscountConfig `toml:"resolved_discount"`
	BracketArb       BracketArbConfig       `toml:"bracket_arb"`
}

// BinaryArbConfig tunes the YES+NO hedge arbitrage.
type BinaryArbConfig struct {
	MinEdgeCents     float64  `toml:"min_edge_cents"`
	MaxOrderNotional float64  `toml:"max_order_notional"`
	TakerFeeRate     float64  `toml:"taker_fee_rate"`
	Cooldown         duration `toml:"cooldown"`
	SignalTTL        duration `toml:"signal_ttl"`
}

// ResolvedDiscountConfig tunes the resolved-winner discount strategy.
type ResolvedDiscountConfig struct {
	MinDiscountCents float64  `toml:"min_discount_cents"`
	MaxPrice         float64  `toml:"max_price"`
	MaxOrderNotional float64  `toml:"max_order_notional"`
	Cooldown         duration `toml:"cooldown"`
	SignalTTL        duration `toml:"signal_ttl"`
}

// BracketArbConfig tunes the multi-outcome group arbitrage.
type BracketArbConfig struct {
	MinEdgeCents     float64  `toml:"min_edge_cents"`
	MaxOrderNotional float64  `toml:"max_order_notional"`
	TakerFeeRate     float64  `toml:"taker_fee_rate"`
	Cooldown         duration `toml:"cooldown"`
	SignalTTL        duration `toml:"signal_ttl"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	// Backend is "file" or "postgres".
	Backend  string         `toml:"backend"`
	Path     string         `toml:"path"`
	Postgres PostgresConfig `toml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the engine
// falls back to in-process caches and skips the instance lock.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds object storage parameters for ledger archival.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	Prefix          string   `toml:"prefix"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			ClobHost:         "https://clob.polymarket.com",
			GammaHost:        "https://gamma-api.polymarket.com",
			WsHost:           "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:          137,
			FillPollInterval: duration{500 * time.Millisecond},
			FillPollAttempts: 6,
			Paper: PaperConfig{
				StartingBalance: 1000,
				SlippageBps:     10,
				TakerFeeRate:    0.0,
			},
		},
		Engine: EngineConfig{
			ScanInterval:           duration{15 * time.Second},
			UrgencyWeight:          1.0,
			EdgeWeight:             2.0,
			MaxConcurrentPositions: 20,
			MaxStacksPerCondition:  2,
			SummaryInterval:        duration{5 * time.Minute},
		},
		Risk: RiskConfig{
			MaxOrderNotional:     100,
			MinOrderNotional:     1,
			QuantityDecimals:     2,
			PriceDecimals:        4,
			DedupeTTL:            duration{10 * time.Minute},
			MaxDailyLoss:         50,
			MaxDrawdownPct:       10,
			MaxConsecutiveLosses: 5,
			BreakerCooldown:      duration{time.Hour},
		},
		Exit: ExitConfig{
			Interval:        duration{30 * time.Second},
			StopLossPct:     25,
			ProfitTargetPct: 20,
			MaxPositionAge:  duration{14 * 24 * time.Hour},
		},
		Resolution: ResolutionConfig{
			PollInterval: duration{time.Minute},
			Lookback:     duration{24 * time.Hour},
		},
		Markets: MarketsConfig{
			MinVolume: 1000,
			PageSize:  100,
			MaxPages:  10,
		},
		Strategy: StrategyConfig{
			Active: []string{"binary_arb", "resolved_discount"},
			BinaryArb: BinaryArbConfig{
				MinEdgeCents:     2,
				MaxOrderNotional: 50,
				TakerFeeRate:     0.0,
				Cooldown:         duration{5 * time.Minute},
				SignalTTL:        duration{30 * time.Second},
			},
			ResolvedDiscount: ResolvedDiscountConfig{
				MinDiscountCents: 5,
				MaxPrice:         0.95,
				MaxOrderNotional: 50,
				Cooldown:         duration{10 * time.Minute},
				SignalTTL:        duration{30 * time.Second},
			},
			BracketArb: BracketArbConfig{
				MinEdgeCents:     3,
				MaxOrderNotional: 60,
				TakerFeeRate:     0.0,
				Cooldown:         duration{5 * time.Minute},
				SignalTTL:        duration{30 * time.Second},
			},
		},
		Store: StoreConfig{
			Backend: "file",
			Path:    "data/positions.json",
			Postgres: PostgresConfig{
				Host:          "localhost",
				Port:          5432,
				Database:      "tradebot",
				User:          "postgres",
				SSLMode:       "disable",
				PoolMaxConns:  10,
				PoolMinConns:  2,
				RunMigrations: true,
			},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "tradebot-data",
			ForcePathStyle:  true,
			Prefix:          "tradebot",
			ArchiveInterval: duration{time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "position_redeemable"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed for live trading.
	if strings.ToLower(c.Mode) == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Venue.ClobHost == "" {
			errs = append(errs, "venue: clob_host must not be empty for live mode")
		}
		if c.Venue.ChainID <= 0 {
			errs = append(errs, "venue: chain_id must be positive")
		}
	}

	if c.Venue.GammaHost == "" {
		errs = append(errs, "venue: gamma_host must not be empty")
	}
	if c.Venue.Paper.StartingBalance <= 0 && strings.ToLower(c.Mode) == "paper" {
		errs = append(errs, "venue.paper: starting_balance must be > 0")
	}
	if c.Venue.Paper.SlippageBps < 0 {
		errs = append(errs, "venue.paper: slippage_bps must be >= 0")
	}

	if c.Engine.ScanInterval.Duration <= 0 {
		errs = append(errs, "engine: scan_interval must be > 0")
	}
	if c.Engine.MaxConcurrentPositions < 1 {
		errs = append(errs, "engine: max_concurrent_positions must be >= 1")
	}

	if c.Risk.MaxOrderNotional <= 0 {
		errs = append(errs, "risk: max_order_notional must be > 0")
	}
	if c.Risk.MinOrderNotional < 0 {
		errs = append(errs, "risk: min_order_notional must be >= 0")
	}
	if c.Risk.MinOrderNotional > c.Risk.MaxOrderNotional {
		errs = append(errs, "risk: min_order_notional must not exceed max_order_notional")
	}
	if c.Risk.QuantityDecimals < 0 || c.Risk.PriceDecimals < 0 {
		errs = append(errs, "risk: quantity_decimals and price_decimals must be >= 0")
	}

	if c.Exit.Interval.Duration <= 0 {
		errs = append(errs, "exit: interval must be > 0")
	}
	if c.Resolution.PollInterval.Duration <= 0 {
		errs = append(errs, "resolution: poll_interval must be > 0")
	}

	if len(c.Strategy.Active) == 0 {
		errs = append(errs, "strategy: active must name at least one module")
	}

	switch strings.ToLower(c.Store.Backend) {
	case "file":
		if c.Store.Path == "" {
			errs = append(errs, "store: path must not be empty for the file backend")
		}
	case "postgres":
		pg := c.Store.Postgres
		if strings.TrimSpace(pg.DSN) == "" {
			if pg.Host == "" {
				errs = append(errs, "store.postgres: host must not be empty (or set dsn)")
			}
			if pg.Port <= 0 || pg.Port > 65535 {
				errs = append(errs, fmt.Sprintf("store.postgres: port must be 1-65535, got %d", pg.Port))
			}
			if pg.Database == "" {
				errs = append(errs, "store.postgres: database must not be empty")
			}
		}
		if pg.PoolMaxConns < 1 {
			errs = append(errs, "store.postgres: pool_max_conns must be >= 1")
		}
		if pg.PoolMinConns < 0 || pg.PoolMinConns > pg.PoolMaxConns {
			errs = append(errs, "store.postgres: pool_min_conns must be 0..pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: file, postgres)", c.Store.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
