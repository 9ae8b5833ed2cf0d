package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "TRADEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "TRADEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "TRADEBOT_WALLET_KEY_PASSWORD")

	// ── Venue ──
	setStr(&cfg.Venue.ClobHost, "TRADEBOT_VENUE_CLOB_HOST")
	setStr(&cfg.Venue.GammaHost, "TRADEBOT_VENUE_GAMMA_HOST")
	setStr(&cfg.Venue.WsHost, "TRADEBOT_VENUE_WS_HOST")
	setInt64(&cfg.Venue.ChainID, "TRADEBOT_VENUE_CHAIN_ID")
	setFloat64(&cfg.Venue.Paper.StartingBalance, "TRADEBOT_VENUE_PAPER_STARTING_BALANCE")
	setInt64(&cfg.Venue.Paper.SlippageBps, "TRADEBOT_VENUE_PAPER_SLIPPAGE_BPS")
	setFloat64(&cfg.Venue.Paper.TakerFeeRate, "TRADEBOT_VENUE_PAPER_TAKER_FEE_RATE")

	// ── Engine ──
	setDuration(&cfg.Engine.ScanInterval, "TRADEBOT_ENGINE_SCAN_INTERVAL")
	setFloat64(&cfg.Engine.UrgencyWeight, "TRADEBOT_ENGINE_URGENCY_WEIGHT")
	setFloat64(&cfg.Engine.EdgeWeight, "TRADEBOT_ENGINE_EDGE_WEIGHT")
	setInt(&cfg.Engine.MaxConcurrentPositions, "TRADEBOT_ENGINE_MAX_CONCURRENT_POSITIONS")
	setInt(&cfg.Engine.MaxStacksPerCondition, "TRADEBOT_ENGINE_MAX_STACKS_PER_CONDITION")
	setDuration(&cfg.Engine.SummaryInterval, "TRADEBOT_ENGINE_SUMMARY_INTERVAL")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxOrderNotional, "TRADEBOT_RISK_MAX_ORDER_NOTIONAL")
	setFloat64(&cfg.Risk.MinOrderNotional, "TRADEBOT_RISK_MIN_ORDER_NOTIONAL")
	setFloat64(&cfg.Risk.MaxDailyLoss, "TRADEBOT_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "TRADEBOT_RISK_MAX_DRAWDOWN_PCT")
	setInt(&cfg.Risk.MaxConsecutiveLosses, "TRADEBOT_RISK_MAX_CONSECUTIVE_LOSSES")
	setDuration(&cfg.Risk.BreakerCooldown, "TRADEBOT_RISK_BREAKER_COOLDOWN")

	// ── Exit ──
	setDuration(&cfg.Exit.Interval, "TRADEBOT_EXIT_INTERVAL")
	setFloat64(&cfg.Exit.StopLossPct, "TRADEBOT_EXIT_STOP_LOSS_PCT")
	setFloat64(&cfg.Exit.ProfitTargetPct, "TRADEBOT_EXIT_PROFIT_TARGET_PCT")
	setDuration(&cfg.Exit.MaxPositionAge, "TRADEBOT_EXIT_MAX_POSITION_AGE")

	// ── Resolution ──
	setDuration(&cfg.Resolution.PollInterval, "TRADEBOT_RESOLUTION_POLL_INTERVAL")
	setDuration(&cfg.Resolution.Lookback, "TRADEBOT_RESOLUTION_LOOKBACK")

	// ── Markets ──
	setFloat64(&cfg.Markets.MinVolume, "TRADEBOT_MARKETS_MIN_VOLUME")
	setInt(&cfg.Markets.PageSize, "TRADEBOT_MARKETS_PAGE_SIZE")
	setInt(&cfg.Markets.MaxPages, "TRADEBOT_MARKETS_MAX_PAGES")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "TRADEBOT_STRATEGY_ACTIVE")

	// ── Store ──
	setStr(&cfg.Store.Backend, "TRADEBOT_STORE_BACKEND")
	setStr(&cfg.Store.Path, "TRADEBOT_STORE_PATH")
	setStr(&cfg.Store.Postgres.DSN, "TRADEBOT_STORE_POSTGRES_DSN")
	setStr(&cfg.Store.Postgres.Host, "TRADEBOT_STORE_POSTGRES_HOST")
	setInt(&cfg.Store.Postgres.Port, "TRADEBOT_STORE_POSTGRES_PORT")
	setStr(&cfg.Store.Postgres.Database, "TRADEBOT_STORE_POSTGRES_DATABASE")
	setStr(&cfg.Store.Postgres.User, "TRADEBOT_STORE_POSTGRES_USER")
	setStr(&cfg.Store.Postgres.Password, "TRADEBOT_STORE_POSTGRES_PASSWORD")
	setStr(&cfg.Store.Postgres.SSLMode, "TRADEBOT_STORE_POSTGRES_SSLMODE")
	setInt(&cfg.Store.Postgres.PoolMaxConns, "TRADEBOT_STORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Store.Postgres.PoolMinConns, "TRADEBOT_STORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Store.Postgres.RunMigrations, "TRADEBOT_STORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "TRADEBOT_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "TRADEBOT_S3_PREFIX")
	setDuration(&cfg.S3.ArchiveInterval, "TRADEBOT_S3_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEBOT_MODE")
	setStr(&cfg.LogLevel, "TRADEBOT_LOG_LEVEL")
	setBool(&cfg.CleanRestart, "TRADEBOT_CLEAN_RESTART")
	setBool(&cfg.KillSwitch, "TRADEBOT_KILL_SWITCH")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
