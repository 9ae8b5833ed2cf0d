package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/openpredict/tradebot/internal/blob/s3"
	"github.com/openpredict/tradebot/internal/cache/memory"
	"github.com/openpredict/tradebot/internal/cache/redis"
	"github.com/openpredict/tradebot/internal/config"
	"github.com/openpredict/tradebot/internal/crypto"
	"github.com/openpredict/tradebot/internal/domain"
	"github.com/openpredict/tradebot/internal/marketdata"
	"github.com/openpredict/tradebot/internal/notify"
	"github.com/openpredict/tradebot/internal/store/file"
	"github.com/openpredict/tradebot/internal/store/postgres"
	"github.com/openpredict/tradebot/internal/venue/clob"
	"github.com/openpredict/tradebot/internal/venue/paper"
)

// instanceLockTTL bounds how long a crashed instance keeps the ledger locked.
const instanceLockTTL = 5 * time.Minute

// Dependencies bundles every domain-level dependency the engine needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Repo  domain.PositionRepository
	Audit domain.AuditStore

	Prices domain.PriceCache
	Bus    domain.SignalBus

	Venue domain.TradingVenue
	// PaperWallet is set in paper mode so a clean restart can reset it.
	PaperWallet *paper.Wallet

	Market      domain.MarketDataSource
	Resolutions domain.ResolutionSource
	Feed        *marketdata.WSFeed

	Archiver *s3blob.LedgerArchiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Ledger store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Store.Postgres.DSN,
			Host:     cfg.Store.Postgres.Host,
			Port:     cfg.Store.Postgres.Port,
			Database: cfg.Store.Postgres.Database,
			User:     cfg.Store.Postgres.User,
			Password: cfg.Store.Postgres.Password,
			SSLMode:  cfg.Store.Postgres.SSLMode,
			MaxConns: cfg.Store.Postgres.PoolMaxConns,
			MinConns: cfg.Store.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Store.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Repo = postgres.NewPositionRepo(pgClient.Pool())
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
	default:
		store, err := file.NewStore(cfg.Store.Path, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: file store: %w", err)
		}
		deps.Repo = store
	}

	// --- Caches and signal bus ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		// One ledger, one engine. A second instance against the same Redis
		// fails fast here instead of double-trading.
		unlock, err := redis.NewLockManager(redisClient).Acquire(ctx, "tradebot:instance", instanceLockTTL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: instance lock: %w", err)
		}
		closers = append(closers, unlock)

		deps.Prices = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.Bus = redis.NewSignalBus(redisClient)
	} else {
		deps.Prices = memory.NewPriceCache(cfg.Redis.PriceTTL.Duration)
		deps.Bus = memory.NewSignalBus()
	}

	// --- Trading venue ---
	switch strings.ToLower(cfg.Mode) {
	case "live":
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, int(cfg.Venue.ChainID))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		venue := clob.NewVenue(clob.Config{
			BaseURL:          cfg.Venue.ClobHost,
			FillPollInterval: cfg.Venue.FillPollInterval.Duration,
			FillPollAttempts: cfg.Venue.FillPollAttempts,
		}, signer, logger)
		if err := venue.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}
		deps.Venue = venue
	default:
		wallet := paper.NewWallet(decimal.NewFromFloat(cfg.Venue.Paper.StartingBalance))
		deps.PaperWallet = wallet
		deps.Venue = paper.NewVenue(paper.Config{
			SlippageBps:  decimal.NewFromInt(cfg.Venue.Paper.SlippageBps),
			TakerFeeRate: decimal.NewFromFloat(cfg.Venue.Paper.TakerFeeRate),
		}, wallet, logger)
	}

	// --- Market data ---
	gamma := marketdata.NewGammaSource(marketdata.GammaConfig{
		BaseURL:   cfg.Venue.GammaHost,
		PageSize:  cfg.Markets.PageSize,
		MaxPages:  cfg.Markets.MaxPages,
		MinVolume: decimal.NewFromFloat(cfg.Markets.MinVolume),
	}, logger)
	deps.Market = gamma
	deps.Resolutions = gamma

	if cfg.Venue.WsHost != "" {
		deps.Feed = marketdata.NewWSFeed(cfg.Venue.WsHost+"/ws/market", deps.Prices, logger)
		closers = append(closers, func() { _ = deps.Feed.Close() })
	}

	// --- Ledger archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewLedgerArchiver(
			s3blob.NewWriter(s3Client), deps.Repo, deps.Audit, cfg.S3.Prefix, logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
