package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/openpredict/tradebot/internal/config"
	"github.com/openpredict/tradebot/internal/domain"
	"github.com/openpredict/tradebot/internal/engine"
	"github.com/openpredict/tradebot/internal/notify"
	"github.com/openpredict/tradebot/internal/position"
	"github.com/openpredict/tradebot/internal/strategy"
)

// run builds the engine from the wired dependencies and supervises its loops
// until the context is cancelled. The ledger is flushed before returning.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	if a.cfg.CleanRestart {
		a.logger.WarnContext(ctx, "clean restart requested, wiping ledger")
		if err := deps.Repo.Reset(ctx); err != nil {
			return err
		}
		if deps.PaperWallet != nil {
			deps.PaperWallet.Reset()
		}
	}

	manager, err := position.NewManager(
		ctx, deps.Repo, deps.Bus, deps.Audit, strategy.GroupedStrategies, a.logger,
	)
	if err != nil {
		return err
	}

	kill := engine.NewKillSwitch(a.cfg.KillSwitch, a.logger)
	breaker := engine.NewCircuitBreaker(engine.BreakerConfig{
		MaxDailyLoss:         decimal.NewFromFloat(a.cfg.Risk.MaxDailyLoss),
		MaxDrawdownPct:       decimal.NewFromFloat(a.cfg.Risk.MaxDrawdownPct),
		MaxConsecutiveLosses: a.cfg.Risk.MaxConsecutiveLosses,
		Cooldown:             a.cfg.Risk.BreakerCooldown.Duration,
	}, a.logger)

	executor := engine.NewUnifiedExecutor(deps.Venue, manager, kill, engine.ExecutorConfig{
		MaxOrderNotional: decimal.NewFromFloat(a.cfg.Risk.MaxOrderNotional),
		MinOrderNotional: decimal.NewFromFloat(a.cfg.Risk.MinOrderNotional),
		QuantityDecimals: int32(a.cfg.Risk.QuantityDecimals),
		PriceDecimals:    int32(a.cfg.Risk.PriceDecimals),
		DedupeTTL:        a.cfg.Risk.DedupeTTL.Duration,
	}, a.logger)

	modules, err := a.buildModules()
	if err != nil {
		return err
	}

	orchestrator := engine.NewOrchestrator(engine.OrchestratorConfig{
		ScanInterval:           a.cfg.Engine.ScanInterval.Duration,
		UrgencyWeight:          decimal.NewFromFloat(a.cfg.Engine.UrgencyWeight),
		EdgeWeight:             decimal.NewFromFloat(a.cfg.Engine.EdgeWeight),
		MaxConcurrentPositions: a.cfg.Engine.MaxConcurrentPositions,
		MaxStacksPerCondition:  a.cfg.Engine.MaxStacksPerCondition,
	}, deps.Market, modules, executor, manager, breaker, kill, deps.Prices, a.logger)

	monitor := engine.NewResolutionMonitor(engine.ResolutionMonitorConfig{
		PollInterval: a.cfg.Resolution.PollInterval.Duration,
		Lookback:     a.cfg.Resolution.Lookback.Duration,
	}, deps.Resolutions, manager, breaker, a.logger)

	closer := engine.NewPositionCloser(engine.CloserConfig{
		Interval:          a.cfg.Exit.Interval.Duration,
		StopLossPct:       decimal.NewFromFloat(a.cfg.Exit.StopLossPct),
		ProfitTargetPct:   decimal.NewFromFloat(a.cfg.Exit.ProfitTargetPct),
		MaxPositionAge:    a.cfg.Exit.MaxPositionAge.Duration,
		GroupedStrategies: strategy.GroupedStrategies,
	}, deps.Venue, manager, breaker, deps.Prices, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return orchestrator.Run(ctx) })
	g.Go(func() error { return monitor.Run(ctx) })
	g.Go(func() error { return closer.Run(ctx) })

	if deps.Feed != nil {
		if err := deps.Feed.Connect(ctx); err != nil {
			a.logger.WarnContext(ctx, "live book feed unavailable, marks come from scan snapshots only",
				slog.String("error", err.Error()),
			)
		} else {
			g.Go(func() error { return a.trackFeedSubscriptions(ctx, deps, manager) })
		}
	}

	if deps.Notifier != nil {
		bridge := notify.NewEventBridge(deps.Bus, deps.Notifier, a.logger)
		g.Go(func() error { return bridge.Run(ctx) })
	}

	if deps.Archiver != nil {
		interval := a.cfg.S3.ArchiveInterval.Duration
		g.Go(func() error { return deps.Archiver.Run(ctx, interval) })
	}

	g.Go(func() error { return a.summaryLoop(ctx, executor, closer, manager, breaker) })

	err = g.Wait()

	// Best effort final flush with a fresh context; the group's is gone.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ferr := manager.Flush(flushCtx); ferr != nil {
		a.logger.Error("final ledger flush failed", slog.String("error", ferr.Error()))
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildModules registers every strategy module and resolves the configured
// active set.
func (a *App) buildModules() ([]domain.StrategyModule, error) {
	reg := strategy.NewRegistry()
	reg.Register(strategy.NewBinaryArb(binaryArbConfig(a.cfg.Strategy.BinaryArb), a.logger))
	reg.Register(strategy.NewResolvedDiscount(resolvedDiscountConfig(a.cfg.Strategy.ResolvedDiscount), a.logger))
	reg.Register(strategy.NewBracketArb(bracketArbConfig(a.cfg.Strategy.BracketArb), a.logger))

	return reg.Resolve(a.cfg.Strategy.Active)
}

func binaryArbConfig(c config.BinaryArbConfig) strategy.BinaryArbConfig {
	return strategy.BinaryArbConfig{
		MinEdgeCents:     decimal.NewFromFloat(c.MinEdgeCents),
		MaxOrderNotional: decimal.NewFromFloat(c.MaxOrderNotional),
		TakerFeeRate:     decimal.NewFromFloat(c.TakerFeeRate),
		Cooldown:         c.Cooldown.Duration,
		SignalTTL:        c.SignalTTL.Duration,
	}
}

func resolvedDiscountConfig(c config.ResolvedDiscountConfig) strategy.ResolvedDiscountConfig {
	return strategy.ResolvedDiscountConfig{
		MinDiscountCents: decimal.NewFromFloat(c.MinDiscountCents),
		MaxPrice:         decimal.NewFromFloat(c.MaxPrice),
		MaxOrderNotional: decimal.NewFromFloat(c.MaxOrderNotional),
		Cooldown:         c.Cooldown.Duration,
		SignalTTL:        c.SignalTTL.Duration,
	}
}

func bracketArbConfig(c config.BracketArbConfig) strategy.BracketArbConfig {
	return strategy.BracketArbConfig{
		MinEdgeCents:     decimal.NewFromFloat(c.MinEdgeCents),
		MaxOrderNotional: decimal.NewFromFloat(c.MaxOrderNotional),
		TakerFeeRate:     decimal.NewFromFloat(c.TakerFeeRate),
		Cooldown:         c.Cooldown.Duration,
		SignalTTL:        c.SignalTTL.Duration,
	}
}

// trackFeedSubscriptions keeps the live book feed subscribed to the tokens of
// held positions so the closer works with fresher marks than scan snapshots.
func (a *App) trackFeedSubscriptions(ctx context.Context, deps *Dependencies, manager *position.Manager) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	subscribed := make(map[string]bool)
	sync := func() {
		held := append(manager.OpenPositions(), manager.RedeemablePositions()...)
		var fresh []string
		for _, p := range held {
			if !subscribed[p.TokenID] {
				fresh = append(fresh, p.TokenID)
				subscribed[p.TokenID] = true
			}
		}
		if len(fresh) == 0 {
			return
		}
		if err := deps.Feed.Subscribe(ctx, fresh); err != nil {
			a.logger.WarnContext(ctx, "book feed subscribe failed",
				slog.Int("tokens", len(fresh)),
				slog.String("error", err.Error()),
			)
			for _, t := range fresh {
				delete(subscribed, t)
			}
		}
	}

	sync()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sync()
		}
	}
}

// summaryLoop logs a periodic rollup of engine activity: execution outcomes
// by category, exit counts, portfolio P&L, and the breaker state.
func (a *App) summaryLoop(
	ctx context.Context,
	executor *engine.UnifiedExecutor,
	closer *engine.PositionCloser,
	manager *position.Manager,
	breaker *engine.CircuitBreaker,
) error {
	interval := a.cfg.Engine.SummaryInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			exec := executor.Stats()
			exits := closer.Stats()
			portfolio := manager.PortfolioStats()
			trips := breaker.Stats()

			a.logger.InfoContext(ctx, "engine summary",
				slog.Int("executions", exec.Executions),
				slog.Int("successes", exec.Successes),
				slog.Int("failures", exec.Failures),
				slog.Any("failures_by_category", exec.ByCategory),
				slog.Int("closes", exits.Closes),
				slog.Int("redemptions", exits.Redemptions),
				slog.Int("open_positions", portfolio.OpenPositions),
				slog.Int("redeemable_positions", portfolio.RedeemablePositions),
				slog.String("realized_pnl", portfolio.TotalRealizedPnL.StringFixed(2)),
				slog.String("unrealized_pnl", portfolio.TotalUnrealizedPnL.StringFixed(2)),
				slog.String("breaker_state", string(trips.State)),
				slog.Int("breaker_trips", trips.TotalTrips),
			)
		}
	}
}
