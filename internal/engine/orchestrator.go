package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
	"github.com/openpredict/tradebot/internal/position"
)

// OrchestratorConfig drives the scan loop.
type OrchestratorConfig struct {
	ScanInterval time.Duration
	// UrgencyWeight and EdgeWeight combine into the composite priority:
	// urgency_weight * urgency + edge_weight * expected_profit.
	UrgencyWeight decimal.Decimal
	EdgeWeight    decimal.Decimal
	// MaxConcurrentPositions caps open plus redeemable holdings engine-wide.
	MaxConcurrentPositions int
	// MaxStacksPerCondition caps how many positions may stack on one market.
	MaxStacksPerCondition int
}

// Orchestrator runs the scan cycle: pull one snapshot set, fan it out to
// every strategy module, score and filter the merged signals, and dispatch
// the survivors to the executor in priority order. A failing module or a
// failing dispatch is logged and isolated; it never aborts the cycle or the
// loop.
type Orchestrator struct {
	cfg       OrchestratorConfig
	market    domain.MarketDataSource
	modules   []domain.StrategyModule
	executor  *UnifiedExecutor
	positions *position.Manager
	breaker   *CircuitBreaker
	kill      *KillSwitch
	prices    domain.PriceCache
	logger    *slog.Logger

	cycles int64
}

// NewOrchestrator wires the scan loop. prices may be nil when no shared
// cache is configured.
func NewOrchestrator(
	cfg OrchestratorConfig,
	market domain.MarketDataSource,
	modules []domain.StrategyModule,
	executor *UnifiedExecutor,
	positions *position.Manager,
	breaker *CircuitBreaker,
	kill *KillSwitch,
	prices domain.PriceCache,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		market:    market,
		modules:   modules,
		executor:  executor,
		positions: positions,
		breaker:   breaker,
		kill:      kill,
		prices:    prices,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run executes scan cycles until the context is cancelled. An in-progress
// cycle finishes before the loop returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "orchestrator started",
		slog.Duration("scan_interval", o.cfg.ScanInterval),
		slog.Int("modules", len(o.modules)),
	)
	defer o.logger.Info("orchestrator stopped")

	ticker := time.NewTicker(o.cfg.ScanInterval)
	defer ticker.Stop()

	dedupTicker := time.NewTicker(time.Minute)
	defer dedupTicker.Stop()

	o.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.RunCycle(ctx)
		case <-dedupTicker.C:
			o.executor.CleanupDedup()
		}
	}
}

// RunCycle performs one scan cycle. Exported so tests and one-shot runs can
// drive it directly.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	o.cycles++
	log := o.logger.With(slog.Int64("cycle", o.cycles))

	if o.kill != nil && o.kill.Engaged() {
		log.WarnContext(ctx, "kill switch engaged, skipping signal generation")
		return
	}
	if o.breaker != nil && !o.breaker.AllowTrading() {
		log.WarnContext(ctx, "circuit breaker active, skipping signal generation",
			slog.String("state", string(o.breaker.State())),
		)
		return
	}

	snaps, err := o.market.Snapshots(ctx)
	if err != nil {
		log.ErrorContext(ctx, "snapshot fetch failed, skipping cycle",
			slog.String("error", err.Error()),
		)
		return
	}

	o.markPrices(ctx, snaps)

	merged := o.scanModules(ctx, snaps, log)
	if len(merged) == 0 {
		log.DebugContext(ctx, "no signals this cycle", slog.Int("markets", len(snaps)))
		return
	}

	actionable := o.filter(ctx, o.score(merged), log)
	dispatched := 0
	for _, sig := range actionable {
		if _, err := o.executor.Execute(ctx, sig); err != nil {
			log.WarnContext(ctx, "dispatch failed",
				slog.String("signal_id", sig.ID),
				slog.String("strategy", sig.Strategy),
				slog.String("category", string(domain.Classify(err))),
				slog.String("error", err.Error()),
			)
			continue
		}
		dispatched++
	}

	log.InfoContext(ctx, "cycle complete",
		slog.Int("markets", len(snaps)),
		slog.Int("signals", len(merged)),
		slog.Int("actionable", len(actionable)),
		slog.Int("dispatched", dispatched),
	)
}

// markPrices pushes best bids from the snapshot set into the shared price
// cache and the position manager's unrealized marks, and feeds the breaker's
// drawdown tracker.
func (o *Orchestrator) markPrices(ctx context.Context, snaps []domain.MarketSnapshot) {
	marks := make(map[string]decimal.Decimal)
	now := time.Now().UTC()
	for _, snap := range snaps {
		for _, q := range snap.Quotes {
			if q.BestBid == nil {
				continue
			}
			marks[q.TokenID] = *q.BestBid
			if o.prices != nil {
				if err := o.prices.SetPrice(ctx, q.TokenID, q.BestBid.InexactFloat64(), now); err != nil {
					o.logger.WarnContext(ctx, "price cache update failed",
						slog.String("token", q.TokenID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
	if len(marks) > 0 {
		o.positions.UpdateUnrealized(ctx, marks)
	}
	if o.breaker != nil {
		stats := o.positions.PortfolioStats()
		o.breaker.UpdatePortfolioValue(stats.TotalCostBasis.Add(stats.TotalUnrealizedPnL))
	}
}

// scanModules invokes every module and merges their signals. A module error
// is logged and that module skipped for the cycle.
func (o *Orchestrator) scanModules(ctx context.Context, snaps []domain.MarketSnapshot, log *slog.Logger) []domain.Signal {
	var merged []domain.Signal
	for _, mod := range o.modules {
		sigs, err := mod.Scan(ctx, snaps)
		if err != nil {
			log.ErrorContext(ctx, "strategy scan failed, module skipped",
				slog.String("strategy", mod.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		merged = append(merged, sigs...)
	}
	return merged
}

// score orders signals by composite priority, highest first. Ties break
// toward the lower cost basis so cheap opportunities go out before
// capital-heavy ones.
func (o *Orchestrator) score(sigs []domain.Signal) []domain.Signal {
	priority := func(s domain.Signal) decimal.Decimal {
		urgency := decimal.NewFromInt(int64(s.Urgency))
		return o.cfg.UrgencyWeight.Mul(urgency).Add(o.cfg.EdgeWeight.Mul(s.ExpectedProfit))
	}
	sort.SliceStable(sigs, func(i, j int) bool {
		pi, pj := priority(sigs[i]), priority(sigs[j])
		if !pi.Equal(pj) {
			return pi.GreaterThan(pj)
		}
		return sigs[i].CostBasis().LessThan(sigs[j].CostBasis())
	})
	return sigs
}

// filter drops duplicates, expired signals, signals failing their own
// module's validation, and signals that would bust the position caps.
func (o *Orchestrator) filter(ctx context.Context, sigs []domain.Signal, log *slog.Logger) []domain.Signal {
	byName := make(map[string]domain.StrategyModule, len(o.modules))
	for _, mod := range o.modules {
		byName[mod.Name()] = mod
	}

	now := time.Now().UTC()
	seen := make(map[string]bool)
	projected := o.positions.OpenCount() + len(o.positions.RedeemablePositions())
	stacks := make(map[string]int)

	var out []domain.Signal
	for _, sig := range sigs {
		if sig.Expired(now) {
			continue
		}
		if sig.DedupeKey != "" && seen[sig.DedupeKey] {
			continue
		}

		legs := buyLegCount(sig)
		if o.cfg.MaxConcurrentPositions > 0 && projected+legs > o.cfg.MaxConcurrentPositions {
			log.DebugContext(ctx, "signal dropped, concurrent position cap",
				slog.String("signal_id", sig.ID),
				slog.Int("open", projected),
			)
			continue
		}
		condStacks := o.positions.OpenCountByCondition(sig.ConditionID) + stacks[sig.ConditionID]
		if o.cfg.MaxStacksPerCondition > 0 && condStacks+legs > o.cfg.MaxStacksPerCondition {
			log.DebugContext(ctx, "signal dropped, per-condition stack cap",
				slog.String("signal_id", sig.ID),
				slog.String("condition", sig.ConditionID),
			)
			continue
		}

		if mod, ok := byName[sig.Strategy]; ok {
			if accepted, reason := mod.Validate(sig); !accepted {
				log.InfoContext(ctx, "signal rejected by its module",
					slog.String("signal_id", sig.ID),
					slog.String("strategy", sig.Strategy),
					slog.String("reason", reason),
				)
				continue
			}
		}

		if sig.DedupeKey != "" {
			seen[sig.DedupeKey] = true
		}
		projected += legs
		stacks[sig.ConditionID] += legs
		out = append(out, sig)
	}
	return out
}

func buyLegCount(sig domain.Signal) int {
	n := 0
	for _, leg := range sig.Legs {
		if leg.Side == domain.OrderSideBuy {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}
