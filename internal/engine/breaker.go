package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// BreakerState is the circuit breaker's operating mode.
type BreakerState string

const (
	BreakerArmed    BreakerState = "armed"
	BreakerTripped  BreakerState = "tripped"
	BreakerCooldown BreakerState = "cooldown"
)

// BreakerConfig holds the trip thresholds.
type BreakerConfig struct {
	// MaxDailyLoss trips the breaker once realized P&L for the UTC day
	// reaches -MaxDailyLoss.
	MaxDailyLoss decimal.Decimal
	// MaxDrawdownPct trips on a percentage drop from the portfolio peak.
	// Zero disables drawdown tracking.
	MaxDrawdownPct decimal.Decimal
	// MaxConsecutiveLosses trips after this many losing closes in a row.
	MaxConsecutiveLosses int
	// Cooldown is how long the breaker stays off after tripping before it
	// re-arms on its own. Zero means only a manual Reset re-arms it.
	Cooldown time.Duration
}

// BreakerStats is a snapshot of the breaker's counters.
type BreakerStats struct {
	State              BreakerState    `json:"state"`
	DailyPnL           decimal.Decimal `json:"daily_pnl"`
	PeakPortfolioValue decimal.Decimal `json:"peak_portfolio_value"`
	PortfolioValue     decimal.Decimal `json:"portfolio_value"`
	ConsecutiveLosses  int             `json:"consecutive_losses"`
	TotalTrips         int             `json:"total_trips"`
	LastTripReason     string          `json:"last_trip_reason,omitempty"`
	LastTripTime       time.Time       `json:"last_trip_time,omitzero"`
}

// CircuitBreaker halts new entries when realized losses breach configured
// limits. It is constructed once and shared by reference between the
// orchestrator and the executor. Daily counters roll over at UTC midnight.
type CircuitBreaker struct {
	cfg    BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	stats    BreakerStats
	dayStart time.Time
}

// NewCircuitBreaker returns an armed breaker.
func NewCircuitBreaker(cfg BreakerConfig, logger *slog.Logger) *CircuitBreaker {
	b := &CircuitBreaker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "circuit_breaker")),
		now:    time.Now,
		state:  BreakerArmed,
	}
	b.stats.State = BreakerArmed
	b.dayStart = startOfDay(b.now())
	return b
}

// AllowTrading reports whether new entries may be dispatched. It also drives
// the day rollover and cooldown expiry, so callers should treat it as the
// single gate rather than caching the result.
func (b *CircuitBreaker) AllowTrading() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetDailyLocked()
	b.maybeExitCooldownLocked()
	return b.state == BreakerArmed
}

// RecordTradeResult feeds one completed close's realized P&L into the
// breaker and checks thresholds.
func (b *CircuitBreaker) RecordTradeResult(pnl decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetDailyLocked()

	b.stats.DailyPnL = b.stats.DailyPnL.Add(pnl)
	if pnl.IsNegative() {
		b.stats.ConsecutiveLosses++
	} else {
		b.stats.ConsecutiveLosses = 0
	}
	b.checkThresholdsLocked()
}

// UpdatePortfolioValue records the current portfolio value for drawdown
// tracking.
func (b *CircuitBreaker) UpdatePortfolioValue(value decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if value.GreaterThan(b.stats.PeakPortfolioValue) {
		b.stats.PeakPortfolioValue = value
	}
	b.stats.PortfolioValue = value
	b.checkThresholdsLocked()
}

// ForceTrip trips the breaker manually.
func (b *CircuitBreaker) ForceTrip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked(reason)
}

// Reset re-arms the breaker and clears the consecutive-loss counter. The
// daily P&L accumulator is kept; only the UTC day rollover clears it.
func (b *CircuitBreaker) Reset(ctx context.Context) {
	b.mu.Lock()
	b.state = BreakerArmed
	b.stats.State = BreakerArmed
	b.stats.ConsecutiveLosses = 0
	b.mu.Unlock()
	b.logger.InfoContext(ctx, "circuit breaker manually re-armed")
}

// State returns the current operating mode.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a copy of the breaker's counters.
func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.State = b.state
	return s
}

func (b *CircuitBreaker) checkThresholdsLocked() {
	if b.state != BreakerArmed {
		return
	}

	if b.cfg.MaxDailyLoss.IsPositive() && b.stats.DailyPnL.LessThanOrEqual(b.cfg.MaxDailyLoss.Neg()) {
		b.tripLocked(fmt.Sprintf("daily_loss_limit (daily_pnl=%s <= -%s)",
			b.stats.DailyPnL, b.cfg.MaxDailyLoss))
		return
	}

	if b.cfg.MaxDrawdownPct.IsPositive() && b.stats.PeakPortfolioValue.IsPositive() {
		drawdown := b.stats.PeakPortfolioValue.Sub(b.stats.PortfolioValue).
			Div(b.stats.PeakPortfolioValue).Mul(decimal.NewFromInt(100))
		if drawdown.GreaterThanOrEqual(b.cfg.MaxDrawdownPct) {
			b.tripLocked(fmt.Sprintf("max_drawdown (%s%% >= %s%%)",
				drawdown.Round(1), b.cfg.MaxDrawdownPct))
			return
		}
	}

	if b.cfg.MaxConsecutiveLosses > 0 && b.stats.ConsecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		b.tripLocked(fmt.Sprintf("consecutive_losses (%d >= %d)",
			b.stats.ConsecutiveLosses, b.cfg.MaxConsecutiveLosses))
	}
}

func (b *CircuitBreaker) tripLocked(reason string) {
	b.state = BreakerTripped
	b.stats.State = BreakerTripped
	b.stats.TotalTrips++
	b.stats.LastTripReason = reason
	b.stats.LastTripTime = b.now()
	b.logger.Error("circuit breaker tripped, trading halted",
		slog.String("reason", reason),
		slog.Duration("cooldown", b.cfg.Cooldown),
	)
}

func (b *CircuitBreaker) maybeExitCooldownLocked() {
	if b.state == BreakerTripped {
		if b.cfg.Cooldown <= 0 {
			return
		}
		b.state = BreakerCooldown
		b.stats.State = BreakerCooldown
	}
	if b.state != BreakerCooldown {
		return
	}
	if b.now().Sub(b.stats.LastTripTime) >= b.cfg.Cooldown {
		b.state = BreakerArmed
		b.stats.State = BreakerArmed
		b.stats.ConsecutiveLosses = 0
		b.logger.Info("circuit breaker cooldown expired, trading re-enabled",
			slog.String("was_tripped_for", b.stats.LastTripReason),
		)
	}
}

func (b *CircuitBreaker) maybeResetDailyLocked() {
	day := startOfDay(b.now())
	if day.After(b.dayStart) {
		b.stats.DailyPnL = decimal.Zero
		b.dayStart = day
		b.logger.Info("circuit breaker daily counters reset")
	}
}

func startOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// KillSwitch is a process-wide flag that forbids new position entries while
// leaving resolution handling and position closing untouched. It is toggled
// externally (config, OS signal) and consulted at the start of every scan
// cycle and before every order submission.
type KillSwitch struct {
	engaged atomic.Bool
	logger  *slog.Logger
}

// NewKillSwitch returns a switch in the given initial state.
func NewKillSwitch(engaged bool, logger *slog.Logger) *KillSwitch {
	k := &KillSwitch{logger: logger.With(slog.String("component", "kill_switch"))}
	k.engaged.Store(engaged)
	return k
}

// Engaged reports whether new entries are forbidden.
func (k *KillSwitch) Engaged() bool {
	return k.engaged.Load()
}

// Engage forbids new entries. Closing and redemption keep running.
func (k *KillSwitch) Engage(ctx context.Context) {
	if k.engaged.CompareAndSwap(false, true) {
		k.logger.WarnContext(ctx, "kill switch engaged, new entries forbidden")
	}
}

// Release re-enables new entries.
func (k *KillSwitch) Release(ctx context.Context) {
	if k.engaged.CompareAndSwap(true, false) {
		k.logger.InfoContext(ctx, "kill switch released")
	}
}
