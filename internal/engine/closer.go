package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
	"github.com/openpredict/tradebot/internal/position"
)

var (
	oneDollar = decimal.NewFromInt(1)
	hundred   = decimal.NewFromInt(100)
)

// CloserConfig holds the exit rules, checked in order: stop loss, profit
// target, max age. A zero threshold disables that rule.
type CloserConfig struct {
	Interval time.Duration
	// StopLossPct closes when return on cost basis falls to or below
	// -StopLossPct percent.
	StopLossPct decimal.Decimal
	// ProfitTargetPct closes when return on cost basis reaches
	// ProfitTargetPct percent.
	ProfitTargetPct decimal.Decimal
	// MaxPositionAge force-closes positions held longer than this. For
	// grouped strategies it applies to the whole group at once.
	MaxPositionAge time.Duration
	// GroupedStrategies lists strategy tags whose legs are exempt from
	// per-position exit rules and only leave via resolution or group age.
	GroupedStrategies []string
}

// CloserStats counts exits for the periodic summary.
type CloserStats struct {
	Closes             int             `json:"closes"`
	Redemptions        int             `json:"redemptions"`
	StopLossCloses     int             `json:"stop_loss_closes"`
	ProfitTargetCloses int             `json:"profit_target_closes"`
	TimeBasedCloses    int             `json:"time_based_closes"`
	FailedAttempts     int             `json:"failed_attempts"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
}

// PositionCloser runs the exit side on its own cadence. Redemptions come
// first in every run since they recover capital risk-free; only then are
// open positions checked against the exit rules. Every close goes through
// the venue first and only a confirmed full fill mutates the ledger, so a
// failed attempt leaves the position untouched for the next run.
type PositionCloser struct {
	cfg       CloserConfig
	venue     domain.TradingVenue
	positions *position.Manager
	breaker   *CircuitBreaker
	prices    domain.PriceCache
	grouped   map[string]bool
	logger    *slog.Logger

	statsMu sync.Mutex
	stats   CloserStats
}

// NewPositionCloser wires the close loop. prices and breaker may be nil.
func NewPositionCloser(
	cfg CloserConfig,
	venue domain.TradingVenue,
	positions *position.Manager,
	breaker *CircuitBreaker,
	prices domain.PriceCache,
	logger *slog.Logger,
) *PositionCloser {
	grouped := make(map[string]bool, len(cfg.GroupedStrategies))
	for _, s := range cfg.GroupedStrategies {
		grouped[s] = true
	}
	return &PositionCloser{
		cfg:       cfg,
		venue:     venue,
		positions: positions,
		breaker:   breaker,
		prices:    prices,
		grouped:   grouped,
		logger:    logger.With(slog.String("component", "position_closer")),
		stats:     CloserStats{TotalRealizedPnL: decimal.Zero},
	}
}

// Run executes close cycles until the context is cancelled. An in-progress
// run finishes before the loop returns.
func (c *PositionCloser) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "position closer started",
		slog.Duration("interval", c.cfg.Interval),
	)
	defer c.logger.Info("position closer stopped")

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs one close cycle: redemptions, exit rules, group age.
func (c *PositionCloser) RunOnce(ctx context.Context) {
	for _, pos := range c.positions.RedeemablePositions() {
		c.redeem(ctx, pos)
	}

	marks := c.currentMarks(ctx)
	if len(marks) > 0 {
		c.positions.UpdateUnrealized(ctx, marks)
	}

	now := time.Now().UTC()
	open := c.positions.OpenPositions()
	for _, pos := range open {
		if c.grouped[pos.Strategy] {
			continue
		}
		reason, ok := c.shouldClose(pos, marks, now)
		if !ok {
			continue
		}
		exitPrice, haveMark := marks[pos.TokenID]
		if !haveMark {
			// Age exit without a mark falls back to entry price.
			exitPrice = pos.EntryPrice
		}
		c.close(ctx, pos, exitPrice, reason)
	}

	if c.cfg.MaxPositionAge > 0 {
		c.closeAgedGroups(ctx, open, marks, now)
	}
}

// redeem settles one REDEEMABLE position at $1.00 per share through the
// venue. The ledger is only touched after the venue confirms settlement.
func (c *PositionCloser) redeem(ctx context.Context, pos domain.Position) {
	settle, err := c.venue.Redeem(ctx, pos)
	if err != nil {
		c.recordFailure()
		c.logger.WarnContext(ctx, "redemption failed, will retry",
			slog.Int64("position_id", pos.ID),
			slog.String("category", string(domain.Classify(err))),
			slog.String("error", err.Error()),
		)
		return
	}

	closed, err := c.positions.ClosePosition(ctx, pos.ID, oneDollar, settle.TxID)
	if err != nil {
		c.logger.ErrorContext(ctx, "ledger close after redemption failed",
			slog.Int64("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.statsMu.Lock()
	c.stats.Redemptions++
	c.stats.TotalRealizedPnL = c.stats.TotalRealizedPnL.Add(closed.RealizedPnL)
	c.statsMu.Unlock()
	if c.breaker != nil {
		c.breaker.RecordTradeResult(closed.RealizedPnL)
	}

	c.logger.InfoContext(ctx, "position redeemed",
		slog.Int64("position_id", pos.ID),
		slog.String("strategy", pos.Strategy),
		slog.String("quantity", pos.Quantity.String()),
		slog.String("realized_pnl", closed.RealizedPnL.String()),
		slog.String("tx", settle.TxID),
	)
}

// shouldClose evaluates the exit rules in their fixed order and returns the
// first matching rule's name.
func (c *PositionCloser) shouldClose(pos domain.Position, marks map[string]decimal.Decimal, now time.Time) (string, bool) {
	aged := c.cfg.MaxPositionAge > 0 && pos.Age(now) > c.cfg.MaxPositionAge

	mark, ok := marks[pos.TokenID]
	if !ok {
		// Without a mark only the age rule can fire.
		if aged {
			return "max_age", true
		}
		return "", false
	}

	costBasis := pos.CostBasis()
	if !costBasis.IsPositive() {
		return "", false
	}
	returnPct := mark.Sub(pos.EntryPrice).Mul(pos.Quantity).Div(costBasis).Mul(hundred)

	if c.cfg.StopLossPct.IsPositive() && returnPct.LessThanOrEqual(c.cfg.StopLossPct.Neg()) {
		return "stop_loss", true
	}
	if c.cfg.ProfitTargetPct.IsPositive() && returnPct.GreaterThanOrEqual(c.cfg.ProfitTargetPct) {
		return "profit_target", true
	}
	if aged {
		return "max_age", true
	}
	return "", false
}

// close sells the full position fill-or-kill and books the close only on a
// confirmed full fill.
func (c *PositionCloser) close(ctx context.Context, pos domain.Position, price decimal.Decimal, reason string) {
	log := c.logger.With(
		slog.Int64("position_id", pos.ID),
		slog.String("strategy", pos.Strategy),
		slog.String("reason", reason),
	)

	req := domain.OrderRequest{
		ClientID: fmt.Sprintf("close-%d-%d", pos.ID, time.Now().UnixNano()),
		TokenID:  pos.TokenID,
		Side:     domain.OrderSideSell,
		Price:    price,
		Quantity: pos.Quantity,
		Type:     domain.OrderTypeFOK,
	}
	fill, err := c.venue.SubmitOrder(ctx, req)
	if err == nil && !fill.Filled(req.Quantity) {
		err = &domain.VenueRejection{
			Code:    domain.VenueErrRejected,
			Message: fmt.Sprintf("close filled %s of %s", fill.FilledSize, req.Quantity),
		}
	}
	if err != nil {
		c.recordFailure()
		log.WarnContext(ctx, "close attempt failed, position unchanged",
			slog.String("category", string(domain.Classify(err))),
			slog.String("error", err.Error()),
		)
		return
	}

	closed, err := c.positions.ClosePosition(ctx, pos.ID, fill.FillPrice, fill.OrderID)
	if err != nil {
		log.ErrorContext(ctx, "ledger close failed", slog.String("error", err.Error()))
		return
	}

	c.statsMu.Lock()
	c.stats.Closes++
	switch reason {
	case "stop_loss":
		c.stats.StopLossCloses++
	case "profit_target":
		c.stats.ProfitTargetCloses++
	case "max_age", "group_max_age":
		c.stats.TimeBasedCloses++
	}
	c.stats.TotalRealizedPnL = c.stats.TotalRealizedPnL.Add(closed.RealizedPnL)
	c.statsMu.Unlock()
	if c.breaker != nil {
		c.breaker.RecordTradeResult(closed.RealizedPnL)
	}

	log.InfoContext(ctx, "position closed",
		slog.String("exit_price", fill.FillPrice.String()),
		slog.String("realized_pnl", closed.RealizedPnL.String()),
	)
}

// closeAgedGroups force-closes whole grouped-strategy sets once their oldest
// leg exceeds the max age. Grouped legs normally leave only through
// resolution; without this valve a missed resolution would lock up capital
// indefinitely.
func (c *PositionCloser) closeAgedGroups(ctx context.Context, open []domain.Position, marks map[string]decimal.Decimal, now time.Time) {
	groups := make(map[string][]domain.Position)
	for _, pos := range open {
		if c.grouped[pos.Strategy] {
			groups[pos.ConditionID] = append(groups[pos.ConditionID], pos)
		}
	}

	for conditionID, legs := range groups {
		oldest := time.Duration(0)
		for _, pos := range legs {
			if age := pos.Age(now); age > oldest {
				oldest = age
			}
		}
		if oldest <= c.cfg.MaxPositionAge {
			continue
		}

		c.logger.WarnContext(ctx, "group age exit, force-closing all legs",
			slog.String("condition", conditionID),
			slog.Int("legs", len(legs)),
			slog.Duration("oldest", oldest),
		)
		for _, pos := range legs {
			exitPrice, ok := marks[pos.TokenID]
			if !ok {
				exitPrice = pos.EntryPrice
			}
			c.close(ctx, pos, exitPrice, "group_max_age")
		}
	}
}

// currentMarks pulls the latest marks for every open token from the shared
// price cache. Missing entries stay unknown.
func (c *PositionCloser) currentMarks(ctx context.Context) map[string]decimal.Decimal {
	if c.prices == nil {
		return nil
	}

	tokenSet := make(map[string]bool)
	for _, pos := range c.positions.OpenPositions() {
		tokenSet[pos.TokenID] = true
	}
	if len(tokenSet) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(tokenSet))
	for t := range tokenSet {
		tokens = append(tokens, t)
	}

	raw, err := c.prices.GetPrices(ctx, tokens)
	if err != nil {
		c.logger.WarnContext(ctx, "price cache read failed",
			slog.String("error", err.Error()),
		)
		return nil
	}
	marks := make(map[string]decimal.Decimal, len(raw))
	for token, price := range raw {
		marks[token] = decimal.NewFromFloat(price)
	}
	return marks
}

func (c *PositionCloser) recordFailure() {
	c.statsMu.Lock()
	c.stats.FailedAttempts++
	c.statsMu.Unlock()
}

// Stats returns a copy of the closer's counters.
func (c *PositionCloser) Stats() CloserStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}
