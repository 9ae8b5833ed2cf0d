package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
	"github.com/openpredict/tradebot/internal/position"
)

// ExecutorConfig holds the executor's hard risk caps and venue precision.
type ExecutorConfig struct {
	// MaxOrderNotional rejects any single leg whose price*quantity exceeds
	// this cap. Checked locally, before the venue is called.
	MaxOrderNotional decimal.Decimal
	// MinOrderNotional rejects dust legs the venue would bounce anyway.
	MinOrderNotional decimal.Decimal
	// QuantityDecimals is the venue's supported quantity precision.
	// Quantities are truncated down to it, never rounded up.
	QuantityDecimals int32
	// PriceDecimals is the venue's tick precision.
	PriceDecimals int32
	// DedupeTTL bounds how long executed dedupe keys are remembered.
	DedupeTTL time.Duration
}

// LegFill pairs a signal leg with the fill the venue reported for it.
type LegFill struct {
	Leg  domain.SignalLeg
	Fill domain.FillResult
}

// ExecutionResult is the executor's answer for one signal.
type ExecutionResult struct {
	SignalID    string
	Success     bool
	Reason      string
	Category    domain.ErrorCategory
	Fills       []LegFill
	PositionIDs []int64
}

// ExecutorStats counts outcomes for the periodic summary.
type ExecutorStats struct {
	Executions int            `json:"executions"`
	Successes  int            `json:"successes"`
	Failures   int            `json:"failures"`
	ByCategory map[string]int `json:"by_category"`
}

// UnifiedExecutor turns signals into venue orders and open positions. Paper
// and live trading share this one code path; the difference lives entirely
// behind the TradingVenue implementation, so fills, risk caps, quantization,
// and position opening behave identically in both modes.
type UnifiedExecutor struct {
	venue     domain.TradingVenue
	positions *position.Manager
	kill      *KillSwitch
	dedup     *Dedup
	cfg       ExecutorConfig
	logger    *slog.Logger

	statsMu sync.Mutex
	stats   ExecutorStats
}

// NewUnifiedExecutor wires the executor to its venue and position manager.
func NewUnifiedExecutor(
	venue domain.TradingVenue,
	positions *position.Manager,
	kill *KillSwitch,
	cfg ExecutorConfig,
	logger *slog.Logger,
) *UnifiedExecutor {
	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &UnifiedExecutor{
		venue:     venue,
		positions: positions,
		kill:      kill,
		dedup:     NewDedup(ttl),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "executor")),
		stats:     ExecutorStats{ByCategory: make(map[string]int)},
	}
}

// Execute runs one signal through the full pipeline: kill switch, expiry,
// idempotency, risk caps, quantization, venue submission, position opening.
// Multi-leg signals go out fill-or-kill; single legs immediate-or-cancel.
// The returned error carries the typed failure; the ExecutionResult always
// describes what happened.
func (e *UnifiedExecutor) Execute(ctx context.Context, sig domain.Signal) (ExecutionResult, error) {
	res := ExecutionResult{SignalID: sig.ID}
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("strategy", sig.Strategy),
		slog.String("condition", sig.ConditionID),
	)

	if e.kill != nil && e.kill.Engaged() {
		err := &domain.RiskLimitError{Limit: "kill_switch", Detail: "kill switch engaged, new entries forbidden"}
		return e.fail(ctx, res, "kill_switch_engaged", err, log)
	}

	if sig.Expired(time.Now().UTC()) {
		err := &domain.ValidationError{Strategy: sig.Strategy, Reason: "signal expired before execution"}
		return e.fail(ctx, res, "signal_expired", err, log)
	}

	if sig.DedupeKey != "" && e.dedup.Seen(sig.DedupeKey) {
		log.DebugContext(ctx, "duplicate signal, already executed",
			slog.String("dedupe_key", sig.DedupeKey),
		)
		res.Reason = "duplicate_signal"
		return res, nil
	}

	orders, err := e.buildOrders(sig)
	if err != nil {
		return e.fail(ctx, res, "risk_check_failed", err, log)
	}

	// Submit every leg. FOK semantics make a partial group impossible at
	// the venue for a given leg, but a later leg can still fail after an
	// earlier one filled; filled legs are real holdings and are recorded.
	for i, req := range orders {
		fill, submitErr := e.venue.SubmitOrder(ctx, req)
		if submitErr == nil && !fill.Filled(req.Quantity) {
			submitErr = &domain.VenueRejection{
				Code:    domain.VenueErrRejected,
				Message: fmt.Sprintf("order %s filled %s of %s", fill.OrderID, fill.FilledSize, req.Quantity),
			}
		}
		if submitErr != nil {
			log.WarnContext(ctx, "leg submission failed",
				slog.Int("leg", i),
				slog.String("token", req.TokenID),
				slog.String("error", submitErr.Error()),
			)
			e.openFilled(ctx, sig, &res, log)
			return e.fail(ctx, res, "leg_failed", fmt.Errorf("engine: submit leg %d: %w", i, submitErr), log)
		}
		res.Fills = append(res.Fills, LegFill{Leg: sig.Legs[i], Fill: fill})
	}

	e.openFilled(ctx, sig, &res, log)
	if sig.DedupeKey != "" {
		e.dedup.Mark(sig.DedupeKey)
	}

	res.Success = true
	res.Reason = "executed"
	e.record(domain.ErrCategoryNone, true)
	log.InfoContext(ctx, "signal executed",
		slog.Int("legs", len(res.Fills)),
		slog.String("expected_profit", sig.ExpectedProfit.String()),
		slog.Any("position_ids", res.PositionIDs),
	)
	return res, nil
}

// buildOrders validates caps and quantizes each leg into an OrderRequest.
func (e *UnifiedExecutor) buildOrders(sig domain.Signal) ([]domain.OrderRequest, error) {
	if len(sig.Legs) == 0 {
		return nil, &domain.ValidationError{Strategy: sig.Strategy, Reason: "signal has no legs"}
	}

	orderType := domain.OrderTypeIOC
	if len(sig.Legs) > 1 {
		orderType = domain.OrderTypeFOK
	}

	orders := make([]domain.OrderRequest, 0, len(sig.Legs))
	for i, leg := range sig.Legs {
		qty := leg.Size.Truncate(e.cfg.QuantityDecimals)
		price := leg.Price.Truncate(e.cfg.PriceDecimals)
		if !qty.IsPositive() {
			return nil, &domain.ValidationError{
				Strategy: sig.Strategy,
				Reason:   fmt.Sprintf("leg %d quantity %s truncates to zero", i, leg.Size),
			}
		}

		notional := price.Mul(qty)
		if e.cfg.MinOrderNotional.IsPositive() && notional.LessThan(e.cfg.MinOrderNotional) {
			return nil, &domain.RiskLimitError{
				Limit:  "min_order_notional",
				Detail: fmt.Sprintf("leg %d notional %s below minimum %s", i, notional, e.cfg.MinOrderNotional),
			}
		}
		if e.cfg.MaxOrderNotional.IsPositive() && notional.GreaterThan(e.cfg.MaxOrderNotional) {
			return nil, &domain.RiskLimitError{
				Limit:  "max_order_notional",
				Detail: fmt.Sprintf("leg %d notional %s exceeds maximum %s", i, notional, e.cfg.MaxOrderNotional),
			}
		}

		orders = append(orders, domain.OrderRequest{
			ClientID: uuid.New().String(),
			TokenID:  leg.TokenID,
			Side:     leg.Side,
			Price:    price,
			Quantity: qty,
			Type:     orderType,
		})
	}
	return orders, nil
}

// openFilled opens a position for every buy-side fill collected so far.
func (e *UnifiedExecutor) openFilled(ctx context.Context, sig domain.Signal, res *ExecutionResult, log *slog.Logger) {
	for _, lf := range res.Fills {
		if lf.Leg.Side != domain.OrderSideBuy {
			continue
		}
		pos, err := e.positions.OpenPosition(ctx, position.OpenParams{
			ConditionID:  sig.ConditionID,
			TokenID:      lf.Leg.TokenID,
			Outcome:      lf.Leg.Outcome,
			Strategy:     sig.Strategy,
			EntryPrice:   lf.Fill.FillPrice,
			Quantity:     lf.Fill.FilledSize,
			EntryOrderID: lf.Fill.OrderID,
		})
		if err != nil {
			log.ErrorContext(ctx, "open position failed after fill",
				slog.String("token", lf.Leg.TokenID),
				slog.String("order_id", lf.Fill.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.PositionIDs = append(res.PositionIDs, pos.ID)
	}
}

func (e *UnifiedExecutor) fail(ctx context.Context, res ExecutionResult, reason string, err error, log *slog.Logger) (ExecutionResult, error) {
	res.Success = false
	res.Reason = reason
	res.Category = domain.Classify(err)
	e.record(res.Category, false)
	log.WarnContext(ctx, "execution failed",
		slog.String("reason", reason),
		slog.String("category", string(res.Category)),
		slog.String("error", err.Error()),
	)
	return res, err
}

func (e *UnifiedExecutor) record(cat domain.ErrorCategory, success bool) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Executions++
	if success {
		e.stats.Successes++
	} else {
		e.stats.Failures++
		e.stats.ByCategory[string(cat)]++
	}
}

// Stats returns a copy of the executor's counters.
func (e *UnifiedExecutor) Stats() ExecutorStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s := e.stats
	s.ByCategory = make(map[string]int, len(e.stats.ByCategory))
	for k, v := range e.stats.ByCategory {
		s.ByCategory[k] = v
	}
	return s
}

// CleanupDedup drops expired idempotency keys. The orchestrator calls it on
// a slow ticker.
func (e *UnifiedExecutor) CleanupDedup() {
	e.dedup.Cleanup()
}
