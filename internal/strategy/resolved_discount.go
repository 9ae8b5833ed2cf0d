package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
)

// ResolvedDiscountConfig tunes the resolved-winner discount strategy.
type ResolvedDiscountConfig struct {
	// MinDiscountCents is the smallest discount from $1 worth chasing.
	MinDiscountCents decimal.Decimal
	// MaxPrice skips winners already priced near $1; above it the residual
	// edge does not cover execution risk.
	MaxPrice decimal.Decimal
	// MaxOrderNotional caps capital per opportunity.
	MaxOrderNotional decimal.Decimal
	Cooldown         time.Duration
	SignalTTL        time.Duration
}

// ResolvedDiscount buys winning shares still trading below $1 in markets
// that have already resolved. The outcome is known; whatever discount the
// book still shows is risk-free minus execution.
type ResolvedDiscount struct {
	cfg    ResolvedDiscountConfig
	cool   *cooldown
	logger *slog.Logger
}

// NewResolvedDiscount returns the module.
func NewResolvedDiscount(cfg ResolvedDiscountConfig, logger *slog.Logger) *ResolvedDiscount {
	if cfg.MaxPrice.IsZero() {
		cfg.MaxPrice = decimal.RequireFromString("0.95")
	}
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = 30 * time.Second
	}
	return &ResolvedDiscount{
		cfg:    cfg,
		cool:   newCooldown(cfg.Cooldown),
		logger: logger.With(slog.String("component", "strategy_resolved_discount")),
	}
}

func (s *ResolvedDiscount) Name() string { return "resolved_discount" }

// Scan looks only at snapshots flagged resolved with a known winner. These
// windows close within minutes, so signals go out at immediate urgency.
func (s *ResolvedDiscount) Scan(ctx context.Context, snaps []domain.MarketSnapshot) ([]domain.Signal, error) {
	var signals []domain.Signal
	now := time.Now().UTC()

	for _, snap := range snaps {
		if !snap.Resolved || snap.WinningOutcome == "" {
			continue
		}

		var winner *domain.OutcomeQuote
		for i := range snap.Quotes {
			if isOutcome(snap.Quotes[i].Outcome, snap.WinningOutcome) {
				winner = &snap.Quotes[i]
				break
			}
		}
		if winner == nil || winner.BestAsk == nil {
			continue
		}

		ask := *winner.BestAsk
		discount := one.Sub(ask)
		discountCents := discount.Mul(hundred)
		if discountCents.LessThan(s.cfg.MinDiscountCents) || ask.GreaterThan(s.cfg.MaxPrice) {
			continue
		}
		if !s.cool.Allow(snap.ConditionID) {
			continue
		}

		size := sizeFor(s.cfg.MaxOrderNotional, ask)
		if !size.IsPositive() {
			continue
		}

		s.logger.WarnContext(ctx, "resolved winner trading below settlement",
			slog.String("condition", snap.ConditionID),
			slog.String("winner", snap.WinningOutcome),
			slog.String("ask", ask.String()),
			slog.String("discount_cents", discountCents.Round(2).String()),
		)

		signals = append(signals, domain.Signal{
			ID:          uuid.New().String(),
			Strategy:    s.Name(),
			ConditionID: snap.ConditionID,
			Legs: []domain.SignalLeg{{
				TokenID: winner.TokenID,
				Outcome: winner.Outcome,
				Side:    domain.OrderSideBuy,
				Price:   ask,
				Size:    size,
			}},
			ExpectedProfit: discount.Mul(size),
			Urgency:        domain.SignalUrgencyImmediate,
			Confidence:     decimal.RequireFromString("0.99"),
			DedupeKey:      domain.DedupeKeyFor(snap.ConditionID, s.Name(), domain.OrderSideBuy),
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.cfg.SignalTTL),
		})
	}
	return signals, nil
}

// Validate rejects signals whose price no longer leaves a discount.
func (s *ResolvedDiscount) Validate(sig domain.Signal) (bool, string) {
	if len(sig.Legs) != 1 {
		return false, fmt.Sprintf("expected 1 leg, got %d", len(sig.Legs))
	}
	leg := sig.Legs[0]
	if leg.Side != domain.OrderSideBuy {
		return false, "must be a buy"
	}
	if leg.Price.GreaterThanOrEqual(one) {
		return false, "no discount left"
	}
	if leg.Price.GreaterThan(s.cfg.MaxPrice) {
		return false, "price above maximum"
	}
	return true, ""
}
