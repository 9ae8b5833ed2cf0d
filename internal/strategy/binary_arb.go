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

// BinaryArbConfig tunes the YES+NO hedge arbitrage.
type BinaryArbConfig struct {
	// MinEdgeCents is the smallest post-fee edge worth trading, in cents
	// per share pair.
	MinEdgeCents decimal.Decimal
	// MaxOrderNotional caps capital per opportunity, fees included.
	MaxOrderNotional decimal.Decimal
	// TakerFeeRate is used when a snapshot carries no fee schedule.
	TakerFeeRate decimal.Decimal
	// Cooldown suppresses re-signalling one condition within the window.
	Cooldown time.Duration
	// SignalTTL bounds how long an emitted signal stays executable.
	SignalTTL time.Duration
}

// BinaryArb buys YES and NO together when their combined best asks price the
// pair below $1 after fees. The pair settles at exactly $1 whichever way the
// market resolves, so a filled pair locks the edge in.
type BinaryArb struct {
	cfg    BinaryArbConfig
	cool   *cooldown
	logger *slog.Logger
}

// NewBinaryArb returns the module. Its positions are standard (per-token
// marked); the two legs hedge each other but settle per token.
func NewBinaryArb(cfg BinaryArbConfig, logger *slog.Logger) *BinaryArb {
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = 30 * time.Second
	}
	return &BinaryArb{
		cfg:    cfg,
		cool:   newCooldown(cfg.Cooldown),
		logger: logger.With(slog.String("component", "strategy_binary_arb")),
	}
}

func (s *BinaryArb) Name() string { return "binary_arb" }

// Scan emits one two-leg signal per binary market whose ask pair is cheap
// enough. Markets without executable top-of-book asks on both sides are
// skipped; the edge must be computed from real quotes, never midpoints.
func (s *BinaryArb) Scan(ctx context.Context, snaps []domain.MarketSnapshot) ([]domain.Signal, error) {
	var signals []domain.Signal
	now := time.Now().UTC()

	for _, snap := range snaps {
		if snap.Resolved || len(snap.Quotes) != 2 {
			continue
		}

		var yes, no *domain.OutcomeQuote
		for i := range snap.Quotes {
			q := &snap.Quotes[i]
			switch {
			case isOutcome(q.Outcome, "yes"):
				yes = q
			case isOutcome(q.Outcome, "no"):
				no = q
			}
		}
		if yes == nil || no == nil || yes.BestAsk == nil || no.BestAsk == nil {
			continue
		}
		if !s.cool.Allow(snap.ConditionID) {
			continue
		}

		yesAsk, noAsk := *yes.BestAsk, *no.BestAsk
		rate := feeRate(snap, s.cfg.TakerFeeRate)
		totalCost := yesAsk.Add(noAsk)
		fees := takerFee(rate, yesAsk).Add(takerFee(rate, noAsk))
		edge := one.Sub(totalCost).Sub(fees)
		edgeCents := edge.Mul(hundred)
		if edgeCents.LessThan(s.cfg.MinEdgeCents) {
			continue
		}

		costPerPair := totalCost.Mul(one.Add(rate))
		size := sizeFor(s.cfg.MaxOrderNotional, costPerPair)
		if !size.IsPositive() {
			continue
		}

		s.logger.InfoContext(ctx, "hedge pair opportunity",
			slog.String("condition", snap.ConditionID),
			slog.String("edge_cents", edgeCents.Round(2).String()),
			slog.String("size", size.String()),
		)

		signals = append(signals, domain.Signal{
			ID:          uuid.New().String(),
			Strategy:    s.Name(),
			ConditionID: snap.ConditionID,
			Legs: []domain.SignalLeg{
				{TokenID: yes.TokenID, Outcome: yes.Outcome, Side: domain.OrderSideBuy, Price: yesAsk, Size: size},
				{TokenID: no.TokenID, Outcome: no.Outcome, Side: domain.OrderSideBuy, Price: noAsk, Size: size},
			},
			ExpectedProfit: edge.Mul(size),
			Urgency:        domain.SignalUrgencyHigh,
			Confidence:     decimal.RequireFromString("0.95"),
			DedupeKey:      domain.DedupeKeyFor(snap.ConditionID, s.Name(), domain.OrderSideBuy),
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.cfg.SignalTTL),
		})
	}
	return signals, nil
}

// Validate re-checks the edge at dispatch time; the book can move between
// scan and execution.
func (s *BinaryArb) Validate(sig domain.Signal) (bool, string) {
	if len(sig.Legs) != 2 {
		return false, fmt.Sprintf("expected 2 legs, got %d", len(sig.Legs))
	}
	if sig.Legs[0].Side != domain.OrderSideBuy || sig.Legs[1].Side != domain.OrderSideBuy {
		return false, "both legs must be buys"
	}
	if !sig.Legs[0].Size.Equal(sig.Legs[1].Size) {
		return false, "leg sizes must match"
	}

	p0, p1 := sig.Legs[0].Price, sig.Legs[1].Price
	fees := takerFee(s.cfg.TakerFeeRate, p0).Add(takerFee(s.cfg.TakerFeeRate, p1))
	if p0.Add(p1).Add(fees).GreaterThanOrEqual(one) {
		return false, "edge disappeared"
	}
	return true, ""
}
