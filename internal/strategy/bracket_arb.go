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

// A group needs at least this many brackets to be a real mutually-exclusive
// set; smaller groups are usually correlated sub-markets instead.
const minBrackets = 3

// The group is only exhaustive when the bracket midpoints sum close to $1;
// a sum far below means brackets are missing and buying "all" of them does
// not guarantee a winner.
var (
	sumMidMin = decimal.RequireFromString("0.90")
	sumMidMax = decimal.RequireFromString("1.10")
)

// BracketArbConfig tunes the multi-outcome group arbitrage.
type BracketArbConfig struct {
	MinEdgeCents     decimal.Decimal
	MaxOrderNotional decimal.Decimal
	TakerFeeRate     decimal.Decimal
	Cooldown         time.Duration
	SignalTTL        time.Duration
}

// BracketArb buys one share of every bracket in a multi-outcome group when
// the asks sum below $1 after fees. Exactly one bracket settles at $1, so a
// fully filled group locks the edge. Its positions are grouped: the legs are
// valued as a set and only exit together.
type BracketArb struct {
	cfg    BracketArbConfig
	cool   *cooldown
	logger *slog.Logger
}

// NewBracketArb returns the module.
func NewBracketArb(cfg BracketArbConfig, logger *slog.Logger) *BracketArb {
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = 30 * time.Second
	}
	return &BracketArb{
		cfg:    cfg,
		cool:   newCooldown(cfg.Cooldown),
		logger: logger.With(slog.String("component", "strategy_bracket_arb")),
	}
}

func (s *BracketArb) Name() string { return "bracket_arb" }

// Scan groups snapshots by their shared group id and evaluates each group as
// one opportunity. The emitted signal uses the group id as its condition id
// so all legs stack, value, and exit as one unit.
func (s *BracketArb) Scan(ctx context.Context, snaps []domain.MarketSnapshot) ([]domain.Signal, error) {
	groups := make(map[string][]domain.MarketSnapshot)
	for _, snap := range snaps {
		if snap.GroupID == "" || snap.Resolved {
			continue
		}
		groups[snap.GroupID] = append(groups[snap.GroupID], snap)
	}

	var signals []domain.Signal
	now := time.Now().UTC()

	for groupID, brackets := range groups {
		if len(brackets) < minBrackets {
			continue
		}

		sumAsk := decimal.Zero
		sumMid := decimal.Zero
		legs := make([]domain.SignalLeg, 0, len(brackets))
		complete := true
		for _, bracket := range brackets {
			q := yesQuote(bracket)
			if q == nil || q.BestAsk == nil {
				complete = false
				break
			}
			sumAsk = sumAsk.Add(*q.BestAsk)
			sumMid = sumMid.Add(midOrAsk(q))
			legs = append(legs, domain.SignalLeg{
				TokenID: q.TokenID,
				Outcome: bracket.Question,
				Side:    domain.OrderSideBuy,
				Price:   *q.BestAsk,
			})
		}
		if !complete {
			continue
		}
		if sumMid.LessThan(sumMidMin) || sumMid.GreaterThan(sumMidMax) {
			s.logger.DebugContext(ctx, "group skipped, likely non-exhaustive",
				slog.String("group", groupID),
				slog.String("sum_mid", sumMid.Round(4).String()),
			)
			continue
		}

		fees := sumAsk.Mul(s.cfg.TakerFeeRate)
		edge := one.Sub(sumAsk).Sub(fees)
		edgeCents := edge.Mul(hundred)
		if edgeCents.LessThan(s.cfg.MinEdgeCents) {
			continue
		}
		if !s.cool.Allow(groupID) {
			continue
		}

		size := sizeFor(s.cfg.MaxOrderNotional, sumAsk)
		if !size.IsPositive() {
			continue
		}
		for i := range legs {
			legs[i].Size = size
		}

		s.logger.InfoContext(ctx, "bracket group opportunity",
			slog.String("group", groupID),
			slog.Int("brackets", len(brackets)),
			slog.String("sum_ask", sumAsk.Round(4).String()),
			slog.String("edge_cents", edgeCents.Round(2).String()),
		)

		signals = append(signals, domain.Signal{
			ID:             uuid.New().String(),
			Strategy:       s.Name(),
			ConditionID:    groupID,
			Legs:           legs,
			ExpectedProfit: edge.Mul(size),
			Urgency:        domain.SignalUrgencyHigh,
			Confidence:     decimal.RequireFromString("0.95"),
			DedupeKey:      domain.DedupeKeyFor(groupID, s.Name(), domain.OrderSideBuy),
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.cfg.SignalTTL),
		})
	}
	return signals, nil
}

// Validate re-checks that the group still prices below $1 and that every leg
// carries the same size.
func (s *BracketArb) Validate(sig domain.Signal) (bool, string) {
	if len(sig.Legs) < minBrackets {
		return false, fmt.Sprintf("expected at least %d legs, got %d", minBrackets, len(sig.Legs))
	}
	sumAsk := decimal.Zero
	for i, leg := range sig.Legs {
		if leg.Side != domain.OrderSideBuy {
			return false, "all legs must be buys"
		}
		if !leg.Size.Equal(sig.Legs[0].Size) {
			return false, fmt.Sprintf("leg %d size differs", i)
		}
		sumAsk = sumAsk.Add(leg.Price)
	}
	if sumAsk.GreaterThanOrEqual(one) {
		return false, "edge disappeared"
	}
	return true, ""
}

// yesQuote picks the bracket's YES token, falling back to the first token
// for feeds that leave outcomes unlabelled.
func yesQuote(snap domain.MarketSnapshot) *domain.OutcomeQuote {
	for i := range snap.Quotes {
		if isOutcome(snap.Quotes[i].Outcome, "yes") {
			return &snap.Quotes[i]
		}
	}
	if len(snap.Quotes) > 0 {
		return &snap.Quotes[0]
	}
	return nil
}

// midOrAsk returns the quote midpoint when both sides exist, else the ask.
func midOrAsk(q *domain.OutcomeQuote) decimal.Decimal {
	if q.BestBid != nil && q.BestAsk != nil {
		return q.BestBid.Add(*q.BestAsk).Div(decimal.NewFromInt(2))
	}
	return *q.BestAsk
}
