package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SignalUrgency indicates how quickly a signal should be acted upon.
type SignalUrgency int

const (
	SignalUrgencyLow SignalUrgency = iota
	SignalUrgencyMedium
	SignalUrgencyHigh
	SignalUrgencyImmediate
)

// SignalLeg is one order the signal wants executed. Multi-leg signals (hedge
// pairs, bracket sets) are submitted all-or-nothing.
type SignalLeg struct {
	TokenID string
	Outcome string
	Side    OrderSide
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// Signal is a strategy's request for execution. DedupeKey suppresses
// duplicates within and across scan cycles and doubles as the idempotency
// key for position opening.
type Signal struct {
	ID             string // uuid, assigned by the strategy
	Strategy       string
	ConditionID    string
	Legs           []SignalLeg
	ExpectedProfit decimal.Decimal
	Urgency        SignalUrgency
	Confidence     decimal.Decimal // 0..1
	DedupeKey      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// CostBasis returns the estimated total entry cost across all buy legs.
func (s Signal) CostBasis() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range s.Legs {
		if leg.Side == OrderSideBuy {
			total = total.Add(leg.Price.Mul(leg.Size))
		}
	}
	return total
}

// Expired reports whether the signal's expiry has passed at now.
func (s Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// DedupeKeyFor builds the canonical dedupe key from market, strategy, and
// side so repeated detections of the same opportunity collapse to one key.
func DedupeKeyFor(conditionID, strategy string, side OrderSide) string {
	return fmt.Sprintf("%s:%s:%s", conditionID, strategy, side)
}
