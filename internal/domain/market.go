// Package domain defines the core types shared by every engine component:
// market snapshots, signals, positions, resolution events, the error
// taxonomy, and the interfaces to external collaborators (venue, market
// data, resolution source, persistence).
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeQuote is the tradeable state of one outcome token at snapshot time.
// BestBid/BestAsk are nil when the book had no quote for that side — stale or
// absent prices propagate as unknown, never as a fabricated number.
type OutcomeQuote struct {
	TokenID string
	Outcome string // e.g. "Yes", "No", or a bracket label
	BestBid *decimal.Decimal
	BestAsk *decimal.Decimal
	Volume  decimal.Decimal
}

// FeeSchedule carries the venue fee rates that apply to a market.
type FeeSchedule struct {
	TakerRate decimal.Decimal // fraction, e.g. 0.02
	MakerRate decimal.Decimal
}

// MarketSnapshot is an immutable view of one market condition as of a single
// fetch. The orchestrator hands the full snapshot set to every strategy.
type MarketSnapshot struct {
	ConditionID    string
	Question       string
	GroupID        string // neg-risk group id for multi-outcome conditions, "" otherwise
	Quotes         []OutcomeQuote
	Volume         decimal.Decimal
	EndDate        time.Time
	Fees           FeeSchedule
	Resolved       bool
	WinningOutcome string // set only when Resolved
	FetchedAt      time.Time
}

// Quote returns the quote for tokenID, or nil if the snapshot has none.
func (m *MarketSnapshot) Quote(tokenID string) *OutcomeQuote {
	for i := range m.Quotes {
		if m.Quotes[i].TokenID == tokenID {
			return &m.Quotes[i]
		}
	}
	return nil
}
