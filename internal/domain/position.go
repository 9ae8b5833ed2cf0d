package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks where a position sits in its lifecycle. Transitions
// are monotone: OPEN→CLOSING→CLOSED or OPEN→REDEEMABLE→CLOSED. Everything
// else is a ConsistencyError.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosing    PositionStatus = "closing"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusRedeemable PositionStatus = "redeemable"
)

// validTransitions holds the allowed status edges.
var validTransitions = map[PositionStatus][]PositionStatus{
	PositionStatusOpen:       {PositionStatusClosing, PositionStatusClosed, PositionStatusRedeemable},
	PositionStatusClosing:    {PositionStatusClosed, PositionStatusRedeemable},
	PositionStatusRedeemable: {PositionStatusClosed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to PositionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Position is one holding from entry through settlement. Prices and
// quantities are exact decimals; shopspring/decimal serializes them as JSON
// strings so the persisted ledger never loses precision. Positions are never
// deleted, only transitioned to closed and retained for audit.
type Position struct {
	ID           int64           `json:"id"`
	ConditionID  string          `json:"condition_id"`
	TokenID      string          `json:"token_id"`
	Outcome      string          `json:"outcome"`
	Strategy     string          `json:"strategy"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryTime    time.Time       `json:"entry_time"`
	EntryOrderID string          `json:"entry_order_id"`

	ExitPrice   *decimal.Decimal `json:"exit_price,omitempty"`
	ExitTime    *time.Time       `json:"exit_time,omitempty"`
	ExitOrderID string           `json:"exit_order_id,omitempty"`

	Status PositionStatus `json:"status"`

	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// CostBasis returns entry_price * quantity.
func (p Position) CostBasis() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// IsOpen reports whether the position still marks to market (OPEN or CLOSING).
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusClosing
}

// IsRedeemable reports whether the position awaits redemption.
func (p Position) IsRedeemable() bool {
	return p.Status == PositionStatusRedeemable
}

// IsClosed reports whether the position reached its terminal state.
func (p Position) IsClosed() bool {
	return p.Status == PositionStatusClosed
}

// Age returns how long the position has been held as of now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// PositionRecordSet is the durable shape of the position ledger.
type PositionRecordSet struct {
	Positions      []Position `json:"positions"`
	NextPositionID int64      `json:"next_position_id"`
}
