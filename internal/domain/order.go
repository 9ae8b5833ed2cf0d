package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy. The engine only uses the
// venue-native all-or-nothing (FOK) and immediate-or-cancel (IOC) types; they
// are the sole leg-risk mitigation mechanism, there is no mid-flight cancel.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeIOC OrderType = "IOC" // Immediate-Or-Cancel
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled (live venue only)
)

// OrderRequest is a single order submitted to a TradingVenue.
type OrderRequest struct {
	ClientID string // uuid assigned by the executor
	TokenID  string
	Side     OrderSide
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Type     OrderType
}

// Notional returns price * quantity.
func (r OrderRequest) Notional() decimal.Decimal {
	return r.Price.Mul(r.Quantity)
}

// FillResult is the venue's answer to an order submission.
type FillResult struct {
	OrderID    string
	FilledSize decimal.Decimal
	FillPrice  decimal.Decimal
	FeePaid    decimal.Decimal
	FilledAt   time.Time
}

// Filled reports whether the full requested quantity was matched.
func (f FillResult) Filled(requested decimal.Decimal) bool {
	return f.FilledSize.GreaterThanOrEqual(requested)
}

// SettlementResult is the venue's answer to a redemption request.
type SettlementResult struct {
	TxID       string
	PaidAmount decimal.Decimal // quantity * $1.00 for winning shares
	SettledAt  time.Time
}
