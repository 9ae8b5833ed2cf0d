// Package paper implements a simulated trading venue. Orders fill
// immediately at the requested price adjusted by a configurable slippage
// model, and a virtual wallet tracks the cash that real trading would move.
package paper

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
)

// Wallet is a simulated USDC balance. Buys debit it, sells and redemptions
// credit it. It is safe for concurrent use.
type Wallet struct {
	mu       sync.Mutex
	starting decimal.Decimal
	balance  decimal.Decimal
}

// NewWallet returns a wallet holding the starting balance.
func NewWallet(starting decimal.Decimal) *Wallet {
	return &Wallet{starting: starting, balance: starting}
}

// Balance returns the current cash balance.
func (w *Wallet) Balance() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// Debit removes amount from the balance. It fails without mutating when the
// balance cannot cover it, mirroring how a real venue rejects an order that
// exceeds available collateral.
func (w *Wallet) Debit(amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if amount.GreaterThan(w.balance) {
		return &domain.VenueRejection{
			Code:    domain.VenueErrInsufficientFunds,
			Message: fmt.Sprintf("paper wallet balance %s cannot cover %s", w.balance, amount),
		}
	}
	w.balance = w.balance.Sub(amount)
	return nil
}

// Credit adds amount to the balance.
func (w *Wallet) Credit(amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance = w.balance.Add(amount)
}

// Reset restores the configured starting balance. Clean-restart mode calls
// this alongside the ledger reset.
func (w *Wallet) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance = w.starting
}
