package strategy

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// takerFee returns the venue fee for one leg: rate * min(price, 1-price).
func takerFee(rate, price decimal.Decimal) decimal.Decimal {
	complement := one.Sub(price)
	if complement.LessThan(price) {
		return rate.Mul(complement)
	}
	return rate.Mul(price)
}

// feeRate picks the snapshot's taker rate, falling back to the configured
// default when the feed carried none.
func feeRate(snap domain.MarketSnapshot, fallback decimal.Decimal) decimal.Decimal {
	if snap.Fees.TakerRate.IsPositive() {
		return snap.Fees.TakerRate
	}
	return fallback
}

// sizeFor returns how many shares maxNotional buys at costPerShare, floored
// to two decimals.
func sizeFor(maxNotional, costPerShare decimal.Decimal) decimal.Decimal {
	if !costPerShare.IsPositive() {
		return decimal.Zero
	}
	return maxNotional.Div(costPerShare).Truncate(2)
}

// isOutcome matches outcome labels case-insensitively.
func isOutcome(label, want string) bool {
	return strings.EqualFold(label, want)
}

// cooldown suppresses re-signalling the same key within a window, so a
// standing opportunity produces one signal per window instead of one per
// scan. Entries are pruned as a side effect of Allow.
type cooldown struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func newCooldown(window time.Duration) *cooldown {
	return &cooldown{
		window: window,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether key is outside its window and, if so, starts a new
// window for it.
func (c *cooldown) Allow(key string) bool {
	if c.window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-2 * c.window)
	for k, t := range c.last {
		if t.Before(cutoff) {
			delete(c.last, k)
		}
	}

	if t, ok := c.last[key]; ok && now.Sub(t) < c.window {
		return false
	}
	c.last[key] = now
	return true
}
