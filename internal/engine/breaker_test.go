package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(cfg BreakerConfig) *CircuitBreaker {
	return NewCircuitBreaker(cfg, slog.Default())
}

func TestBreakerTripsOnDailyLoss(t *testing.T) {
	b := newTestBreaker(BreakerConfig{
		MaxDailyLoss:         decimal.RequireFromString("5"),
		MaxConsecutiveLosses: 100,
	})

	// -2.00, -2.00 keeps the breaker armed: cumulative -4.00 > -5.00.
	b.RecordTradeResult(decimal.RequireFromString("-2"))
	b.RecordTradeResult(decimal.RequireFromString("-2"))
	assert.True(t, b.AllowTrading())

	// The third -2.00 takes it to -6.00 <= -5.00.
	b.RecordTradeResult(decimal.RequireFromString("-2"))
	assert.False(t, b.AllowTrading())
	assert.Equal(t, 1, b.Stats().TotalTrips)
	assert.Contains(t, b.Stats().LastTripReason, "daily_loss_limit")
}

func TestBreakerExactLimitTrips(t *testing.T) {
	b := newTestBreaker(BreakerConfig{MaxDailyLoss: decimal.RequireFromString("5")})

	b.RecordTradeResult(decimal.RequireFromString("-5"))
	assert.False(t, b.AllowTrading(), "loss equal to the limit trips")
}

func TestBreakerTripsOnConsecutiveLosses(t *testing.T) {
	b := newTestBreaker(BreakerConfig{
		MaxDailyLoss:         decimal.RequireFromString("1000"),
		MaxConsecutiveLosses: 3,
	})

	b.RecordTradeResult(decimal.RequireFromString("-0.10"))
	b.RecordTradeResult(decimal.RequireFromString("-0.10"))
	require.True(t, b.AllowTrading())

	// A winner resets the streak.
	b.RecordTradeResult(decimal.RequireFromString("0.50"))
	b.RecordTradeResult(decimal.RequireFromString("-0.10"))
	b.RecordTradeResult(decimal.RequireFromString("-0.10"))
	require.True(t, b.AllowTrading())

	b.RecordTradeResult(decimal.RequireFromString("-0.10"))
	assert.False(t, b.AllowTrading())
	assert.Contains(t, b.Stats().LastTripReason, "consecutive_losses")
}

func TestBreakerDayRolloverResetsDailyPnL(t *testing.T) {
	b := newTestBreaker(BreakerConfig{MaxDailyLoss: decimal.RequireFromString("5")})

	clock := time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	b.dayStart = startOfDay(clock)

	b.RecordTradeResult(decimal.RequireFromString("-4"))
	require.True(t, b.AllowTrading())

	// Cross UTC midnight: the accumulator resets, so another -4.00 does
	// not trip.
	clock = clock.Add(2 * time.Hour)
	b.RecordTradeResult(decimal.RequireFromString("-4"))
	assert.True(t, b.AllowTrading())
	assert.True(t, b.Stats().DailyPnL.Equal(decimal.RequireFromString("-4")))
}

func TestBreakerCooldownReArms(t *testing.T) {
	b := newTestBreaker(BreakerConfig{
		MaxDailyLoss: decimal.RequireFromString("1"),
		Cooldown:     30 * time.Minute,
	})

	clock := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	b.dayStart = startOfDay(clock)

	b.RecordTradeResult(decimal.RequireFromString("-2"))
	require.False(t, b.AllowTrading())

	clock = clock.Add(10 * time.Minute)
	assert.False(t, b.AllowTrading(), "still inside cooldown")

	clock = clock.Add(25 * time.Minute)
	assert.True(t, b.AllowTrading(), "cooldown expired")
	assert.Zero(t, b.Stats().ConsecutiveLosses)
}

func TestBreakerNoCooldownNeedsManualReset(t *testing.T) {
	b := newTestBreaker(BreakerConfig{MaxDailyLoss: decimal.RequireFromString("1")})

	b.RecordTradeResult(decimal.RequireFromString("-2"))
	require.False(t, b.AllowTrading())
	assert.False(t, b.AllowTrading(), "stays tripped without cooldown")

	b.Reset(context.Background())
	assert.True(t, b.AllowTrading())
}

func TestBreakerDrawdownTrip(t *testing.T) {
	b := newTestBreaker(BreakerConfig{
		MaxDailyLoss:   decimal.RequireFromString("1000"),
		MaxDrawdownPct: decimal.RequireFromString("10"),
	})

	b.UpdatePortfolioValue(decimal.RequireFromString("100"))
	require.True(t, b.AllowTrading())

	b.UpdatePortfolioValue(decimal.RequireFromString("95"))
	require.True(t, b.AllowTrading(), "5% drawdown is under the 10% limit")

	b.UpdatePortfolioValue(decimal.RequireFromString("89"))
	assert.False(t, b.AllowTrading())
	assert.Contains(t, b.Stats().LastTripReason, "max_drawdown")
}

func TestBreakerForceTrip(t *testing.T) {
	b := newTestBreaker(BreakerConfig{})

	b.ForceTrip("operator request")
	assert.False(t, b.AllowTrading())
	assert.Equal(t, "operator request", b.Stats().LastTripReason)
}

func TestKillSwitchToggles(t *testing.T) {
	ctx := context.Background()
	k := NewKillSwitch(false, slog.Default())
	assert.False(t, k.Engaged())

	k.Engage(ctx)
	assert.True(t, k.Engaged())
	k.Engage(ctx)
	assert.True(t, k.Engaged())

	k.Release(ctx)
	assert.False(t, k.Engaged())

	armed := NewKillSwitch(true, slog.Default())
	assert.True(t, armed.Engaged())
}
