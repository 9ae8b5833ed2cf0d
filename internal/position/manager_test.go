package position

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/tradebot/internal/domain"
)

type memoryRepo struct {
	set   domain.PositionRecordSet
	saves int
}

func (r *memoryRepo) Load(ctx context.Context) (domain.PositionRecordSet, error) {
	return r.set, nil
}

func (r *memoryRepo) Save(ctx context.Context, set domain.PositionRecordSet) error {
	r.set = set
	r.saves++
	return nil
}

func (r *memoryRepo) Reset(ctx context.Context) error {
	r.set = domain.PositionRecordSet{}
	return nil
}

func newTestManager(t *testing.T, grouped ...string) (*Manager, *memoryRepo) {
	t.Helper()
	repo := &memoryRepo{}
	m, err := NewManager(context.Background(), repo, nil, nil, grouped, slog.Default())
	require.NoError(t, err)
	return m, repo
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOpenPositionAssignsSequentialIDs(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	first, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "tok-yes", Outcome: "YES",
		Strategy: "binary_arb", EntryPrice: dec("0.48"), Quantity: dec("10"),
	})
	require.NoError(t, err)
	second, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "tok-no", Outcome: "NO",
		Strategy: "binary_arb", EntryPrice: dec("0.49"), Quantity: dec("10"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, domain.PositionStatusOpen, first.Status)
	assert.Equal(t, int64(3), repo.set.NextPositionID)
	assert.Len(t, repo.set.Positions, 2)
}

func TestOpenPositionRejectsNonPositiveQuantity(t *testing.T) {
	m, repo := newTestManager(t)

	_, err := m.OpenPosition(context.Background(), OpenParams{
		ConditionID: "cond-1", TokenID: "tok", Strategy: "binary_arb",
		EntryPrice: dec("0.50"), Quantity: decimal.Zero,
	})
	var cerr *domain.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Zero(t, repo.saves, "nothing should be persisted on rejection")
}

func TestClosePositionRealizedPnLIsExact(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pos, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "tok", Strategy: "resolved_discount",
		EntryPrice: dec("0.97"), Quantity: dec("103.0928"),
	})
	require.NoError(t, err)

	closed, err := m.ClosePosition(ctx, pos.ID, dec("1"), "exit-1")
	require.NoError(t, err)

	// (1 - 0.97) * 103.0928 = 3.092784 exactly, no float drift.
	assert.True(t, closed.RealizedPnL.Equal(dec("3.092784")),
		"got %s", closed.RealizedPnL)
	assert.True(t, closed.UnrealizedPnL.IsZero())
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.True(t, closed.ExitPrice.Equal(dec("1")))
}

func TestClosePositionTwiceLeavesRecordUnchanged(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pos, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "tok", Strategy: "binary_arb",
		EntryPrice: dec("0.40"), Quantity: dec("5"),
	})
	require.NoError(t, err)

	closed, err := m.ClosePosition(ctx, pos.ID, dec("0.60"), "exit-1")
	require.NoError(t, err)

	_, err = m.ClosePosition(ctx, pos.ID, dec("0.90"), "exit-2")
	var cerr *domain.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, domain.PositionStatusClosed, cerr.From)

	after, ok := m.Get(pos.ID)
	require.True(t, ok)
	assert.Equal(t, closed, after, "failed transition must not mutate the record")
	assert.True(t, after.RealizedPnL.Equal(dec("1")), "realized P&L is write-once")
}

func TestTransitionLegality(t *testing.T) {
	cases := []struct {
		name string
		from domain.PositionStatus
		to   domain.PositionStatus
		ok   bool
	}{
		{"open to closing", domain.PositionStatusOpen, domain.PositionStatusClosing, true},
		{"open to redeemable", domain.PositionStatusOpen, domain.PositionStatusRedeemable, true},
		{"open to closed", domain.PositionStatusOpen, domain.PositionStatusClosed, true},
		{"closing to closed", domain.PositionStatusClosing, domain.PositionStatusClosed, true},
		{"closing to redeemable", domain.PositionStatusClosing, domain.PositionStatusRedeemable, true},
		{"redeemable to closed", domain.PositionStatusRedeemable, domain.PositionStatusClosed, true},
		{"closed to open", domain.PositionStatusClosed, domain.PositionStatusOpen, false},
		{"closed to closing", domain.PositionStatusClosed, domain.PositionStatusClosing, false},
		{"redeemable to open", domain.PositionStatusRedeemable, domain.PositionStatusOpen, false},
		{"closing to open", domain.PositionStatusClosing, domain.PositionStatusOpen, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, domain.CanTransition(tc.from, tc.to))
		})
	}
}

func TestMarkRedeemableCarriesSettlementValue(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pos, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "tok", Strategy: "binary_arb",
		EntryPrice: dec("0.48"), Quantity: dec("10"),
	})
	require.NoError(t, err)

	require.NoError(t, m.MarkRedeemable(ctx, pos.ID))

	after, ok := m.Get(pos.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PositionStatusRedeemable, after.Status)
	// $1 * 10 - 0.48 * 10 = 5.20 pending settlement.
	assert.True(t, after.UnrealizedPnL.Equal(dec("5.2")), "got %s", after.UnrealizedPnL)
}

func TestMarkRedeemableFromClosedFails(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pos, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "tok", Strategy: "binary_arb",
		EntryPrice: dec("0.48"), Quantity: dec("10"),
	})
	require.NoError(t, err)
	_, err = m.ClosePosition(ctx, pos.ID, dec("0.50"), "exit")
	require.NoError(t, err)

	err = m.MarkRedeemable(ctx, pos.ID)
	var cerr *domain.ConsistencyError
	require.ErrorAs(t, err, &cerr)
}

func TestUpdateUnrealizedStandardStrategy(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pos, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "tok", Strategy: "resolved_discount",
		EntryPrice: dec("0.95"), Quantity: dec("20"),
	})
	require.NoError(t, err)

	m.UpdateUnrealized(ctx, map[string]decimal.Decimal{"tok": dec("0.98")})

	after, _ := m.Get(pos.ID)
	assert.True(t, after.UnrealizedPnL.Equal(dec("0.6")), "got %s", after.UnrealizedPnL)

	// A batch without this token keeps the previous mark.
	m.UpdateUnrealized(ctx, map[string]decimal.Decimal{"other": dec("0.10")})
	after, _ = m.Get(pos.ID)
	assert.True(t, after.UnrealizedPnL.Equal(dec("0.6")))
}

func TestUpdateUnrealizedGroupedStrategy(t *testing.T) {
	m, _ := newTestManager(t, "bracket_arb")
	ctx := context.Background()

	// Three bracket legs bought at 0.30 each for 10 shares: group cost 9.00,
	// group value $1 * 10 = 10.00, so each leg carries (10 - 9) / 3.
	for _, tok := range []string{"tok-a", "tok-b", "tok-c"} {
		_, err := m.OpenPosition(ctx, OpenParams{
			ConditionID: "cond-g", TokenID: tok, Strategy: "bracket_arb",
			EntryPrice: dec("0.30"), Quantity: dec("10"),
		})
		require.NoError(t, err)
	}

	// Per-token marks for grouped legs must be ignored.
	m.UpdateUnrealized(ctx, map[string]decimal.Decimal{
		"tok-a": dec("0.01"),
		"tok-b": dec("0.01"),
		"tok-c": dec("0.01"),
	})

	want := dec("10").Sub(dec("9")).Div(dec("3"))
	for _, p := range m.OpenPositions() {
		assert.True(t, p.UnrealizedPnL.Equal(want),
			"leg %s got %s want %s", p.TokenID, p.UnrealizedPnL, want)
	}
}

func TestMarkPriceSkipsGroupedStrategies(t *testing.T) {
	m, _ := newTestManager(t, "bracket_arb")
	ctx := context.Background()

	grouped, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-g", TokenID: "tok", Strategy: "bracket_arb",
		EntryPrice: dec("0.30"), Quantity: dec("10"),
	})
	require.NoError(t, err)
	standard, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-s", TokenID: "tok", Strategy: "binary_arb",
		EntryPrice: dec("0.30"), Quantity: dec("10"),
	})
	require.NoError(t, err)

	m.MarkPrice(ctx, "tok", dec("0.50"))

	g, _ := m.Get(grouped.ID)
	s, _ := m.Get(standard.ID)
	assert.True(t, g.UnrealizedPnL.IsZero())
	assert.True(t, s.UnrealizedPnL.Equal(dec("2")))
}

func TestLedgerRoundTrip(t *testing.T) {
	repo := &memoryRepo{}
	ctx := context.Background()

	m1, err := NewManager(ctx, repo, nil, nil, nil, slog.Default())
	require.NoError(t, err)
	opened, err := m1.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "tok", Strategy: "binary_arb",
		EntryPrice: dec("0.48"), Quantity: dec("10"),
	})
	require.NoError(t, err)

	m2, err := NewManager(ctx, repo, nil, nil, nil, slog.Default())
	require.NoError(t, err)

	reloaded, ok := m2.Get(opened.ID)
	require.True(t, ok)
	assert.True(t, reloaded.EntryPrice.Equal(dec("0.48")))

	next, err := m2.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-2", TokenID: "tok2", Strategy: "binary_arb",
		EntryPrice: dec("0.10"), Quantity: dec("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, opened.ID+1, next.ID, "ids keep counting after restart")
}

func TestQueriesAndCounts(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "t1", Strategy: "binary_arb",
		EntryPrice: dec("0.48"), Quantity: dec("10"),
	})
	require.NoError(t, err)
	b, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "t2", Strategy: "binary_arb",
		EntryPrice: dec("0.49"), Quantity: dec("10"),
	})
	require.NoError(t, err)
	c, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-2", TokenID: "t3", Strategy: "resolved_discount",
		EntryPrice: dec("0.95"), Quantity: dec("5"),
	})
	require.NoError(t, err)

	require.NoError(t, m.MarkRedeemable(ctx, b.ID))
	_, err = m.ClosePosition(ctx, c.ID, dec("1"), "exit")
	require.NoError(t, err)

	assert.Equal(t, 1, m.OpenCount())
	assert.Equal(t, 2, m.OpenCountByCondition("cond-1"))
	assert.Equal(t, 0, m.OpenCountByCondition("cond-2"))

	open := m.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, a.ID, open[0].ID)

	redeemable := m.RedeemablePositions()
	require.Len(t, redeemable, 1)
	assert.Equal(t, b.ID, redeemable[0].ID)

	assert.Len(t, m.ByCondition("cond-1"), 2)

	// 0.48*10 open + 0.49*10 redeemable; the closed position drops out.
	assert.True(t, m.OpenCostBasis().Equal(dec("9.7")), "got %s", m.OpenCostBasis())
}

func TestPortfolioStats(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-1", TokenID: "t1", Strategy: "binary_arb",
		EntryPrice: dec("0.40"), Quantity: dec("10"),
	})
	require.NoError(t, err)
	_, err = m.OpenPosition(ctx, OpenParams{
		ConditionID: "cond-2", TokenID: "t2", Strategy: "resolved_discount",
		EntryPrice: dec("0.95"), Quantity: dec("20"),
	})
	require.NoError(t, err)

	_, err = m.ClosePosition(ctx, a.ID, dec("0.55"), "exit")
	require.NoError(t, err)
	m.UpdateUnrealized(ctx, map[string]decimal.Decimal{"t2": dec("0.98")})

	stats := m.PortfolioStats()
	assert.Equal(t, 2, stats.TotalPositions)
	assert.Equal(t, 1, stats.OpenPositions)
	assert.Equal(t, 1, stats.ClosedPositions)
	assert.True(t, stats.TotalRealizedPnL.Equal(dec("1.5")))
	assert.True(t, stats.TotalUnrealizedPnL.Equal(dec("0.6")))
	assert.True(t, stats.TotalCostBasis.Equal(dec("19")))
	assert.True(t, stats.TotalPnL().Equal(dec("2.1")))

	arb := stats.ByStrategy["binary_arb"]
	assert.True(t, arb.RealizedPnL.Equal(dec("1.5")))
	disc := stats.ByStrategy["resolved_discount"]
	assert.True(t, disc.UnrealizedPnL.Equal(dec("0.6")))
}

func TestAgeUsesEntryTime(t *testing.T) {
	p := domain.Position{EntryTime: time.Now().UTC().Add(-2 * time.Hour)}
	assert.InDelta(t, 2, p.Age(time.Now().UTC()).Hours(), 0.01)
}
