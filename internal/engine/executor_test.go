package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/tradebot/internal/domain"
	"github.com/openpredict/tradebot/internal/position"
)

type fakeVenue struct {
	submitted []domain.OrderRequest
	failAfter int // fail the nth submission (1-based); 0 means never
	failWith  error
	partial   bool
}

func (v *fakeVenue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.FillResult, error) {
	v.submitted = append(v.submitted, req)
	if v.failAfter > 0 && len(v.submitted) >= v.failAfter {
		return domain.FillResult{}, v.failWith
	}
	fill := domain.FillResult{
		OrderID:    "ord-" + req.ClientID[:8],
		FilledSize: req.Quantity,
		FillPrice:  req.Price,
		FilledAt:   time.Now().UTC(),
	}
	if v.partial {
		fill.FilledSize = req.Quantity.Div(decimal.NewFromInt(2))
	}
	return fill, nil
}

func (v *fakeVenue) Redeem(ctx context.Context, pos domain.Position) (domain.SettlementResult, error) {
	return domain.SettlementResult{
		TxID:       "tx-" + pos.TokenID,
		PaidAmount: pos.Quantity,
		SettledAt:  time.Now().UTC(),
	}, nil
}

type execFixture struct {
	exec  *UnifiedExecutor
	venue *fakeVenue
	pm    *position.Manager
	kill  *KillSwitch
}

func newExecFixture(t *testing.T, cfg ExecutorConfig) *execFixture {
	t.Helper()
	repo := &memoryPositionRepo{}
	pm, err := position.NewManager(context.Background(), repo, nil, nil, nil, slog.Default())
	require.NoError(t, err)
	venue := &fakeVenue{}
	kill := NewKillSwitch(false, slog.Default())
	return &execFixture{
		exec:  NewUnifiedExecutor(venue, pm, kill, cfg, slog.Default()),
		venue: venue,
		pm:    pm,
		kill:  kill,
	}
}

type memoryPositionRepo struct {
	set domain.PositionRecordSet
}

func (r *memoryPositionRepo) Load(ctx context.Context) (domain.PositionRecordSet, error) {
	return r.set, nil
}
func (r *memoryPositionRepo) Save(ctx context.Context, set domain.PositionRecordSet) error {
	r.set = set
	return nil
}
func (r *memoryPositionRepo) Reset(ctx context.Context) error {
	r.set = domain.PositionRecordSet{}
	return nil
}

func singleLegSignal(id string) domain.Signal {
	return domain.Signal{
		ID:          id,
		Strategy:    "resolved_discount",
		ConditionID: "cond-1",
		Legs: []domain.SignalLeg{{
			TokenID: "tok-yes",
			Outcome: "YES",
			Side:    domain.OrderSideBuy,
			Price:   decimal.RequireFromString("0.97"),
			Size:    decimal.RequireFromString("10"),
		}},
		ExpectedProfit: decimal.RequireFromString("0.30"),
		DedupeKey:      domain.DedupeKeyFor("cond-1", "resolved_discount", domain.OrderSideBuy),
		CreatedAt:      time.Now().UTC(),
	}
}

func hedgePairSignal() domain.Signal {
	return domain.Signal{
		ID:          "sig-pair",
		Strategy:    "binary_arb",
		ConditionID: "cond-1",
		Legs: []domain.SignalLeg{
			{
				TokenID: "tok-yes", Outcome: "YES", Side: domain.OrderSideBuy,
				Price: decimal.RequireFromString("0.48"),
				Size:  decimal.RequireFromString("10"),
			},
			{
				TokenID: "tok-no", Outcome: "NO", Side: domain.OrderSideBuy,
				Price: decimal.RequireFromString("0.49"),
				Size:  decimal.RequireFromString("10"),
			},
		},
		ExpectedProfit: decimal.RequireFromString("0.30"),
		DedupeKey:      domain.DedupeKeyFor("cond-1", "binary_arb", domain.OrderSideBuy),
		CreatedAt:      time.Now().UTC(),
	}
}

func TestExecuteSingleLegUsesIOC(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 2, PriceDecimals: 4})

	res, err := f.exec.Execute(context.Background(), singleLegSignal("sig-1"))
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, f.venue.submitted, 1)
	assert.Equal(t, domain.OrderTypeIOC, f.venue.submitted[0].Type)
	require.Len(t, res.PositionIDs, 1)

	pos, ok := f.pm.Get(res.PositionIDs[0])
	require.True(t, ok)
	assert.True(t, pos.EntryPrice.Equal(decimal.RequireFromString("0.97")))
}

func TestExecuteMultiLegUsesFOK(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 2, PriceDecimals: 4})

	res, err := f.exec.Execute(context.Background(), hedgePairSignal())
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, f.venue.submitted, 2)
	for _, req := range f.venue.submitted {
		assert.Equal(t, domain.OrderTypeFOK, req.Type)
	}
	assert.Len(t, res.PositionIDs, 2)
	assert.Equal(t, 2, f.pm.OpenCount())
}

func TestExecuteQuantizesQuantityDown(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 4, PriceDecimals: 4})

	sig := singleLegSignal("sig-q")
	sig.Legs[0].Size = decimal.RequireFromString("7.12345")
	_, err := f.exec.Execute(context.Background(), sig)
	require.NoError(t, err)

	require.Len(t, f.venue.submitted, 1)
	// 7.12345 truncates to 7.1234; never 7.1235.
	assert.True(t, f.venue.submitted[0].Quantity.Equal(decimal.RequireFromString("7.1234")),
		"got %s", f.venue.submitted[0].Quantity)
}

func TestExecuteRejectsOverMaxNotionalLocally(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{
		MaxOrderNotional: decimal.RequireFromString("5"),
		QuantityDecimals: 2,
		PriceDecimals:    4,
	})

	res, err := f.exec.Execute(context.Background(), singleLegSignal("sig-big"))
	require.Error(t, err)
	var rl *domain.RiskLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "max_order_notional", rl.Limit)
	assert.Equal(t, domain.ErrCategoryRiskLimit, res.Category)
	assert.Empty(t, f.venue.submitted, "venue must not be called on a local rejection")
	assert.Zero(t, f.pm.OpenCount())
}

func TestExecuteRejectsBelowMinNotional(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{
		MinOrderNotional: decimal.RequireFromString("100"),
		QuantityDecimals: 2,
		PriceDecimals:    4,
	})

	_, err := f.exec.Execute(context.Background(), singleLegSignal("sig-dust"))
	var rl *domain.RiskLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "min_order_notional", rl.Limit)
	assert.Empty(t, f.venue.submitted)
}

func TestExecuteDuplicateDedupeKeyOpensOnePosition(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 2, PriceDecimals: 4})
	ctx := context.Background()

	first, err := f.exec.Execute(ctx, singleLegSignal("sig-a"))
	require.NoError(t, err)
	require.True(t, first.Success)

	// Same opportunity redetected next cycle under a new signal id.
	second, err := f.exec.Execute(ctx, singleLegSignal("sig-b"))
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, "duplicate_signal", second.Reason)
	assert.Equal(t, 1, f.pm.OpenCount())
	assert.Len(t, f.venue.submitted, 1)
}

func TestExecuteFailedAttemptMayRetry(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 2, PriceDecimals: 4})
	ctx := context.Background()

	f.venue.failAfter = 1
	f.venue.failWith = &domain.ConnectivityError{Op: "submit order", Err: context.DeadlineExceeded}
	_, err := f.exec.Execute(ctx, singleLegSignal("sig-x"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCategoryConnectivity, domain.Classify(err))

	// The dedupe key was not consumed by the failure.
	f.venue.failAfter = 0
	res, err := f.exec.Execute(ctx, singleLegSignal("sig-y"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, f.pm.OpenCount())
}

func TestExecuteKillSwitchBlocksSubmission(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 2, PriceDecimals: 4})
	ctx := context.Background()

	f.kill.Engage(ctx)
	res, err := f.exec.Execute(ctx, singleLegSignal("sig-k"))
	require.Error(t, err)
	assert.Equal(t, "kill_switch_engaged", res.Reason)
	assert.Equal(t, domain.ErrCategoryRiskLimit, res.Category)
	assert.Empty(t, f.venue.submitted)
}

func TestExecuteExpiredSignalRejected(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 2, PriceDecimals: 4})

	sig := singleLegSignal("sig-old")
	sig.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	res, err := f.exec.Execute(context.Background(), sig)
	require.Error(t, err)
	assert.Equal(t, "signal_expired", res.Reason)
	assert.Equal(t, domain.ErrCategoryValidation, res.Category)
	assert.Empty(t, f.venue.submitted)
}

func TestExecutePartialGroupRecordsFilledLegs(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 2, PriceDecimals: 4})
	ctx := context.Background()

	// First leg fills, second is rejected by the venue.
	f.venue.failAfter = 2
	f.venue.failWith = &domain.VenueRejection{Code: domain.VenueErrInsufficientFunds, Message: "no balance"}

	res, err := f.exec.Execute(ctx, hedgePairSignal())
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrCategoryVenue, res.Category)

	// The filled first leg is a real holding and must be tracked.
	assert.Equal(t, 1, f.pm.OpenCount())
	require.Len(t, res.PositionIDs, 1)
}

func TestExecuteUnfilledIOCIsRejection(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 2, PriceDecimals: 4})

	f.venue.partial = true
	res, err := f.exec.Execute(context.Background(), singleLegSignal("sig-p"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCategoryVenue, res.Category)
}

func TestExecutorStats(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{QuantityDecimals: 2, PriceDecimals: 4})
	ctx := context.Background()

	_, err := f.exec.Execute(ctx, singleLegSignal("sig-1"))
	require.NoError(t, err)

	f.kill.Engage(ctx)
	_, _ = f.exec.Execute(ctx, singleLegSignal("sig-2"))

	stats := f.exec.Stats()
	assert.Equal(t, 2, stats.Executions)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.ByCategory[string(domain.ErrCategoryRiskLimit)])
}
