package file

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/tradebot/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "positions.json"), slog.Default())
	require.NoError(t, err)
	return s
}

func TestLoadMissingFileIsEmptyLedger(t *testing.T) {
	s := newTestStore(t)

	set, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, set.Positions)
	assert.Equal(t, int64(1), set.NextPositionID)
}

func TestSaveThenLoadPreservesDecimals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exit := decimal.RequireFromString("1")
	in := domain.PositionRecordSet{
		Positions: []domain.Position{
			{
				ID:          1,
				ConditionID: "cond-1",
				TokenID:     "tok",
				Outcome:     "YES",
				Strategy:    "binary_arb",
				EntryPrice:  decimal.RequireFromString("0.48"),
				Quantity:    decimal.RequireFromString("10.4166"),
				Status:      domain.PositionStatusOpen,
			},
			{
				ID:          2,
				ConditionID: "cond-2",
				TokenID:     "tok2",
				Strategy:    "resolved_discount",
				EntryPrice:  decimal.RequireFromString("0.97"),
				Quantity:    decimal.RequireFromString("103.0928"),
				ExitPrice:   &exit,
				Status:      domain.PositionStatusClosed,
				RealizedPnL: decimal.RequireFromString("3.092784"),
			},
		},
		NextPositionID: 3,
	}
	require.NoError(t, s.Save(ctx, in))

	out, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out.Positions, 2)
	assert.Equal(t, int64(3), out.NextPositionID)
	assert.True(t, out.Positions[0].EntryPrice.Equal(decimal.RequireFromString("0.48")))
	assert.True(t, out.Positions[0].Quantity.Equal(decimal.RequireFromString("10.4166")))
	assert.True(t, out.Positions[1].RealizedPnL.Equal(decimal.RequireFromString("3.092784")))
	require.NotNil(t, out.Positions[1].ExitPrice)
	assert.True(t, out.Positions[1].ExitPrice.Equal(exit))
}

func TestDecimalsSerializeAsStrings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	set := domain.PositionRecordSet{
		Positions: []domain.Position{{
			ID:         1,
			EntryPrice: decimal.RequireFromString("0.48"),
			Quantity:   decimal.RequireFromString("10"),
			Status:     domain.PositionStatusOpen,
		}},
		NextPositionID: 2,
	}
	require.NoError(t, s.Save(ctx, set))

	raw, err := os.ReadFile(s.path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"entry_price": "0.48"`)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), domain.PositionRecordSet{NextPositionID: 1}))

	_, err := os.Stat(s.path + ".tmp")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.path)
	assert.NoError(t, err)
}

func TestLoadCorruptFileFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte("{not json"), 0o644))

	_, err := s.Load(context.Background())
	assert.Error(t, err)
}

func TestResetRemovesLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, domain.PositionRecordSet{NextPositionID: 5}))
	require.NoError(t, s.Reset(ctx))

	set, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, set.Positions)
	assert.Equal(t, int64(1), set.NextPositionID)

	// Resetting an already-missing ledger is fine.
	require.NoError(t, s.Reset(ctx))
}
