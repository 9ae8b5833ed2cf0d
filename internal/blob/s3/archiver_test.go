package s3blob

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/tradebot/internal/domain"
)

type captureWriter struct {
	keys   []string
	bodies map[string][]byte
	types  map[string]string
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{bodies: map[string][]byte{}, types: map[string]string{}}
}

func (w *captureWriter) Put(ctx context.Context, key string, body []byte, contentType string) error {
	w.keys = append(w.keys, key)
	w.bodies[key] = body
	w.types[key] = contentType
	return nil
}

type staticRepo struct {
	set domain.PositionRecordSet
}

func (r *staticRepo) Load(ctx context.Context) (domain.PositionRecordSet, error) { return r.set, nil }
func (r *staticRepo) Save(ctx context.Context, set domain.PositionRecordSet) error {
	return nil
}
func (r *staticRepo) Reset(ctx context.Context) error { return nil }

func TestArchiveOnceUploadsLedgerSnapshot(t *testing.T) {
	writer := newCaptureWriter()
	repo := &staticRepo{set: domain.PositionRecordSet{
		Positions: []domain.Position{{
			ID:         1,
			TokenID:    "tok-1",
			Strategy:   "binary_arb",
			EntryPrice: decimal.RequireFromString("0.48"),
			Quantity:   decimal.RequireFromString("10"),
			Status:     domain.PositionStatusOpen,
		}},
		NextPositionID: 2,
	}}

	a := NewLedgerArchiver(writer, repo, nil, "bot1", slog.Default())
	require.NoError(t, a.ArchiveOnce(context.Background()))

	require.Len(t, writer.keys, 1, "no audit store wired")
	key := writer.keys[0]
	assert.True(t, strings.HasPrefix(key, "bot1/ledger/"), key)
	assert.Equal(t, "application/json", writer.types[key])

	var got domain.PositionRecordSet
	require.NoError(t, json.Unmarshal(writer.bodies[key], &got))
	require.Len(t, got.Positions, 1)
	assert.True(t, got.Positions[0].EntryPrice.Equal(decimal.RequireFromString("0.48")))
	assert.Equal(t, int64(2), got.NextPositionID)
}

type staticAudit struct{}

func (staticAudit) Log(ctx context.Context, event string, detail map[string]any) error { return nil }
func (staticAudit) List(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return []domain.AuditEntry{{ID: 1, Event: "position_opened"}}, nil
}

func TestArchiveOnceIncludesAuditWhenWired(t *testing.T) {
	writer := newCaptureWriter()
	a := NewLedgerArchiver(writer, &staticRepo{}, staticAudit{}, "", slog.Default())

	require.NoError(t, a.ArchiveOnce(context.Background()))
	require.Len(t, writer.keys, 2)
	assert.True(t, strings.HasPrefix(writer.keys[0], "tradebot/ledger/"))
	assert.True(t, strings.HasPrefix(writer.keys[1], "tradebot/audit/"))
}
