package domain

import (
	"context"
	"time"
)

// PositionRepository persists the position ledger as one durable record set.
// Save must be atomic: a crash mid-write may never leave a truncated or
// partially written store. Implementations: atomic JSON file, PostgreSQL.
type PositionRepository interface {
	Load(ctx context.Context) (PositionRecordSet, error)
	Save(ctx context.Context, set PositionRecordSet) error
	// Reset discards the existing store and re-initializes an empty one.
	// Used only by clean-restart initialization in simulated mode; it
	// trades crash recovery for deterministic repeatable runs.
	Reset(ctx context.Context) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of lifecycle events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// PriceCache shares the latest per-token marks between the scan loop (writer)
// and the close loop (reader).
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}

// SignalBus publishes lifecycle events (position_opened, position_closed,
// position_redeemed, breaker_tripped) for external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter stores an object in blob storage under key.
type BlobWriter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}
