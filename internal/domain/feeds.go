package domain

import (
	"context"
	"time"
)

// MarketDataSource supplies the snapshot set for a scan cycle. Prices for
// stale tokens are carried as nil quotes; the source never fabricates them.
type MarketDataSource interface {
	Snapshots(ctx context.Context) ([]MarketSnapshot, error)
}

// ResolutionSource reports conditions resolved since a point in time. A
// transient failure must surface as an error ("unknown"), never as an empty
// list.
type ResolutionSource interface {
	ListResolved(ctx context.Context, since time.Time) ([]ResolutionEvent, error)
}

// StrategyModule is the contract every pluggable strategy satisfies. The
// orchestrator isolates any failure in either method; a misbehaving module
// never aborts a cycle.
type StrategyModule interface {
	Name() string
	Scan(ctx context.Context, snaps []MarketSnapshot) ([]Signal, error)
	Validate(sig Signal) (accepted bool, reason string)
}

// TradingVenue submits orders and redeems settled positions. Paper and live
// implementations share this interface, which is what makes the executor
// unified.
type TradingVenue interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (FillResult, error)
	Redeem(ctx context.Context, pos Position) (SettlementResult, error)
}
