package domain

import "time"

// ResolutionEvent records a market condition resolving to a winning outcome.
// ConditionID is the idempotency key: processing the same event twice must
// leave position state unchanged.
type ResolutionEvent struct {
	ConditionID    string
	WinningOutcome string
	ResolvedAt     time.Time
}
