package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
	"github.com/openpredict/tradebot/internal/position"
)

// ResolutionMonitorConfig drives the resolution poll loop.
type ResolutionMonitorConfig struct {
	PollInterval time.Duration
	// Lookback bounds the first poll's since parameter.
	Lookback time.Duration
}

// ResolutionMonitor polls the resolution source and settles positions when
// their market resolves: winners become REDEEMABLE, losers close at $0. A
// resolved-condition cache makes repeat detections no-ops, so processing the
// same resolution twice yields identical position state.
type ResolutionMonitor struct {
	cfg       ResolutionMonitorConfig
	source    domain.ResolutionSource
	positions *position.Manager
	breaker   *CircuitBreaker
	logger    *slog.Logger

	mu       sync.Mutex
	resolved map[string]domain.ResolutionEvent
	since    time.Time
}

// NewResolutionMonitor wires the poll loop. breaker may be nil.
func NewResolutionMonitor(
	cfg ResolutionMonitorConfig,
	source domain.ResolutionSource,
	positions *position.Manager,
	breaker *CircuitBreaker,
	logger *slog.Logger,
) *ResolutionMonitor {
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &ResolutionMonitor{
		cfg:       cfg,
		source:    source,
		positions: positions,
		breaker:   breaker,
		logger:    logger.With(slog.String("component", "resolution_monitor")),
		resolved:  make(map[string]domain.ResolutionEvent),
		since:     time.Now().UTC().Add(-lookback),
	}
}

// Run polls until the context is cancelled.
func (m *ResolutionMonitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "resolution monitor started",
		slog.Duration("poll_interval", m.cfg.PollInterval),
	)
	defer m.logger.Info("resolution monitor stopped")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll fetches resolutions since the last successful poll and applies the
// new ones. A source failure means "unknown", not "not resolved": the window
// is not advanced and the same span is retried on the next poll.
func (m *ResolutionMonitor) Poll(ctx context.Context) {
	m.mu.Lock()
	since := m.since
	m.mu.Unlock()

	start := time.Now().UTC()
	events, err := m.source.ListResolved(ctx, since)
	if err != nil {
		m.logger.WarnContext(ctx, "resolution poll failed, will retry",
			slog.Time("since", since),
			slog.String("error", err.Error()),
		)
		return
	}

	m.mu.Lock()
	m.since = start
	var fresh []domain.ResolutionEvent
	for _, ev := range events {
		if _, seen := m.resolved[ev.ConditionID]; seen {
			continue
		}
		m.resolved[ev.ConditionID] = ev
		fresh = append(fresh, ev)
	}
	m.mu.Unlock()

	for _, ev := range fresh {
		m.Apply(ctx, ev)
	}
}

// Apply settles every position under the event's condition. Positions that
// already reached a settled state are left alone, so re-applying an event is
// harmless.
func (m *ResolutionMonitor) Apply(ctx context.Context, ev domain.ResolutionEvent) {
	affected := m.positions.ByCondition(ev.ConditionID)
	if len(affected) == 0 {
		return
	}

	m.logger.InfoContext(ctx, "market resolved",
		slog.String("condition", ev.ConditionID),
		slog.String("winner", ev.WinningOutcome),
		slog.Int("positions", len(affected)),
	)

	for _, pos := range affected {
		if !pos.IsOpen() {
			continue
		}
		if pos.Outcome == ev.WinningOutcome {
			if err := m.positions.MarkRedeemable(ctx, pos.ID); err != nil {
				m.logger.ErrorContext(ctx, "mark redeemable failed",
					slog.Int64("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		// Losing shares are worthless; book the exit at $0 directly.
		closed, err := m.positions.ClosePosition(ctx, pos.ID, decimal.Zero, "resolution")
		if err != nil {
			m.logger.ErrorContext(ctx, "close losing position failed",
				slog.Int64("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if m.breaker != nil {
			m.breaker.RecordTradeResult(closed.RealizedPnL)
		}
	}
}

// ResolvedCount returns how many distinct conditions have been seen resolved.
func (m *ResolutionMonitor) ResolvedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resolved)
}
