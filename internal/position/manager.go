// Package position owns the position lifecycle: opening, price marks, status
// transitions, P&L accounting, and durable persistence of the ledger.
package position

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
)

var oneDollar = decimal.NewFromInt(1)

// OpenParams carries everything needed to open a position.
type OpenParams struct {
	ConditionID  string
	TokenID      string
	Outcome      string
	Strategy     string
	EntryPrice   decimal.Decimal
	Quantity     decimal.Decimal
	EntryOrderID string
	// EntryTime defaults to now when zero.
	EntryTime time.Time
}

// Manager is the single writer for position state. Every mutating entry
// point validates the current status under one coarse lock, so concurrent
// callers (scan loop, resolution loop, close loop) cannot race a position
// through an illegal transition.
type Manager struct {
	repo   domain.PositionRepository
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger

	// grouped holds strategy tags whose positions are valued at the group
	// level ($1 x qty for the eventual winner) instead of per-token marks.
	// The set comes from configuration; the manager derives nothing itself.
	grouped map[string]bool

	mu        sync.Mutex
	positions map[int64]domain.Position
	nextID    int64
}

// NewManager loads the ledger from repo and returns a ready Manager. bus and
// audit may be nil; events are then skipped.
func NewManager(
	ctx context.Context,
	repo domain.PositionRepository,
	bus domain.SignalBus,
	audit domain.AuditStore,
	groupedStrategies []string,
	logger *slog.Logger,
) (*Manager, error) {
	set, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("position: load ledger: %w", err)
	}

	m := &Manager{
		repo:      repo,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "position_manager")),
		grouped:   make(map[string]bool, len(groupedStrategies)),
		positions: make(map[int64]domain.Position, len(set.Positions)),
		nextID:    set.NextPositionID,
	}
	if m.nextID < 1 {
		m.nextID = 1
	}
	for _, p := range set.Positions {
		m.positions[p.ID] = p
	}
	for _, s := range groupedStrategies {
		m.grouped[s] = true
	}

	m.logger.InfoContext(ctx, "ledger loaded",
		slog.Int("positions", len(m.positions)),
		slog.Int64("next_id", m.nextID),
	)
	return m, nil
}

// OpenPosition assigns the next id, persists the new OPEN position
// atomically, and returns the record.
func (m *Manager) OpenPosition(ctx context.Context, params OpenParams) (domain.Position, error) {
	if !params.Quantity.IsPositive() {
		return domain.Position{}, &domain.ConsistencyError{
			Detail: fmt.Sprintf("quantity must be positive, got %s", params.Quantity),
		}
	}

	entryTime := params.EntryTime
	if entryTime.IsZero() {
		entryTime = time.Now().UTC()
	}

	m.mu.Lock()
	pos := domain.Position{
		ID:           m.nextID,
		ConditionID:  params.ConditionID,
		TokenID:      params.TokenID,
		Outcome:      params.Outcome,
		Strategy:     params.Strategy,
		EntryPrice:   params.EntryPrice,
		Quantity:     params.Quantity,
		EntryTime:    entryTime,
		EntryOrderID: params.EntryOrderID,
		Status:       domain.PositionStatusOpen,
	}
	m.nextID++
	m.positions[pos.ID] = pos
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return domain.Position{}, err
	}

	m.logger.InfoContext(ctx, "position opened",
		slog.Int64("position_id", pos.ID),
		slog.String("condition", pos.ConditionID),
		slog.String("outcome", pos.Outcome),
		slog.String("strategy", pos.Strategy),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("quantity", pos.Quantity.String()),
	)
	m.emit(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"condition":   pos.ConditionID,
		"strategy":    pos.Strategy,
		"entry_price": pos.EntryPrice.String(),
		"quantity":    pos.Quantity.String(),
	})
	return pos, nil
}

// ClosePosition transitions a position to CLOSED, computing realized P&L
// (exit - entry) * quantity once and freezing it. Closing an already CLOSED
// position is a ConsistencyError and leaves the record unchanged.
func (m *Manager) ClosePosition(ctx context.Context, id int64, exitPrice decimal.Decimal, exitOrderID string) (domain.Position, error) {
	m.mu.Lock()
	pos, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		return domain.Position{}, &domain.ConsistencyError{PositionID: id, Detail: "position not found"}
	}
	if !domain.CanTransition(pos.Status, domain.PositionStatusClosed) {
		from := pos.Status
		m.mu.Unlock()
		return domain.Position{}, &domain.ConsistencyError{
			PositionID: id,
			From:       from,
			To:         domain.PositionStatusClosed,
		}
	}

	now := time.Now().UTC()
	pos.ExitPrice = &exitPrice
	pos.ExitTime = &now
	pos.ExitOrderID = exitOrderID
	pos.Status = domain.PositionStatusClosed
	pos.RealizedPnL = exitPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
	pos.UnrealizedPnL = decimal.Zero
	m.positions[id] = pos
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return domain.Position{}, err
	}

	m.logger.InfoContext(ctx, "position closed",
		slog.Int64("position_id", id),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("exit_price", exitPrice.String()),
		slog.String("realized_pnl", pos.RealizedPnL.String()),
	)
	m.emit(ctx, "position_closed", map[string]any{
		"position_id":  id,
		"exit_price":   exitPrice.String(),
		"realized_pnl": pos.RealizedPnL.String(),
		"strategy":     pos.Strategy,
	})
	return pos, nil
}

// MarkClosing transitions OPEN -> CLOSING, signalling that an exit order is
// working at the venue.
func (m *Manager) MarkClosing(ctx context.Context, id int64) error {
	return m.transition(ctx, id, domain.PositionStatusClosing)
}

// MarkRedeemable transitions OPEN/CLOSING -> REDEEMABLE after the market
// resolved in the position's favor. Illegal from any other state.
func (m *Manager) MarkRedeemable(ctx context.Context, id int64) error {
	if err := m.transition(ctx, id, domain.PositionStatusRedeemable); err != nil {
		return err
	}

	// Winning shares settle at $1; carry that as unrealized until redeemed.
	m.mu.Lock()
	pos := m.positions[id]
	pos.UnrealizedPnL = oneDollar.Mul(pos.Quantity).Sub(pos.CostBasis())
	m.positions[id] = pos
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.emit(ctx, "position_redeemable", map[string]any{
		"position_id": id,
		"quantity":    pos.Quantity.String(),
	})
	return nil
}

func (m *Manager) transition(ctx context.Context, id int64, to domain.PositionStatus) error {
	m.mu.Lock()
	pos, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		return &domain.ConsistencyError{PositionID: id, Detail: "position not found"}
	}
	if !domain.CanTransition(pos.Status, to) {
		from := pos.Status
		m.mu.Unlock()
		return &domain.ConsistencyError{PositionID: id, From: from, To: to}
	}
	pos.Status = to
	m.positions[id] = pos
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "position transitioned",
		slog.Int64("position_id", id),
		slog.String("status", string(to)),
	)
	return nil
}

// MarkPrice recomputes unrealized P&L for every OPEN/CLOSING position on
// tokenID that belongs to a standard strategy. Grouped-strategy positions
// are skipped: their legs are valued as a bracket set, not per token, so
// wide spreads on illiquid legs never report phantom losses.
func (m *Manager) MarkPrice(ctx context.Context, tokenID string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pos := range m.positions {
		if !pos.IsOpen() || pos.TokenID != tokenID || m.grouped[pos.Strategy] {
			continue
		}
		pos.UnrealizedPnL = price.Sub(pos.EntryPrice).Mul(pos.Quantity)
		m.positions[id] = pos
	}
	_ = ctx
}

// UpdateUnrealized applies a batch of marks and then revalues grouped
// strategies at the group level: expected value is $1 x qty per execution
// (exactly one bracket wins), spread evenly across the group's legs.
func (m *Manager) UpdateUnrealized(ctx context.Context, prices map[string]decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups := make(map[string][]int64)
	for id, pos := range m.positions {
		if !pos.IsOpen() {
			continue
		}
		if m.grouped[pos.Strategy] {
			groups[pos.ConditionID] = append(groups[pos.ConditionID], id)
			continue
		}
		price, ok := prices[pos.TokenID]
		if !ok {
			// Unknown price stays unknown; keep the previous mark.
			continue
		}
		pos.UnrealizedPnL = price.Sub(pos.EntryPrice).Mul(pos.Quantity)
		m.positions[id] = pos
	}

	for _, ids := range groups {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		first := m.positions[ids[0]]
		qty := first.Quantity

		groupCost := decimal.Zero
		tokens := make(map[string]bool, len(ids))
		for _, id := range ids {
			p := m.positions[id]
			groupCost = groupCost.Add(p.CostBasis())
			tokens[p.TokenID] = true
		}
		executions := int64(1)
		if len(tokens) > 0 {
			if n := int64(len(ids) / len(tokens)); n > 1 {
				executions = n
			}
		}
		groupValue := oneDollar.Mul(qty).Mul(decimal.NewFromInt(executions))
		perLeg := groupValue.Sub(groupCost).Div(decimal.NewFromInt(int64(len(ids))))
		for _, id := range ids {
			p := m.positions[id]
			p.UnrealizedPnL = perLeg
			m.positions[id] = p
		}
	}
	_ = ctx
}

// Get returns a copy of the position with the given id.
func (m *Manager) Get(id int64) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	return pos, ok
}

// OpenPositions returns all OPEN/CLOSING positions sorted by id.
func (m *Manager) OpenPositions() []domain.Position {
	return m.filter(func(p domain.Position) bool { return p.IsOpen() })
}

// RedeemablePositions returns all REDEEMABLE positions sorted by id.
func (m *Manager) RedeemablePositions() []domain.Position {
	return m.filter(domain.Position.IsRedeemable)
}

// ByCondition returns every position under conditionID sorted by id.
func (m *Manager) ByCondition(conditionID string) []domain.Position {
	return m.filter(func(p domain.Position) bool { return p.ConditionID == conditionID })
}

// OpenCount returns the number of OPEN/CLOSING positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.positions {
		if p.IsOpen() {
			n++
		}
	}
	return n
}

// OpenCountByCondition returns the number of non-closed positions stacked on
// conditionID.
func (m *Manager) OpenCountByCondition(conditionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.positions {
		if p.ConditionID == conditionID && !p.IsClosed() {
			n++
		}
	}
	return n
}

// OpenCostBasis returns the summed cost basis of all OPEN/CLOSING and
// REDEEMABLE positions, the engine's current capital at risk.
func (m *Manager) OpenCostBasis() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.positions {
		if p.IsOpen() || p.IsRedeemable() {
			total = total.Add(p.CostBasis())
		}
	}
	return total
}

func (m *Manager) filter(keep func(domain.Position) bool) []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Flush persists the current ledger. Called on graceful shutdown so no
// in-memory state is lost.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked(ctx)
}

// persistLocked saves the ledger; callers must hold m.mu.
func (m *Manager) persistLocked(ctx context.Context) error {
	set := domain.PositionRecordSet{
		Positions:      make([]domain.Position, 0, len(m.positions)),
		NextPositionID: m.nextID,
	}
	for _, p := range m.positions {
		set.Positions = append(set.Positions, p)
	}
	sort.Slice(set.Positions, func(i, j int) bool { return set.Positions[i].ID < set.Positions[j].ID })
	if err := m.repo.Save(ctx, set); err != nil {
		return fmt.Errorf("position: save ledger: %w", err)
	}
	return nil
}

func (m *Manager) emit(ctx context.Context, event string, detail map[string]any) {
	if m.audit != nil {
		if err := m.audit.Log(ctx, event, detail); err != nil {
			m.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.bus != nil {
		msg := map[string]any{"event": event}
		for k, v := range detail {
			msg[k] = v
		}
		payload, _ := json.Marshal(msg)
		if err := m.bus.Publish(ctx, "positions", payload); err != nil {
			m.logger.WarnContext(ctx, "publish event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
