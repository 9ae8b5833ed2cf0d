package position

import (
	"github.com/shopspring/decimal"
)

// StrategyBreakdown splits portfolio totals by owning strategy.
type StrategyBreakdown struct {
	CostBasis     decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// PortfolioStats aggregates position counts and P&L across the ledger.
type PortfolioStats struct {
	TotalPositions      int
	OpenPositions       int
	ClosedPositions     int
	RedeemablePositions int

	TotalRealizedPnL   decimal.Decimal
	TotalUnrealizedPnL decimal.Decimal
	TotalCostBasis     decimal.Decimal

	ByStrategy map[string]StrategyBreakdown
}

// TotalPnL returns realized + unrealized.
func (s PortfolioStats) TotalPnL() decimal.Decimal {
	return s.TotalRealizedPnL.Add(s.TotalUnrealizedPnL)
}

// PortfolioStats computes the current aggregates under the manager lock.
func (m *Manager) PortfolioStats() PortfolioStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := PortfolioStats{
		TotalRealizedPnL:   decimal.Zero,
		TotalUnrealizedPnL: decimal.Zero,
		TotalCostBasis:     decimal.Zero,
		ByStrategy:         make(map[string]StrategyBreakdown),
	}

	for _, p := range m.positions {
		stats.TotalPositions++
		bd := stats.ByStrategy[p.Strategy]
		switch {
		case p.IsClosed():
			stats.ClosedPositions++
			stats.TotalRealizedPnL = stats.TotalRealizedPnL.Add(p.RealizedPnL)
			bd.RealizedPnL = bd.RealizedPnL.Add(p.RealizedPnL)
		case p.IsRedeemable():
			stats.RedeemablePositions++
			stats.TotalUnrealizedPnL = stats.TotalUnrealizedPnL.Add(p.UnrealizedPnL)
			stats.TotalCostBasis = stats.TotalCostBasis.Add(p.CostBasis())
			bd.UnrealizedPnL = bd.UnrealizedPnL.Add(p.UnrealizedPnL)
			bd.CostBasis = bd.CostBasis.Add(p.CostBasis())
		default:
			stats.OpenPositions++
			stats.TotalUnrealizedPnL = stats.TotalUnrealizedPnL.Add(p.UnrealizedPnL)
			stats.TotalCostBasis = stats.TotalCostBasis.Add(p.CostBasis())
			bd.UnrealizedPnL = bd.UnrealizedPnL.Add(p.UnrealizedPnL)
			bd.CostBasis = bd.CostBasis.Add(p.CostBasis())
		}
		stats.ByStrategy[p.Strategy] = bd
	}
	return stats
}
