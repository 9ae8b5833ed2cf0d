package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/tradebot/internal/domain"
)

// PositionRepo implements domain.PositionRepository on PostgreSQL. The whole
// record set is rewritten in one transaction per Save, mirroring the file
// store's all-or-nothing semantics: a crash mid-save leaves the previous
// committed ledger intact.
type PositionRepo struct {
	pool *pgxpool.Pool
}

// NewPositionRepo creates a repo backed by the given connection pool.
func NewPositionRepo(pool *pgxpool.Pool) *PositionRepo {
	return &PositionRepo{pool: pool}
}

const selectPositions = `
	SELECT id, condition_id, token_id, outcome, strategy,
	       entry_price, quantity, entry_time, entry_order_id,
	       exit_price, exit_time, exit_order_id,
	       status, realized_pnl, unrealized_pnl
	FROM positions
	ORDER BY id`

// Load reads the full ledger. An empty database yields an empty set with
// NextPositionID 1.
func (r *PositionRepo) Load(ctx context.Context) (domain.PositionRecordSet, error) {
	set := domain.PositionRecordSet{NextPositionID: 1}

	rows, err := r.pool.Query(ctx, selectPositions)
	if err != nil {
		return set, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Position
		var status string
		if err := rows.Scan(
			&p.ID, &p.ConditionID, &p.TokenID, &p.Outcome, &p.Strategy,
			&p.EntryPrice, &p.Quantity, &p.EntryTime, &p.EntryOrderID,
			&p.ExitPrice, &p.ExitTime, &p.ExitOrderID,
			&status, &p.RealizedPnL, &p.UnrealizedPnL,
		); err != nil {
			return set, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Status = domain.PositionStatus(status)
		set.Positions = append(set.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return set, fmt.Errorf("postgres: load positions: %w", err)
	}

	if err := r.pool.QueryRow(ctx,
		`SELECT next_position_id FROM ledger_meta WHERE id = 1`,
	).Scan(&set.NextPositionID); err != nil {
		return set, fmt.Errorf("postgres: load ledger meta: %w", err)
	}
	if set.NextPositionID < 1 {
		set.NextPositionID = 1
	}
	return set, nil
}

// Save rewrites the ledger in one transaction.
func (r *PositionRepo) Save(ctx context.Context, set domain.PositionRecordSet) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("postgres: clear positions: %w", err)
	}

	if len(set.Positions) > 0 {
		rows := make([][]any, 0, len(set.Positions))
		for _, p := range set.Positions {
			rows = append(rows, []any{
				p.ID, p.ConditionID, p.TokenID, p.Outcome, p.Strategy,
				p.EntryPrice, p.Quantity, p.EntryTime, p.EntryOrderID,
				p.ExitPrice, p.ExitTime, p.ExitOrderID,
				string(p.Status), p.RealizedPnL, p.UnrealizedPnL,
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"positions"},
			[]string{
				"id", "condition_id", "token_id", "outcome", "strategy",
				"entry_price", "quantity", "entry_time", "entry_order_id",
				"exit_price", "exit_time", "exit_order_id",
				"status", "realized_pnl", "unrealized_pnl",
			},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("postgres: copy positions: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ledger_meta SET next_position_id = $1 WHERE id = 1`,
		set.NextPositionID,
	); err != nil {
		return fmt.Errorf("postgres: update ledger meta: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save: %w", err)
	}
	return nil
}

// Reset discards the ledger and re-initializes the id counter.
func (r *PositionRepo) Reset(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("postgres: reset positions: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE ledger_meta SET next_position_id = 1 WHERE id = 1`,
	); err != nil {
		return fmt.Errorf("postgres: reset ledger meta: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit reset: %w", err)
	}
	return nil
}
