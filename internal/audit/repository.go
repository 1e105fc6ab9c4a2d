package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/daytrader/internal/contracts"
)

// Repository persists the order action trail
// ⭐ SSOT: order_actions 테이블 저장/조회는 여기서만
type Repository struct {
	pool  *pgxpool.Pool
	runID uuid.UUID
}

// NewRepository creates a repository that tags rows with a run id
func NewRepository(pool *pgxpool.Pool, runID uuid.UUID) *Repository {
	return &Repository{pool: pool, runID: runID}
}

// RunID returns the id written with every row
func (r *Repository) RunID() uuid.UUID {
	return r.runID
}

// SaveOrderAction appends one action
func (r *Repository) SaveOrderAction(ctx context.Context, a OrderAction) error {
	return r.SaveOrderActions(ctx, []OrderAction{a})
}

// SaveOrderActions appends actions in one batch
func (r *Repository) SaveOrderActions(ctx context.Context, actions []OrderAction) error {
	if len(actions) == 0 {
		return nil
	}

	query := `
		INSERT INTO order_actions (
			seq, run_id, trading_date, action_type, order_id, position_id,
			symbol, direction, status, quantity, limit_price, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, seq) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, a := range actions {
		batch.Queue(query,
			a.Seq, r.runID, a.Date, string(a.Type), a.OrderID, a.PositionID,
			a.Symbol, string(a.Direction), string(a.Status), a.Quantity, a.LimitPrice, a.RecordedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range actions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save order action seq=%d: %w", actions[i].Seq, err)
		}
	}
	return nil
}

// ListOrderActions returns a run's actions for a trading date in seq order
func (r *Repository) ListOrderActions(ctx context.Context, runID uuid.UUID, date time.Time) ([]OrderAction, error) {
	query := `
		SELECT seq, trading_date, action_type, order_id, position_id,
		       symbol, direction, status, quantity, limit_price::float8, recorded_at
		FROM order_actions
		WHERE run_id = $1 AND trading_date = $2
		ORDER BY seq ASC
	`

	rows, err := r.pool.Query(ctx, query, runID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query order actions: %w", err)
	}
	defer rows.Close()

	var actions []OrderAction
	for rows.Next() {
		var a OrderAction
		var actionType, direction, status string
		if err := rows.Scan(
			&a.Seq, &a.Date, &actionType, &a.OrderID, &a.PositionID,
			&a.Symbol, &direction, &status, &a.Quantity, &a.LimitPrice, &a.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order action: %w", err)
		}
		a.Type = ActionType(actionType)
		a.Direction = contracts.Direction(direction)
		a.Status = contracts.OrderStatus(status)
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return actions, nil
}
