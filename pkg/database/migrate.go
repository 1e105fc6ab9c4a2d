package database

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup
// ⭐ SSOT: 테이블 정의는 여기서만
var schema = []string{
	`CREATE TABLE IF NOT EXISTS position_snapshots (
		trading_date DATE PRIMARY KEY,
		payload      JSONB NOT NULL,
		saved_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS order_actions (
		seq          BIGINT NOT NULL,
		run_id       UUID NOT NULL,
		trading_date DATE NOT NULL,
		action_type  TEXT NOT NULL,
		order_id     UUID NOT NULL,
		position_id  UUID NOT NULL,
		symbol       TEXT NOT NULL,
		direction    TEXT NOT NULL,
		status       TEXT NOT NULL,
		quantity     INTEGER NOT NULL,
		limit_price  NUMERIC(12, 2) NOT NULL,
		recorded_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_actions_symbol ON order_actions (trading_date, symbol)`,
}

// Migrate creates the tables used by the snapshot store and the audit trail
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
