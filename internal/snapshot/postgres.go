package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
)

// PGStore keeps snapshots in the position_snapshots table
// ⭐ SSOT: position_snapshots 테이블 저장/조회는 여기서만
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed store
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Load implements Store
func (s *PGStore) Load(ctx context.Context, date time.Time) (*portfolio.Positions, error) {
	query := `
		SELECT payload
		FROM position_snapshots
		WHERE trading_date = $1
	`

	var payload []byte
	err := s.pool.QueryRow(ctx, query, contracts.TradingDate(date)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return Decode(payload)
}

// Save implements Store
func (s *PGStore) Save(ctx context.Context, date time.Time, positions *portfolio.Positions) error {
	payload, err := Encode(positions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO position_snapshots (trading_date, payload, saved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (trading_date) DO UPDATE SET
			payload = EXCLUDED.payload,
			saved_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, contracts.TradingDate(date), payload); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Dates lists stored trading dates in ascending order
func (s *PGStore) Dates(ctx context.Context) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT trading_date FROM position_snapshots ORDER BY trading_date`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot date: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Clear deletes every stored snapshot
func (s *PGStore) Clear(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM position_snapshots`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
