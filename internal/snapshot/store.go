package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
)

// ErrNotFound is returned when no snapshot exists for a date
var ErrNotFound = errors.New("snapshot not found")

// Store persists the end-of-day Position-by-symbol map
// ⭐ SSOT: 일자별 포지션 스냅샷 저장소 인터페이스
type Store interface {
	// Load returns the snapshot saved for date, or ErrNotFound
	Load(ctx context.Context, date time.Time) (*portfolio.Positions, error)

	// Save writes (or replaces) the snapshot for date
	Save(ctx context.Context, date time.Time, positions *portfolio.Positions) error
}

// FileName returns the snapshot file name for a date
func FileName(date time.Time) string {
	return "positionsBySymbol_" + contracts.TradingDate(date).Format(contracts.DateLayout) + ".json"
}
