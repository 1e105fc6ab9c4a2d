package snapshot

import (
	"context"
	"time"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
	"github.com/wonny/daytrader/pkg/logger"
	"github.com/wonny/daytrader/pkg/redis"
)

// Cached mirrors another Store into Redis
// Redis 장애는 로그만 남기고 원본 저장소 결과를 그대로 반환
type Cached struct {
	inner Store
	cache *redis.Cache
	log   *logger.Logger
}

// NewCached wraps inner with a read-through, write-through Redis mirror
func NewCached(inner Store, cache *redis.Cache, log *logger.Logger) *Cached {
	if log == nil {
		log = logger.Nop()
	}
	return &Cached{inner: inner, cache: cache, log: log}
}

// Load implements Store
func (c *Cached) Load(ctx context.Context, date time.Time) (*portfolio.Positions, error) {
	key := redis.SnapshotKey(contracts.TradingDate(date).Format(contracts.DateLayout))

	positions := portfolio.NewPositions()
	found, err := c.cache.Get(ctx, key, positions)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Snapshot cache read failed")
	}
	if found && err == nil {
		return positions, nil
	}

	positions, err = c.inner.Load(ctx, date)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, positions, redis.TTLSnapshot); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Snapshot cache write failed")
	}
	return positions, nil
}

// Save implements Store
func (c *Cached) Save(ctx context.Context, date time.Time, positions *portfolio.Positions) error {
	if err := c.inner.Save(ctx, date, positions); err != nil {
		return err
	}

	key := redis.SnapshotKey(contracts.TradingDate(date).Format(contracts.DateLayout))
	if err := c.cache.Set(ctx, key, positions, redis.TTLSnapshot); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Snapshot cache write failed")
	}
	return nil
}
