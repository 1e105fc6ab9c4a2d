package jobs

import (
	"context"

	"github.com/wonny/daytrader/internal/realtime/cache"
	"github.com/wonny/daytrader/pkg/logger"
)

// QuoteCacheResetJob clears yesterday's quotes after the close
type QuoteCacheResetJob struct {
	cache    *cache.QuoteCache
	schedule string
	logger   *logger.Logger
}

// NewQuoteCacheResetJob creates a new quote cache reset job
func NewQuoteCacheResetJob(quotes *cache.QuoteCache, schedule string, log *logger.Logger) *QuoteCacheResetJob {
	if schedule == "" {
		schedule = "0 30 20 * * MON-FRI" // 장 마감 후 (UTC)
	}
	return &QuoteCacheResetJob{
		cache:    quotes,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *QuoteCacheResetJob) Name() string {
	return "quote_cache_reset"
}

// Schedule returns the cron schedule
func (j *QuoteCacheResetJob) Schedule() string {
	return j.schedule
}

// Run clears the quote cache
func (j *QuoteCacheResetJob) Run(ctx context.Context) error {
	n := j.cache.Len()
	j.cache.Clear()

	if n > 0 {
		j.logger.WithField("removed", n).Info("Quote cache reset")
	}

	return nil
}
