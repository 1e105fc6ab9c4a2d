package jobs

import (
	"context"
	"errors"

	"github.com/wonny/daytrader/internal/runner"
	"github.com/wonny/daytrader/pkg/logger"
)

// DayRunner runs one trading day
type DayRunner interface {
	RunDay(ctx context.Context) error
}

// TradingDayJob starts the live trading day at market open
// ⭐ SSOT: 실거래 일자 스케줄은 이 Job에서만
type TradingDayJob struct {
	runner   DayRunner
	schedule string
	logger   *logger.Logger
}

// NewTradingDayJob creates a trading day job on the given cron schedule
func NewTradingDayJob(r DayRunner, schedule string, log *logger.Logger) *TradingDayJob {
	return &TradingDayJob{
		runner:   r,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *TradingDayJob) Name() string {
	return "trading_day"
}

// Schedule returns the cron schedule (weekdays before the open)
func (j *TradingDayJob) Schedule() string {
	return j.schedule
}

// MaxRetries disables retries; a failed day must not be restarted mid-session
func (j *TradingDayJob) MaxRetries() int {
	return 0
}

// Run trades one day
func (j *TradingDayJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled trading day")

	err := j.runner.RunDay(ctx)
	if errors.Is(err, runner.ErrDayRunning) {
		j.logger.Warn("Trading day already running, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	j.logger.Info("Scheduled trading day completed")
	return nil
}
