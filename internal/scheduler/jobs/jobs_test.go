package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/realtime"
	"github.com/wonny/daytrader/internal/realtime/cache"
	"github.com/wonny/daytrader/internal/runner"
	"github.com/wonny/daytrader/pkg/logger"
)

type fakeRunner struct {
	err   error
	calls int
}

func (r *fakeRunner) RunDay(context.Context) error {
	r.calls++
	return r.err
}

func TestTradingDayJob(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"already running is skipped", runner.ErrDayRunning, false},
		{"failure", errors.New("broker down"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{err: tt.err}
			job := NewTradingDayJob(r, "0 25 13 * * MON-FRI", logger.Nop())

			err := job.Run(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 1, r.calls)
			assert.Equal(t, "trading_day", job.Name())
			assert.Equal(t, "0 25 13 * * MON-FRI", job.Schedule())
			assert.Equal(t, 0, job.MaxRetries())
		})
	}
}

func TestQuoteCacheResetJob(t *testing.T) {
	quotes := cache.NewQuoteCache(time.Minute, logger.Nop())
	quotes.Update(contracts.PriceUpdate{Symbol: "SPY", Bid: 500, Ask: 500.1, Time: time.Now()}, realtime.SourceStream)

	job := NewQuoteCacheResetJob(quotes, "", logger.Nop())
	assert.Equal(t, "0 30 20 * * MON-FRI", job.Schedule())

	assert.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, quotes.Len())
}
