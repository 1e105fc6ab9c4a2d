package lifecycle

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wonny/daytrader/pkg/logger"
)

// FaultQueue collects fatal errors raised on any goroutine
// ⭐ SSOT: 치명적 오류는 모두 이 큐로 모이고, 드라이버 루프가 매 주기 확인
type FaultQueue struct {
	mu     sync.Mutex
	faults []error
	count  atomic.Int32
	logger *logger.Logger
}

// NewFaultQueue creates an empty fault queue
func NewFaultQueue(log *logger.Logger) *FaultQueue {
	return &FaultQueue{logger: log.Channel(logger.ChannelError)}
}

// Add records a fault and logs it immediately
func (q *FaultQueue) Add(err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	q.faults = append(q.faults, err)
	q.mu.Unlock()
	q.count.Add(1)

	q.logger.WithError(err).Error("Fault recorded")
}

// HasFaults reports whether any fault was recorded
func (q *FaultQueue) HasFaults() bool {
	return q.count.Load() > 0
}

// Faults returns a copy of the recorded faults
func (q *FaultQueue) Faults() []error {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]error, len(q.faults))
	copy(out, q.faults)
	return out
}

// Err joins every fault, or returns nil
func (q *FaultQueue) Err() error {
	return errors.Join(q.Faults()...)
}

// Flush writes every recorded fault to the log
func (q *FaultQueue) Flush() {
	for i, err := range q.Faults() {
		q.logger.WithFields(map[string]interface{}{
			"index": i,
			"total": q.count.Load(),
		}).WithError(err).Error("Unhandled fault")
	}
}
