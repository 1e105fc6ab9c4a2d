package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/daytrader/internal/lifecycle"
	"github.com/wonny/daytrader/pkg/logger"
)

// ErrConcurrentConsumer is reported when a second drain becomes active
var ErrConcurrentConsumer = errors.New("more than one active queue consumer")

// Handler processes one queued item
type Handler[T any] func(ctx context.Context, item T) error

// Sequential hands enqueued items to a single consumer in enqueue order
// ⭐ SSOT: 가격 업데이트는 여기서 한 번에 하나씩만 엔진으로 전달
// 생산자는 어느 goroutine에서든 Enqueue 가능, 소비자는 항상 최대 1개
type Sequential[T any] struct {
	name   string
	settle time.Duration
	faults *lifecycle.FaultQueue
	logger *logger.Logger

	mu      sync.Mutex
	items   []T
	handler Handler[T]

	running atomic.Bool
	active  atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	stopMu  sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	processed atomic.Int64
}

// NewSequential creates a queue; settle is the pause before each drain starts
func NewSequential[T any](name string, settle time.Duration, faults *lifecycle.FaultQueue, log *logger.Logger) *Sequential[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequential[T]{
		name:   name,
		settle: settle,
		faults: faults,
		logger: log.WithField("queue", name),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe sets the consumer
func (q *Sequential[T]) Subscribe(h Handler[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// Name returns the queue name
func (q *Sequential[T]) Name() string {
	return q.name
}

// Start binds the queue to a parent context
func (q *Sequential[T]) Start(ctx context.Context) error {
	q.stopMu.Lock()
	defer q.stopMu.Unlock()

	if q.stopped {
		return fmt.Errorf("queue %s already stopped", q.name)
	}
	q.cancel()
	q.ctx, q.cancel = context.WithCancel(ctx)
	return nil
}

// Enqueue appends an item and starts a consumer if none is running
// 폴트가 있으면 새 항목을 받지 않음
func (q *Sequential[T]) Enqueue(item T) {
	if q.faults.HasFaults() {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.runIfNotRunning()
}

// IsEmpty reports whether no item is waiting
func (q *Sequential[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of waiting items
func (q *Sequential[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports whether the queue is empty and no consumer is running
func (q *Sequential[T]) Idle() bool {
	return q.IsEmpty() && !q.running.Load()
}

// Processed returns how many items the consumer completed
func (q *Sequential[T]) Processed() int64 {
	return q.processed.Load()
}

// RequestStop cancels the consumer between items
func (q *Sequential[T]) RequestStop() {
	q.stopMu.Lock()
	q.stopped = true
	cancel := q.cancel
	q.stopMu.Unlock()
	cancel()
}

// Join waits for the running consumer to return
func (q *Sequential[T]) Join() {
	q.stopMu.Lock()
	q.stopped = true
	q.stopMu.Unlock()
	q.wg.Wait()
}

func (q *Sequential[T]) runIfNotRunning() {
	if !q.running.CompareAndSwap(false, true) {
		return
	}

	q.stopMu.Lock()
	if q.stopped {
		q.stopMu.Unlock()
		q.running.Store(false)
		return
	}
	q.wg.Add(1)
	ctx := q.ctx
	q.stopMu.Unlock()

	go q.drain(ctx)
}

func (q *Sequential[T]) drain(ctx context.Context) {
	defer q.wg.Done()

	for {
		q.activation(ctx)
		q.running.Store(false)

		// 플래그 해제 직후 들어온 항목이 유실되지 않도록 재확인
		if q.IsEmpty() || q.faults.HasFaults() || ctx.Err() != nil {
			return
		}
		if !q.running.CompareAndSwap(false, true) {
			return
		}
	}
}

func (q *Sequential[T]) activation(ctx context.Context) {
	if n := q.active.Add(1); n > 1 {
		q.faults.Add(fmt.Errorf("%w: queue=%s active=%d", ErrConcurrentConsumer, q.name, n))
	}
	defer q.active.Add(-1)

	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()
	if handler == nil {
		q.faults.Add(fmt.Errorf("queue %s has no subscriber", q.name))
		return
	}

	if q.settle > 0 {
		timer := time.NewTimer(q.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	for {
		if ctx.Err() != nil {
			q.logger.Debug("Drain cancelled")
			return
		}
		item, ok := q.pop()
		if !ok {
			return
		}
		if err := handler(ctx, item); err != nil {
			q.faults.Add(fmt.Errorf("failed to process %s item: %w", q.name, err))
			return
		}
		q.processed.Add(1)
	}
}

func (q *Sequential[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}
