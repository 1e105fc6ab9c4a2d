package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/daytrader/internal/lifecycle"
	"github.com/wonny/daytrader/pkg/logger"
)

type recorder struct {
	mu        sync.Mutex
	seen      []string
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (r *recorder) handle(_ context.Context, item string) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		cur := r.maxFlight.Load()
		if n <= cur || r.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	time.Sleep(2 * time.Millisecond)

	r.mu.Lock()
	r.seen = append(r.seen, item)
	r.mu.Unlock()
	return nil
}

func (r *recorder) items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	copy(out, r.seen)
	return out
}

func TestSequentialProcessesInEnqueueOrder(t *testing.T) {
	faults := lifecycle.NewFaultQueue(logger.Nop())
	q := NewSequential[string]("ticks", 30*time.Millisecond, faults, logger.Nop())
	rec := &recorder{}
	q.Subscribe(rec.handle)

	// 서로 다른 goroutine에서 A, B, C 순서로 enqueue (settle 구간 내)
	for _, item := range []string{"A", "B", "C"} {
		done := make(chan struct{})
		go func(item string) {
			defer close(done)
			q.Enqueue(item)
		}(item)
		<-done
	}

	require.Eventually(t, q.Idle, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"A", "B", "C"}, rec.items())
	assert.True(t, q.IsEmpty())
	assert.Equal(t, int32(1), rec.maxFlight.Load())
	assert.Equal(t, int64(3), q.Processed())
	assert.False(t, faults.HasFaults())
}

func TestSequentialEnqueueDuringDrain(t *testing.T) {
	faults := lifecycle.NewFaultQueue(logger.Nop())
	q := NewSequential[string]("ticks", 0, faults, logger.Nop())
	rec := &recorder{}

	q.Subscribe(func(ctx context.Context, item string) error {
		if item == "B" {
			q.Enqueue("D")
		}
		return rec.handle(ctx, item)
	})

	q.Enqueue("A")
	q.Enqueue("B")
	q.Enqueue("C")

	require.Eventually(t, func() bool { return q.Idle() && q.Processed() == 4 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"A", "B", "C", "D"}, rec.items())
	assert.Equal(t, int32(1), rec.maxFlight.Load())
	assert.False(t, faults.HasFaults())
}

func TestSequentialConcurrentProducers(t *testing.T) {
	faults := lifecycle.NewFaultQueue(logger.Nop())
	q := NewSequential[int]("ticks", time.Millisecond, faults, logger.Nop())

	var inFlight, maxFlight atomic.Int32
	var total atomic.Int64
	q.Subscribe(func(_ context.Context, item int) error {
		n := inFlight.Add(1)
		if n > maxFlight.Load() {
			maxFlight.Store(n)
		}
		total.Add(int64(item))
		inFlight.Add(-1)
		return nil
	})

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 50; i++ {
				q.Enqueue(i)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return q.Idle() && q.Processed() == 400 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(8*50*51/2), total.Load())
	assert.Equal(t, int32(1), maxFlight.Load())
	assert.False(t, faults.HasFaults())
}

func TestSequentialHandlerErrorAbortsDrain(t *testing.T) {
	faults := lifecycle.NewFaultQueue(logger.Nop())
	q := NewSequential[string]("ticks", 20*time.Millisecond, faults, logger.Nop())
	rec := &recorder{}
	boom := errors.New("boom")

	q.Subscribe(func(ctx context.Context, item string) error {
		if item == "B" {
			return boom
		}
		return rec.handle(ctx, item)
	})

	q.Enqueue("A")
	q.Enqueue("B")
	q.Enqueue("C")

	require.Eventually(t, faults.HasFaults, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !q.running.Load() }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"A"}, rec.items())
	assert.ErrorIs(t, faults.Err(), boom)
	assert.Equal(t, 1, q.Len(), "C stays queued, B is not re-queued")

	// 폴트 이후 enqueue는 무시됨
	q.Enqueue("D")
	assert.Equal(t, 1, q.Len())
}

func TestSequentialRequestStop(t *testing.T) {
	faults := lifecycle.NewFaultQueue(logger.Nop())
	q := NewSequential[string]("ticks", 0, faults, logger.Nop())
	require.NoError(t, q.Start(context.Background()))

	release := make(chan struct{})
	var seen atomic.Int32
	q.Subscribe(func(_ context.Context, _ string) error {
		seen.Add(1)
		<-release
		return nil
	})

	q.Enqueue("A")
	q.Enqueue("B")
	require.Eventually(t, func() bool { return seen.Load() == 1 }, time.Second, time.Millisecond)

	q.RequestStop()
	close(release)
	q.Join()

	assert.Equal(t, int32(1), seen.Load(), "cancel is checked between items")
	assert.Equal(t, 1, q.Len())
	assert.Error(t, q.Start(context.Background()))
}
