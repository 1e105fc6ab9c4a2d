package feed

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/wonny/daytrader/internal/contracts"
)

// ReplaySocket pushes a fixed list of quotes, as recorded, to the handler
// workers > 1 이면 심볼별로 분산해 여러 goroutine에서 동시에 전달 (심볼 내 순서는 유지)
type ReplaySocket struct {
	ticks   []contracts.PriceUpdate
	workers int

	mu      sync.Mutex
	handler func(contracts.PriceUpdate)
	cancel  context.CancelFunc
	started bool

	wg     sync.WaitGroup
	done   atomic.Bool
	pushed atomic.Int64
}

// NewReplaySocket creates a socket that replays ticks in slice order
func NewReplaySocket(ticks []contracts.PriceUpdate, workers int) *ReplaySocket {
	if workers < 1 {
		workers = 1
	}
	return &ReplaySocket{ticks: ticks, workers: workers}
}

// OnPriceUpdate sets the quote handler
func (s *ReplaySocket) OnPriceUpdate(handler func(contracts.PriceUpdate)) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Connect is a no-op
func (s *ReplaySocket) Connect(context.Context) error {
	return nil
}

// Subscribe starts the replay; symbols are ignored since the data set decides what is sent
func (s *ReplaySocket) Subscribe(ctx context.Context, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler == nil {
		return errors.New("replay socket has no handler")
	}
	if s.started {
		return errors.New("replay socket already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	shards := s.shard()
	handler := s.handler

	s.wg.Add(len(shards))
	for _, ticks := range shards {
		go func(ticks []contracts.PriceUpdate) {
			defer s.wg.Done()
			for _, t := range ticks {
				if ctx.Err() != nil {
					return
				}
				handler(t)
				s.pushed.Add(1)
			}
		}(ticks)
	}

	go func() {
		s.wg.Wait()
		s.done.Store(true)
	}()
	return nil
}

// shard splits ticks across workers by symbol hash
func (s *ReplaySocket) shard() [][]contracts.PriceUpdate {
	if s.workers == 1 {
		return [][]contracts.PriceUpdate{s.ticks}
	}
	shards := make([][]contracts.PriceUpdate, s.workers)
	for _, t := range s.ticks {
		h := fnv.New32a()
		h.Write([]byte(t.Symbol))
		i := int(h.Sum32() % uint32(s.workers))
		shards[i] = append(shards[i], t)
	}
	return shards
}

// Closed reports whether every tick has been pushed (or the replay was cancelled)
func (s *ReplaySocket) Closed() bool {
	return s.done.Load()
}

// Pushed returns how many ticks reached the handler
func (s *ReplaySocket) Pushed() int64 {
	return s.pushed.Load()
}

// Close cancels the replay and waits for the pushers
func (s *ReplaySocket) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.done.Store(true)
	return nil
}
