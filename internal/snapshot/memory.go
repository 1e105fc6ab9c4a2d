package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
)

// MemoryStore keeps encoded snapshots in memory
// 인코딩된 바이트로 보관하므로 Load는 항상 독립된 객체 그래프를 반환
type MemoryStore struct {
	mu    sync.RWMutex
	byDay map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byDay: make(map[string][]byte)}
}

// Load implements Store
func (s *MemoryStore) Load(_ context.Context, date time.Time) (*portfolio.Positions, error) {
	s.mu.RLock()
	data, ok := s.byDay[dateKey(date)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(data)
}

// Save implements Store
func (s *MemoryStore) Save(_ context.Context, date time.Time, positions *portfolio.Positions) error {
	data, err := Encode(positions)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.byDay[dateKey(date)] = data
	s.mu.Unlock()
	return nil
}

// Dates returns the stored dates in ascending order
func (s *MemoryStore) Dates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byDay))
	for d := range s.byDay {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Encode serializes positions as the snapshot JSON document
func Encode(positions *portfolio.Positions) ([]byte, error) {
	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot JSON document
func Decode(data []byte) (*portfolio.Positions, error) {
	positions := portfolio.NewPositions()
	if err := json.Unmarshal(data, positions); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return positions, nil
}

func dateKey(date time.Time) string {
	return contracts.TradingDate(date).Format(contracts.DateLayout)
}
