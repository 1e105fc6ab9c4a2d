package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/realtime"
	"github.com/wonny/daytrader/pkg/logger"
	"github.com/wonny/daytrader/pkg/redis"
)

// QuoteCache keeps the latest quote per symbol for read-side consumers (API, reports)
// ⭐ SSOT: 실시간 호가 캐싱은 이 구조체에서만
// 엔진은 이 캐시를 읽지 않음 (엔진 입력은 throttle 큐만)
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]*realtime.Quote
	ttl    time.Duration
	now    func() time.Time
	logger *logger.Logger
}

// NewQuoteCache creates a quote cache; quotes older than ttl are flagged stale
func NewQuoteCache(ttl time.Duration, log *logger.Logger) *QuoteCache {
	if log == nil {
		log = logger.Nop()
	}
	return &QuoteCache{
		quotes: make(map[string]*realtime.Quote),
		ttl:    ttl,
		now:    time.Now,
		logger: log,
	}
}

// Update stores p unless a newer quote (or same-time quote from a better source) exists
func (c *QuoteCache) Update(p contracts.PriceUpdate, source realtime.QuoteSource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.quotes[p.Symbol]; ok {
		if p.Time.Before(existing.Time) {
			return false
		}
		if p.Time.Equal(existing.Time) && source.Priority() <= existing.Source.Priority() {
			return false
		}
	}

	c.quotes[p.Symbol] = &realtime.Quote{
		PriceUpdate: p,
		Source:      source,
		ReceivedAt:  c.now(),
	}
	return true
}

// Get returns a copy of the quote for symbol
func (c *QuoteCache) Get(symbol string) (realtime.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[symbol]
	if !ok {
		return realtime.Quote{}, false
	}
	return c.view(q), true
}

// GetAll returns copies of every quote sorted by symbol
func (c *QuoteCache) GetAll() []realtime.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]realtime.Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, c.view(q))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (c *QuoteCache) view(q *realtime.Quote) realtime.Quote {
	v := *q
	v.IsStale = c.ttl > 0 && c.now().Sub(q.ReceivedAt) > c.ttl
	return v
}

// Len returns the number of cached symbols
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

// Clear drops every quote
func (c *QuoteCache) Clear() {
	c.mu.Lock()
	c.quotes = make(map[string]*realtime.Quote)
	c.mu.Unlock()
}

// Mirror writes every quote to Redis under QuoteKey
func (c *QuoteCache) Mirror(ctx context.Context, rc *redis.Cache) error {
	for _, q := range c.GetAll() {
		if err := rc.Set(ctx, redis.QuoteKey(q.Symbol), q, redis.TTLShort); err != nil {
			return fmt.Errorf("failed to mirror quote %s: %w", q.Symbol, err)
		}
	}
	return nil
}

// Stats returns cache statistics
func (c *QuoteCache) Stats() CacheStats {
	quotes := c.GetAll()
	stats := CacheStats{TotalCount: len(quotes), BySource: make(map[realtime.QuoteSource]int)}
	for _, q := range quotes {
		if q.IsStale {
			stats.StaleCount++
		}
		stats.BySource[q.Source]++
	}
	stats.FreshCount = stats.TotalCount - stats.StaleCount
	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	TotalCount int                          `json:"total_count"`
	FreshCount int                          `json:"fresh_count"`
	StaleCount int                          `json:"stale_count"`
	BySource   map[realtime.QuoteSource]int `json:"by_source"`
}
