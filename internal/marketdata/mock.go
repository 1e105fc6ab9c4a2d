package marketdata

import (
	"context"
	"fmt"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/realtime/feed"
)

// MockMarketData serves fixed close bars and replays fixed ticks
type MockMarketData struct {
	bars    map[string][]contracts.ClosePriceBar
	ticks   []contracts.PriceUpdate
	workers int
}

// NewMockMarketData creates a mock market for one simulated day
func NewMockMarketData(bars map[string][]contracts.ClosePriceBar, ticks []contracts.PriceUpdate, workers int) *MockMarketData {
	return &MockMarketData{bars: bars, ticks: ticks, workers: workers}
}

// GetClosePriceBars returns the configured bars for symbols
func (m *MockMarketData) GetClosePriceBars(_ context.Context, symbols []string) (map[string][]contracts.ClosePriceBar, error) {
	out := make(map[string][]contracts.ClosePriceBar, len(symbols))
	for _, s := range symbols {
		bars, ok := m.bars[s]
		if !ok {
			return nil, fmt.Errorf("no close bars for %s", s)
		}
		out[s] = bars
	}
	return out, nil
}

// NewPriceSocket returns a replay of the day's ticks
func (m *MockMarketData) NewPriceSocket() contracts.PriceSocket {
	return feed.NewReplaySocket(m.ticks, m.workers)
}

// Ticks returns the replayed ticks
func (m *MockMarketData) Ticks() []contracts.PriceUpdate {
	return m.ticks
}
