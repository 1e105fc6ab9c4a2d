package realtime

import (
	"time"

	"github.com/wonny/daytrader/internal/contracts"
)

// Quote is the latest bid/ask for a symbol as seen by the quote cache
// ⭐ SSOT: 실시간 호가 캐시 데이터 구조
type Quote struct {
	contracts.PriceUpdate
	Source     QuoteSource `json:"source"`
	ReceivedAt time.Time   `json:"received_at"`
	IsStale    bool        `json:"is_stale"` // 오래된 데이터 여부
}

// QuoteSource identifies where a quote came from
type QuoteSource string

const (
	SourceStream QuoteSource = "STREAM" // websocket
	SourceReplay QuoteSource = "REPLAY" // 시뮬레이션 재생
	SourceREST   QuoteSource = "REST"
)

// Priority returns the source priority (higher = better)
func (s QuoteSource) Priority() int {
	switch s {
	case SourceStream:
		return 3
	case SourceReplay:
		return 2
	case SourceREST:
		return 1
	default:
		return 0
	}
}
