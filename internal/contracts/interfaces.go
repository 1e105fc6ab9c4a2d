package contracts

import (
	"context"
)

// Brokerage places, cancels and polls limit orders
// ⭐ SSOT: 증권사 연동 인터페이스는 여기서만 정의
// error는 전송 실패, Success=false는 브로커가 요청을 거부한 경우
type Brokerage interface {
	PlaceLimitBuy(ctx context.Context, req OrderRequest) (*PlaceOrderResponse, error)
	PlaceLimitSell(ctx context.Context, req OrderRequest) (*PlaceOrderResponse, error)
	CancelOrder(ctx context.Context, req OrderRequest) (*CancelOrderResponse, error)
	GetAccountData(ctx context.Context) (*AccountDataResponse, error)
	GetOrderStatus(ctx context.Context, req OrderRequest) (*OrderStatusResponse, error)
}

// MarketData provides historical closes and a live quote stream
// ⭐ SSOT: 시세 연동 인터페이스는 여기서만 정의
type MarketData interface {
	// GetClosePriceBars returns the last N daily closes per symbol
	GetClosePriceBars(ctx context.Context, symbols []string) (map[string][]ClosePriceBar, error)

	// NewPriceSocket returns an unconnected quote stream
	NewPriceSocket() PriceSocket
}

// PriceSocket pushes quotes for subscribed symbols
// Handler는 여러 goroutine에서 동시에 호출될 수 있음
type PriceSocket interface {
	OnPriceUpdate(handler func(PriceUpdate))
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error

	// Closed reports whether the stream has ended and will deliver nothing more
	Closed() bool
	Close() error
}
