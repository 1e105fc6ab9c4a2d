package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/pkg/logger"
)

// MockBroker implements contracts.Brokerage for simulations and tests
// ⭐ 실제 운영에서는 HTTPBroker 사용
// 모든 주문은 접수되고, 상태 조회 시 전량 체결로 응답 (체결 시각은 엔진 clock)
type MockBroker struct {
	mu          sync.Mutex
	account     contracts.AccountData
	filledPrice map[string]float64 // order id → 체결가 (없으면 limit)
	log         *logger.Logger

	placed    int
	cancelled int
	polls     int
}

// NewMockBroker creates a mock broker with the given free balance
func NewMockBroker(freeUSD float64, log *logger.Logger) *MockBroker {
	if log == nil {
		log = logger.Nop()
	}
	return &MockBroker{
		account:     contracts.AccountData{FreeUSDBalance: freeUSD},
		filledPrice: make(map[string]float64),
		log:         log,
	}
}

// PlaceLimitBuy accepts the order
func (b *MockBroker) PlaceLimitBuy(_ context.Context, req contracts.OrderRequest) (*contracts.PlaceOrderResponse, error) {
	return b.place(req)
}

// PlaceLimitSell accepts the order
func (b *MockBroker) PlaceLimitSell(_ context.Context, req contracts.OrderRequest) (*contracts.PlaceOrderResponse, error) {
	return b.place(req)
}

func (b *MockBroker) place(req contracts.OrderRequest) (*contracts.PlaceOrderResponse, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be greater than zero: %s", req.OrderID)
	}

	b.mu.Lock()
	b.placed++
	b.mu.Unlock()

	resp := &contracts.PlaceOrderResponse{
		Success:       true,
		RawStatus:     "new",
		BrokerOrderID: "MOCK-" + req.OrderID,
		ClientOrderID: req.OrderID,
	}
	b.log.Channel(logger.ChannelAPIPlaceOrder).WithFields(map[string]interface{}{
		"order_id":  req.OrderID,
		"symbol":    req.Symbol,
		"direction": req.Direction,
		"qty":       req.Quantity,
		"limit":     req.LimitPrice,
		"success":   resp.Success,
	}).Info("Place limit order")
	return resp, nil
}

// CancelOrder always succeeds
func (b *MockBroker) CancelOrder(_ context.Context, req contracts.OrderRequest) (*contracts.CancelOrderResponse, error) {
	b.mu.Lock()
	b.cancelled++
	b.mu.Unlock()

	b.log.Channel(logger.ChannelAPICancelOrder).WithField("order_id", req.OrderID).Info("Cancel order")
	return &contracts.CancelOrderResponse{Success: true}, nil
}

// GetAccountData returns the balance last set by SetFreeUSD
func (b *MockBroker) GetAccountData(_ context.Context) (*contracts.AccountDataResponse, error) {
	b.mu.Lock()
	account := b.account
	b.mu.Unlock()

	b.log.Channel(logger.ChannelAPIGetAccount).WithField("free_usd", account.FreeUSDBalance).Info("Get account")
	return &contracts.AccountDataResponse{Success: true, Data: account}, nil
}

// GetOrderStatus reports a full fill at the recorded fill price or the limit
func (b *MockBroker) GetOrderStatus(_ context.Context, req contracts.OrderRequest) (*contracts.OrderStatusResponse, error) {
	b.mu.Lock()
	b.polls++
	price, ok := b.filledPrice[req.OrderID]
	b.mu.Unlock()
	if !ok {
		price = req.LimitPrice
	}

	data := contracts.OrderStatusData{
		Status:         contracts.StatusFilled,
		AvgFilledPrice: price,
		FilledQty:      req.Quantity,
	}
	b.log.Channel(logger.ChannelAPIGetOrderStatus).WithFields(map[string]interface{}{
		"order_id": req.OrderID,
		"status":   data.Status,
		"price":    price,
		"qty":      data.FilledQty,
	}).Info("Get order status")
	return &contracts.OrderStatusResponse{Success: true, RawStatus: "filled", Data: data}, nil
}

// SetFreeUSD sets the balance reported by GetAccountData
func (b *MockBroker) SetFreeUSD(v float64) {
	b.mu.Lock()
	b.account.FreeUSDBalance = v
	b.mu.Unlock()
}

// SetFilledPrice makes the next status poll for orderID report price
func (b *MockBroker) SetFilledPrice(orderID string, price float64) {
	b.mu.Lock()
	b.filledPrice[orderID] = price
	b.mu.Unlock()
}

// Counts returns the number of place, cancel and status calls
func (b *MockBroker) Counts() (placed, cancelled, polls int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.placed, b.cancelled, b.polls
}
