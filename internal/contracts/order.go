package contracts

import (
	"fmt"
	"time"
)

// Direction is the side of a limit order
// ⭐ SSOT: 주문 방향은 여기서만 정의
type Direction string

const (
	DirectionBuy  Direction = "Buy"
	DirectionSell Direction = "Sell"
)

// OrderStatus is the lifecycle state of an order
// NotPlacedYet → Open → Filled | Cancelled, ZeroQuantity는 종료 상태
type OrderStatus string

const (
	StatusNotPlacedYet OrderStatus = "NotPlacedYet"
	StatusOpen         OrderStatus = "Open"
	StatusFilled       OrderStatus = "Filled"
	StatusCancelled    OrderStatus = "Cancelled"
	StatusZeroQuantity OrderStatus = "ZeroQuantity"
)

// ParseOrderStatus converts a status name into an OrderStatus
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case StatusNotPlacedYet, StatusOpen, StatusFilled, StatusCancelled, StatusZeroQuantity:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsTerminal reports whether no further transition is possible
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusZeroQuantity
}

// OrderRequest is what a brokerage adapter needs to know about an order
type OrderRequest struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	Quantity      int       `json:"quantity"`
	LimitPrice    float64   `json:"limit_price"`
}

// PlaceOrderResponse is the result of a limit order submission
type PlaceOrderResponse struct {
	Success       bool   `json:"success"`
	RawStatus     string `json:"raw_status"`
	BrokerOrderID string `json:"broker_order_id"`
	ClientOrderID string `json:"client_order_id"`
}

// CancelOrderResponse is the result of a cancel request
type CancelOrderResponse struct {
	Success bool `json:"success"`
}

// OrderStatusData is the brokerage's view of an order
type OrderStatusData struct {
	Status         OrderStatus `json:"status"`
	AvgFilledPrice float64     `json:"avg_filled_price"`
	FilledQty      int         `json:"filled_qty"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	FilledAt       *time.Time  `json:"filled_at,omitempty"`
}

// OrderStatusResponse wraps a status poll
type OrderStatusResponse struct {
	Success   bool            `json:"success"`
	RawStatus string          `json:"raw_status"`
	Data      OrderStatusData `json:"data"`
}

// AccountData holds the account fields the engine tracks
type AccountData struct {
	FreeUSDBalance float64 `json:"free_usd_balance"`
}

// AccountDataResponse wraps an account query
type AccountDataResponse struct {
	Success bool        `json:"success"`
	Data    AccountData `json:"data"`
}
