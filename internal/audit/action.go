package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
)

// ActionType is what happened to an order
type ActionType string

const (
	ActionCreated      ActionType = "Created"
	ActionPlaced       ActionType = "Placed"
	ActionFilled       ActionType = "Filled"
	ActionCancelled    ActionType = "Cancelled"
	ActionZeroQuantity ActionType = "ZeroQuantity"
)

// Status returns the order status implied by the action
func (t ActionType) Status() (contracts.OrderStatus, error) {
	switch t {
	case ActionCreated:
		return contracts.StatusNotPlacedYet, nil
	case ActionPlaced:
		return contracts.StatusOpen, nil
	case ActionFilled:
		return contracts.StatusFilled, nil
	case ActionCancelled:
		return contracts.StatusCancelled, nil
	case ActionZeroQuantity:
		return contracts.StatusZeroQuantity, nil
	}
	return "", fmt.Errorf("unknown action type %q", t)
}

// OrderAction is an immutable record of an order changing category
// ⭐ SSOT: 주문 이력은 값 복사본으로만 기록 (라이브 Order 포인터 참조 금지)
type OrderAction struct {
	Seq            int64                 `json:"seq"`
	Date           time.Time             `json:"date"`
	Round          int64                 `json:"round"`
	Type           ActionType            `json:"type"`
	OrderID        uuid.UUID             `json:"order_id"`
	PositionID     uuid.UUID             `json:"position_id"`
	ParentID       uuid.UUID             `json:"parent_id"`
	NumParents     int                   `json:"num_parents"`
	Symbol         string                `json:"symbol"`
	Direction      contracts.Direction   `json:"direction"`
	Status         contracts.OrderStatus `json:"status"`
	Quantity       int                   `json:"quantity"`
	LimitPrice     float64               `json:"limit_price"`
	AvgFilledPrice float64               `json:"avg_filled_price"`
	FilledQty      int                   `json:"filled_qty"`
	BreakEven      bool                  `json:"break_even,omitempty"`
	RecordedAt     time.Time             `json:"recorded_at"`
}

// NewOrderAction snapshots the order as it is right now
func NewOrderAction(date time.Time, round int64, t ActionType, o *portfolio.Order, at time.Time) OrderAction {
	return OrderAction{
		Date:           date,
		Round:          round,
		Type:           t,
		OrderID:        o.ID,
		PositionID:     o.PositionID,
		ParentID:       o.ParentID,
		NumParents:     o.NumParents,
		Symbol:         o.Symbol,
		Direction:      o.Direction,
		Status:         o.Status,
		Quantity:       o.Quantity,
		LimitPrice:     o.LimitPrice,
		AvgFilledPrice: o.AvgFilledPrice,
		FilledQty:      o.FilledQty,
		BreakEven:      o.BreakEven,
		RecordedAt:     at,
	}
}

// IsFill reports whether the action records a fill
func (a OrderAction) IsFill() bool {
	return a.Type == ActionFilled
}

// FilledUSD returns avg fill price × filled qty
func (a OrderAction) FilledUSD() float64 {
	return a.AvgFilledPrice * float64(a.FilledQty)
}

// RenewalType distinguishes the two day-boundary resets
type RenewalType string

const (
	// RenewalRefresh replaces a position that never had a buy fill
	RenewalRefresh RenewalType = "Refresh"
	// RenewalRenewal replaces a position with filled buys and no open sell
	RenewalRenewal RenewalType = "Renewal"
)

// RenewalAction records a position being retired at a day boundary
type RenewalAction struct {
	Seq           int64       `json:"seq"`
	Date          time.Time   `json:"date"`
	Type          RenewalType `json:"type"`
	Symbol        string      `json:"symbol"`
	PositionID    uuid.UUID   `json:"position_id"`
	FilledBuys    int         `json:"filled_buys"`
	FilledSells   int         `json:"filled_sells"`
	FilledBuyUSD  float64     `json:"filled_buy_usd"`
	FilledSellUSD float64     `json:"filled_sell_usd"`
}

// NewRenewalAction snapshots the retiring position
func NewRenewalAction(date time.Time, t RenewalType, p *portfolio.Position) RenewalAction {
	_, buyUSD := p.Orders.FilledBuyTotals()
	_, sellUSD := p.Orders.FilledSellTotals()
	return RenewalAction{
		Date:          date,
		Type:          t,
		Symbol:        p.Symbol,
		PositionID:    p.ID,
		FilledBuys:    len(p.Orders.Filled.Buys),
		FilledSells:   len(p.Orders.Filled.Sells),
		FilledBuyUSD:  buyUSD,
		FilledSellUSD: sellUSD,
	}
}
