package portfolio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/daytrader/internal/contracts"
)

var (
	// ErrInvalidTransition is returned when a status change skips or reverses a state
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrOrderNotFound is returned when an id does not resolve in a position's arena
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidSnapshot is returned when a stored position cannot be rebuilt
	ErrInvalidSnapshot = errors.New("invalid position snapshot")
)

// Order is a limit order owned by exactly one Position
// ⭐ SSOT: Buy/Sell은 Direction 태그로 구분 (상속 대신 tagged variant)
// parent/primary 관계는 포인터가 아닌 id로 저장하고 Orders arena에서 조회
type Order struct {
	ID            uuid.UUID             `json:"id"`
	ClientOrderID string                `json:"clientOrderId,omitempty"`
	BrokerOrderID string                `json:"brokerOrderId,omitempty"`
	PositionID    uuid.UUID             `json:"positionId"`
	Direction     contracts.Direction   `json:"direction"`
	Symbol        string                `json:"symbol"`
	Status        contracts.OrderStatus `json:"status"`
	Quantity      int                   `json:"quantity"`
	LimitPrice    float64               `json:"limitPrice"`
	BasisPrice    float64               `json:"basisPrice"`
	PctFromBasis  float64               `json:"pctFromBasis"`
	ParentID      uuid.UUID             `json:"parentId"`
	PrimaryID     uuid.UUID             `json:"primaryId"`
	NumParents    int                   `json:"numParents"`

	// Buy 전용
	MaxUSD        float64 `json:"maxUsd,omitempty"`
	ImmediateFill bool    `json:"immediateFill,omitempty"`

	// Sell 전용
	BreakEven bool `json:"breakEven,omitempty"`

	PlacedAt       time.Time  `json:"placedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	AvgFilledPrice float64    `json:"avgFilledPrice"`
	FilledQty      int        `json:"filledQty"`
}

// RoundCents rounds a USD amount to cents (banker's rounding)
func RoundCents(v float64) float64 {
	return decimal.NewFromFloat(v).RoundBank(2).InexactFloat64()
}

// LimitFromBasis returns basis × (1 + pct) rounded to cents
func LimitFromBasis(basis, pct float64) float64 {
	b := decimal.NewFromFloat(basis)
	factor := decimal.NewFromFloat(1).Add(decimal.NewFromFloat(pct))
	return b.Mul(factor).RoundBank(2).InexactFloat64()
}

func newOrder(positionID uuid.UUID, dir contracts.Direction, symbol string, basis, pct float64, parent *Order) *Order {
	o := &Order{
		ID:           uuid.New(),
		PositionID:   positionID,
		Direction:    dir,
		Symbol:       symbol,
		Status:       contracts.StatusNotPlacedYet,
		BasisPrice:   basis,
		PctFromBasis: pct,
		LimitPrice:   LimitFromBasis(basis, pct),
	}
	if parent == nil {
		// primary order는 자기 자신이 primary
		o.PrimaryID = o.ID
		o.NumParents = 0
	} else {
		o.ParentID = parent.ID
		o.PrimaryID = parent.PrimaryID
		o.NumParents = parent.NumParents + 1
	}
	return o
}

// NewPrimaryBuy creates a ladder buy sized as floor(maxUSD / limit)
func NewPrimaryBuy(positionID uuid.UUID, symbol string, basis, pct, maxUSD float64) *Order {
	o := newOrder(positionID, contracts.DirectionBuy, symbol, basis, pct, nil)
	o.MaxUSD = maxUSD
	if o.LimitPrice > 0 {
		o.Quantity = int(math.Floor(maxUSD / o.LimitPrice))
	}
	return o
}

// NewCounterBuy creates a buy priced off a filled sell's limit
func NewCounterBuy(parentSell *Order, pct float64, qty int) *Order {
	o := newOrder(parentSell.PositionID, contracts.DirectionBuy, parentSell.Symbol, parentSell.LimitPrice, pct, parentSell)
	o.Quantity = qty
	return o
}

// NewCounterSell creates a sell priced off a filled buy's limit
func NewCounterSell(parentBuy *Order, pct float64, qty int) *Order {
	o := newOrder(parentBuy.PositionID, contracts.DirectionSell, parentBuy.Symbol, parentBuy.LimitPrice, pct, parentBuy)
	o.Quantity = qty
	return o
}

// NewBreakEvenSell creates a sell at an explicit limit price
func NewBreakEvenSell(parentBuy *Order, qty int, limit float64) *Order {
	o := newOrder(parentBuy.PositionID, contracts.DirectionSell, parentBuy.Symbol, limit, 0, parentBuy)
	o.Quantity = qty
	o.BreakEven = true
	return o
}

// IsBuy reports whether the order is a buy
func (o *Order) IsBuy() bool { return o.Direction == contracts.DirectionBuy }

// IsSell reports whether the order is a sell
func (o *Order) IsSell() bool { return o.Direction == contracts.DirectionSell }

// IsPrimary reports whether the order has no parent
func (o *Order) IsPrimary() bool { return o.NumParents == 0 }

// IsOpen reports whether the order is live at the brokerage
func (o *Order) IsOpen() bool { return o.Status == contracts.StatusOpen }

// IsOpenPrimaryBuy reports whether the order holds a primary buy slot
func (o *Order) IsOpenPrimaryBuy() bool {
	return o.IsBuy() && o.IsOpen() && o.IsPrimary()
}

// FilledUSD returns avg fill price × filled qty
func (o *Order) FilledUSD() float64 {
	return o.AvgFilledPrice * float64(o.FilledQty)
}

// LockedUSD returns limit × qty
func (o *Order) LockedUSD() float64 {
	return o.LimitPrice * float64(o.Quantity)
}

// Request builds the brokerage view of the order
func (o *Order) Request() contracts.OrderRequest {
	return contracts.OrderRequest{
		OrderID:       o.ID.String(),
		ClientOrderID: o.ClientOrderID,
		BrokerOrderID: o.BrokerOrderID,
		Symbol:        o.Symbol,
		Direction:     o.Direction,
		Quantity:      o.Quantity,
		LimitPrice:    o.LimitPrice,
	}
}

// MarkZeroQuantity terminates an order that was sized at zero and never placed
func (o *Order) MarkZeroQuantity() error {
	if o.Status != contracts.StatusNotPlacedYet || o.Quantity != 0 {
		return fmt.Errorf("%w: %s qty=%d -> %s", ErrInvalidTransition, o.Status, o.Quantity, contracts.StatusZeroQuantity)
	}
	o.Status = contracts.StatusZeroQuantity
	return nil
}

func (o *Order) transition(to contracts.OrderStatus) error {
	ok := false
	switch to {
	case contracts.StatusOpen:
		ok = o.Status == contracts.StatusNotPlacedYet
	case contracts.StatusFilled, contracts.StatusCancelled:
		ok = o.Status == contracts.StatusOpen
	}
	if !ok {
		return fmt.Errorf("%w: order %s %s -> %s", ErrInvalidTransition, o.ID, o.Status, to)
	}
	o.Status = to
	return nil
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s qty=%d limit=%.2f parents=%d status=%s",
		o.ID.String()[:8], o.Symbol, o.Direction, o.Quantity, o.LimitPrice, o.NumParents, o.Status)
}
