package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/daytrader/internal/contracts"
)

// OrderList is one category of orders split by direction
type OrderList struct {
	Buys  []*Order
	Sells []*Order
}

// Len returns the number of orders in both directions
func (l *OrderList) Len() int {
	return len(l.Buys) + len(l.Sells)
}

// All returns buys followed by sells
func (l *OrderList) All() []*Order {
	out := make([]*Order, 0, l.Len())
	out = append(out, l.Buys...)
	return append(out, l.Sells...)
}

func (l *OrderList) add(o *Order) {
	if o.IsBuy() {
		l.Buys = append(l.Buys, o)
	} else {
		l.Sells = append(l.Sells, o)
	}
}

func (l *OrderList) contains(o *Order) bool {
	list := l.Sells
	if o.IsBuy() {
		list = l.Buys
	}
	for _, cur := range list {
		if cur == o {
			return true
		}
	}
	return false
}

func (l *OrderList) remove(o *Order) bool {
	list := &l.Sells
	if o.IsBuy() {
		list = &l.Buys
	}
	for i, cur := range *list {
		if cur == o {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// Orders is the per-position arena of orders plus the Current/Filled/Cancelled lists
// ⭐ SSOT: 주문은 세 리스트 중 정확히 하나에만 존재
type Orders struct {
	byID map[uuid.UUID]*Order
	seq  []uuid.UUID

	Current   OrderList
	Filled    OrderList
	Cancelled OrderList

	closestOpenBuy  *Order
	closestOpenSell *Order
}

// NewOrders creates an empty aggregate
func NewOrders() *Orders {
	return &Orders{byID: make(map[uuid.UUID]*Order)}
}

// Add registers new orders in the arena and the Current list
func (ol *Orders) Add(orders ...*Order) error {
	for _, o := range orders {
		if _, exists := ol.byID[o.ID]; exists {
			return fmt.Errorf("order %s already exists", o.ID)
		}
		ol.byID[o.ID] = o
		ol.seq = append(ol.seq, o.ID)
		ol.Current.add(o)
	}
	return nil
}

// Get resolves an order id
func (ol *Orders) Get(id uuid.UUID) (*Order, bool) {
	o, ok := ol.byID[id]
	return o, ok
}

// Parent returns the order's parent, or nil for a primary order
func (ol *Orders) Parent(o *Order) *Order {
	if o.ParentID == uuid.Nil {
		return nil
	}
	return ol.byID[o.ParentID]
}

// Primary returns the root of the order's parent chain
func (ol *Orders) Primary(o *Order) *Order {
	return ol.byID[o.PrimaryID]
}

// All returns every order in creation order
func (ol *Orders) All() []*Order {
	out := make([]*Order, 0, len(ol.seq))
	for _, id := range ol.seq {
		out = append(out, ol.byID[id])
	}
	return out
}

// Len returns the arena size
func (ol *Orders) Len() int {
	return len(ol.seq)
}

// MarkPlaced moves an order NotPlacedYet → Open
func (ol *Orders) MarkPlaced(o *Order, brokerOrderID, clientOrderID string, at time.Time) error {
	if err := ol.owns(o); err != nil {
		return err
	}
	if err := o.transition(contracts.StatusOpen); err != nil {
		return err
	}
	o.BrokerOrderID = brokerOrderID
	o.ClientOrderID = clientOrderID
	o.PlacedAt = at
	return nil
}

// MarkFilled moves an order Open → Filled and into the Filled list
func (ol *Orders) MarkFilled(o *Order, filledQty int, avgPrice float64, at time.Time) error {
	if err := ol.ownsCurrent(o); err != nil {
		return err
	}
	if err := o.transition(contracts.StatusFilled); err != nil {
		return err
	}
	o.FilledQty = filledQty
	o.AvgFilledPrice = avgPrice
	o.CompletedAt = &at
	if !ol.Current.remove(o) {
		return fmt.Errorf("%w: %s missing from current orders", ErrOrderNotFound, o.ID)
	}
	ol.Filled.add(o)
	return nil
}

// MarkCancelled moves an order Open → Cancelled and into the Cancelled list
func (ol *Orders) MarkCancelled(o *Order, at time.Time) error {
	if err := ol.ownsCurrent(o); err != nil {
		return err
	}
	if err := o.transition(contracts.StatusCancelled); err != nil {
		return err
	}
	o.CompletedAt = &at
	if !ol.Current.remove(o) {
		return fmt.Errorf("%w: %s missing from current orders", ErrOrderNotFound, o.ID)
	}
	ol.Cancelled.add(o)
	return nil
}

func (ol *Orders) owns(o *Order) error {
	if cur, ok := ol.byID[o.ID]; !ok || cur != o {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, o.ID)
	}
	return nil
}

// ownsCurrent checks the arena and, for open orders, the Current list before a status change
// 상태 전이 전에 확인해야 리스트와 상태가 어긋나지 않음
func (ol *Orders) ownsCurrent(o *Order) error {
	if err := ol.owns(o); err != nil {
		return err
	}
	if o.Status == contracts.StatusOpen && !ol.Current.contains(o) {
		return fmt.Errorf("%w: %s missing from current orders", ErrOrderNotFound, o.ID)
	}
	return nil
}

// Update re-sorts the Current list and recomputes the closest open orders
// 구조 변경 후 반드시 호출 (stale 포인터는 cross 누락/중복의 원인)
func (ol *Orders) Update() {
	sort.SliceStable(ol.Current.Buys, func(i, j int) bool {
		return ol.Current.Buys[i].LimitPrice > ol.Current.Buys[j].LimitPrice
	})
	sort.SliceStable(ol.Current.Sells, func(i, j int) bool {
		return ol.Current.Sells[i].LimitPrice < ol.Current.Sells[j].LimitPrice
	})

	ol.closestOpenBuy = nil
	for _, o := range ol.Current.Buys {
		if o.IsOpen() {
			ol.closestOpenBuy = o
			break
		}
	}
	ol.closestOpenSell = nil
	for _, o := range ol.Current.Sells {
		if o.IsOpen() {
			ol.closestOpenSell = o
			break
		}
	}
}

// ClosestOpenBuy returns the open buy with the highest limit
func (ol *Orders) ClosestOpenBuy() *Order { return ol.closestOpenBuy }

// ClosestOpenSell returns the open sell with the lowest limit
func (ol *Orders) ClosestOpenSell() *Order { return ol.closestOpenSell }

// OpenBuys returns open current buys
func (ol *Orders) OpenBuys() []*Order {
	return filter(ol.Current.Buys, (*Order).IsOpen)
}

// OpenSells returns open current sells
func (ol *Orders) OpenSells() []*Order {
	return filter(ol.Current.Sells, (*Order).IsOpen)
}

// OpenOrders returns all open current orders
func (ol *Orders) OpenOrders() []*Order {
	return filter(ol.Current.All(), (*Order).IsOpen)
}

// OpenPrimaryBuys returns open buys with no parent
func (ol *Orders) OpenPrimaryBuys() []*Order {
	return filter(ol.Current.Buys, (*Order).IsOpenPrimaryBuy)
}

// BuysCrossedBy returns open buys whose limit is strictly above price
func (ol *Orders) BuysCrossedBy(price float64) []*Order {
	return filter(ol.Current.Buys, func(o *Order) bool {
		return o.IsOpen() && o.LimitPrice > price
	})
}

// SellsCrossedBy returns open sells whose limit is strictly below price
func (ol *Orders) SellsCrossedBy(price float64) []*Order {
	return filter(ol.Current.Sells, func(o *Order) bool {
		return o.IsOpen() && o.LimitPrice < price
	})
}

// ImmediateFillBuys returns not-yet-placed buys already priced above ask
func (ol *Orders) ImmediateFillBuys(ask float64) ([]*Order, error) {
	if ask == 0 {
		return nil, fmt.Errorf("cannot compute immediate-fill buys with ask=0")
	}
	return filter(ol.Current.Buys, func(o *Order) bool {
		return o.Status == contracts.StatusNotPlacedYet && o.LimitPrice > ask
	}), nil
}

// NextPrimaryBuyToPlace returns the highest not-yet-placed primary buy, or nil if one is already open
func (ol *Orders) NextPrimaryBuyToPlace() *Order {
	if len(ol.OpenPrimaryBuys()) > 0 {
		return nil
	}
	for _, o := range ol.Current.Buys {
		if o.Status == contracts.StatusNotPlacedYet && o.IsPrimary() {
			return o
		}
	}
	return nil
}

// HasFilledBuys reports whether any buy has filled
func (ol *Orders) HasFilledBuys() bool { return len(ol.Filled.Buys) > 0 }

// HasOpenSells reports whether any sell is open
func (ol *Orders) HasOpenSells() bool { return len(ol.OpenSells()) > 0 }

// FilledBuyTotals returns filled qty and USD across filled buys
func (ol *Orders) FilledBuyTotals() (int, float64) {
	return totals(ol.Filled.Buys)
}

// FilledSellTotals returns filled qty and USD across filled sells
func (ol *Orders) FilledSellTotals() (int, float64) {
	return totals(ol.Filled.Sells)
}

// HoldingQty returns filled buy qty minus filled sell qty
func (ol *Orders) HoldingQty() int {
	bq, _ := ol.FilledBuyTotals()
	sq, _ := ol.FilledSellTotals()
	return bq - sq
}

// NetCashFlowUSD returns filled sell USD minus filled buy USD
func (ol *Orders) NetCashFlowUSD() float64 {
	_, ba := ol.FilledBuyTotals()
	_, sa := ol.FilledSellTotals()
	return sa - ba
}

func totals(orders []*Order) (int, float64) {
	qty, amt := 0, 0.0
	for _, o := range orders {
		qty += o.FilledQty
		amt += o.FilledUSD()
	}
	return qty, amt
}

func filter(orders []*Order, keep func(*Order) bool) []*Order {
	var out []*Order
	for _, o := range orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}
