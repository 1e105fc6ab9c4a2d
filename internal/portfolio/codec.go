package portfolio

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wonny/daytrader/internal/contracts"
)

// 스냅샷 포맷: 주문은 arena(orders 배열)에 한 번만 기록하고
// current/filled/cancelled 리스트는 id로 참조 → 디코딩 시 동일 포인터로 복원

type listJSON struct {
	Buys  []uuid.UUID `json:"buys"`
	Sells []uuid.UUID `json:"sells"`
}

type positionJSON struct {
	ID         uuid.UUID                `json:"id"`
	Symbol     string                   `json:"symbol"`
	Instrument *Instrument              `json:"instrument"`
	BasisBar   *contracts.ClosePriceBar `json:"basisBar,omitempty"`
	Orders     []*Order                 `json:"orders"`
	Current    listJSON                 `json:"current"`
	Filled     listJSON                 `json:"filled"`
	Cancelled  listJSON                 `json:"cancelled"`
}

func ids(orders []*Order) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

// MarshalJSON writes the position with its order arena
func (p *Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionJSON{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Instrument: p.Instrument,
		BasisBar:   p.BasisBar,
		Orders:     p.Orders.All(),
		Current:    listJSON{Buys: ids(p.Orders.Current.Buys), Sells: ids(p.Orders.Current.Sells)},
		Filled:     listJSON{Buys: ids(p.Orders.Filled.Buys), Sells: ids(p.Orders.Filled.Sells)},
		Cancelled:  listJSON{Buys: ids(p.Orders.Cancelled.Buys), Sells: ids(p.Orders.Cancelled.Sells)},
	})
}

// UnmarshalJSON rebuilds the arena so parent/primary ids resolve to decoded orders
func (p *Position) UnmarshalJSON(data []byte) error {
	var raw positionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode position: %w", err)
	}

	orders := NewOrders()
	for i, o := range raw.Orders {
		if o == nil {
			return fmt.Errorf("%w: null order at index %d in position %s", ErrInvalidSnapshot, i, raw.Symbol)
		}
		if o.PositionID != raw.ID {
			return fmt.Errorf("%w: order %s belongs to position %s, stored under %s (%s)", ErrInvalidSnapshot, o.ID, o.PositionID, raw.ID, raw.Symbol)
		}
		if _, dup := orders.byID[o.ID]; dup {
			return fmt.Errorf("duplicate order %s in position %s", o.ID, raw.Symbol)
		}
		orders.byID[o.ID] = o
		orders.seq = append(orders.seq, o.ID)
	}

	for _, o := range raw.Orders {
		if _, ok := orders.byID[o.PrimaryID]; !ok {
			return fmt.Errorf("%w: primary %s of order %s", ErrOrderNotFound, o.PrimaryID, o.ID)
		}
		if o.ParentID != uuid.Nil {
			if _, ok := orders.byID[o.ParentID]; !ok {
				return fmt.Errorf("%w: parent %s of order %s", ErrOrderNotFound, o.ParentID, o.ID)
			}
		}
	}

	placed := make(map[uuid.UUID]bool, len(raw.Orders))
	resolve := func(dst *OrderList, src listJSON) error {
		for _, set := range []struct {
			ids []uuid.UUID
			dir contracts.Direction
		}{{src.Buys, contracts.DirectionBuy}, {src.Sells, contracts.DirectionSell}} {
			for _, id := range set.ids {
				o, ok := orders.byID[id]
				if !ok {
					return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
				}
				if o.Direction != set.dir {
					return fmt.Errorf("order %s listed as %s but is %s", id, set.dir, o.Direction)
				}
				if placed[id] {
					return fmt.Errorf("order %s appears in more than one list", id)
				}
				placed[id] = true
				dst.add(o)
			}
		}
		return nil
	}
	if err := resolve(&orders.Current, raw.Current); err != nil {
		return err
	}
	if err := resolve(&orders.Filled, raw.Filled); err != nil {
		return err
	}
	if err := resolve(&orders.Cancelled, raw.Cancelled); err != nil {
		return err
	}
	if len(placed) != len(raw.Orders) {
		return fmt.Errorf("position %s has %d orders but %d listed", raw.Symbol, len(raw.Orders), len(placed))
	}
	orders.Update()

	instrument := raw.Instrument
	if instrument == nil {
		instrument = NewInstrument(raw.Symbol)
	}

	*p = Position{
		ID:         raw.ID,
		Symbol:     raw.Symbol,
		Instrument: instrument,
		Orders:     orders,
		BasisBar:   raw.BasisBar,
	}
	return nil
}

// MarshalJSON writes the set as {symbol: position}
func (ps *Positions) MarshalJSON() ([]byte, error) {
	m := make(map[string]*Position, len(ps.bySymbol))
	for sym, p := range ps.bySymbol {
		m[sym] = p
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads a {symbol: position} map
func (ps *Positions) UnmarshalJSON(data []byte) error {
	var m map[string]*Position
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*ps = *NewPositions()
	for sym, p := range m {
		if p == nil {
			return fmt.Errorf("%w: null position for %s", ErrInvalidSnapshot, sym)
		}
		if p.Symbol != sym {
			return fmt.Errorf("%w: key %s holds position for %s", ErrInvalidSnapshot, sym, p.Symbol)
		}
		ps.Set(p)
	}
	ps.Sort()
	return nil
}
