package validator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
)

// ErrInconsistent is returned when live positions disagree with the action log
var ErrInconsistent = errors.New("positions are not consistent with order actions")

// OrderState is the comparable part of an order
type OrderState struct {
	ID         uuid.UUID
	PositionID uuid.UUID
	Symbol     string
	Direction  contracts.Direction
	Status     contracts.OrderStatus
	Quantity   int
	LimitPrice float64
}

func (s OrderState) sameShape(o OrderState) bool {
	return s.Symbol == o.Symbol &&
		s.Direction == o.Direction &&
		s.Quantity == o.Quantity &&
		s.LimitPrice == o.LimitPrice
}

func stateOf(o *portfolio.Order) OrderState {
	return OrderState{
		ID:         o.ID,
		PositionID: o.PositionID,
		Symbol:     o.Symbol,
		Direction:  o.Direction,
		Status:     o.Status,
		Quantity:   o.Quantity,
		LimitPrice: o.LimitPrice,
	}
}

// Baseline captures every order of positions loaded from a snapshot
// 이전 프로세스에서 기록된 액션은 현재 로그에 없으므로 로드 시점 상태를 출발점으로 사용
func Baseline(positions *portfolio.Positions) []OrderState {
	var out []OrderState
	for _, pos := range positions.Sorted() {
		for _, o := range pos.Orders.All() {
			out = append(out, stateOf(o))
		}
	}
	return out
}

// Reconstruct replays actions on top of the baseline
// retired 포지션의 주문과 ZeroQuantity 주문(arena 밖)은 제외
func Reconstruct(baseline []OrderState, actions []audit.OrderAction, retired map[uuid.UUID]bool) (map[uuid.UUID]OrderState, error) {
	out := make(map[uuid.UUID]OrderState, len(baseline)+len(actions))
	for _, s := range baseline {
		if retired[s.PositionID] {
			continue
		}
		out[s.ID] = s
	}

	sorted := make([]audit.OrderAction, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	for _, a := range sorted {
		if retired[a.PositionID] || a.Type == audit.ActionZeroQuantity {
			continue
		}
		status, err := a.Type.Status()
		if err != nil {
			return nil, err
		}
		next := OrderState{
			ID:         a.OrderID,
			PositionID: a.PositionID,
			Symbol:     a.Symbol,
			Direction:  a.Direction,
			Status:     status,
			Quantity:   a.Quantity,
			LimitPrice: a.LimitPrice,
		}
		if prev, ok := out[a.OrderID]; ok && !prev.sameShape(next) {
			return nil, fmt.Errorf("%w: order %s changed shape at action %d (%s)", ErrInconsistent, a.OrderID, a.Seq, a.Type)
		}
		out[a.OrderID] = next
	}
	return out, nil
}

// SelfConsistent checks that the live order arenas are exactly the replayed action log
func SelfConsistent(positions *portfolio.Positions, baseline []OrderState, actions []audit.OrderAction, retired map[uuid.UUID]bool) error {
	want, err := Reconstruct(baseline, actions, retired)
	if err != nil {
		return err
	}

	live := make(map[uuid.UUID]OrderState)
	for _, pos := range positions.Sorted() {
		for _, o := range pos.Orders.All() {
			live[o.ID] = stateOf(o)
		}
	}

	var errs []error
	for id, got := range live {
		w, ok := want[id]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("order %s (%s %s) has no actions", id, got.Symbol, got.Direction))
		case !w.sameShape(got):
			errs = append(errs, fmt.Errorf("order %s: limit/qty %.2f/%d, actions say %.2f/%d", id, got.LimitPrice, got.Quantity, w.LimitPrice, w.Quantity))
		case w.Status != got.Status:
			errs = append(errs, fmt.Errorf("order %s: status %s, actions say %s", id, got.Status, w.Status))
		}
	}
	for id, w := range want {
		if _, ok := live[id]; !ok {
			errs = append(errs, fmt.Errorf("order %s (%s %s %s) missing from positions", id, w.Symbol, w.Direction, w.Status))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInconsistent, errors.Join(errs...))
	}
	return nil
}

// EqualPositions compares the list sizes of two position sets, e.g. saved vs reloaded
func EqualPositions(a, b *portfolio.Positions) error {
	if a.Len() != b.Len() {
		return fmt.Errorf("position count %d != %d", a.Len(), b.Len())
	}
	for _, pa := range a.Sorted() {
		pb, ok := b.Get(pa.Symbol)
		if !ok {
			return fmt.Errorf("position %s missing", pa.Symbol)
		}
		if pa.ID != pb.ID {
			return fmt.Errorf("position %s id %s != %s", pa.Symbol, pa.ID, pb.ID)
		}
		pairs := []struct {
			name string
			x, y int
		}{
			{"current buys", len(pa.Orders.Current.Buys), len(pb.Orders.Current.Buys)},
			{"current sells", len(pa.Orders.Current.Sells), len(pb.Orders.Current.Sells)},
			{"filled buys", len(pa.Orders.Filled.Buys), len(pb.Orders.Filled.Buys)},
			{"filled sells", len(pa.Orders.Filled.Sells), len(pb.Orders.Filled.Sells)},
		}
		for _, p := range pairs {
			if p.x != p.y {
				return fmt.Errorf("position %s %s %d != %d", pa.Symbol, p.name, p.x, p.y)
			}
		}
	}
	return nil
}
