package audit

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wonny/daytrader/internal/contracts"
)

// OrderLog is the append-only, seq-numbered history of order actions
// ZeroQuantity 액션은 seq를 받지 않고 개수만 집계
type OrderLog struct {
	mu      sync.RWMutex
	seq     int64
	actions []OrderAction
	zeroQty int
}

// NewOrderLog creates an empty log
func NewOrderLog() *OrderLog {
	return &OrderLog{}
}

// Add stamps the next sequence number on a copy of the action and stores it
func (l *OrderLog) Add(a OrderAction) OrderAction {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a.Type == ActionZeroQuantity {
		l.zeroQty++
		return a
	}
	l.seq++
	a.Seq = l.seq
	l.actions = append(l.actions, a)
	return a
}

// Actions returns every stored action in seq order
func (l *OrderLog) Actions() []OrderAction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]OrderAction, len(l.actions))
	copy(out, l.actions)
	return out
}

// Since returns up to limit actions with seq > after
func (l *OrderLog) Since(after int64, limit int) []OrderAction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []OrderAction
	for _, a := range l.actions {
		if a.Seq <= after {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Fills returns fill actions, optionally filtered by symbol and direction
func (l *OrderLog) Fills(symbol string, dir contracts.Direction) []OrderAction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []OrderAction
	for _, a := range l.actions {
		if !a.IsFill() {
			continue
		}
		if symbol != "" && a.Symbol != symbol {
			continue
		}
		if dir != "" && a.Direction != dir {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Len returns the number of stored actions
func (l *OrderLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.actions)
}

// LastSeq returns the highest assigned seq
func (l *OrderLog) LastSeq() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// ZeroQuantityCount returns how many zero-quantity orders were skipped
func (l *OrderLog) ZeroQuantityCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zeroQty
}

// RenewalLog records position renewals and the ids they retired
type RenewalLog struct {
	mu      sync.RWMutex
	seq     int64
	actions []RenewalAction
	retired map[uuid.UUID]bool
}

// NewRenewalLog creates an empty log
func NewRenewalLog() *RenewalLog {
	return &RenewalLog{retired: make(map[uuid.UUID]bool)}
}

// Add stamps and stores a renewal, marking the old position id as retired
func (l *RenewalLog) Add(a RenewalAction) RenewalAction {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	a.Seq = l.seq
	l.actions = append(l.actions, a)
	l.retired[a.PositionID] = true
	return a
}

// Actions returns every renewal in seq order
func (l *RenewalLog) Actions() []RenewalAction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]RenewalAction, len(l.actions))
	copy(out, l.actions)
	return out
}

// Retired returns a copy of the retired position id set
func (l *RenewalLog) Retired() map[uuid.UUID]bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[uuid.UUID]bool, len(l.retired))
	for id := range l.retired {
		out[id] = true
	}
	return out
}

// Counts returns refresh and renewal counts for a symbol
func (l *RenewalLog) Counts(symbol string) (refreshes, renewals int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, a := range l.actions {
		if a.Symbol != symbol {
			continue
		}
		switch a.Type {
		case RenewalRefresh:
			refreshes++
		case RenewalRenewal:
			renewals++
		}
	}
	return refreshes, renewals
}
