package portfolio

import (
	"sort"
)

// Positions is the per-day set of positions keyed by symbol
// sorted 순서: CurrentPctChange 오름차순 (가장 많이 떨어진 종목이 먼저)
type Positions struct {
	bySymbol map[string]*Position
	sorted   []*Position
}

// NewPositions creates an empty set
func NewPositions() *Positions {
	return &Positions{bySymbol: make(map[string]*Position)}
}

// Set adds or replaces the position for its symbol
func (ps *Positions) Set(p *Position) {
	if old, ok := ps.bySymbol[p.Symbol]; ok {
		for i, cur := range ps.sorted {
			if cur == old {
				ps.sorted[i] = p
				break
			}
		}
	} else {
		ps.sorted = append(ps.sorted, p)
	}
	ps.bySymbol[p.Symbol] = p
}

// Get returns the position for a symbol
func (ps *Positions) Get(symbol string) (*Position, bool) {
	p, ok := ps.bySymbol[symbol]
	return p, ok
}

// Len returns the number of positions
func (ps *Positions) Len() int {
	return len(ps.sorted)
}

// Sorted returns positions in the current ranking order
func (ps *Positions) Sorted() []*Position {
	out := make([]*Position, len(ps.sorted))
	copy(out, ps.sorted)
	return out
}

// Symbols returns symbols in the current ranking order
func (ps *Positions) Symbols() []string {
	out := make([]string, 0, len(ps.sorted))
	for _, p := range ps.sorted {
		out = append(out, p.Symbol)
	}
	return out
}

// Sort ranks positions by CurrentPctChange ascending, ties by symbol
func (ps *Positions) Sort() {
	sort.SliceStable(ps.sorted, func(i, j int) bool {
		pi, pj := ps.sorted[i].CurrentPctChange(), ps.sorted[j].CurrentPctChange()
		if pi != pj {
			return pi < pj
		}
		return ps.sorted[i].Symbol < ps.sorted[j].Symbol
	})
}

// AllHavePrice reports whether every position has received a quote
func (ps *Positions) AllHavePrice() bool {
	for _, p := range ps.sorted {
		if !p.Instrument.HasPrice() {
			return false
		}
	}
	return true
}

// TotalOpenPrimaryBuys counts open primary buys across all positions
func (ps *Positions) TotalOpenPrimaryBuys() int {
	n := 0
	for _, p := range ps.sorted {
		n += len(p.Orders.OpenPrimaryBuys())
	}
	return n
}
