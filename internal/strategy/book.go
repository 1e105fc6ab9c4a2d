package strategy

import (
	"fmt"

	"github.com/wonny/daytrader/internal/portfolio"
)

// Book holds validated parameters for every traded symbol
// ⭐ SSOT: 수량/가격 사다리 계산은 여기서만 (엔진은 결과만 적용)
type Book struct {
	maxOpen  int
	bySymbol map[string]*Params
}

// NewBook validates params and builds a book
func NewBook(maxOpenPrimaryBuys int, bySymbol map[string]*Params) (*Book, error) {
	if maxOpenPrimaryBuys <= 0 {
		maxOpenPrimaryBuys = DefaultMaxOpenPrimaryBuys
	}
	b := &Book{maxOpen: maxOpenPrimaryBuys, bySymbol: make(map[string]*Params, len(bySymbol))}
	for sym, p := range bySymbol {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid strategy for %s: %w", sym, err)
		}
		b.bySymbol[sym] = p
	}
	return b, nil
}

// Uniform builds a book that uses the same params for every symbol
func Uniform(symbols []string, p *Params, maxOpenPrimaryBuys int) (*Book, error) {
	bySymbol := make(map[string]*Params, len(symbols))
	for _, sym := range symbols {
		bySymbol[sym] = p
	}
	return NewBook(maxOpenPrimaryBuys, bySymbol)
}

// FromFile resolves a strategy file for the given symbols
// maxOverride > 0 이면 파일의 max_open_primary_buys보다 우선
func FromFile(f *File, symbols []string, maxOverride int) (*Book, error) {
	bySymbol := make(map[string]*Params, len(symbols))
	for _, sym := range symbols {
		p, err := f.Resolve(sym)
		if err != nil {
			return nil, err
		}
		bySymbol[sym] = p
	}
	maxOpen := f.MaxOpenPrimaryBuys
	if maxOverride > 0 {
		maxOpen = maxOverride
	}
	return NewBook(maxOpen, bySymbol)
}

// MaxOpenPrimaryBuys returns the cap across all symbols
func (b *Book) MaxOpenPrimaryBuys() int {
	return b.maxOpen
}

// Params returns the parameters for a symbol
func (b *Book) Params(symbol string) (*Params, error) {
	p, ok := b.bySymbol[symbol]
	if !ok {
		return nil, fmt.Errorf("no strategy parameters for %s", symbol)
	}
	return p, nil
}

// InitialBuys returns the primary buy ladder for a symbol
func (b *Book) InitialBuys(symbol string) ([]Rung, error) {
	p, err := b.Params(symbol)
	if err != nil {
		return nil, err
	}
	out := make([]Rung, len(p.PrimaryBuys))
	copy(out, p.PrimaryBuys)
	return out, nil
}

// SellsForFilledBuy returns the counter sells for a filled buy
// primary: PctFromBasis < cutoff → big drop 플랜, 아니면 small drop 플랜
// non-primary: non-primary 플랜
func (b *Book) SellsForFilledBuy(buy *portfolio.Order) ([]Leg, error) {
	p, err := b.Params(buy.Symbol)
	if err != nil {
		return nil, err
	}

	plan := p.NonPrimarySells
	if buy.IsPrimary() {
		if buy.PctFromBasis < p.BigDropCutoffPct {
			plan = p.BigDropSells
		} else {
			plan = p.SmallDropSells
		}
	}
	return plan.Legs(buy.FilledQty)
}

// BuysForFilledSell returns the counter buys for a filled sell
func (b *Book) BuysForFilledSell(sell *portfolio.Order) ([]Leg, error) {
	p, err := b.Params(sell.Symbol)
	if err != nil {
		return nil, err
	}
	return p.CounterBuys.Legs(sell.FilledQty)
}

// Breakeven returns the breakeven rule for a symbol
func (b *Book) Breakeven(symbol string) (BreakevenRule, error) {
	p, err := b.Params(symbol)
	if err != nil {
		return BreakevenRule{}, err
	}
	return p.Breakeven, nil
}
