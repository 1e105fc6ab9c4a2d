package portfolio

import (
	"github.com/google/uuid"

	"github.com/wonny/daytrader/internal/contracts"
)

// Position is one traded symbol for one trading day
// ⭐ SSOT: 포지션이 Instrument와 Orders를 소유
type Position struct {
	ID         uuid.UUID
	Symbol     string
	Instrument *Instrument
	Orders     *Orders
	BasisBar   *contracts.ClosePriceBar
}

// NewPosition creates an empty position with a fresh id
func NewPosition(symbol string, basisBar *contracts.ClosePriceBar) *Position {
	return &Position{
		ID:         uuid.New(),
		Symbol:     symbol,
		Instrument: NewInstrument(symbol),
		Orders:     NewOrders(),
		BasisBar:   basisBar,
	}
}

// BasisPrice returns the prior close the ladder is priced from
func (p *Position) BasisPrice() float64 {
	if p.BasisBar == nil {
		return 0
	}
	return p.BasisBar.ClosePrice
}

// CurrentPctChange returns (bid - basis) / basis
func (p *Position) CurrentPctChange() float64 {
	basis := p.BasisPrice()
	if basis == 0 {
		return 0
	}
	return (p.Instrument.Bid - basis) / basis
}

// HasCurrentOrders reports whether any order is still in the Current list
func (p *Position) HasCurrentOrders() bool {
	return p.Orders.Current.Len() > 0
}
