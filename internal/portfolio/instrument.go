package portfolio

import (
	"fmt"
	"time"
)

// Instrument is the live price cache for one symbol
// 스냅샷에는 Symbol만 저장 (가격은 매일 새로 수신)
type Instrument struct {
	Symbol string `json:"symbol"`

	Bid          float64   `json:"-"`
	Ask          float64   `json:"-"`
	PrevBid      float64   `json:"-"`
	PrevAsk      float64   `json:"-"`
	FirstBid     float64   `json:"-"`
	PrevClose    float64   `json:"-"`
	UpdatesToday int       `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// NewInstrument creates an instrument with no price yet
func NewInstrument(symbol string) *Instrument {
	return &Instrument{Symbol: symbol}
}

// Update shifts current prices to previous and stores the new quote
func (i *Instrument) Update(bid, ask float64, at time.Time) error {
	if bid == 0 || ask == 0 {
		return fmt.Errorf("invalid quote for %s: bid=%v ask=%v", i.Symbol, bid, ask)
	}
	if i.UpdatesToday == 0 {
		i.FirstBid = bid
	}
	i.UpdatesToday++
	i.PrevBid, i.PrevAsk = i.Bid, i.Ask
	i.Bid, i.Ask = bid, ask
	i.UpdatedAt = at
	return nil
}

// Mid returns (bid + ask) / 2
func (i *Instrument) Mid() float64 {
	return (i.Bid + i.Ask) / 2
}

// HasPrice reports whether at least one quote was received
func (i *Instrument) HasPrice() bool {
	return i.Bid != 0
}

// SameQuote reports whether bid/ask equal the stored quote
func (i *Instrument) SameQuote(bid, ask float64) bool {
	return i.Bid == bid && i.Ask == ask
}
