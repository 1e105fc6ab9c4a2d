package portfolio

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Round records everything that happened while processing one accepted tick
// ⭐ SSOT: breakeven claim은 CAS로 라운드당 정확히 한 번만 획득
type Round struct {
	Number  int64
	Symbol  string
	PrevBid float64
	PrevAsk float64
	Bid     float64
	Ask     float64
	At      time.Time

	PrimaryPlacedBuys     []*Order
	FilledBuys            []*Order
	FilledSells           []*Order
	NonPrimaryPlacedBuys  []*Order
	NonPrimaryPlacedSells []*Order
	CancelledSells        []*Order
	CancelledBuys         []*Order

	ZeroQtySells int
	DebugFlag    bool

	FirstBuysPlaced bool

	breakevenClaimed atomic.Bool
}

// NewRound starts a round for a tick
func NewRound(number int64, symbol string, prevBid, prevAsk, bid, ask float64, at time.Time) *Round {
	return &Round{
		Number:  number,
		Symbol:  symbol,
		PrevBid: prevBid,
		PrevAsk: prevAsk,
		Bid:     bid,
		Ask:     ask,
		At:      at,
	}
}

// ClaimBreakeven returns true for exactly one caller per round
func (r *Round) ClaimBreakeven() bool {
	return r.breakevenClaimed.CompareAndSwap(false, true)
}

// BreakevenClaimed reports whether the breakeven branch ran this round
func (r *Round) BreakevenClaimed() bool {
	return r.breakevenClaimed.Load()
}

// ChangesFreeBalance reports whether the round affected free cash
func (r *Round) ChangesFreeBalance() bool {
	return len(r.FilledSells) > 0 ||
		len(r.PrimaryPlacedBuys) > 0 ||
		len(r.NonPrimaryPlacedBuys) > 0 ||
		len(r.CancelledBuys) > 0
}

// ModifiedOrders returns every order touched in the round
func (r *Round) ModifiedOrders() []*Order {
	var out []*Order
	for _, list := range [][]*Order{
		r.PrimaryPlacedBuys, r.FilledBuys, r.FilledSells,
		r.NonPrimaryPlacedBuys, r.NonPrimaryPlacedSells,
		r.CancelledSells, r.CancelledBuys,
	} {
		out = append(out, list...)
	}
	return out
}

// ModifiedPositionIDs returns the distinct positions touched in the round
func (r *Round) ModifiedPositionIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, o := range r.ModifiedOrders() {
		if !seen[o.PositionID] {
			seen[o.PositionID] = true
			out = append(out, o.PositionID)
		}
	}
	return out
}

// RoundSummary is a value copy of a round safe to hand to readers outside the engine
type RoundSummary struct {
	Number                int64     `json:"number"`
	Symbol                string    `json:"symbol"`
	Bid                   float64   `json:"bid"`
	Ask                   float64   `json:"ask"`
	At                    time.Time `json:"at"`
	PrimaryPlacedBuys     int       `json:"primary_placed_buys"`
	FilledBuys            int       `json:"filled_buys"`
	FilledSells           int       `json:"filled_sells"`
	NonPrimaryPlacedBuys  int       `json:"non_primary_placed_buys"`
	NonPrimaryPlacedSells int       `json:"non_primary_placed_sells"`
	CancelledSells        int       `json:"cancelled_sells"`
	CancelledBuys         int       `json:"cancelled_buys"`
	ZeroQtySells          int       `json:"zero_qty_sells"`
	Breakeven             bool      `json:"breakeven"`
	DebugFlag             bool      `json:"debug_flag"`
}

// Summary returns a value snapshot of the round
func (r *Round) Summary() RoundSummary {
	return RoundSummary{
		Number:                r.Number,
		Symbol:                r.Symbol,
		Bid:                   r.Bid,
		Ask:                   r.Ask,
		At:                    r.At,
		PrimaryPlacedBuys:     len(r.PrimaryPlacedBuys),
		FilledBuys:            len(r.FilledBuys),
		FilledSells:           len(r.FilledSells),
		NonPrimaryPlacedBuys:  len(r.NonPrimaryPlacedBuys),
		NonPrimaryPlacedSells: len(r.NonPrimaryPlacedSells),
		CancelledSells:        len(r.CancelledSells),
		CancelledBuys:         len(r.CancelledBuys),
		ZeroQtySells:          r.ZeroQtySells,
		Breakeven:             r.BreakevenClaimed(),
		DebugFlag:             r.DebugFlag,
	}
}
