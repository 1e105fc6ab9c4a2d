package portfolio

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/daytrader/internal/contracts"
)

func bar(symbol string, close float64) *contracts.ClosePriceBar {
	return &contracts.ClosePriceBar{
		Symbol:     symbol,
		Date:       time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		ClosePrice: close,
	}
}

func TestLimitFromBasis(t *testing.T) {
	tests := []struct {
		basis float64
		pct   float64
		want  float64
	}{
		{100, -0.01, 99.00},
		{100, 0.0025, 100.25},
		{412.37, -0.025, 402.06},
		{50, 0, 50},
	}

	for _, tt := range tests {
		got := LimitFromBasis(tt.basis, tt.pct)
		if got != tt.want {
			t.Errorf("LimitFromBasis(%v, %v) = %v, want %v", tt.basis, tt.pct, got, tt.want)
		}
	}
}

func TestNewPrimaryBuy(t *testing.T) {
	pos := NewPosition("SPY", bar("SPY", 100))
	buy := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)

	assert.Equal(t, 99.00, buy.LimitPrice)
	assert.Equal(t, 40, buy.Quantity)
	assert.Equal(t, 0, buy.NumParents)
	assert.Equal(t, buy.ID, buy.PrimaryID)
	assert.True(t, buy.IsPrimary())
	assert.Equal(t, contracts.StatusNotPlacedYet, buy.Status)
}

func TestCounterOrderHierarchy(t *testing.T) {
	pos := NewPosition("SPY", bar("SPY", 100))
	buy := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	sell := NewCounterSell(buy, 0.01, 40)
	rebuy := NewCounterBuy(sell, -0.005, 40)

	assert.Equal(t, buy.ID, sell.ParentID)
	assert.Equal(t, buy.ID, sell.PrimaryID)
	assert.Equal(t, 1, sell.NumParents)
	assert.Equal(t, 99.99, sell.LimitPrice)

	assert.Equal(t, sell.ID, rebuy.ParentID)
	assert.Equal(t, buy.ID, rebuy.PrimaryID)
	assert.Equal(t, 2, rebuy.NumParents)
	assert.Equal(t, 99.49, rebuy.LimitPrice)

	be := NewBreakEvenSell(buy, 40, 98.765)
	assert.True(t, be.BreakEven)
	assert.Equal(t, 98.76, be.LimitPrice)
	assert.Equal(t, 0.0, be.PctFromBasis)
}

func TestStatusTransitions(t *testing.T) {
	now := time.Now()
	pos := NewPosition("SPY", bar("SPY", 100))
	buy := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	require.NoError(t, pos.Orders.Add(buy))

	// NotPlacedYet에서 바로 Filled 불가
	err := pos.Orders.MarkFilled(buy, 40, 99, now)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, pos.Orders.MarkPlaced(buy, "b-1", "c-1", now))
	assert.Equal(t, contracts.StatusOpen, buy.Status)

	// 두 번 placed 불가
	assert.True(t, errors.Is(pos.Orders.MarkPlaced(buy, "b-1", "c-1", now), ErrInvalidTransition))

	require.NoError(t, pos.Orders.MarkFilled(buy, 40, 99, now))
	assert.Equal(t, contracts.StatusFilled, buy.Status)
	assert.Empty(t, pos.Orders.Current.Buys)
	assert.Len(t, pos.Orders.Filled.Buys, 1)

	// Filled 이후 Cancelled 불가
	assert.True(t, errors.Is(pos.Orders.MarkCancelled(buy, now), ErrInvalidTransition))
	assert.Empty(t, pos.Orders.Cancelled.Buys)
}

func TestMarkZeroQuantity(t *testing.T) {
	pos := NewPosition("SPY", bar("SPY", 100))
	buy := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)

	sell := NewCounterSell(buy, 0.01, 0)
	require.NoError(t, sell.MarkZeroQuantity())
	assert.Equal(t, contracts.StatusZeroQuantity, sell.Status)

	nonZero := NewCounterSell(buy, 0.01, 3)
	assert.Error(t, nonZero.MarkZeroQuantity())
}

func TestOrdersNotOwned(t *testing.T) {
	a := NewPosition("SPY", bar("SPY", 100))
	b := NewPosition("QQQ", bar("QQQ", 300))
	buy := NewPrimaryBuy(a.ID, "SPY", 100, -0.01, 4000)
	require.NoError(t, a.Orders.Add(buy))

	err := b.Orders.MarkPlaced(buy, "x", "y", time.Now())
	assert.True(t, errors.Is(err, ErrOrderNotFound))
}

func TestOrdersMissingFromCurrent(t *testing.T) {
	now := time.Now()
	pos := NewPosition("SPY", bar("SPY", 100))
	buy := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	sell := NewCounterSell(buy, 0.01, 40)
	require.NoError(t, pos.Orders.Add(buy, sell))
	require.NoError(t, pos.Orders.MarkPlaced(buy, "b1", "c1", now))
	require.NoError(t, pos.Orders.MarkPlaced(sell, "b2", "c2", now))

	// arena에는 있지만 Current 리스트에서 빠진 주문
	pos.Orders.Current.Buys = nil
	pos.Orders.Current.Sells = nil

	err := pos.Orders.MarkFilled(buy, 40, 99, now)
	assert.True(t, errors.Is(err, ErrOrderNotFound))
	assert.Equal(t, contracts.StatusOpen, buy.Status, "status untouched")
	assert.Empty(t, pos.Orders.Filled.Buys)

	err = pos.Orders.MarkCancelled(sell, now)
	assert.True(t, errors.Is(err, ErrOrderNotFound))
	assert.Equal(t, contracts.StatusOpen, sell.Status)
	assert.Empty(t, pos.Orders.Cancelled.Sells)
}

func TestUpdateClosestOrders(t *testing.T) {
	now := time.Now()
	pos := NewPosition("SPY", bar("SPY", 100))
	b1 := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	b2 := NewPrimaryBuy(pos.ID, "SPY", 100, -0.02, 4000)
	b3 := NewPrimaryBuy(pos.ID, "SPY", 100, 0.005, 4000)
	require.NoError(t, pos.Orders.Add(b1, b2, b3))

	pos.Orders.Update()
	assert.Nil(t, pos.Orders.ClosestOpenBuy(), "no open orders yet")
	assert.Equal(t, []*Order{b3, b1, b2}, pos.Orders.Current.Buys)

	require.NoError(t, pos.Orders.MarkPlaced(b1, "", "", now))
	require.NoError(t, pos.Orders.MarkPlaced(b2, "", "", now))
	pos.Orders.Update()
	assert.Same(t, b1, pos.Orders.ClosestOpenBuy())

	s1 := NewCounterSell(b1, 0.01, 10)
	s2 := NewCounterSell(b1, 0.005, 10)
	require.NoError(t, pos.Orders.Add(s1, s2))
	require.NoError(t, pos.Orders.MarkPlaced(s1, "", "", now))
	require.NoError(t, pos.Orders.MarkPlaced(s2, "", "", now))
	pos.Orders.Update()
	assert.Same(t, s2, pos.Orders.ClosestOpenSell())

	assert.Equal(t, []*Order{b1, b2}, pos.Orders.BuysCrossedBy(97.5))
	assert.Equal(t, []*Order{b1}, pos.Orders.BuysCrossedBy(98.5))
	assert.Equal(t, []*Order{s2}, pos.Orders.SellsCrossedBy(99.6))
}

func TestImmediateFillAndNextPrimary(t *testing.T) {
	now := time.Now()
	pos := NewPosition("SPY", bar("SPY", 100))
	b1 := NewPrimaryBuy(pos.ID, "SPY", 100, 0.01, 4000)
	b2 := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	require.NoError(t, pos.Orders.Add(b1, b2))
	pos.Orders.Update()

	_, err := pos.Orders.ImmediateFillBuys(0)
	assert.Error(t, err)

	imm, err := pos.Orders.ImmediateFillBuys(100.5)
	require.NoError(t, err)
	assert.Equal(t, []*Order{b1}, imm)

	assert.Same(t, b1, pos.Orders.NextPrimaryBuyToPlace())

	require.NoError(t, pos.Orders.MarkPlaced(b1, "", "", now))
	assert.Nil(t, pos.Orders.NextPrimaryBuyToPlace(), "an open primary blocks the next one")

	require.NoError(t, pos.Orders.MarkFilled(b1, b1.Quantity, b1.LimitPrice, now))
	assert.Same(t, b2, pos.Orders.NextPrimaryBuyToPlace())
}

func TestHoldingQtyAndTotals(t *testing.T) {
	now := time.Now()
	pos := NewPosition("SPY", bar("SPY", 100))
	buy := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	require.NoError(t, pos.Orders.Add(buy))
	require.NoError(t, pos.Orders.MarkPlaced(buy, "", "", now))
	require.NoError(t, pos.Orders.MarkFilled(buy, 40, 99, now))

	sell := NewCounterSell(buy, 0.01, 15)
	require.NoError(t, pos.Orders.Add(sell))
	require.NoError(t, pos.Orders.MarkPlaced(sell, "", "", now))
	require.NoError(t, pos.Orders.MarkFilled(sell, 15, 100, now))

	assert.Equal(t, 25, pos.Orders.HoldingQty())
	assert.InDelta(t, 1500-3960, pos.Orders.NetCashFlowUSD(), 1e-9)

	groups := pos.Orders.PrimaryGroups()
	require.Len(t, groups, 1)
	assert.Same(t, buy, groups[0].Primary)
	bq, sq := groups[0].FilledQty()
	assert.Equal(t, 40, bq)
	assert.Equal(t, 15, sq)
}

func TestInstrumentUpdate(t *testing.T) {
	fi := NewInstrument("SPY")
	assert.False(t, fi.HasPrice())
	assert.Error(t, fi.Update(0, 100, time.Now()))

	require.NoError(t, fi.Update(99.9, 100.1, time.Now()))
	require.NoError(t, fi.Update(100.0, 100.2, time.Now()))

	assert.Equal(t, 2, fi.UpdatesToday)
	assert.Equal(t, 99.9, fi.FirstBid)
	assert.Equal(t, 99.9, fi.PrevBid)
	assert.Equal(t, 100.1, fi.PrevAsk)
	assert.InDelta(t, 100.1, fi.Mid(), 1e-9)
	assert.True(t, fi.SameQuote(100.0, 100.2))
}

func TestPositionsSort(t *testing.T) {
	ps := NewPositions()
	spy := NewPosition("SPY", bar("SPY", 100))
	qqq := NewPosition("QQQ", bar("QQQ", 200))
	ps.Set(spy)
	ps.Set(qqq)

	require.NoError(t, spy.Instrument.Update(99, 99.1, time.Now()))  // -1%
	require.NoError(t, qqq.Instrument.Update(196, 196.2, time.Now())) // -2%
	ps.Sort()

	assert.Equal(t, []string{"QQQ", "SPY"}, ps.Symbols())
	assert.True(t, ps.AllHavePrice())

	// 같은 심볼로 교체하면 순서 유지
	renewed := NewPosition("SPY", bar("SPY", 100))
	ps.Set(renewed)
	got, ok := ps.Get("SPY")
	require.True(t, ok)
	assert.Same(t, renewed, got)
	assert.Equal(t, 2, ps.Len())
}

func TestRoundClaimBreakevenExactlyOnce(t *testing.T) {
	r := NewRound(1, "SPY", 0, 0, 99, 99.1, time.Now())

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if r.ClaimBreakeven() {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, r.BreakevenClaimed())
	assert.False(t, r.ClaimBreakeven())
}

func TestRoundChangesFreeBalance(t *testing.T) {
	pos := NewPosition("SPY", bar("SPY", 100))
	buy := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)

	r := NewRound(1, "SPY", 0, 0, 99, 99.1, time.Now())
	assert.False(t, r.ChangesFreeBalance())

	r.FilledBuys = append(r.FilledBuys, buy)
	assert.False(t, r.ChangesFreeBalance(), "a filled buy alone does not change free cash")

	r.PrimaryPlacedBuys = append(r.PrimaryPlacedBuys, buy)
	assert.True(t, r.ChangesFreeBalance())
	assert.Len(t, r.ModifiedPositionIDs(), 1)
}

func TestSnapshotRoundTripPreservesIdentity(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	ps := NewPositions()
	pos := NewPosition("SPY", bar("SPY", 100))
	ps.Set(pos)

	buy := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	spare := NewPrimaryBuy(pos.ID, "SPY", 100, -0.02, 4000)
	require.NoError(t, pos.Orders.Add(buy, spare))
	require.NoError(t, pos.Orders.MarkPlaced(buy, "b-1", "c-1", now))
	require.NoError(t, pos.Orders.MarkFilled(buy, 40, 99, now))

	sell := NewCounterSell(buy, 0.01, 40)
	require.NoError(t, pos.Orders.Add(sell))
	require.NoError(t, pos.Orders.MarkPlaced(sell, "b-2", "c-2", now))
	rebuy := NewCounterBuy(sell, -0.005, 40)
	require.NoError(t, pos.Orders.Add(rebuy))
	require.NoError(t, pos.Orders.MarkPlaced(spare, "b-3", "c-3", now))
	require.NoError(t, pos.Orders.MarkCancelled(spare, now))

	data, err := json.Marshal(ps)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"Filled"`, "enums are written by name")

	var decoded Positions
	require.NoError(t, json.Unmarshal(data, &decoded))

	got, ok := decoded.Get("SPY")
	require.True(t, ok)
	assert.Equal(t, pos.ID, got.ID)
	assert.Equal(t, 4, got.Orders.Len())
	assert.Len(t, got.Orders.Filled.Buys, 1)
	assert.Len(t, got.Orders.Cancelled.Buys, 1)
	assert.Len(t, got.Orders.Current.Sells, 1)
	assert.Len(t, got.Orders.Current.Buys, 1)

	dBuy := got.Orders.Filled.Buys[0]
	dSell := got.Orders.Current.Sells[0]
	dRebuy := got.Orders.Current.Buys[0]

	// 부모/primary 참조는 디코딩된 그래프의 동일 노드
	assert.Same(t, dBuy, got.Orders.Parent(dSell))
	assert.Same(t, dBuy, got.Orders.Primary(dSell))
	assert.Same(t, dSell, got.Orders.Parent(dRebuy))
	assert.Same(t, dBuy, got.Orders.Primary(dRebuy))
	assert.Same(t, dBuy, got.Orders.Primary(dBuy))
	assert.Nil(t, got.Orders.Parent(dBuy))

	byID, ok := got.Orders.Get(dRebuy.ID)
	require.True(t, ok)
	assert.Same(t, dRebuy, byID)

	assert.Same(t, dSell, got.Orders.ClosestOpenSell())
	assert.Equal(t, 100.0, got.BasisPrice())
	assert.False(t, got.Instrument.HasPrice(), "prices are not persisted")
}

func TestSnapshotRejectsDanglingReference(t *testing.T) {
	pos := NewPosition("SPY", bar("SPY", 100))
	buy := NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	sell := NewCounterSell(buy, 0.01, 40)
	// buy는 arena에 넣지 않음
	require.NoError(t, pos.Orders.Add(sell))

	data, err := json.Marshal(pos)
	require.NoError(t, err)

	var decoded Position
	err = json.Unmarshal(data, &decoded)
	assert.True(t, errors.Is(err, ErrOrderNotFound))
}

func TestSnapshotRejectsMalformed(t *testing.T) {
	spy := NewPosition("SPY", bar("SPY", 100))
	require.NoError(t, spy.Orders.Add(NewPrimaryBuy(spy.ID, "SPY", 100, -0.01, 4000)))
	good, err := json.Marshal(spy)
	require.NoError(t, err)

	qqq := NewPosition("QQQ", bar("QQQ", 300))
	foreign := NewPosition("SPY", bar("SPY", 100))
	require.NoError(t, foreign.Orders.Add(NewPrimaryBuy(qqq.ID, "SPY", 100, -0.01, 4000)))
	mismatched, err := json.Marshal(foreign)
	require.NoError(t, err)

	tests := []struct {
		name string
		data string
		into interface{}
	}{
		{name: "null position", data: `{"SPY":null}`, into: &Positions{}},
		{name: "key does not match symbol", data: `{"QQQ":` + string(good) + `}`, into: &Positions{}},
		{name: "null order", data: strings.Replace(string(good), `"orders":[`, `"orders":[null,`, 1), into: &Position{}},
		{name: "order of another position", data: string(mismatched), into: &Position{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := json.Unmarshal([]byte(tt.data), tt.into)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSnapshot), "got %v", err)
		})
	}
}
