package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/eventbus"
	"github.com/wonny/daytrader/internal/portfolio"
	"github.com/wonny/daytrader/internal/snapshot"
	"github.com/wonny/daytrader/internal/strategy"
)

var (
	today   = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	prevDay = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
)

// fakeBroker fills everything at the limit unless told otherwise
type fakeBroker struct {
	mu          sync.Mutex
	freeUSD     float64
	rejectPlace func(contracts.OrderRequest) bool
	status      func(contracts.OrderRequest) contracts.OrderStatusData
	cancelFails bool

	placed    []contracts.OrderRequest
	cancelled []contracts.OrderRequest
	polls     int
}

func (b *fakeBroker) place(req contracts.OrderRequest) (*contracts.PlaceOrderResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejectPlace != nil && b.rejectPlace(req) {
		return &contracts.PlaceOrderResponse{Success: false, RawStatus: "rejected"}, nil
	}
	b.placed = append(b.placed, req)
	return &contracts.PlaceOrderResponse{Success: true, RawStatus: "new", BrokerOrderID: "B-" + req.OrderID}, nil
}

func (b *fakeBroker) PlaceLimitBuy(_ context.Context, req contracts.OrderRequest) (*contracts.PlaceOrderResponse, error) {
	return b.place(req)
}

func (b *fakeBroker) PlaceLimitSell(_ context.Context, req contracts.OrderRequest) (*contracts.PlaceOrderResponse, error) {
	return b.place(req)
}

func (b *fakeBroker) CancelOrder(_ context.Context, req contracts.OrderRequest) (*contracts.CancelOrderResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelFails {
		return &contracts.CancelOrderResponse{Success: false}, nil
	}
	b.cancelled = append(b.cancelled, req)
	return &contracts.CancelOrderResponse{Success: true}, nil
}

func (b *fakeBroker) GetAccountData(context.Context) (*contracts.AccountDataResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &contracts.AccountDataResponse{Success: true, Data: contracts.AccountData{FreeUSDBalance: b.freeUSD}}, nil
}

func (b *fakeBroker) GetOrderStatus(_ context.Context, req contracts.OrderRequest) (*contracts.OrderStatusResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls++
	data := contracts.OrderStatusData{Status: contracts.StatusFilled, AvgFilledPrice: req.LimitPrice, FilledQty: req.Quantity}
	if b.status != nil {
		data = b.status(req)
	}
	return &contracts.OrderStatusResponse{Success: true, Data: data}, nil
}

func (b *fakeBroker) setFree(v float64) {
	b.mu.Lock()
	b.freeUSD = v
	b.mu.Unlock()
}

func (b *fakeBroker) placedSells() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.placed {
		if r.Direction == contracts.DirectionSell {
			n++
		}
	}
	return n
}

type fakeMarket struct {
	closes map[string]float64
}

func (m *fakeMarket) GetClosePriceBars(_ context.Context, symbols []string) (map[string][]contracts.ClosePriceBar, error) {
	out := make(map[string][]contracts.ClosePriceBar, len(symbols))
	for _, sym := range symbols {
		c, ok := m.closes[sym]
		if !ok {
			continue
		}
		out[sym] = []contracts.ClosePriceBar{
			{Symbol: sym, Date: prevDay.AddDate(0, 0, -1), ClosePrice: c + 5},
			{Symbol: sym, Date: prevDay, ClosePrice: c},
		}
	}
	return out, nil
}

func (m *fakeMarket) NewPriceSocket() contracts.PriceSocket { return nil }

type recorder struct {
	mu        sync.Mutex
	actions   []audit.OrderAction
	renewals  []audit.RenewalAction
	rounds    []portfolio.RoundSummary
	balances  []float64
	immediate []eventbus.ImmediateFillPlaced
	loaded    []eventbus.DayLoaded
	saving    int
}

func (r *recorder) handle(_ context.Context, ev eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e := ev.(type) {
	case eventbus.OrderActionRecorded:
		r.actions = append(r.actions, e.Action)
	case eventbus.PositionRenewed:
		r.renewals = append(r.renewals, e.Action)
	case eventbus.RoundCompleted:
		r.rounds = append(r.rounds, e.Round.Summary())
	case eventbus.BalanceUpdated:
		r.balances = append(r.balances, e.FreeUSD)
	case eventbus.ImmediateFillPlaced:
		r.immediate = append(r.immediate, e)
	case eventbus.DayLoaded:
		r.loaded = append(r.loaded, e)
	case eventbus.DaySaving:
		r.saving++
	}
	return nil
}

func (r *recorder) lastRound(t *testing.T) portfolio.RoundSummary {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.rounds)
	return r.rounds[len(r.rounds)-1]
}

func (r *recorder) countActions(typ audit.ActionType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.actions {
		if a.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	eng    *Engine
	broker *fakeBroker
	store  *snapshot.MemoryStore
	rec    *recorder
}

func plan(pct float64) strategy.Plan {
	return strategy.Plan{QtyPcts: []float64{1}, Pcts: []float64{pct}}
}

func testParams(rungs ...strategy.Rung) *strategy.Params {
	if len(rungs) == 0 {
		rungs = []strategy.Rung{{Pct: -0.01, MaxUSD: 4000}}
	}
	return &strategy.Params{
		PrimaryBuys:      rungs,
		SmallDropSells:   plan(0.01),
		BigDropSells:     plan(0.02),
		CounterBuys:      plan(-0.005),
		NonPrimarySells:  plan(0.005),
		BigDropCutoffPct: -0.04,
		Breakeven:        strategy.BreakevenRule{TriggerPct: -0.025, MinPctForSellPrice: 0.001},
	}
}

func newHarness(t *testing.T, p *strategy.Params, closes map[string]float64) *harness {
	t.Helper()

	symbols := make([]string, 0, len(closes))
	for sym := range closes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	book, err := strategy.Uniform(symbols, p, 2)
	require.NoError(t, err)

	h := &harness{
		broker: &fakeBroker{freeUSD: 100000},
		store:  snapshot.NewMemoryStore(),
		rec:    &recorder{},
	}

	bus := eventbus.New()
	for _, topic := range []eventbus.Topic{
		eventbus.TopicEndOfPriceUpdateRound,
		eventbus.TopicOrderAction,
		eventbus.TopicPositionRenewal,
		eventbus.TopicAfterStartOfDayLoad,
		eventbus.TopicBeforeEndOfDaySave,
		eventbus.TopicAccountBalanceUpdate,
		eventbus.TopicImmediateFillBuyPlacement,
	} {
		require.NoError(t, bus.Subscribe(topic, h.rec.handle))
	}
	// 시뮬레이션 러너처럼 잔고 이벤트를 브로커 계좌에 반영
	require.NoError(t, bus.Subscribe(eventbus.TopicAccountBalanceUpdate, func(_ context.Context, ev eventbus.Event) error {
		h.broker.setFree(ev.(eventbus.BalanceUpdated).FreeUSD)
		return nil
	}))

	h.eng, err = New(Config{Symbols: symbols, Today: today}, Deps{
		Broker:     h.broker,
		MarketData: &fakeMarket{closes: closes},
		Store:      h.store,
		Bus:        bus,
		Strategy:   book,
		Clock:      func() time.Time { return today.Add(15 * time.Hour) },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.eng.StartOfDay(context.Background()))
}

func (h *harness) tick(t *testing.T, sym string, bid, ask float64) {
	t.Helper()
	require.NoError(t, h.eng.OnPriceUpdate(context.Background(), contracts.PriceUpdate{
		Symbol: sym, Bid: bid, Ask: ask, Time: today.Add(14 * time.Hour),
	}))
}

func position(t *testing.T, e *Engine, sym string) *portfolio.Position {
	t.Helper()
	pos, ok := e.Positions().Get(sym)
	require.True(t, ok)
	return pos
}

func TestFreshStart(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100, "QQQ": 200})
	h.start(t)

	assert.Equal(t, DayTrading, h.eng.State())
	require.Len(t, h.rec.loaded, 1)
	assert.True(t, h.rec.loaded[0].FreshStart)

	require.Len(t, h.rec.renewals, 2)
	for _, r := range h.rec.renewals {
		assert.Equal(t, audit.RenewalRefresh, r.Type)
	}

	spy := position(t, h.eng, "SPY")
	assert.Equal(t, 100.0, spy.BasisPrice(), "latest bar is the basis")
	assert.Equal(t, 100.0, spy.Instrument.PrevClose)
	assert.Equal(t, 0, spy.Orders.Len())
	assert.Equal(t, 100000.0, h.eng.Account().FreeUSDBalance)
}

func TestEndToEndSingleSymbol(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100})
	h.start(t)
	spy := position(t, h.eng, "SPY")

	// first tick: ladder created and the -1% buy placed
	h.tick(t, "SPY", 99.40, 99.50)
	assert.True(t, h.eng.FirstBuysPlaced())
	r := h.rec.lastRound(t)
	assert.Equal(t, int64(1), r.Number)
	assert.Equal(t, 1, r.PrimaryPlacedBuys)

	buy := spy.Orders.ClosestOpenBuy()
	require.NotNil(t, buy)
	assert.Equal(t, 99.00, buy.LimitPrice)
	assert.Equal(t, 40, buy.Quantity)

	// ask crosses below the buy limit: fill and exactly one counter sell
	h.tick(t, "SPY", 98.90, 98.95)
	r = h.rec.lastRound(t)
	assert.Equal(t, 1, r.FilledBuys)
	assert.Equal(t, 1, r.NonPrimaryPlacedSells)
	assert.Equal(t, 1, h.broker.placedSells())
	assert.Equal(t, contracts.StatusFilled, buy.Status)
	assert.Equal(t, 40, buy.FilledQty)

	sell := spy.Orders.ClosestOpenSell()
	require.NotNil(t, sell)
	assert.Equal(t, 99.99, sell.LimitPrice)
	assert.Equal(t, 40, sell.Quantity)
	assert.Equal(t, buy.ID, sell.ParentID)
	assert.Nil(t, spy.Orders.ClosestOpenBuy())

	// identical and anomalous ticks are dropped without a round
	h.tick(t, "SPY", 98.90, 98.95)
	h.tick(t, "SPY", 90.00, 90.05)
	assert.Equal(t, int64(2), h.eng.RoundNum())
	assert.Equal(t, int64(1), h.eng.Stats().Identical.Load())
	assert.Equal(t, int64(1), h.eng.Stats().Anomalies.Load())
	assert.Equal(t, 98.90, spy.Instrument.Bid)

	// bid crosses above the sell limit: fill and place the counter buy
	h.tick(t, "SPY", 100.00, 100.05)
	r = h.rec.lastRound(t)
	assert.Equal(t, 1, r.FilledSells)
	assert.Equal(t, 1, r.NonPrimaryPlacedBuys)

	rebuy := spy.Orders.ClosestOpenBuy()
	require.NotNil(t, rebuy)
	assert.Equal(t, 99.49, rebuy.LimitPrice)
	assert.Equal(t, 40, rebuy.Quantity)
	assert.Equal(t, 2, rebuy.NumParents)
	assert.Equal(t, buy.ID, rebuy.PrimaryID)

	require.Len(t, h.rec.balances, 2)
	assert.InDelta(t, 96040, h.rec.balances[0], 1e-6)
	assert.InDelta(t, 100039.6, h.rec.balances[1], 1e-6)
	assert.InDelta(t, 100039.6, h.eng.Account().FreeUSDBalance, 1e-6)

	// end of day persists today's snapshot
	require.NoError(t, h.eng.EndOfDay(context.Background()))
	assert.Equal(t, DayClosed, h.eng.State())
	assert.Equal(t, 1, h.rec.saving)

	saved, err := h.store.Load(context.Background(), today)
	require.NoError(t, err)
	savedSpy, ok := saved.Get("SPY")
	require.True(t, ok)
	assert.Equal(t, spy.ID, savedSpy.ID)
	assert.Equal(t, spy.Orders.Len(), savedSpy.Orders.Len())

	assert.Error(t, h.eng.EndOfDay(context.Background()))
}

func TestImmediateFillOnFirstTick(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100})
	h.start(t)

	// ask already below the -1% limit: the buy is placed and filled at once
	h.tick(t, "SPY", 98.45, 98.50)

	r := h.rec.lastRound(t)
	assert.Equal(t, 1, r.FilledBuys)
	assert.Equal(t, 1, r.NonPrimaryPlacedSells)
	assert.Equal(t, 0, r.PrimaryPlacedBuys)
	require.Len(t, h.rec.immediate, 1)
	assert.True(t, h.rec.immediate[0].Order.ImmediateFill)
	assert.Equal(t, 98.45, h.rec.immediate[0].Bid)

	spy := position(t, h.eng, "SPY")
	require.Len(t, spy.Orders.Filled.Buys, 1)
	assert.True(t, spy.Orders.Filled.Buys[0].ImmediateFill)
	assert.Equal(t, 1, h.broker.placedSells())
}

func TestImmediateFillQuantityMismatchIsFatal(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100})
	h.broker.status = func(req contracts.OrderRequest) contracts.OrderStatusData {
		return contracts.OrderStatusData{Status: contracts.StatusFilled, AvgFilledPrice: req.LimitPrice, FilledQty: req.Quantity - 1}
	}
	h.start(t)

	err := h.eng.OnPriceUpdate(context.Background(), contracts.PriceUpdate{Symbol: "SPY", Bid: 98.45, Ask: 98.50})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatal))
}

func TestBreakevenReplacesOpenSells(t *testing.T) {
	p := testParams(
		strategy.Rung{Pct: -0.01, MaxUSD: 4000},
		strategy.Rung{Pct: -0.03, MaxUSD: 4000},
	)
	h := newHarness(t, p, map[string]float64{"SPY": 100})
	h.start(t)
	spy := position(t, h.eng, "SPY")

	h.tick(t, "SPY", 99.50, 99.55)
	assert.Len(t, spy.Orders.OpenPrimaryBuys(), 1, "one open primary per symbol")

	h.tick(t, "SPY", 98.80, 98.85)
	r := h.rec.lastRound(t)
	assert.Equal(t, 1, r.FilledBuys)
	assert.Equal(t, 1, r.PrimaryPlacedBuys, "next rung placed after the fill")
	assert.False(t, r.Breakeven)

	h.tick(t, "SPY", 97.50, 97.60)
	h.tick(t, "SPY", 96.80, 96.90)

	r = h.rec.lastRound(t)
	assert.True(t, r.Breakeven)
	assert.Equal(t, 1, r.FilledBuys)
	assert.Equal(t, 1, r.CancelledSells)
	assert.Equal(t, 1, r.NonPrimaryPlacedSells)
	assert.False(t, r.DebugFlag)

	open := spy.Orders.OpenSells()
	require.Len(t, open, 1)
	assert.True(t, open[0].BreakEven)
	assert.Equal(t, 81, open[0].Quantity)
	assert.Equal(t, 97.99, open[0].LimitPrice)
	require.Len(t, spy.Orders.Cancelled.Sells, 1)
	assert.Equal(t, 99.99, spy.Orders.Cancelled.Sells[0].LimitPrice)
}

func TestBreakevenOncePerRoundWithTwoFills(t *testing.T) {
	p := testParams(
		strategy.Rung{Pct: -0.01, MaxUSD: 4000},
		strategy.Rung{Pct: -0.02, MaxUSD: 4000},
		strategy.Rung{Pct: -0.03, MaxUSD: 4000},
	)
	h := newHarness(t, p, map[string]float64{"SPY": 100})
	h.start(t)
	spy := position(t, h.eng, "SPY")

	h.tick(t, "SPY", 99.50, 99.55)
	h.tick(t, "SPY", 98.80, 98.85)
	require.Len(t, spy.Orders.OpenSells(), 1)
	assert.Equal(t, 99.99, spy.Orders.OpenSells()[0].LimitPrice)
	h.tick(t, "SPY", 98.10, 98.15)

	// 98 rung crosses, 97 rung is filled immediately in the same round
	h.tick(t, "SPY", 96.80, 96.90)

	r := h.rec.lastRound(t)
	assert.Equal(t, 2, r.FilledBuys)
	assert.True(t, r.Breakeven)
	assert.Equal(t, 1, r.CancelledSells)
	assert.Equal(t, 1, r.NonPrimaryPlacedSells)

	breakevens := 0
	for _, o := range spy.Orders.All() {
		if o.BreakEven {
			breakevens++
		}
	}
	assert.Equal(t, 1, breakevens)
	assert.Equal(t, 2, h.broker.placedSells())

	open := spy.Orders.OpenSells()
	require.Len(t, open, 1)
	assert.True(t, open[0].BreakEven)
	buyQty, _ := spy.Orders.FilledBuyTotals()
	assert.Equal(t, 121, buyQty)
	assert.Equal(t, buyQty, open[0].Quantity)
	assert.Equal(t, 97.99, open[0].LimitPrice)

	require.Len(t, spy.Orders.Cancelled.Sells, 1)
	assert.Equal(t, 99.99, spy.Orders.Cancelled.Sells[0].LimitPrice)
}

func TestBreakevenPriceFloor(t *testing.T) {
	pos := portfolio.NewPosition("SPY", &contracts.ClosePriceBar{Symbol: "SPY", ClosePrice: 100})
	buy := portfolio.NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	require.NoError(t, pos.Orders.Add(buy))
	require.NoError(t, pos.Orders.MarkPlaced(buy, "", "", today))
	require.NoError(t, pos.Orders.MarkFilled(buy, 40, 99, today))

	require.NoError(t, pos.Instrument.Update(95, 95.05, today))
	price, qty := BreakevenPrice(pos, 0.001)
	assert.Equal(t, 40, qty)
	assert.Equal(t, 99.0, price)

	// bid high enough that the floor wins
	require.NoError(t, pos.Instrument.Update(99.5, 99.55, today))
	price, _ = BreakevenPrice(pos, 0.01)
	assert.Equal(t, 100.50, price)
}

func TestPrimarySlotsFollowPctDrop(t *testing.T) {
	p := testParams(strategy.Rung{Pct: -0.03, MaxUSD: 4000})
	h := newHarness(t, p, map[string]float64{"SPY": 100, "QQQ": 100, "IWM": 100})
	h.start(t)

	h.tick(t, "QQQ", 98.00, 98.05)
	h.tick(t, "SPY", 99.00, 99.05)
	assert.False(t, h.eng.FirstBuysPlaced(), "waits until every symbol has a price")

	h.tick(t, "IWM", 100.50, 100.55)
	assert.True(t, h.eng.FirstBuysPlaced())
	assert.Equal(t, []string{"QQQ", "SPY", "IWM"}, h.eng.Positions().Symbols())

	assert.Len(t, position(t, h.eng, "QQQ").Orders.OpenPrimaryBuys(), 1)
	assert.Len(t, position(t, h.eng, "SPY").Orders.OpenPrimaryBuys(), 1)
	assert.Len(t, position(t, h.eng, "IWM").Orders.OpenPrimaryBuys(), 0)
	assert.Equal(t, 2, h.eng.Positions().TotalOpenPrimaryBuys())
}

func TestPlaceFailureLeavesOrderUnplaced(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100})
	h.broker.rejectPlace = func(req contracts.OrderRequest) bool { return req.Direction == contracts.DirectionBuy }
	h.start(t)

	h.tick(t, "SPY", 99.40, 99.50)

	spy := position(t, h.eng, "SPY")
	require.Len(t, spy.Orders.Current.Buys, 1)
	assert.Equal(t, contracts.StatusNotPlacedYet, spy.Orders.Current.Buys[0].Status)
	assert.Equal(t, int64(1), h.eng.Stats().PlaceFailures.Load())
	assert.Equal(t, 0, h.rec.lastRound(t).PrimaryPlacedBuys)
	assert.Equal(t, 0, h.rec.countActions(audit.ActionPlaced))
}

func TestCrossedBuyNotFilledStaysOpen(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100})
	h.broker.status = func(req contracts.OrderRequest) contracts.OrderStatusData {
		return contracts.OrderStatusData{Status: contracts.StatusOpen}
	}
	h.start(t)

	h.tick(t, "SPY", 99.40, 99.50)
	h.tick(t, "SPY", 98.90, 98.95)

	spy := position(t, h.eng, "SPY")
	assert.Equal(t, 0, h.rec.lastRound(t).FilledBuys)
	require.NotNil(t, spy.Orders.ClosestOpenBuy())
	assert.Equal(t, contracts.StatusOpen, spy.Orders.ClosestOpenBuy().Status)
}

func TestPriceUpdateOutsideTradingIsFatal(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100})

	err := h.eng.OnPriceUpdate(context.Background(), contracts.PriceUpdate{Symbol: "SPY", Bid: 1, Ask: 1})
	assert.True(t, errors.Is(err, ErrFatal))

	h.start(t)
	require.NoError(t, h.eng.OnPriceUpdate(context.Background(), contracts.PriceUpdate{Symbol: "TSLA", Bid: 1, Ask: 1}))
	assert.Equal(t, int64(1), h.eng.Stats().UnknownSymbol.Load())
}

func TestForceCompleteOpenSells(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100})
	h.start(t)
	h.tick(t, "SPY", 99.40, 99.50)
	h.tick(t, "SPY", 98.90, 98.95)

	n, err := h.eng.ForceCompleteOpenSells(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	spy := position(t, h.eng, "SPY")
	require.Len(t, spy.Orders.Filled.Sells, 1)
	assert.Equal(t, 98.90, spy.Orders.Filled.Sells[0].AvgFilledPrice)
	assert.Equal(t, 0, spy.Orders.HoldingQty())
	assert.Nil(t, spy.Orders.ClosestOpenSell())
}

func filled(t *testing.T, pos *portfolio.Position, o *portfolio.Order) *portfolio.Order {
	t.Helper()
	placed(t, pos, o)
	require.NoError(t, pos.Orders.MarkFilled(o, o.Quantity, o.LimitPrice, prevDay))
	return o
}

func placed(t *testing.T, pos *portfolio.Position, o *portfolio.Order) *portfolio.Order {
	t.Helper()
	require.NoError(t, pos.Orders.Add(o))
	require.NoError(t, pos.Orders.MarkPlaced(o, "", "", prevDay))
	return o
}

func TestRenewalRule(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100, "QQQ": 100, "IWM": 100})

	bar := func(sym string) *contracts.ClosePriceBar {
		return &contracts.ClosePriceBar{Symbol: sym, Date: prevDay.AddDate(0, 0, -1), ClosePrice: 98}
	}
	ps := portfolio.NewPositions()

	// SPY: filled buy with an open sell → kept
	spy := portfolio.NewPosition("SPY", bar("SPY"))
	spyBuy := filled(t, spy, portfolio.NewPrimaryBuy(spy.ID, "SPY", 100, -0.01, 4000))
	placed(t, spy, portfolio.NewCounterSell(spyBuy, 0.01, spyBuy.FilledQty))

	// QQQ: filled round trip, an open buy left over → renewed
	qqq := portfolio.NewPosition("QQQ", bar("QQQ"))
	qqqBuy := filled(t, qqq, portfolio.NewPrimaryBuy(qqq.ID, "QQQ", 100, -0.01, 4000))
	filled(t, qqq, portfolio.NewCounterSell(qqqBuy, 0.01, qqqBuy.FilledQty))
	placed(t, qqq, portfolio.NewPrimaryBuy(qqq.ID, "QQQ", 100, -0.03, 4000))

	// IWM: never filled → refreshed
	iwm := portfolio.NewPosition("IWM", bar("IWM"))
	placed(t, iwm, portfolio.NewPrimaryBuy(iwm.ID, "IWM", 100, -0.01, 4000))

	for _, p := range []*portfolio.Position{spy, qqq, iwm} {
		p.Orders.Update()
		ps.Set(p)
	}
	require.NoError(t, h.store.Save(context.Background(), prevDay, ps))

	h.start(t)

	require.Len(t, h.rec.loaded, 1)
	assert.False(t, h.rec.loaded[0].FreshStart)

	require.Len(t, h.rec.renewals, 2)
	bySymbol := map[string]audit.RenewalAction{}
	for _, r := range h.rec.renewals {
		bySymbol[r.Symbol] = r
	}
	assert.Equal(t, audit.RenewalRefresh, bySymbol["IWM"].Type)
	assert.Equal(t, iwm.ID, bySymbol["IWM"].PositionID)
	assert.Equal(t, audit.RenewalRenewal, bySymbol["QQQ"].Type)
	assert.Equal(t, 1, bySymbol["QQQ"].FilledBuys)

	assert.Len(t, h.broker.cancelled, 2)
	assert.Equal(t, 2, h.rec.countActions(audit.ActionCancelled))

	liveSpy := position(t, h.eng, "SPY")
	assert.Equal(t, spy.ID, liveSpy.ID)
	assert.Equal(t, 2, liveSpy.Orders.Len())
	assert.Equal(t, 98.0, liveSpy.BasisPrice(), "carried positions keep their original basis bar")

	liveQqq := position(t, h.eng, "QQQ")
	assert.NotEqual(t, qqq.ID, liveQqq.ID)
	assert.Equal(t, 0, liveQqq.Orders.Len())
	assert.Equal(t, 100.0, liveQqq.BasisPrice())
	assert.NotEqual(t, iwm.ID, position(t, h.eng, "IWM").ID)
}

func TestRenewalCancelFailureIsFatal(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"IWM": 100})

	iwm := portfolio.NewPosition("IWM", &contracts.ClosePriceBar{Symbol: "IWM", ClosePrice: 100})
	placed(t, iwm, portfolio.NewPrimaryBuy(iwm.ID, "IWM", 100, -0.01, 4000))
	iwm.Orders.Update()
	ps := portfolio.NewPositions()
	ps.Set(iwm)
	require.NoError(t, h.store.Save(context.Background(), prevDay, ps))

	h.broker.cancelFails = true
	err := h.eng.StartOfDay(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatal))
}

func TestDayStateTransitions(t *testing.T) {
	h := newHarness(t, testParams(), map[string]float64{"SPY": 100})

	assert.Error(t, h.eng.EndOfDay(context.Background()), "cannot close before starting")
	h.start(t)
	assert.Error(t, h.eng.StartOfDay(context.Background()), "cannot start twice")
	assert.Equal(t, "Trading", h.eng.State().String())
}
