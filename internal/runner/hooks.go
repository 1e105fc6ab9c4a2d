package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/eventbus"
	"github.com/wonny/daytrader/internal/portfolio"
	"github.com/wonny/daytrader/internal/validator"
	"github.com/wonny/daytrader/pkg/logger"
	"github.com/wonny/daytrader/pkg/redis"
)

// EngineView is the read-only part of the engine the hooks inspect
// 핸들러는 엔진 goroutine이 Publish에서 대기하는 동안에만 호출되므로 읽기 안전
type EngineView interface {
	Today() time.Time
	Positions() *portfolio.Positions
	MaxOpenPrimaryBuys() int
	FirstBuysPlaced() bool
}

// HookOptions configures the bus subscribers
type HookOptions struct {
	Logger     *logger.Logger
	Metrics    *Metrics          // nil 가능
	Repository *audit.Repository // nil 가능, 일자 종료 시 액션 일괄 저장
	Mirror     *redis.Cache      // nil 가능, 최신 라운드 요약 미러링

	// Live skips the missing-placement round check
	// 실거래에서 거부된 primary는 다음 라운드까지 NotPlacedYet으로 남음
	Live bool
}

// PositionView is a value copy of one position for readers outside the engine
type PositionView struct {
	Symbol         string    `json:"symbol"`
	PositionID     uuid.UUID `json:"position_id"`
	BasisPrice     float64   `json:"basis_price"`
	Bid            float64   `json:"bid"`
	Ask            float64   `json:"ask"`
	PctChange      float64   `json:"pct_change"`
	OpenBuys       int       `json:"open_buys"`
	OpenSells      int       `json:"open_sells"`
	FilledBuyQty   int       `json:"filled_buy_qty"`
	FilledSellQty  int       `json:"filled_sell_qty"`
	HoldingQty     int       `json:"holding_qty"`
	NetCashFlowUSD float64   `json:"net_cash_flow_usd"`
	ClosestBuy     float64   `json:"closest_buy,omitempty"`
	ClosestSell    float64   `json:"closest_sell,omitempty"`
}

func viewOf(pos *portfolio.Position) PositionView {
	buyQty, _ := pos.Orders.FilledBuyTotals()
	sellQty, _ := pos.Orders.FilledSellTotals()
	v := PositionView{
		Symbol:         pos.Symbol,
		PositionID:     pos.ID,
		BasisPrice:     pos.BasisPrice(),
		Bid:            pos.Instrument.Bid,
		Ask:            pos.Instrument.Ask,
		PctChange:      pos.CurrentPctChange(),
		OpenBuys:       len(pos.Orders.OpenBuys()),
		OpenSells:      len(pos.Orders.OpenSells()),
		FilledBuyQty:   buyQty,
		FilledSellQty:  sellQty,
		HoldingQty:     buyQty - sellQty,
		NetCashFlowUSD: portfolio.RoundCents(pos.Orders.NetCashFlowUSD()),
	}
	if o := pos.Orders.ClosestOpenBuy(); o != nil {
		v.ClosestBuy = o.LimitPrice
	}
	if o := pos.Orders.ClosestOpenSell(); o != nil {
		v.ClosestSell = o.LimitPrice
	}
	return v
}

// Hooks subscribes logging, validation, balance tracking and persistence to the engine's bus
// ⭐ SSOT: 엔진 이벤트 → 감사 로그/검증 연결은 여기서만
// 훅은 엔진 상태를 절대 수정하지 않음
type Hooks struct {
	orders   *audit.OrderLog
	renewals *audit.RenewalLog
	opts     HookOptions
	log      *logger.Logger

	mu         sync.Mutex
	freeUSD    float64
	minFreeUSD float64
	hasBalance bool

	// 현재 일자
	view     EngineView
	baseline []validator.OrderState
	daySeq   int64

	positions atomic.Pointer[[]PositionView]
	round     atomic.Pointer[portfolio.RoundSummary]
	date      atomic.Pointer[time.Time]
}

// NewHooks creates hooks with empty logs
func NewHooks(opts HookOptions) *Hooks {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Hooks{
		orders:   audit.NewOrderLog(),
		renewals: audit.NewRenewalLog(),
		opts:     opts,
		log:      opts.Logger,
	}
}

// Attach subscribes to a fresh day's bus; the logs carry over between days
func (h *Hooks) Attach(bus *eventbus.Bus, view EngineView) error {
	h.mu.Lock()
	h.view = view
	h.baseline = nil
	h.daySeq = h.orders.LastSeq()
	h.mu.Unlock()

	subs := []struct {
		topic   eventbus.Topic
		handler eventbus.Handler
	}{
		{eventbus.TopicOrderAction, h.onOrderAction},
		{eventbus.TopicPositionRenewal, h.onRenewal},
		{eventbus.TopicAfterStartOfDayLoad, h.onDayLoaded},
		{eventbus.TopicEndOfPriceUpdateRound, h.onRound},
		{eventbus.TopicBeforeEndOfDaySave, h.onDaySaving},
		{eventbus.TopicAccountBalanceUpdate, h.onBalance},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.topic, s.handler); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", s.topic, err)
		}
	}
	return nil
}

func (h *Hooks) onOrderAction(_ context.Context, ev eventbus.Event) error {
	a := h.orders.Add(ev.(eventbus.OrderActionRecorded).Action)

	h.log.Channel(logger.ChannelOrderAction).WithFields(map[string]interface{}{
		"seq":       a.Seq,
		"round":     a.Round,
		"type":      a.Type,
		"symbol":    a.Symbol,
		"direction": a.Direction,
		"qty":       a.Quantity,
		"limit":     a.LimitPrice,
		"filled":    a.FilledQty,
		"avg_price": a.AvgFilledPrice,
		"order_id":  a.OrderID,
	}).Info("Order action")

	if h.opts.Metrics != nil {
		h.opts.Metrics.actions.WithLabelValues(string(a.Type)).Inc()
	}
	return nil
}

func (h *Hooks) onRenewal(_ context.Context, ev eventbus.Event) error {
	a := h.renewals.Add(ev.(eventbus.PositionRenewed).Action)

	h.log.Channel(logger.ChannelPositionRenewalAction).WithFields(map[string]interface{}{
		"seq":          a.Seq,
		"type":         a.Type,
		"symbol":       a.Symbol,
		"position_id":  a.PositionID,
		"filled_buys":  a.FilledBuys,
		"filled_sells": a.FilledSells,
	}).Info("Position renewal")

	if h.opts.Metrics != nil {
		h.opts.Metrics.renewals.WithLabelValues(string(a.Type)).Inc()
	}
	return nil
}

// onDayLoaded records the loaded orders as the replay baseline
func (h *Hooks) onDayLoaded(_ context.Context, ev eventbus.Event) error {
	e := ev.(eventbus.DayLoaded)

	h.mu.Lock()
	h.baseline = validator.Baseline(h.view.Positions())
	n := len(h.baseline)
	h.mu.Unlock()

	date := e.Date
	h.date.Store(&date)
	h.publishPositions()

	h.log.Channel(logger.ChannelDebug).WithFields(map[string]interface{}{
		"date":     e.Date.Format(contracts.DateLayout),
		"fresh":    e.FreshStart,
		"baseline": n,
	}).Debug("Day loaded")
	return nil
}

func (h *Hooks) onRound(ctx context.Context, ev eventbus.Event) error {
	round := ev.(eventbus.RoundCompleted).Round
	summary := round.Summary()

	h.mu.Lock()
	view := h.view
	h.mu.Unlock()

	checkPlacements := view.FirstBuysPlaced() && !h.opts.Live
	if err := validator.ValidateRound(round, view.Positions(), view.MaxOpenPrimaryBuys(), checkPlacements); err != nil {
		if h.opts.Metrics != nil {
			h.opts.Metrics.validationErr.Inc()
		}
		return fmt.Errorf("round %d failed validation: %w", round.Number, err)
	}

	if h.log.On(logger.ChannelOrderChanges) {
		changes := h.log.Channel(logger.ChannelOrderChanges)
		for _, o := range round.ModifiedOrders() {
			changes.WithFields(map[string]interface{}{
				"round":  round.Number,
				"order":  o.String(),
				"status": o.Status,
			}).Debug("Order changed")
		}
	}
	h.log.Channel(logger.ChannelPriceUpdateRound).WithFields(map[string]interface{}{
		"round":        summary.Number,
		"symbol":       summary.Symbol,
		"bid":          summary.Bid,
		"ask":          summary.Ask,
		"filled_buys":  summary.FilledBuys,
		"filled_sells": summary.FilledSells,
		"breakeven":    summary.Breakeven,
	}).Debug("Round complete")

	h.round.Store(&summary)
	h.publishPositions()

	if h.opts.Mirror != nil {
		if err := h.opts.Mirror.Set(ctx, redis.LatestRoundKey(), summary, redis.TTLMedium); err != nil {
			h.log.WithError(err).Warn("Round mirror failed")
		}
	}
	return nil
}

// onDaySaving checks the live orders against the day's action log and stores the actions
func (h *Hooks) onDaySaving(ctx context.Context, ev eventbus.Event) error {
	e := ev.(eventbus.DaySaving)

	h.mu.Lock()
	view, baseline, daySeq := h.view, h.baseline, h.daySeq
	h.mu.Unlock()

	today := h.orders.Since(daySeq, 0)
	if err := validator.SelfConsistent(view.Positions(), baseline, today, h.renewals.Retired()); err != nil {
		if h.opts.Metrics != nil {
			h.opts.Metrics.validationErr.Inc()
		}
		return err
	}
	h.publishPositions()

	if h.opts.Repository != nil && len(today) > 0 {
		if err := h.opts.Repository.SaveOrderActions(ctx, today); err != nil {
			// 감사 로그 실패는 거래를 멈추지 않음
			h.log.Channel(logger.ChannelError).WithError(err).WithField("count", len(today)).Error("Failed to store order actions")
		}
	}

	h.log.Channel(logger.ChannelDailySummary).WithFields(map[string]interface{}{
		"date":    e.Date.Format(contracts.DateLayout),
		"actions": len(today),
	}).Info("Positions consistent with order actions")
	return nil
}

func (h *Hooks) onBalance(_ context.Context, ev eventbus.Event) error {
	free := ev.(eventbus.BalanceUpdated).FreeUSD

	h.mu.Lock()
	h.freeUSD = free
	if !h.hasBalance || free < h.minFreeUSD {
		h.minFreeUSD = free
	}
	h.hasBalance = true
	minFree := h.minFreeUSD
	h.mu.Unlock()

	if h.opts.Metrics != nil {
		h.opts.Metrics.freeUSD.Set(free)
		h.opts.Metrics.minFreeUSD.Set(minFree)
	}
	return nil
}

func (h *Hooks) publishPositions() {
	h.mu.Lock()
	view := h.view
	h.mu.Unlock()

	sorted := view.Positions().Sorted()
	out := make([]PositionView, 0, len(sorted))
	for _, pos := range sorted {
		out = append(out, viewOf(pos))
	}
	h.positions.Store(&out)
}

// SetFreeUSD seeds the balance before the first fill
func (h *Hooks) SetFreeUSD(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freeUSD = v
	if !h.hasBalance || v < h.minFreeUSD {
		h.minFreeUSD = v
	}
	h.hasBalance = true
}

// FreeUSD returns the latest free balance
func (h *Hooks) FreeUSD() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freeUSD
}

// MinFreeUSD returns the lowest free balance seen
func (h *Hooks) MinFreeUSD() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.minFreeUSD
}

// Orders returns the order action log
func (h *Hooks) Orders() *audit.OrderLog { return h.orders }

// Renewals returns the renewal log
func (h *Hooks) Renewals() *audit.RenewalLog { return h.renewals }

// Positions returns the latest position views
func (h *Hooks) Positions() []PositionView {
	p := h.positions.Load()
	if p == nil {
		return nil
	}
	return *p
}

// LatestRound returns the most recent round summary
func (h *Hooks) LatestRound() (portfolio.RoundSummary, bool) {
	r := h.round.Load()
	if r == nil {
		return portfolio.RoundSummary{}, false
	}
	return *r, true
}

// Date returns the trading date of the attached engine
func (h *Hooks) Date() (time.Time, bool) {
	d := h.date.Load()
	if d == nil {
		return time.Time{}, false
	}
	return *d, true
}
