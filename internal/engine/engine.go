package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/eventbus"
	"github.com/wonny/daytrader/internal/portfolio"
	"github.com/wonny/daytrader/internal/snapshot"
	"github.com/wonny/daytrader/internal/strategy"
	"github.com/wonny/daytrader/pkg/logger"
)

// ErrFatal marks an invariant violation; the driver stops on any error wrapping it
var ErrFatal = errors.New("engine halted")

// DefaultAnomalyPct is the mid-price jump above which a tick is dropped
const DefaultAnomalyPct = 0.02

func fatalf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFatal, fmt.Sprintf(format, args...))
}

// Strategy sizes ladders and counter orders for the engine
// 엔진은 전략 수식을 직접 계산하지 않고 반환된 수량/가격만 적용
type Strategy interface {
	MaxOpenPrimaryBuys() int
	InitialBuys(symbol string) ([]strategy.Rung, error)
	SellsForFilledBuy(buy *portfolio.Order) ([]strategy.Leg, error)
	BuysForFilledSell(sell *portfolio.Order) ([]strategy.Leg, error)
	Breakeven(symbol string) (strategy.BreakevenRule, error)
}

// Config holds per-day engine settings
type Config struct {
	Symbols    []string
	Today      time.Time
	AnomalyPct float64
}

// Deps are the engine's collaborators
type Deps struct {
	Broker     contracts.Brokerage
	MarketData contracts.MarketData
	Store      snapshot.Store
	Bus        *eventbus.Bus
	Strategy   Strategy
	Logger     *logger.Logger
	Clock      func() time.Time
}

// Stats counts ticks the engine did not turn into rounds
type Stats struct {
	Rounds        atomic.Int64
	Identical     atomic.Int64
	Anomalies     atomic.Int64
	UnknownSymbol atomic.Int64
	PlaceFailures atomic.Int64
}

// Engine is the price-update-driven order state machine for one trading day
// ⭐ SSOT: Position/Order 변경은 엔진 goroutine에서만 (throttle이 단일 소비자 보장)
type Engine struct {
	cfg      Config
	broker   contracts.Brokerage
	market   contracts.MarketData
	store    snapshot.Store
	bus      *eventbus.Bus
	strategy Strategy
	log      *logger.Logger
	now      func() time.Time

	state     atomic.Int32
	positions *portfolio.Positions
	bars      map[string]contracts.ClosePriceBar
	account   contracts.AccountData

	roundNum        int64
	firstBuysPlaced bool

	stats Stats
}

// New creates an engine for cfg.Today
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Broker == nil:
		return nil, errors.New("engine requires a brokerage")
	case deps.MarketData == nil:
		return nil, errors.New("engine requires market data")
	case deps.Store == nil:
		return nil, errors.New("engine requires a snapshot store")
	case deps.Bus == nil:
		return nil, errors.New("engine requires an event bus")
	case deps.Strategy == nil:
		return nil, errors.New("engine requires a strategy")
	case len(cfg.Symbols) == 0:
		return nil, errors.New("engine requires at least one symbol")
	}
	if cfg.AnomalyPct <= 0 {
		cfg.AnomalyPct = DefaultAnomalyPct
	}
	if cfg.Today.IsZero() {
		cfg.Today = time.Now()
	}
	cfg.Today = contracts.TradingDate(cfg.Today)

	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		cfg:       cfg,
		broker:    deps.Broker,
		market:    deps.MarketData,
		store:     deps.Store,
		bus:       deps.Bus,
		strategy:  deps.Strategy,
		log:       log,
		now:       clock,
		positions: portfolio.NewPositions(),
		bars:      make(map[string]contracts.ClosePriceBar),
	}, nil
}

// Today returns the trading date the engine runs for
func (e *Engine) Today() time.Time { return e.cfg.Today }

// Symbols returns the configured symbols
func (e *Engine) Symbols() []string {
	out := make([]string, len(e.cfg.Symbols))
	copy(out, e.cfg.Symbols)
	return out
}

// Positions returns the live positions
// 엔진 goroutine 또는 버스 핸들러 안에서만 읽을 것
func (e *Engine) Positions() *portfolio.Positions { return e.positions }

// Account returns the last known account data
func (e *Engine) Account() contracts.AccountData { return e.account }

// RoundNum returns the number of accepted ticks so far
func (e *Engine) RoundNum() int64 { return e.roundNum }

// FirstBuysPlaced reports whether the first-buy protocol has run today
func (e *Engine) FirstBuysPlaced() bool { return e.firstBuysPlaced }

// MaxOpenPrimaryBuys returns the strategy's cap on open primary buys
func (e *Engine) MaxOpenPrimaryBuys() int { return e.strategy.MaxOpenPrimaryBuys() }

// Stats returns drop and failure counters
func (e *Engine) Stats() *Stats { return &e.stats }

// State returns the day state
func (e *Engine) State() DayState { return DayState(e.state.Load()) }

func (e *Engine) publish(ctx context.Context, ev eventbus.Event) error {
	if err := e.bus.Publish(ctx, ev); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	return nil
}

func (e *Engine) recordAction(ctx context.Context, t audit.ActionType, o *portfolio.Order) error {
	a := audit.NewOrderAction(e.cfg.Today, e.roundNum, t, o, e.now())
	return e.publish(ctx, eventbus.OrderActionRecorded{Action: a})
}

// ordersOf returns the arena owning o
func (e *Engine) ordersOf(o *portfolio.Order) (*portfolio.Orders, error) {
	pos, ok := e.positions.Get(o.Symbol)
	if !ok || pos.ID != o.PositionID {
		return nil, fatalf("order %s does not belong to a live position", o)
	}
	return pos.Orders, nil
}

func (e *Engine) refreshAccount(ctx context.Context) error {
	resp, err := e.broker.GetAccountData(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get account data: %w", ErrFatal, err)
	}
	if resp == nil || !resp.Success {
		return fatalf("account data retrieval was unsuccessful")
	}
	e.account = resp.Data
	return nil
}
