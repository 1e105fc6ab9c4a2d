package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wonny/daytrader/internal/app"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/engine"
	"github.com/wonny/daytrader/internal/eventbus"
	"github.com/wonny/daytrader/internal/realtime/cache"
	"github.com/wonny/daytrader/internal/snapshot"
	"github.com/wonny/daytrader/internal/strategy"
	"github.com/wonny/daytrader/pkg/redis"
)

// ErrDayRunning is returned when a trading day is already in progress
var ErrDayRunning = errors.New("trading day already running")

// TraderDeps are the live collaborators of a trader
type TraderDeps struct {
	Broker  contracts.Brokerage
	Market  contracts.MarketData
	Store   snapshot.Store
	Book    *strategy.Book
	Quotes  *cache.QuoteCache // nil 가능
	Mirror  *redis.Cache      // nil 가능
	Metrics *Metrics          // nil 가능
	Now     func() time.Time
}

// Trader runs live trading days against a real brokerage
type Trader struct {
	app   *app.Context
	hooks *Hooks
	deps  TraderDeps

	running atomic.Bool
}

// NewTrader creates a live trader
func NewTrader(appCtx *app.Context, hooks *Hooks, deps TraderDeps) (*Trader, error) {
	switch {
	case deps.Broker == nil:
		return nil, errors.New("trader requires a brokerage")
	case deps.Market == nil:
		return nil, errors.New("trader requires market data")
	case deps.Store == nil:
		return nil, errors.New("trader requires a snapshot store")
	case deps.Book == nil:
		return nil, errors.New("trader requires a strategy book")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Trader{app: appCtx, hooks: hooks, deps: deps}, nil
}

// Hooks returns the trader's bus subscribers
func (t *Trader) Hooks() *Hooks { return t.hooks }

// Quotes returns the live quote cache (may be nil)
func (t *Trader) Quotes() *cache.QuoteCache { return t.deps.Quotes }

// Running reports whether a day is in progress
func (t *Trader) Running() bool { return t.running.Load() }

// RunDay trades today from start of day to end of day
// 이전 실행의 폴트가 남아 있으면 새 일자를 시작하지 않음
func (t *Trader) RunDay(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrDayRunning
	}
	defer t.running.Store(false)

	if t.app.Faults.HasFaults() {
		return fmt.Errorf("refusing to start trading day: %w", t.app.Faults.Err())
	}

	err := t.runDay(ctx)
	if t.deps.Metrics != nil {
		t.deps.Metrics.DayFinished(err)
	}
	return err
}

func (t *Trader) runDay(ctx context.Context) error {
	bus := eventbus.New()
	eng, err := engine.New(engine.Config{
		Symbols:    t.app.Config.Engine.Symbols,
		Today:      t.deps.Now(),
		AnomalyPct: t.app.Config.Engine.AnomalyPct,
	}, engine.Deps{
		Broker:     t.deps.Broker,
		MarketData: t.deps.Market,
		Store:      t.deps.Store,
		Bus:        bus,
		Strategy:   t.deps.Book,
		Logger:     t.app.Logger,
		Clock:      t.deps.Now,
	})
	if err != nil {
		return err
	}
	if err := t.hooks.Attach(bus, eng); err != nil {
		return err
	}
	if t.deps.Metrics != nil {
		t.deps.Metrics.Observe(eng.Stats())
	}

	opts := t.app.DayOptions()
	opts.Quotes = t.deps.Quotes
	opts.Mirror = t.deps.Mirror
	opts.Now = t.deps.Now

	day, err := app.NewDay(t.app, eng, t.deps.Market, opts)
	if err != nil {
		return err
	}
	return day.Run(ctx)
}
