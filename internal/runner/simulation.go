package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/daytrader/internal/app"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/engine"
	"github.com/wonny/daytrader/internal/eventbus"
	"github.com/wonny/daytrader/internal/execution"
	"github.com/wonny/daytrader/internal/marketdata"
	"github.com/wonny/daytrader/internal/reporter"
	"github.com/wonny/daytrader/internal/snapshot"
	"github.com/wonny/daytrader/internal/strategy"
	"github.com/wonny/daytrader/internal/validator"
	"github.com/wonny/daytrader/pkg/logger"
)

// SimulationOptions configures a multi-day replay
type SimulationOptions struct {
	Dataset         *marketdata.Dataset
	Symbols         []string
	Book            *strategy.Book
	StartingFreeUSD float64
	Store           snapshot.Store // nil이면 메모리 저장소
	From, To        time.Time      // zero면 데이터셋 전체
	Workers         int            // 재생 goroutine 수 (1 = 기록 순서 그대로)
	PollInterval    time.Duration
}

// Simulation replays recorded trading days through fresh engines
// ⭐ SSOT: 시뮬레이션 일자 루프는 여기서만
// 일자마다 엔진/버스/브로커를 새로 만들고 스냅샷 저장소와 감사 로그만 이어감
type Simulation struct {
	app     *app.Context
	hooks   *Hooks
	metrics *Metrics
	opts    SimulationOptions
	log     *logger.Logger

	forced int
	days   int
}

// NewSimulation validates options and prepares a run
func NewSimulation(appCtx *app.Context, hooks *Hooks, metrics *Metrics, opts SimulationOptions) (*Simulation, error) {
	switch {
	case opts.Dataset == nil:
		return nil, errors.New("simulation requires a dataset")
	case opts.Book == nil:
		return nil, errors.New("simulation requires a strategy book")
	case len(opts.Symbols) == 0:
		return nil, errors.New("simulation requires at least one symbol")
	}
	if opts.Store == nil {
		opts.Store = snapshot.NewMemoryStore()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Simulation{
		app:     appCtx,
		hooks:   hooks,
		metrics: metrics,
		opts:    opts,
		log:     appCtx.Logger.Channel(logger.ChannelSimulationResults),
	}, nil
}

// Dates returns the trading dates that will be simulated
// 첫 거래일은 전일 종가가 없으므로 기준일로만 사용
func (s *Simulation) Dates() []time.Time {
	var out []time.Time
	for _, d := range s.opts.Dataset.TradingDates() {
		if !s.opts.From.IsZero() && d.Before(contracts.TradingDate(s.opts.From)) {
			continue
		}
		if !s.opts.To.IsZero() && d.After(contracts.TradingDate(s.opts.To)) {
			continue
		}
		if _, ok := s.opts.Dataset.PrevTradingDate(d); !ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Run simulates every date, force-completes open sells on the last one and reports
func (s *Simulation) Run(ctx context.Context) (*reporter.Report, error) {
	dates := s.Dates()
	if len(dates) == 0 {
		return nil, errors.New("no tradable dates in dataset")
	}

	s.hooks.SetFreeUSD(s.opts.StartingFreeUSD)
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := i == len(dates)-1
		err := s.runDay(ctx, date, last)
		if s.metrics != nil {
			s.metrics.DayFinished(err)
		}
		if err != nil {
			return nil, fmt.Errorf("simulation failed on %s: %w", date.Format(contracts.DateLayout), err)
		}
		s.days++
	}

	if s.forced != 1 {
		return nil, fmt.Errorf("open sells force-completed %d times, want 1", s.forced)
	}

	report, err := s.report(dates)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateFinalActions(s.hooks.Orders().Actions()); err != nil {
		return report, fmt.Errorf("final order actions invalid: %w", err)
	}
	return report, nil
}

func (s *Simulation) runDay(ctx context.Context, date time.Time, last bool) error {
	market, err := s.opts.Dataset.MarketFor(date, s.opts.Symbols, s.opts.Workers)
	if err != nil {
		return err
	}

	broker := execution.NewMockBroker(s.hooks.FreeUSD(), s.app.Logger)
	bus := eventbus.New()
	eng, err := engine.New(engine.Config{
		Symbols:    s.opts.Symbols,
		Today:      date,
		AnomalyPct: s.app.Config.Engine.AnomalyPct,
	}, engine.Deps{
		Broker:     broker,
		MarketData: market,
		Store:      s.opts.Store,
		Bus:        bus,
		Strategy:   s.opts.Book,
		Logger:     s.app.Logger,
	})
	if err != nil {
		return err
	}

	if err := s.hooks.Attach(bus, eng); err != nil {
		return err
	}
	// 모의 브로커는 러너가 계좌와 체결가를 맞춰줌
	if err := bus.Subscribe(eventbus.TopicAccountBalanceUpdate, func(_ context.Context, ev eventbus.Event) error {
		broker.SetFreeUSD(ev.(eventbus.BalanceUpdated).FreeUSD)
		return nil
	}); err != nil {
		return err
	}
	if err := bus.Subscribe(eventbus.TopicImmediateFillBuyPlacement, func(_ context.Context, ev eventbus.Event) error {
		e := ev.(eventbus.ImmediateFillPlaced)
		broker.SetFilledPrice(e.Order.ID.String(), e.Bid)
		return nil
	}); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Observe(eng.Stats())
	}

	opts := s.app.DayOptions()
	opts.PollInterval = s.opts.PollInterval
	if last {
		opts.BeforeEndOfDay = func(ctx context.Context) error {
			n, err := eng.ForceCompleteOpenSells(ctx)
			if err != nil {
				return err
			}
			s.forced++
			s.log.WithFields(map[string]interface{}{
				"date":  date.Format(contracts.DateLayout),
				"sells": n,
			}).Info("Force-completed open sells")
			return nil
		}
	}

	day, err := app.NewDay(s.app, eng, market, opts)
	if err != nil {
		return err
	}
	if err := day.Run(ctx); err != nil {
		return err
	}

	placed, cancelled, polls := broker.Counts()
	s.log.WithFields(map[string]interface{}{
		"date":      date.Format(contracts.DateLayout),
		"ticks":     len(market.Ticks()),
		"rounds":    eng.RoundNum(),
		"placed":    placed,
		"cancelled": cancelled,
		"polls":     polls,
		"free_usd":  s.hooks.FreeUSD(),
	}).Info("Simulated day complete")
	return nil
}

func (s *Simulation) report(dates []time.Time) (*reporter.Report, error) {
	// 시작 종가는 첫 시뮬레이션 일자의 기준(전일) 종가
	first, _ := s.opts.Dataset.PrevTradingDate(dates[0])
	start, err := s.opts.Dataset.Closes(first, s.opts.Symbols)
	if err != nil {
		return nil, err
	}
	end, err := s.opts.Dataset.Closes(dates[len(dates)-1], s.opts.Symbols)
	if err != nil {
		return nil, err
	}

	startCloses := make(map[string]float64, len(start))
	for sym, b := range start {
		startCloses[sym] = b.ClosePrice
	}
	endCloses := make(map[string]float64, len(end))
	for sym, b := range end {
		endCloses[sym] = b.ClosePrice
	}

	r := reporter.Build(reporter.Input{
		Symbols:         s.opts.Symbols,
		Actions:         s.hooks.Orders().Actions(),
		Renewals:        s.hooks.Renewals(),
		StartCloses:     startCloses,
		EndCloses:       endCloses,
		Days:            s.days,
		MinFreeUSD:      s.hooks.MinFreeUSD(),
		FinalFreeUSD:    s.hooks.FreeUSD(),
		NumZeroQuantity: s.hooks.Orders().ZeroQuantityCount(),
	})

	s.log.WithFields(map[string]interface{}{
		"days":          r.Days,
		"total_profit":  r.TotalProfit,
		"min_free_usd":  r.MinFreeUSD,
		"zero_quantity": r.NumZeroQuantity,
	}).Info("Simulation complete")
	return &r, nil
}

// ForcedRounds returns how many times open sells were force-completed
func (s *Simulation) ForcedRounds() int {
	return s.forced
}
