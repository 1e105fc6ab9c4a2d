package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/engine"
	"github.com/wonny/daytrader/internal/realtime"
	"github.com/wonny/daytrader/internal/realtime/cache"
	"github.com/wonny/daytrader/internal/realtime/queue"
	"github.com/wonny/daytrader/pkg/logger"
	"github.com/wonny/daytrader/pkg/redis"
)

// DefaultPollInterval is how often the day loop checks faults and the stop time
const DefaultPollInterval = time.Second

// ErrFaulted is returned when the day stopped because of recorded faults
var ErrFaulted = errors.New("trading day stopped on faults")

// DayOptions tunes one trading day run
type DayOptions struct {
	PollInterval time.Duration
	StopAfterUTC string // HH:MM:SS, 빈 값이면 종료 시각 없음 (시뮬레이션)

	Quotes      *cache.QuoteCache // nil 가능
	QuoteSource realtime.QuoteSource
	Mirror      *redis.Cache // nil 가능, 매 주기 quote 미러링

	// BeforeEndOfDay runs after the stream is stopped and before positions are saved
	BeforeEndOfDay func(ctx context.Context) error

	Now func() time.Time
}

// Day drives one engine through a trading day
type Day struct {
	app    *Context
	engine *engine.Engine
	market contracts.MarketData
	opts   DayOptions
	log    *logger.Logger

	throttle *queue.Sequential[contracts.PriceUpdate]
	socket   contracts.PriceSocket
	stopAt   time.Duration
}

// NewDay prepares a day run; market supplies the price socket
func NewDay(app *Context, eng *engine.Engine, market contracts.MarketData, opts DayOptions) (*Day, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.QuoteSource == "" {
		opts.QuoteSource = realtime.SourceStream
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	d := &Day{
		app:    app,
		engine: eng,
		market: market,
		opts:   opts,
		log:    app.Logger.Channel(logger.ChannelMain),
		stopAt: -1,
	}
	if opts.StopAfterUTC != "" {
		t, err := time.Parse("15:04:05", opts.StopAfterUTC)
		if err != nil {
			return nil, fmt.Errorf("invalid stop time %q: %w", opts.StopAfterUTC, err)
		}
		d.stopAt = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	}
	return d, nil
}

// Throttle returns the price update queue (nil before Run)
func (d *Day) Throttle() *queue.Sequential[contracts.PriceUpdate] {
	return d.throttle
}

// Run starts the day, streams prices into the engine until the stream ends,
// the stop time passes, ctx is cancelled or a fault is recorded, then ends the day
func (d *Day) Run(ctx context.Context) error {
	today := d.engine.Today().Format(contracts.DateLayout)
	d.log.WithField("date", today).Info("Trading day starting")

	if err := d.engine.StartOfDay(ctx); err != nil {
		d.app.Faults.Add(fmt.Errorf("start of day failed: %w", err))
		return d.fail()
	}

	if err := d.start(ctx); err != nil {
		d.app.Faults.Add(err)
		return d.fail()
	}

	d.wait(ctx)

	// 스트림과 큐를 먼저 멈춰 엔진 goroutine이 더 이상 돌지 않게 함
	d.app.Registry.Shutdown()
	if d.app.Faults.HasFaults() {
		return d.fail()
	}

	// 종료 신호 이후에도 스냅샷은 저장
	endCtx := context.WithoutCancel(ctx)
	if d.opts.BeforeEndOfDay != nil {
		if err := d.opts.BeforeEndOfDay(endCtx); err != nil {
			d.app.Faults.Add(fmt.Errorf("before end of day failed: %w", err))
			return d.fail()
		}
	}
	if err := d.engine.EndOfDay(endCtx); err != nil {
		d.app.Faults.Add(fmt.Errorf("end of day failed: %w", err))
		return d.fail()
	}

	stats := d.engine.Stats()
	d.app.Logger.Channel(logger.ChannelDailySummary).WithFields(map[string]interface{}{
		"date":           today,
		"rounds":         d.engine.RoundNum(),
		"processed":      d.throttle.Processed(),
		"identical":      stats.Identical.Load(),
		"anomalies":      stats.Anomalies.Load(),
		"unknown_symbol": stats.UnknownSymbol.Load(),
		"place_failures": stats.PlaceFailures.Load(),
	}).Info("Trading day complete")
	return nil
}

// start wires socket → quote cache → throttle → engine and subscribes the symbols
func (d *Day) start(ctx context.Context) error {
	d.throttle = queue.NewSequential[contracts.PriceUpdate]("price-updates", d.app.Config.Engine.SettleDelay, d.app.Faults, d.app.Logger)
	d.throttle.Subscribe(d.engine.OnPriceUpdate)
	if err := d.throttle.Start(ctx); err != nil {
		return err
	}
	d.app.Registry.Register(d.throttle)

	d.socket = d.market.NewPriceSocket()
	d.socket.OnPriceUpdate(func(p contracts.PriceUpdate) {
		if d.opts.Quotes != nil {
			d.opts.Quotes.Update(p, d.opts.QuoteSource)
		}
		d.throttle.Enqueue(p)
	})
	d.app.Registry.Register(&socketComponent{socket: d.socket, log: d.app.Logger})

	if err := d.socket.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect price socket: %w", err)
	}
	if err := d.socket.Subscribe(ctx, d.engine.Symbols()); err != nil {
		return fmt.Errorf("failed to subscribe symbols: %w", err)
	}
	return nil
}

// wait polls until there is nothing left to do
func (d *Day) wait(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Warn("Trading day cancelled")
			return
		case <-ticker.C:
		}

		if d.app.Faults.HasFaults() {
			return
		}
		if d.pastStopTime() {
			d.log.WithField("stop_after_utc", d.opts.StopAfterUTC).Info("Stop time reached")
			return
		}
		if d.socket.Closed() && d.throttle.Idle() {
			d.log.Info("Price stream finished and queue drained")
			return
		}
		d.mirrorQuotes(ctx)
	}
}

func (d *Day) pastStopTime() bool {
	if d.stopAt < 0 {
		return false
	}
	now := d.opts.Now().UTC()
	return now.Sub(contracts.TradingDate(now)) > d.stopAt
}

func (d *Day) mirrorQuotes(ctx context.Context) {
	if d.opts.Quotes == nil || d.opts.Mirror == nil {
		return
	}
	if err := d.opts.Quotes.Mirror(ctx, d.opts.Mirror); err != nil {
		d.log.WithError(err).Warn("Quote mirror failed")
	}
}

// fail stops everything, flushes faults and returns them
func (d *Day) fail() error {
	d.app.Registry.Shutdown()
	d.app.Faults.Flush()
	return fmt.Errorf("%w: %w", ErrFaulted, d.app.Faults.Err())
}

// socketComponent lets the registry close a price socket
type socketComponent struct {
	socket contracts.PriceSocket
	log    *logger.Logger
}

func (c *socketComponent) Name() string { return "price-socket" }

func (c *socketComponent) Start(context.Context) error { return nil }

func (c *socketComponent) RequestStop() {
	if err := c.socket.Close(); err != nil {
		c.log.WithError(err).Warn("Price socket close failed")
	}
}

func (c *socketComponent) Join() {}
