package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/eventbus"
	"github.com/wonny/daytrader/internal/portfolio"
	"github.com/wonny/daytrader/internal/snapshot"
	"github.com/wonny/daytrader/pkg/logger"
)

// StartOfDay loads or creates positions and applies the renewal rule
func (e *Engine) StartOfDay(ctx context.Context) error {
	if err := e.transition(DayLoading); err != nil {
		return err
	}

	fresh, err := e.loadPositions(ctx)
	if err != nil {
		return err
	}
	if err := e.publish(ctx, eventbus.DayLoaded{Date: e.cfg.Today, FreshStart: fresh}); err != nil {
		return err
	}

	if !fresh {
		if err := e.renewPositions(ctx); err != nil {
			return err
		}
	}

	e.firstBuysPlaced = false
	e.positions.Sort()

	e.log.Channel(logger.ChannelMain).WithFields(map[string]interface{}{
		"date":      e.cfg.Today.Format(contracts.DateLayout),
		"fresh":     fresh,
		"positions": e.positions.Len(),
		"free_usd":  e.account.FreeUSDBalance,
	}).Info("Start of day complete")

	return e.transition(DayTrading)
}

// pullInitialData fetches account data and close bars concurrently
func (e *Engine) pullInitialData(ctx context.Context) (time.Time, error) {
	var account *contracts.AccountDataResponse
	var bars map[string][]contracts.ClosePriceBar

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := e.broker.GetAccountData(gctx)
		if err != nil {
			return fmt.Errorf("failed to get account data: %w", err)
		}
		account = resp
		return nil
	})
	g.Go(func() error {
		resp, err := e.market.GetClosePriceBars(gctx, e.cfg.Symbols)
		if err != nil {
			return fmt.Errorf("failed to get close price bars: %w", err)
		}
		bars = resp
		return nil
	})
	if err := g.Wait(); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrFatal, err)
	}

	if account == nil || !account.Success {
		return time.Time{}, fatalf("account data is empty")
	}
	e.account = account.Data

	var lastTradingDate time.Time
	for _, sym := range e.cfg.Symbols {
		list := bars[sym]
		if len(list) == 0 {
			return time.Time{}, fatalf("no close price bars for %s", sym)
		}
		latest := list[0]
		for _, b := range list[1:] {
			if b.Date.After(latest.Date) {
				latest = b
			}
		}
		e.bars[sym] = latest
		if latest.Date.After(lastTradingDate) {
			lastTradingDate = latest.Date
		}
	}
	return contracts.TradingDate(lastTradingDate), nil
}

// loadPositions returns true when no snapshot existed for the last trading date
func (e *Engine) loadPositions(ctx context.Context) (bool, error) {
	lastTradingDate, err := e.pullInitialData(ctx)
	if err != nil {
		return false, err
	}

	loaded, err := e.store.Load(ctx, lastTradingDate)
	if errors.Is(err, snapshot.ErrNotFound) {
		e.log.Channel(logger.ChannelMain).WithField("date", lastTradingDate.Format(contracts.DateLayout)).
			Info("No persisted positions found, starting fresh")
		for _, sym := range e.cfg.Symbols {
			if err := e.refreshPosition(ctx, sym, nil, audit.RenewalRefresh); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to load snapshot: %w", ErrFatal, err)
	}

	e.log.Channel(logger.ChannelMain).WithFields(map[string]interface{}{
		"date":      lastTradingDate.Format(contracts.DateLayout),
		"positions": loaded.Len(),
	}).Info("Loaded persisted positions")

	for _, sym := range e.cfg.Symbols {
		pos, ok := loaded.Get(sym)
		if !ok {
			// 새로 추가된 종목은 빈 포지션으로 시작
			if err := e.refreshPosition(ctx, sym, nil, audit.RenewalRefresh); err != nil {
				return false, err
			}
			continue
		}
		e.loadPosition(pos)
	}
	for _, sym := range loaded.Symbols() {
		if _, ok := e.bars[sym]; !ok {
			e.log.Channel(logger.ChannelMain).WithField("symbol", sym).Warn("Persisted position is no longer traded, skipping")
		}
	}
	return false, nil
}

// loadPosition installs a position and stamps today's close data on it
func (e *Engine) loadPosition(pos *portfolio.Position) {
	e.positions.Set(pos)

	bar := e.bars[pos.Symbol]
	pos.Instrument.PrevClose = bar.ClosePrice
	if pos.BasisBar == nil {
		b := bar
		pos.BasisBar = &b
	}
}

// refreshPosition retires old (or a blank stand-in) and installs a blank position
func (e *Engine) refreshPosition(ctx context.Context, symbol string, old *portfolio.Position, t audit.RenewalType) error {
	if old == nil {
		old = portfolio.NewPosition(symbol, nil)
	}
	action := audit.NewRenewalAction(e.cfg.Today, t, old)
	if err := e.publish(ctx, eventbus.PositionRenewed{Action: action}); err != nil {
		return err
	}
	e.loadPosition(portfolio.NewPosition(symbol, nil))
	return nil
}

// renewPositions discards stale ladders carried over from the previous day
// 매수 체결 없음 → Refresh, 매수 체결 있고 미체결 매도 없음 → Renewal
func (e *Engine) renewPositions(ctx context.Context) error {
	for _, pos := range e.positions.Sorted() {
		var t audit.RenewalType
		switch {
		case !pos.Orders.HasFilledBuys():
			t = audit.RenewalRefresh
		case !pos.Orders.HasOpenSells():
			t = audit.RenewalRenewal
		default:
			continue
		}

		if err := e.cancelOrders(ctx, pos.Orders.OpenOrders()); err != nil {
			return err
		}
		if err := e.refreshPosition(ctx, pos.Symbol, pos, t); err != nil {
			return err
		}
	}
	return nil
}

// EndOfDay publishes BeforeEndOfDaySave and persists today's positions
func (e *Engine) EndOfDay(ctx context.Context) error {
	if err := e.transition(DayClosing); err != nil {
		return err
	}
	if err := e.publish(ctx, eventbus.DaySaving{Date: e.cfg.Today}); err != nil {
		return err
	}
	if err := e.store.Save(ctx, e.cfg.Today, e.positions); err != nil {
		return fmt.Errorf("failed to persist positions: %w", err)
	}

	e.log.Channel(logger.ChannelMain).WithFields(map[string]interface{}{
		"date":   e.cfg.Today.Format(contracts.DateLayout),
		"rounds": e.roundNum,
	}).Info("Persisted positions")
	return e.transition(DayClosed)
}

// ForceCompleteOpenSells fills every open sell at the current bid
// 시뮬레이션 마지막 날 전용 (실거래에서는 호출하지 않음)
func (e *Engine) ForceCompleteOpenSells(ctx context.Context) (int, error) {
	if s := e.State(); s != DayTrading {
		return 0, fmt.Errorf("cannot force-complete sells in day state %s", s)
	}

	n := 0
	for _, pos := range e.positions.Sorted() {
		open := pos.Orders.OpenSells()
		e.log.Channel(logger.ChannelMain).WithFields(map[string]interface{}{
			"symbol": pos.Symbol,
			"count":  len(open),
		}).Info("Force-completing open sells")

		for _, sell := range open {
			data := contracts.OrderStatusData{
				Status:         contracts.StatusFilled,
				AvgFilledPrice: pos.Instrument.Bid,
				FilledQty:      sell.Quantity,
			}
			if err := e.fillOrder(ctx, sell, data); err != nil {
				return n, err
			}
			n++
		}
		pos.Orders.Update()
	}
	return n, nil
}
