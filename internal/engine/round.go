package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/eventbus"
	"github.com/wonny/daytrader/internal/portfolio"
	"github.com/wonny/daytrader/pkg/logger"
)

// OnPriceUpdate processes one tick as a round
// ⭐ SSOT: 라운드 파이프라인 (중복/이상 틱 제거 → 가격 갱신 → 정렬 → 체결/주문 → Update → 잔고 → 발행)
func (e *Engine) OnPriceUpdate(ctx context.Context, tick contracts.PriceUpdate) error {
	if s := e.State(); s != DayTrading {
		return fatalf("price update for %s received in day state %s", tick.Symbol, s)
	}

	pos, ok := e.positions.Get(tick.Symbol)
	if !ok {
		e.stats.UnknownSymbol.Add(1)
		e.log.Channel(logger.ChannelError).WithField("symbol", tick.Symbol).Warn("Price update for an untraded symbol")
		return nil
	}

	inst := pos.Instrument
	if inst.SameQuote(tick.Bid, tick.Ask) {
		e.stats.Identical.Add(1)
		return nil
	}
	if e.isAnomalous(inst, tick) {
		e.stats.Anomalies.Add(1)
		e.log.Channel(logger.ChannelError).WithFields(map[string]interface{}{
			"symbol":   tick.Symbol,
			"date":     e.cfg.Today.Format(contracts.DateLayout),
			"time":     tick.Time.Format("15:04:05.000"),
			"prev_bid": inst.PrevBid,
			"bid":      inst.Bid,
			"new_bid":  tick.Bid,
			"new_ask":  tick.Ask,
		}).Warn("Large magnitude of price change, dropping tick")
		return nil
	}

	if err := inst.Update(tick.Bid, tick.Ask, tick.Time); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	e.positions.Sort()

	e.roundNum++
	e.stats.Rounds.Add(1)
	round := portfolio.NewRound(e.roundNum, tick.Symbol, inst.PrevBid, inst.PrevAsk, tick.Bid, tick.Ask, tick.Time)

	if !e.firstBuysPlaced {
		if err := e.placeFirstBuys(ctx, round); err != nil {
			return err
		}
	} else if closest := pos.Orders.ClosestOpenBuy(); closest != nil && closest.LimitPrice > tick.Ask {
		if err := e.onBuyCross(ctx, round, pos); err != nil {
			return err
		}
	} else if closest := pos.Orders.ClosestOpenSell(); closest != nil && closest.LimitPrice < tick.Bid {
		if err := e.onSellCross(ctx, round, pos); err != nil {
			return err
		}
	}

	// closest open buy/sell은 변경 후 반드시 재계산
	e.updateTouched(round)

	if round.ChangesFreeBalance() {
		if err := e.refreshAccount(ctx); err != nil {
			return err
		}
	}

	return e.publish(ctx, eventbus.RoundCompleted{Round: round})
}

// isAnomalous reports a mid-price jump above the threshold after the first tick of the day
func (e *Engine) isAnomalous(inst *portfolio.Instrument, tick contracts.PriceUpdate) bool {
	if inst.UpdatesToday == 0 {
		return false
	}
	mid := inst.Mid()
	if mid == 0 {
		return false
	}
	return math.Abs(tick.Mid()-mid)/mid > e.cfg.AnomalyPct
}

func (e *Engine) onBuyCross(ctx context.Context, round *portfolio.Round, pos *portfolio.Position) error {
	filled, err := e.fillCrossed(ctx, pos.Orders.BuysCrossedBy(pos.Instrument.Ask))
	if err != nil {
		return err
	}
	if err := e.settleBuys(ctx, round, pos, filled); err != nil {
		return err
	}

	// 다른 종목의 primary 슬롯이 비었을 수 있으므로 전체 포지션 대상
	placed, err := e.placeNextPrimaryBuys(ctx)
	if err != nil {
		return err
	}
	round.PrimaryPlacedBuys = append(round.PrimaryPlacedBuys, placed...)
	return nil
}

func (e *Engine) onSellCross(ctx context.Context, round *portfolio.Round, pos *portfolio.Position) error {
	filled, err := e.fillCrossed(ctx, pos.Orders.SellsCrossedBy(pos.Instrument.Bid))
	if err != nil {
		return err
	}
	round.FilledSells = append(round.FilledSells, filled...)

	for _, sell := range filled {
		if err := e.handleFilledSell(ctx, round, sell); err != nil {
			return err
		}
	}
	return nil
}

// settleBuys places and fills immediate-fill buys, then handles every filled buy
// FilledBuys는 핸들러 실행 전에 라운드에 기록 (breakeven parent 선택에 필요)
func (e *Engine) settleBuys(ctx context.Context, round *portfolio.Round, pos *portfolio.Position, crossed []*portfolio.Order) error {
	placed, err := e.placeImmediateFillBuys(ctx, pos)
	if err != nil {
		return err
	}
	immediate, unfilled, err := e.fillImmediate(ctx, pos, placed)
	if err != nil {
		return err
	}

	filled := make([]*portfolio.Order, 0, len(crossed)+len(immediate))
	filled = append(filled, crossed...)
	filled = append(filled, immediate...)
	round.FilledBuys = append(round.FilledBuys, filled...)
	round.PrimaryPlacedBuys = append(round.PrimaryPlacedBuys, unfilled...)

	for _, buy := range filled {
		if err := e.handleFilledBuy(ctx, round, buy); err != nil {
			return err
		}
	}
	return nil
}

// placeFirstBuys runs once per day after every symbol has a price
func (e *Engine) placeFirstBuys(ctx context.Context, round *portfolio.Round) error {
	if !e.positions.AllHavePrice() {
		return nil
	}
	e.log.Channel(logger.ChannelDebug).Debug("All positions have a price update for today")

	// 이미 주문이 있는 포지션(이월된 포지션)은 새 사다리를 만들지 않음
	for _, pos := range e.positions.Sorted() {
		if pos.HasCurrentOrders() {
			continue
		}
		if err := e.createInitialBuys(ctx, pos); err != nil {
			return err
		}
	}

	// immediate-fill 매수는 MaxOpenPrimaryBuys 제한과 무관
	for _, pos := range e.positions.Sorted() {
		if err := e.settleBuys(ctx, round, pos, nil); err != nil {
			return err
		}
	}

	placed, err := e.placeNextPrimaryBuys(ctx)
	if err != nil {
		return err
	}
	round.PrimaryPlacedBuys = append(round.PrimaryPlacedBuys, placed...)

	e.firstBuysPlaced = true
	round.FirstBuysPlaced = true
	e.log.Channel(logger.ChannelMain).WithFields(map[string]interface{}{
		"round":        round.Number,
		"placed":       len(placed),
		"filled_buys":  len(round.FilledBuys),
		"max_open":     e.strategy.MaxOpenPrimaryBuys(),
		"sorted_order": e.positions.Symbols(),
	}).Info("Placed first buy orders")
	return nil
}

func (e *Engine) updateTouched(round *portfolio.Round) {
	touched := make(map[uuid.UUID]bool)
	for _, id := range round.ModifiedPositionIDs() {
		touched[id] = true
	}
	if len(touched) == 0 {
		return
	}
	for _, pos := range e.positions.Sorted() {
		if touched[pos.ID] {
			pos.Orders.Update()
		}
	}
}
