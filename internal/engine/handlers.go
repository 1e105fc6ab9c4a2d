package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/portfolio"
	"github.com/wonny/daytrader/internal/strategy"
	"github.com/wonny/daytrader/pkg/logger"
)

// handleFilledBuy places counter sells for a filled buy, or the round's breakeven sell
func (e *Engine) handleFilledBuy(ctx context.Context, round *portfolio.Round, buy *portfolio.Order) error {
	pos, ok := e.positions.Get(buy.Symbol)
	if !ok {
		return fatalf("no position for filled buy %s", buy)
	}

	rule, err := e.strategy.Breakeven(pos.Symbol)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	if pos.CurrentPctChange() < rule.TriggerPct {
		// 라운드당 한 번만: 하나의 breakeven sell이 전체 보유 수량을 커버
		if round.ClaimBreakeven() {
			return e.placeBreakevenSell(ctx, round, pos, rule)
		}
		return nil
	}

	legs, err := e.strategy.SellsForFilledBuy(buy)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	var sells []*portfolio.Order
	total := 0
	for _, leg := range legs {
		sell := portfolio.NewCounterSell(buy, leg.Pct, leg.Qty)
		if sell.Quantity > 0 {
			sells = append(sells, sell)
			total += sell.Quantity
			continue
		}
		// 수량 0 매도는 arena에 넣지 않고 이력만 남김
		round.ZeroQtySells++
		if err := sell.MarkZeroQuantity(); err != nil {
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		if err := e.recordAction(ctx, audit.ActionZeroQuantity, sell); err != nil {
			return err
		}
	}
	if total != buy.FilledQty {
		return fatalf("distributed sell quantities sum to %d, filled buy qty is %d", total, buy.FilledQty)
	}

	if err := e.addOrders(ctx, pos, sells); err != nil {
		return err
	}
	if err := e.placeOrders(ctx, sells); err != nil {
		return err
	}
	round.NonPrimaryPlacedSells = append(round.NonPrimaryPlacedSells, sells...)
	return nil
}

// handleFilledSell places counter buys for a filled sell
func (e *Engine) handleFilledSell(ctx context.Context, round *portfolio.Round, sell *portfolio.Order) error {
	pos, ok := e.positions.Get(sell.Symbol)
	if !ok {
		return fatalf("no position for filled sell %s", sell)
	}

	legs, err := e.strategy.BuysForFilledSell(sell)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	buys := make([]*portfolio.Order, 0, len(legs))
	total := 0
	for _, leg := range legs {
		buy := portfolio.NewCounterBuy(sell, leg.Pct, leg.Qty)
		if buy.Quantity <= 0 {
			return fatalf("counter buy with quantity %d is not allowed (sell %s)", buy.Quantity, sell)
		}
		buys = append(buys, buy)
		total += buy.Quantity
	}
	if total != sell.FilledQty {
		return fatalf("distributed buy quantities sum to %d, filled sell qty is %d", total, sell.FilledQty)
	}

	if err := e.addOrders(ctx, pos, buys); err != nil {
		return err
	}
	if err := e.placeOrders(ctx, buys); err != nil {
		return err
	}
	round.NonPrimaryPlacedBuys = append(round.NonPrimaryPlacedBuys, buys...)
	return nil
}

// breakevenParent returns the lowest-priced buy of the position filled this round
func breakevenParent(round *portfolio.Round, pos *portfolio.Position) *portfolio.Order {
	var parent *portfolio.Order
	for _, b := range round.FilledBuys {
		if b.PositionID != pos.ID {
			continue
		}
		if parent == nil || b.LimitPrice < parent.LimitPrice {
			parent = b
		}
	}
	return parent
}

// BreakevenPrice returns net cost per held share floored at bid × (1 + minPct)
func BreakevenPrice(pos *portfolio.Position, minPct float64) (float64, int) {
	buyQty, buyUSD := pos.Orders.FilledBuyTotals()
	sellQty, sellUSD := pos.Orders.FilledSellTotals()
	netQty := buyQty - sellQty
	if netQty <= 0 {
		return 0, netQty
	}

	net := decimal.NewFromFloat(buyUSD).Sub(decimal.NewFromFloat(sellUSD))
	price := net.Div(decimal.NewFromInt(int64(netQty)))

	floor := decimal.NewFromFloat(pos.Instrument.Bid).Mul(decimal.NewFromFloat(1).Add(decimal.NewFromFloat(minPct)))
	if floor.GreaterThan(price) {
		price = floor
	}
	return price.RoundBank(2).InexactFloat64(), netQty
}

// placeBreakevenSell replaces every open sell with one sell for the full net quantity
func (e *Engine) placeBreakevenSell(ctx context.Context, round *portfolio.Round, pos *portfolio.Position, rule strategy.BreakevenRule) error {
	parent := breakevenParent(round, pos)
	if parent == nil {
		return fatalf("breakeven claimed for %s without a filled buy this round", pos.Symbol)
	}

	price, netQty := BreakevenPrice(pos, rule.MinPctForSellPrice)
	if netQty <= 0 {
		return fatalf("breakeven for %s with non-positive net qty %d", pos.Symbol, netQty)
	}
	if price < parent.AvgFilledPrice {
		round.DebugFlag = true
	}

	open := pos.Orders.OpenSells()
	if err := e.cancelOrders(ctx, open); err != nil {
		return err
	}
	round.CancelledSells = append(round.CancelledSells, open...)

	sell := portfolio.NewBreakEvenSell(parent, netQty, price)
	e.log.Channel(logger.ChannelMain).WithFields(map[string]interface{}{
		"symbol":    pos.Symbol,
		"round":     round.Number,
		"qty":       netQty,
		"limit":     sell.LimitPrice,
		"cancelled": len(open),
	}).Info("Placing breakeven sell")

	sells := []*portfolio.Order{sell}
	if err := e.addOrders(ctx, pos, sells); err != nil {
		return err
	}
	if err := e.placeOrders(ctx, sells); err != nil {
		return err
	}
	round.NonPrimaryPlacedSells = append(round.NonPrimaryPlacedSells, sell)
	return nil
}

// placeNextPrimaryBuys fills open primary slots in ascending pct-change order
func (e *Engine) placeNextPrimaryBuys(ctx context.Context) ([]*portfolio.Order, error) {
	open := e.positions.TotalOpenPrimaryBuys()
	maxOpen := e.strategy.MaxOpenPrimaryBuys()

	var placed []*portfolio.Order
	for _, pos := range e.positions.Sorted() {
		if open >= maxOpen {
			break
		}
		next := pos.Orders.NextPrimaryBuyToPlace()
		if next == nil {
			continue
		}
		if err := e.placeOrders(ctx, []*portfolio.Order{next}); err != nil {
			return nil, err
		}
		if next.IsOpen() {
			open++
			placed = append(placed, next)
		}
	}
	return placed, nil
}

// createInitialBuys builds the primary ladder for a position without current orders
func (e *Engine) createInitialBuys(ctx context.Context, pos *portfolio.Position) error {
	rungs, err := e.strategy.InitialBuys(pos.Symbol)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	basis := pos.BasisPrice()
	buys := make([]*portfolio.Order, 0, len(rungs))
	for _, r := range rungs {
		buy := portfolio.NewPrimaryBuy(pos.ID, pos.Symbol, basis, r.Pct, r.MaxUSD)
		if buy.Quantity == 0 {
			return fatalf("cannot create initial buy with qty=0 for %s (max_usd %.2f below limit %.2f)", pos.Symbol, r.MaxUSD, buy.LimitPrice)
		}
		buys = append(buys, buy)
	}
	if err := e.addOrders(ctx, pos, buys); err != nil {
		return err
	}
	pos.Orders.Update()
	return nil
}
