package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/eventbus"
	"github.com/wonny/daytrader/internal/portfolio"
	"github.com/wonny/daytrader/pkg/logger"
)

// 브로커 호출은 errgroup으로 동시에 보내고, 상태 변경은 join 이후 엔진 goroutine에서만 수행

type placeResult struct {
	resp *contracts.PlaceOrderResponse
	err  error
}

// addOrders records Created actions and registers orders in the position's arena
func (e *Engine) addOrders(ctx context.Context, pos *portfolio.Position, orders []*portfolio.Order) error {
	for _, o := range orders {
		if err := e.recordAction(ctx, audit.ActionCreated, o); err != nil {
			return err
		}
	}
	if err := pos.Orders.Add(orders...); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	return nil
}

// placeOrders submits orders concurrently
// 실패한 주문은 로그만 남기고 NotPlacedYet으로 유지
func (e *Engine) placeOrders(ctx context.Context, orders []*portfolio.Order) error {
	if len(orders) == 0 {
		return nil
	}

	results := make([]placeResult, len(orders))
	var g errgroup.Group
	for i, o := range orders {
		i := i // per-iteration copy for the goroutine (module targets go1.21)
		req := o.Request()
		g.Go(func() error {
			var resp *contracts.PlaceOrderResponse
			var err error
			if req.Direction == contracts.DirectionBuy {
				resp, err = e.broker.PlaceLimitBuy(ctx, req)
			} else {
				resp, err = e.broker.PlaceLimitSell(ctx, req)
			}
			results[i] = placeResult{resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range orders {
		r := results[i]
		if r.err != nil || r.resp == nil || !r.resp.Success {
			e.stats.PlaceFailures.Add(1)
			l := e.log.Channel(logger.ChannelError).WithFields(map[string]interface{}{
				"order_id":  o.ID.String(),
				"symbol":    o.Symbol,
				"direction": o.Direction,
				"limit":     o.LimitPrice,
				"qty":       o.Quantity,
			})
			if r.err != nil {
				l = l.WithError(r.err)
			}
			l.Error("Order was not placed")
			continue
		}

		owner, err := e.ordersOf(o)
		if err != nil {
			return err
		}
		if err := owner.MarkPlaced(o, r.resp.BrokerOrderID, r.resp.ClientOrderID, e.now()); err != nil {
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		if err := e.recordAction(ctx, audit.ActionPlaced, o); err != nil {
			return err
		}
	}
	return nil
}

// cancelOrders cancels orders concurrently; any failure is fatal
func (e *Engine) cancelOrders(ctx context.Context, orders []*portfolio.Order) error {
	if len(orders) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, o := range orders {
		req := o.Request()
		g.Go(func() error {
			resp, err := e.broker.CancelOrder(gctx, req)
			if err != nil {
				return fmt.Errorf("%w: failed to cancel order %s: %w", ErrFatal, req.OrderID, err)
			}
			if resp == nil || !resp.Success {
				return fatalf("order %s failed to cancel", req.OrderID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	at := e.now()
	for _, o := range orders {
		owner, err := e.ordersOf(o)
		if err != nil {
			return err
		}
		if err := owner.MarkCancelled(o, at); err != nil {
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		if err := e.recordAction(ctx, audit.ActionCancelled, o); err != nil {
			return err
		}
	}
	return nil
}

// pollStatuses fetches order statuses concurrently; an unsuccessful poll is fatal
func (e *Engine) pollStatuses(ctx context.Context, orders []*portfolio.Order) ([]contracts.OrderStatusData, error) {
	out := make([]contracts.OrderStatusData, len(orders))
	if len(orders) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, o := range orders {
		i := i // per-iteration copy for the goroutine (module targets go1.21)
		req := o.Request()
		g.Go(func() error {
			resp, err := e.broker.GetOrderStatus(gctx, req)
			if err != nil {
				return fmt.Errorf("%w: failed to get order status %s: %w", ErrFatal, req.OrderID, err)
			}
			if resp == nil || !resp.Success {
				return fatalf("retrieval of order status was unsuccessful for %s", req.OrderID)
			}
			out[i] = resp.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fillOrder marks an order filled and publishes the implied free balance
func (e *Engine) fillOrder(ctx context.Context, o *portfolio.Order, data contracts.OrderStatusData) error {
	owner, err := e.ordersOf(o)
	if err != nil {
		return err
	}
	at := e.now()
	if data.FilledAt != nil {
		at = *data.FilledAt
	}
	if err := owner.MarkFilled(o, data.FilledQty, data.AvgFilledPrice, at); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	if err := e.recordAction(ctx, audit.ActionFilled, o); err != nil {
		return err
	}

	// 같은 라운드의 여러 체결이 누적되도록 로컬 잔고에 반영
	if o.IsBuy() {
		e.account.FreeUSDBalance -= o.FilledUSD()
	} else {
		e.account.FreeUSDBalance += o.FilledUSD()
	}
	e.log.Channel(logger.ChannelDebug).WithField("free_usd", e.account.FreeUSDBalance).Debug("Account balance")
	return e.publish(ctx, eventbus.BalanceUpdated{FreeUSD: e.account.FreeUSDBalance})
}

// fillCrossed polls crossed orders and fills those the brokerage reports Filled
func (e *Engine) fillCrossed(ctx context.Context, crossed []*portfolio.Order) ([]*portfolio.Order, error) {
	statuses, err := e.pollStatuses(ctx, crossed)
	if err != nil {
		return nil, err
	}

	var filled []*portfolio.Order
	for i, o := range crossed {
		if statuses[i].Status != contracts.StatusFilled {
			ch := logger.ChannelDebug
			if o.IsSell() {
				ch = logger.ChannelError
			}
			e.log.Channel(ch).WithFields(map[string]interface{}{
				"order_id": o.ID.String(),
				"symbol":   o.Symbol,
				"status":   statuses[i].Status,
			}).Warn("Crossed order not filled according to the brokerage")
			continue
		}
		if err := e.fillOrder(ctx, o, statuses[i]); err != nil {
			return nil, err
		}
		filled = append(filled, o)
	}
	return filled, nil
}

// placeImmediateFillBuys places not-yet-placed buys priced above the current ask
// 배치에 성공한 주문만 반환
func (e *Engine) placeImmediateFillBuys(ctx context.Context, pos *portfolio.Position) ([]*portfolio.Order, error) {
	buys, err := pos.Orders.ImmediateFillBuys(pos.Instrument.Ask)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFatal, err)
	}
	if err := e.placeOrders(ctx, buys); err != nil {
		return nil, err
	}

	var placed []*portfolio.Order
	for _, b := range buys {
		if !b.IsOpen() {
			continue
		}
		b.ImmediateFill = true
		if err := e.publish(ctx, eventbus.ImmediateFillPlaced{Order: *b, Bid: pos.Instrument.Bid}); err != nil {
			return nil, err
		}
		placed = append(placed, b)
	}
	return placed, nil
}

// fillImmediate polls immediate-fill buys that must already be filled
func (e *Engine) fillImmediate(ctx context.Context, pos *portfolio.Position, buys []*portfolio.Order) (filled, unfilled []*portfolio.Order, err error) {
	statuses, err := e.pollStatuses(ctx, buys)
	if err != nil {
		return nil, nil, err
	}

	for i, b := range buys {
		data := statuses[i]
		switch {
		case b.LimitPrice <= pos.Instrument.Ask:
			return nil, nil, fatalf("immediate-fill order %s does not have a limit above ask %.2f", b, pos.Instrument.Ask)
		case data.Status != contracts.StatusFilled:
			e.log.Channel(logger.ChannelError).WithFields(map[string]interface{}{
				"order_id": b.ID.String(),
				"symbol":   b.Symbol,
				"limit":    b.LimitPrice,
				"status":   data.Status,
			}).Warn("Immediate-fill order has not been filled according to the brokerage")
			unfilled = append(unfilled, b)
		case data.FilledQty != b.Quantity:
			return nil, nil, fatalf("immediate-fill order %s filled %d of %d", b, data.FilledQty, b.Quantity)
		default:
			if err := e.fillOrder(ctx, b, data); err != nil {
				return nil, nil, err
			}
			filled = append(filled, b)
		}
	}
	return filled, unfilled, nil
}
