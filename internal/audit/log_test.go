package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
)

func testPosition() *portfolio.Position {
	return portfolio.NewPosition("SPY", &contracts.ClosePriceBar{
		Symbol:     "SPY",
		Date:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ClosePrice: 100,
	})
}

func TestOrderLogSequencing(t *testing.T) {
	pos := testPosition()
	buy := portfolio.NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	zero := portfolio.NewCounterSell(buy, 0.01, 0)
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	log := NewOrderLog()
	first := log.Add(NewOrderAction(day, 1, ActionCreated, buy, time.Now()))
	skipped := log.Add(NewOrderAction(day, 1, ActionZeroQuantity, zero, time.Now()))
	second := log.Add(NewOrderAction(day, 1, ActionPlaced, buy, time.Now()))

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(0), skipped.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, 2, log.Len())
	assert.Equal(t, 1, log.ZeroQuantityCount())
	assert.Equal(t, int64(2), log.LastSeq())

	since := log.Since(1, 10)
	require.Len(t, since, 1)
	assert.Equal(t, ActionPlaced, since[0].Type)
}

func TestOrderActionIsSnapshot(t *testing.T) {
	pos := testPosition()
	buy := portfolio.NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	require.NoError(t, pos.Orders.Add(buy))

	created := NewOrderAction(time.Now(), 1, ActionCreated, buy, time.Now())
	require.NoError(t, pos.Orders.MarkPlaced(buy, "b", "c", time.Now()))

	// 이후 주문 변경이 기록된 액션에 영향을 주지 않음
	assert.Equal(t, contracts.StatusNotPlacedYet, created.Status)
	assert.Equal(t, contracts.StatusOpen, buy.Status)
}

func TestOrderLogFills(t *testing.T) {
	pos := testPosition()
	buy := portfolio.NewPrimaryBuy(pos.ID, "SPY", 100, -0.01, 4000)
	sell := portfolio.NewCounterSell(buy, 0.01, 40)
	now := time.Now()

	log := NewOrderLog()
	log.Add(NewOrderAction(now, 1, ActionFilled, buy, now))
	log.Add(NewOrderAction(now, 2, ActionPlaced, sell, now))
	log.Add(NewOrderAction(now, 3, ActionFilled, sell, now))

	assert.Len(t, log.Fills("", ""), 2)
	assert.Len(t, log.Fills("SPY", contracts.DirectionBuy), 1)
	assert.Len(t, log.Fills("QQQ", ""), 0)
}

func TestActionTypeStatus(t *testing.T) {
	tests := []struct {
		action ActionType
		want   contracts.OrderStatus
	}{
		{ActionCreated, contracts.StatusNotPlacedYet},
		{ActionPlaced, contracts.StatusOpen},
		{ActionFilled, contracts.StatusFilled},
		{ActionCancelled, contracts.StatusCancelled},
		{ActionZeroQuantity, contracts.StatusZeroQuantity},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			got, err := tt.action.Status()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ActionType("Exploded").Status()
	assert.Error(t, err)
}

func TestRenewalLog(t *testing.T) {
	pos := testPosition()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	log := NewRenewalLog()
	a := log.Add(NewRenewalAction(day, RenewalRefresh, pos))
	b := log.Add(NewRenewalAction(day, RenewalRenewal, pos))

	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, int64(2), b.Seq)
	assert.True(t, log.Retired()[pos.ID])

	refreshes, renewals := log.Counts("SPY")
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, renewals)
}
