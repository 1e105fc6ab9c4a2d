package eventbus

import (
	"time"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/portfolio"
)

// RoundCompleted is published at the end of every accepted price tick
// 핸들러는 Round와 Positions를 읽기만 해야 함
type RoundCompleted struct {
	Round *portfolio.Round
}

// Topic implements Event
func (RoundCompleted) Topic() Topic { return TopicEndOfPriceUpdateRound }

// OrderActionRecorded carries one order category change
type OrderActionRecorded struct {
	Action audit.OrderAction
}

// Topic implements Event
func (OrderActionRecorded) Topic() Topic { return TopicOrderAction }

// PositionRenewed carries a day-boundary reset of a position
type PositionRenewed struct {
	Action audit.RenewalAction
}

// Topic implements Event
func (PositionRenewed) Topic() Topic { return TopicPositionRenewal }

// DayLoaded is published after positions for the day are in place
type DayLoaded struct {
	Date       time.Time
	FreshStart bool
}

// Topic implements Event
func (DayLoaded) Topic() Topic { return TopicAfterStartOfDayLoad }

// DaySaving is published right before the day's positions are persisted
type DaySaving struct {
	Date time.Time
}

// Topic implements Event
func (DaySaving) Topic() Topic { return TopicBeforeEndOfDaySave }

// BalanceUpdated carries the free cash implied by a fill
type BalanceUpdated struct {
	FreeUSD float64
}

// Topic implements Event
func (BalanceUpdated) Topic() Topic { return TopicAccountBalanceUpdate }

// ImmediateFillPlaced carries a buy placed above the current ask
type ImmediateFillPlaced struct {
	Order portfolio.Order
	Bid   float64 // 배치 시점의 bid (시뮬레이션 체결가)
}

// Topic implements Event
func (ImmediateFillPlaced) Topic() Topic { return TopicImmediateFillBuyPlacement }
