package engine

import "fmt"

// DayState is the engine's position in the trading day
type DayState int32

const (
	DayNotStarted DayState = iota
	DayLoading
	DayTrading
	DayClosing
	DayClosed
)

var dayStateNames = [...]string{"NotStarted", "Loading", "Trading", "Closing", "Closed"}

func (s DayState) String() string {
	if s < 0 || int(s) >= len(dayStateNames) {
		return fmt.Sprintf("DayState(%d)", int32(s))
	}
	return dayStateNames[s]
}

// 허용 전이: NotStarted → Loading → Trading → Closing → Closed
func (e *Engine) transition(to DayState) error {
	from := e.State()
	if to != from+1 {
		return fmt.Errorf("invalid day state transition %s -> %s", from, to)
	}
	e.state.Store(int32(to))
	return nil
}
