package validator

import (
	"errors"
	"fmt"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
)

// ErrInvalidRound is returned when a completed round breaks a ladder invariant
var ErrInvalidRound = errors.New("invalid price update round")

// OpenPrimaryBuys checks the open primary buy limits
// 종목당 최대 1개, 전체 maxOpen개 이하
// checkPlacements면 여유 슬롯이 있을 때 미배치 primary가 남아있으면 안 됨
// (실거래에서는 주문 거부 후 미배치가 정상이므로 끔)
func OpenPrimaryBuys(positions *portfolio.Positions, maxOpen int, checkPlacements bool) error {
	var errs []error
	total := 0
	for _, pos := range positions.Sorted() {
		n := len(pos.Orders.OpenPrimaryBuys())
		if n > 1 {
			errs = append(errs, fmt.Errorf("%s has %d open primary buys", pos.Symbol, n))
		}
		total += n
	}
	if total > maxOpen {
		errs = append(errs, fmt.Errorf("%d open primary buys exceeds max %d", total, maxOpen))
	}

	if checkPlacements && total < maxOpen {
		for _, pos := range positions.Sorted() {
			if len(pos.Orders.OpenPrimaryBuys()) > 0 {
				continue
			}
			if hasUnplacedPrimary(pos) {
				errs = append(errs, fmt.Errorf("less than %d open primary buys while %s has an unplaced primary", maxOpen, pos.Symbol))
				break
			}
		}
	}
	return errors.Join(errs...)
}

func hasUnplacedPrimary(pos *portfolio.Position) bool {
	for _, o := range pos.Orders.Current.Buys {
		if o.Status == contracts.StatusNotPlacedYet && o.IsPrimary() {
			return true
		}
	}
	return false
}

// ValidateRound checks a completed round against the positions it left behind
func ValidateRound(round *portfolio.Round, positions *portfolio.Positions, maxOpen int, checkPlacements bool) error {
	if err := OpenPrimaryBuys(positions, maxOpen, checkPlacements); err != nil {
		return fmt.Errorf("%w %d: %w", ErrInvalidRound, round.Number, err)
	}

	// 체결된 매도 수량은 전부 counter buy로 다시 배치되어야 함
	sold := 0
	for _, s := range round.FilledSells {
		sold += s.FilledQty
	}
	rebought := 0
	for _, b := range round.NonPrimaryPlacedBuys {
		rebought += b.Quantity
	}
	if sold != rebought {
		return fmt.Errorf("%w %d: filled sells qty %d but counter buys qty %d", ErrInvalidRound, round.Number, sold, rebought)
	}
	return nil
}

// ValidateFinalActions checks that every share bought over the run was sold
func ValidateFinalActions(actions []audit.OrderAction) error {
	bought, sold := 0, 0
	for _, a := range actions {
		if !a.IsFill() {
			continue
		}
		if a.Direction == contracts.DirectionBuy {
			bought += a.FilledQty
		} else {
			sold += a.FilledQty
		}
	}
	if bought != sold {
		return fmt.Errorf("filled buy qty %d is not equal to filled sell qty %d", bought, sold)
	}
	return nil
}
