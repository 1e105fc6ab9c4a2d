package strategy

import (
	"errors"
	"math"
)

// Distribute splits qty across pcts so the parts sum to qty exactly
// 각 비율을 반올림(banker's)한 뒤 차이를 앞쪽(+)/뒤쪽(−)부터 1씩 보정
func Distribute(pcts []float64, qty int) ([]int, error) {
	if len(pcts) == 0 {
		return nil, errors.New("cannot distribute over an empty plan")
	}
	if qty < 0 {
		return nil, errors.New("cannot distribute a negative quantity")
	}

	out := make([]int, len(pcts))
	sum := 0
	for i, p := range pcts {
		out[i] = int(math.RoundToEven(p * float64(qty)))
		sum += out[i]
	}

	n := len(out)
	diff := qty - sum
	for i := 0; diff < 0; i++ {
		out[n-1-(i%n)]--
		diff++
	}
	for i := 0; diff > 0; i++ {
		out[i%n]++
		diff--
	}
	return out, nil
}
