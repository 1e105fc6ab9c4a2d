package strategy

import (
	"errors"
	"fmt"
	"math"
)

// Rung is one primary buy of the initial ladder
type Rung struct {
	Pct    float64 `yaml:"pct" json:"pct"`         // basis 대비 변화율
	MaxUSD float64 `yaml:"max_usd" json:"max_usd"` // 수량 = floor(MaxUSD / limit)
}

// Plan maps a filled quantity onto counter orders
// QtyPcts[i] 비율만큼의 수량을 Pcts[i] 가격(부모 limit 대비)에 주문
type Plan struct {
	QtyPcts []float64 `yaml:"qty_pcts" json:"qty_pcts"`
	Pcts    []float64 `yaml:"pcts" json:"pcts"`
}

// Leg is one counter order of a distributed plan
type Leg struct {
	Pct float64
	Qty int
}

// Legs distributes qty across the plan
func (p Plan) Legs(qty int) ([]Leg, error) {
	qtys, err := Distribute(p.QtyPcts, qty)
	if err != nil {
		return nil, err
	}
	legs := make([]Leg, len(qtys))
	for i, q := range qtys {
		legs[i] = Leg{Pct: p.Pcts[i], Qty: q}
	}
	return legs, nil
}

// BreakevenRule switches a position into breakeven selling
type BreakevenRule struct {
	TriggerPct         float64 `yaml:"trigger_pct" json:"trigger_pct"`                       // CurrentPctChange가 이 값 미만이면 발동
	MinPctForSellPrice float64 `yaml:"min_pct_for_sell_price" json:"min_pct_for_sell_price"` // 매도가 하한 = bid × (1 + pct)
}

// Params is the full ladder configuration for one symbol
type Params struct {
	PrimaryBuys      []Rung        `yaml:"primary_buys" json:"primary_buys"`
	SmallDropSells   Plan          `yaml:"small_drop_sells" json:"small_drop_sells"`
	BigDropSells     Plan          `yaml:"big_drop_sells" json:"big_drop_sells"`
	CounterBuys      Plan          `yaml:"counter_buys" json:"counter_buys"`
	NonPrimarySells  Plan          `yaml:"non_primary_sells" json:"non_primary_sells"`
	BigDropCutoffPct float64       `yaml:"big_drop_cutoff_pct" json:"big_drop_cutoff_pct"`
	Breakeven        BreakevenRule `yaml:"breakeven" json:"breakeven"`
}

// ValidationError reports the first invalid field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks structural constraints
func (p *Params) Validate() error {
	if len(p.PrimaryBuys) == 0 {
		return ValidationError{"primary_buys", "must not be empty"}
	}
	for i, r := range p.PrimaryBuys {
		if r.MaxUSD <= 0 {
			return ValidationError{fmt.Sprintf("primary_buys[%d].max_usd", i), "must be > 0"}
		}
		if r.Pct <= -1 {
			return ValidationError{fmt.Sprintf("primary_buys[%d].pct", i), "must be > -1"}
		}
	}

	plans := []struct {
		name string
		plan Plan
	}{
		{"small_drop_sells", p.SmallDropSells},
		{"big_drop_sells", p.BigDropSells},
		{"counter_buys", p.CounterBuys},
		{"non_primary_sells", p.NonPrimarySells},
	}
	for _, pl := range plans {
		if err := validatePlan(pl.plan); err != nil {
			return ValidationError{pl.name, err.Error()}
		}
	}

	if p.Breakeven.MinPctForSellPrice < 0 {
		return ValidationError{"breakeven.min_pct_for_sell_price", "must be >= 0"}
	}
	return nil
}

func validatePlan(p Plan) error {
	if len(p.QtyPcts) == 0 {
		return errors.New("qty_pcts must not be empty")
	}
	if len(p.QtyPcts) != len(p.Pcts) {
		return errors.New("qty_pcts length must match pcts length")
	}
	sum := 0.0
	for _, q := range p.QtyPcts {
		if q < 0 {
			return errors.New("qty_pcts must be >= 0")
		}
		sum += q
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("qty_pcts must sum to 1.00, got %.4f", sum)
	}
	return nil
}
