package strategy

import (
	"fmt"
	"sort"
)

// DefaultMaxOpenPrimaryBuys caps open primary buys across all symbols
const DefaultMaxOpenPrimaryBuys = 2

func single(pct float64) Plan {
	return Plan{QtyPcts: []float64{1}, Pcts: []float64{pct}}
}

func shifted(shift float64, rungs ...Rung) []Rung {
	out := make([]Rung, len(rungs))
	for i, r := range rungs {
		out[i] = Rung{Pct: r.Pct + shift, MaxUSD: r.MaxUSD}
	}
	return out
}

// presets는 시장 국면별 기본 파라미터
// ⭐ SSOT: 프리셋 상수는 여기서만 정의
var presets = map[string]func() *Params{
	// big_bear: trigger가 양수라 첫 매수부터 항상 breakeven 모드
	"big_bear": func() *Params {
		return &Params{
			PrimaryBuys: shifted(-0.5,
				Rung{0, 4000 * 1.2},
				Rung{-0.01, 8000 * 1.2},
				Rung{-0.02, 16000 * 1.2},
				Rung{-0.03, 32000 * 1.2},
			),
			SmallDropSells:   single(0.0025),
			BigDropSells:     single(0.005),
			CounterBuys:      single(-0.015),
			NonPrimarySells:  single(0.0025),
			BigDropCutoffPct: -0.02,
			Breakeven:        BreakevenRule{TriggerPct: 0.1, MinPctForSellPrice: 0.0025},
		}
	},
	"bear": func() *Params {
		return &Params{
			PrimaryBuys: shifted(-0.02,
				Rung{0, 4000 * 1.2},
				Rung{-0.025, 8000 * 1.2},
				Rung{-0.05, 16000 * 1.2},
				Rung{-0.075, 32000 * 1.2},
			),
			SmallDropSells:   single(0.01),
			BigDropSells:     single(0.015),
			CounterBuys:      single(-0.05),
			NonPrimarySells:  single(0.005),
			BigDropCutoffPct: -0.04,
			Breakeven:        BreakevenRule{TriggerPct: -0.065, MinPctForSellPrice: 0.01},
		}
	},
	"bull": func() *Params {
		return &Params{
			PrimaryBuys: []Rung{
				{0.01, 10000 * 1.2},
				{-0.005, 15000 * 1.2},
				{-0.0075, 25000 * 1.2},
				{-0.01, 35000 * 1.2},
			},
			SmallDropSells:   single(0.005),
			BigDropSells:     single(0.01),
			CounterBuys:      single(-0.005),
			NonPrimarySells:  single(0.005),
			BigDropCutoffPct: -0.04,
			Breakeven:        BreakevenRule{TriggerPct: -0.055, MinPctForSellPrice: 0.005},
		}
	},
	"big_bull": func() *Params {
		return &Params{
			PrimaryBuys: []Rung{
				{0.01, 40000 * 1.2},
				{-0.0025, 15000 * 1.2},
				{-0.005, 25000 * 1.2},
				{-0.0075, 35000 * 1.2},
			},
			SmallDropSells:   single(0.01),
			BigDropSells:     single(0.01),
			CounterBuys:      single(-0.005),
			NonPrimarySells:  single(0.01),
			BigDropCutoffPct: -0.04,
			Breakeven:        BreakevenRule{TriggerPct: -0.055, MinPctForSellPrice: 0.005},
		}
	},
}

// Preset returns a fresh copy of a named preset
func Preset(name string) (*Params, error) {
	build, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy preset %q (available: %v)", name, PresetNames())
	}
	return build(), nil
}

// PresetNames returns preset names sorted alphabetically
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
