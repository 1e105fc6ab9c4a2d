package reporter

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
)

// Totals aggregates filled orders of one direction
type Totals struct {
	Qty       int     `json:"qty"`
	AmountUSD float64 `json:"amount_usd"`
	Count     int     `json:"count"`
}

func (t *Totals) add(a audit.OrderAction) {
	t.Qty += a.FilledQty
	t.AmountUSD = decimal.NewFromFloat(t.AmountUSD).Add(decimal.NewFromFloat(a.FilledUSD())).Round(2).InexactFloat64()
	t.Count++
}

// PositionRunSummary is the per-symbol result of a run
type PositionRunSummary struct {
	Symbol     string  `json:"symbol"`
	Refreshes  int     `json:"refreshes"`
	Renewals   int     `json:"renewals"`
	Buys       Totals  `json:"buys"`
	Sells      Totals  `json:"sells"`
	Profit     float64 `json:"profit"`
	StartClose float64 `json:"start_close"`
	EndClose   float64 `json:"end_close"`
}

// HoldingQty returns bought minus sold shares
func (s PositionRunSummary) HoldingQty() int {
	return s.Buys.Qty - s.Sells.Qty
}

// Report is the end-of-run summary
// ⭐ SSOT: 수익/체결 집계는 OrderAction 로그에서만 계산 (라이브 포지션은 일자마다 교체됨)
type Report struct {
	Days            int                  `json:"days"`
	Positions       []PositionRunSummary `json:"positions"`
	TotalProfit     float64              `json:"total_profit"`
	MinFreeUSD      float64              `json:"min_free_usd"`
	FinalFreeUSD    float64              `json:"final_free_usd"`
	NumZeroQuantity int                  `json:"num_zero_quantity"`
	NumActions      int                  `json:"num_actions"`
}

// Input is everything Build needs
type Input struct {
	Symbols         []string
	Actions         []audit.OrderAction
	Renewals        *audit.RenewalLog
	StartCloses     map[string]float64 // 첫 거래일 종가
	EndCloses       map[string]float64 // 마지막 거래일 종가
	Days            int
	MinFreeUSD      float64
	FinalFreeUSD    float64
	NumZeroQuantity int
}

// Build aggregates fills per symbol and direction
func Build(in Input) Report {
	bySymbol := FillTotals(in.Actions)

	r := Report{
		Days:            in.Days,
		MinFreeUSD:      in.MinFreeUSD,
		FinalFreeUSD:    in.FinalFreeUSD,
		NumZeroQuantity: in.NumZeroQuantity,
		NumActions:      len(in.Actions),
	}

	symbols := append([]string(nil), in.Symbols...)
	sort.Strings(symbols)
	for _, sym := range symbols {
		s := PositionRunSummary{
			Symbol:     sym,
			StartClose: in.StartCloses[sym],
			EndClose:   in.EndCloses[sym],
		}
		if in.Renewals != nil {
			s.Refreshes, s.Renewals = in.Renewals.Counts(sym)
		}
		if t, ok := bySymbol[sym]; ok {
			s.Buys = t[contracts.DirectionBuy]
			s.Sells = t[contracts.DirectionSell]
		}
		s.Profit = profit(s.Buys, s.Sells)
		r.Positions = append(r.Positions, s)
	}
	r.TotalProfit = TotalProfit(in.Actions)
	return r
}

// FillTotals returns filled totals keyed by symbol then direction
func FillTotals(actions []audit.OrderAction) map[string]map[contracts.Direction]Totals {
	out := make(map[string]map[contracts.Direction]Totals)
	for _, a := range actions {
		if !a.IsFill() {
			continue
		}
		m, ok := out[a.Symbol]
		if !ok {
			m = make(map[contracts.Direction]Totals)
			out[a.Symbol] = m
		}
		t := m[a.Direction]
		t.add(a)
		m[a.Direction] = t
	}
	return out
}

// TotalProfit returns Σ filled sell USD − Σ filled buy USD
func TotalProfit(actions []audit.OrderAction) float64 {
	total := decimal.Zero
	for _, a := range actions {
		if !a.IsFill() {
			continue
		}
		v := decimal.NewFromFloat(a.FilledUSD())
		if a.Direction == contracts.DirectionBuy {
			total = total.Sub(v)
		} else {
			total = total.Add(v)
		}
	}
	return total.Round(2).InexactFloat64()
}

func profit(buys, sells Totals) float64 {
	return decimal.NewFromFloat(sells.AmountUSD).Sub(decimal.NewFromFloat(buys.AmountUSD)).Round(2).InexactFloat64()
}

// GroupRow is one primary order and its descendants
type GroupRow struct {
	Symbol     string    `json:"symbol"`
	PrimaryID  uuid.UUID `json:"primary_id"`
	LimitPrice float64   `json:"limit_price"`
	Status     string    `json:"status"`
	Orders     int       `json:"orders"`
	BuyQty     int       `json:"buy_qty"`
	SellQty    int       `json:"sell_qty"`
	Profit     float64   `json:"profit"`
}

// PrimaryGroups lists every primary group of the live positions
func PrimaryGroups(positions *portfolio.Positions) []GroupRow {
	var rows []GroupRow
	for _, pos := range positions.Sorted() {
		for _, g := range pos.Orders.PrimaryGroups() {
			buy, sell := g.FilledQty()
			row := GroupRow{
				Symbol:  pos.Symbol,
				Orders:  len(g.Orders),
				BuyQty:  buy,
				SellQty: sell,
				Profit:  portfolio.RoundCents(g.Profit()),
			}
			if g.Primary != nil {
				row.PrimaryID = g.Primary.ID
				row.LimitPrice = g.Primary.LimitPrice
				row.Status = string(g.Primary.Status)
			}
			rows = append(rows, row)
		}
	}
	return rows
}
