package reporter

import (
	"fmt"
	"io"
	"strings"
)

// Table renders fixed-width columns separated by two spaces
type Table struct {
	Columns []string
	Widths  []int
	rows    [][]string
}

// AddRow appends one row of already formatted cells
func (t *Table) AddRow(values ...string) {
	t.rows = append(t.rows, values)
}

// Render writes the header, a separator line and every row
func (t *Table) Render(w io.Writer) error {
	var b strings.Builder
	writeCells(&b, t.Columns, t.Widths)

	total := 0
	for i, width := range t.Widths {
		total += width
		if i < len(t.Widths)-1 {
			total += 2
		}
	}
	b.WriteString(strings.Repeat("─", total))
	b.WriteString("\n")

	for _, row := range t.rows {
		writeCells(&b, row, t.Widths)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeCells(b *strings.Builder, values []string, widths []int) {
	for i, v := range values {
		width := 0
		if i < len(widths) {
			width = widths[i]
		}
		fmt.Fprintf(b, "%-*s", width, v)
		if i < len(values)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")
}

func usd(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Write renders the run report as text tables
func Write(w io.Writer, r Report) error {
	t := &Table{
		Columns: []string{"SYMBOL", "REFRESH", "RENEW", "BUY QTY", "BUY USD", "BUYS", "SELL QTY", "SELL USD", "SELLS", "PROFIT", "START", "END"},
		Widths:  []int{8, 7, 5, 8, 12, 5, 8, 12, 5, 10, 8, 8},
	}
	for _, p := range r.Positions {
		t.AddRow(
			p.Symbol,
			fmt.Sprint(p.Refreshes),
			fmt.Sprint(p.Renewals),
			fmt.Sprint(p.Buys.Qty),
			usd(p.Buys.AmountUSD),
			fmt.Sprint(p.Buys.Count),
			fmt.Sprint(p.Sells.Qty),
			usd(p.Sells.AmountUSD),
			fmt.Sprint(p.Sells.Count),
			usd(p.Profit),
			usd(p.StartClose),
			usd(p.EndClose),
		)
	}
	if err := t.Render(w); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nDays: %d  Actions: %d  ZeroQuantity: %d\nTotal profit: %s  Min free USD: %s  Final free USD: %s\n",
		r.Days, r.NumActions, r.NumZeroQuantity, usd(r.TotalProfit), usd(r.MinFreeUSD), usd(r.FinalFreeUSD))
	return err
}

// WriteGroups renders primary group rows
func WriteGroups(w io.Writer, rows []GroupRow) error {
	t := &Table{
		Columns: []string{"SYMBOL", "PRIMARY", "LIMIT", "STATUS", "ORDERS", "BUY QTY", "SELL QTY", "PROFIT"},
		Widths:  []int{8, 8, 10, 14, 6, 8, 8, 10},
	}
	for _, r := range rows {
		t.AddRow(
			r.Symbol,
			r.PrimaryID.String()[:8],
			usd(r.LimitPrice),
			r.Status,
			fmt.Sprint(r.Orders),
			fmt.Sprint(r.BuyQty),
			fmt.Sprint(r.SellQty),
			usd(r.Profit),
		)
	}
	return t.Render(w)
}
