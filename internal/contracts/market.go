package contracts

import "time"

// PriceUpdate is one bid/ask quote pushed by the market data stream
type PriceUpdate struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

// Mid returns the midpoint of bid and ask
func (p PriceUpdate) Mid() float64 {
	return (p.Bid + p.Ask) / 2
}

// ClosePriceBar is a daily close for a symbol
type ClosePriceBar struct {
	Symbol     string    `json:"symbol"`
	Date       time.Time `json:"date"`
	ClosePrice float64   `json:"close_price"`
}

// DateKey formats the bar date as YYYY-MM-DD
func (b ClosePriceBar) DateKey() string {
	return b.Date.Format(DateLayout)
}

// DateLayout is the canonical trading date format
const DateLayout = "2006-01-02"

// TradingDate truncates t to a UTC calendar date
func TradingDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
