package marketdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wonny/daytrader/internal/contracts"
)

// Dataset directory layout
const (
	ClosePricesDir  = "closePrices"
	PriceUpdatesDir = "priceUpdates"
)

// closeEntry is one recorded daily close
type closeEntry struct {
	Date       string  `json:"date"`
	ClosePrice float64 `json:"closePrice"`
	Symbol     string  `json:"symbol"`
}

// tickEntry is one recorded trade price; it replays as bid = ask = price
type tickEntry struct {
	Date      string  `json:"date"`
	TimeOfDay string  `json:"timeOfDay"` // HH:MM:SS (UTC)
	Price     float64 `json:"price"`
	Symbol    string  `json:"symbol"`
}

// Dataset holds recorded closes and ticks for simulation
// ⭐ SSOT: 시뮬레이션 데이터셋 로딩은 여기서만
// <dir>/closePrices/<SYM>/*.json, <dir>/priceUpdates/<SYM>/*.json
type Dataset struct {
	Dir    string
	closes map[string]map[string]contracts.ClosePriceBar // date → symbol → bar
	ticks  map[string][]contracts.PriceUpdate            // date → time-ordered ticks (all symbols)
}

// LoadDataset reads every JSON file under dir
func LoadDataset(dir string) (*Dataset, error) {
	d := &Dataset{
		Dir:    dir,
		closes: make(map[string]map[string]contracts.ClosePriceBar),
		ticks:  make(map[string][]contracts.PriceUpdate),
	}

	var closes []closeEntry
	if err := readEntries(filepath.Join(dir, ClosePricesDir), &closes); err != nil {
		return nil, err
	}
	for _, e := range closes {
		date, err := time.Parse(contracts.DateLayout, e.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid close date %q for %s: %w", e.Date, e.Symbol, err)
		}
		if e.ClosePrice <= 0 {
			return nil, fmt.Errorf("non-positive close for %s on %s", e.Symbol, e.Date)
		}
		onDate, ok := d.closes[e.Date]
		if !ok {
			onDate = make(map[string]contracts.ClosePriceBar)
			d.closes[e.Date] = onDate
		}
		if _, dup := onDate[e.Symbol]; dup {
			return nil, fmt.Errorf("two close prices for %s on %s", e.Symbol, e.Date)
		}
		onDate[e.Symbol] = contracts.ClosePriceBar{Symbol: e.Symbol, Date: date, ClosePrice: e.ClosePrice}
	}

	var ticks []tickEntry
	if err := readEntries(filepath.Join(dir, PriceUpdatesDir), &ticks); err != nil {
		return nil, err
	}
	for _, e := range ticks {
		at, err := time.Parse(contracts.DateLayout+" 15:04:05", e.Date+" "+e.TimeOfDay)
		if err != nil {
			return nil, fmt.Errorf("invalid tick time %q %q for %s: %w", e.Date, e.TimeOfDay, e.Symbol, err)
		}
		d.ticks[e.Date] = append(d.ticks[e.Date], contracts.PriceUpdate{
			Symbol: e.Symbol,
			Bid:    e.Price,
			Ask:    e.Price,
			Time:   at,
		})
	}
	// 모든 심볼을 하루 단위로 합쳐 시각순 정렬 (동시 수신 흉내)
	for _, list := range d.ticks {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Time.Before(list[j].Time) })
	}

	if len(d.closes) == 0 {
		return nil, fmt.Errorf("dataset %s has no close prices", dir)
	}
	return d, nil
}

// readEntries decodes every <root>/<SYM>/*.json array into out
func readEntries[T any](root string, out *[]T) error {
	symbolDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", root, err)
	}

	for _, sd := range symbolDirs {
		if !sd.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, sd.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", sd.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			path := filepath.Join(root, sd.Name(), f.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			var entries []T
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("failed to decode %s: %w", path, err)
			}
			*out = append(*out, entries...)
		}
	}
	return nil
}

// TradingDates returns the dates with close prices, ascending
// 틱 데이터는 휴장일에도 있을 수 있어 종가 날짜가 거래일 기준
func (d *Dataset) TradingDates() []time.Time {
	dates := make([]time.Time, 0, len(d.closes))
	for key := range d.closes {
		t, _ := time.Parse(contracts.DateLayout, key)
		dates = append(dates, t)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// IsTradingDate reports whether date has close prices
func (d *Dataset) IsTradingDate(date time.Time) bool {
	_, ok := d.closes[date.Format(contracts.DateLayout)]
	return ok
}

// PrevTradingDate returns the last trading date strictly before date
func (d *Dataset) PrevTradingDate(date time.Time) (time.Time, bool) {
	date = contracts.TradingDate(date)
	dates := d.TradingDates()
	for i := len(dates) - 1; i >= 0; i-- {
		if dates[i].Before(date) {
			return dates[i], true
		}
	}
	return time.Time{}, false
}

// Closes returns the close bars recorded on date for symbols
func (d *Dataset) Closes(date time.Time, symbols []string) (map[string]contracts.ClosePriceBar, error) {
	onDate, ok := d.closes[date.Format(contracts.DateLayout)]
	if !ok {
		return nil, fmt.Errorf("no close prices on %s", date.Format(contracts.DateLayout))
	}
	out := make(map[string]contracts.ClosePriceBar, len(symbols))
	for _, s := range symbols {
		bar, ok := onDate[s]
		if !ok {
			return nil, fmt.Errorf("no close price for %s on %s", s, date.Format(contracts.DateLayout))
		}
		out[s] = bar
	}
	return out, nil
}

// Ticks returns every recorded tick on date in time order
func (d *Dataset) Ticks(date time.Time) []contracts.PriceUpdate {
	return d.ticks[date.Format(contracts.DateLayout)]
}

// MarketFor builds the mock market for a simulated day: previous trading day's closes and today's ticks
func (d *Dataset) MarketFor(today time.Time, symbols []string, workers int) (*MockMarketData, error) {
	prev, ok := d.PrevTradingDate(today)
	if !ok {
		return nil, fmt.Errorf("no trading date before %s", today.Format(contracts.DateLayout))
	}
	closes, err := d.Closes(prev, symbols)
	if err != nil {
		return nil, err
	}

	bars := make(map[string][]contracts.ClosePriceBar, len(closes))
	for s, b := range closes {
		bars[s] = []contracts.ClosePriceBar{b}
	}
	return NewMockMarketData(bars, d.Ticks(today), workers), nil
}
