package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/pkg/httputil"
	"github.com/wonny/daytrader/pkg/logger"
)

// scrapeDateLayouts are the date formats accepted in the history table
var scrapeDateLayouts = []string{"Jan 2, 2006", "2006-01-02", "01/02/2006", "2006.01.02"}

// Scraper reads daily closes from an HTML price history table
// ⭐ SSOT: 종가 HTML fallback 파싱은 여기서만
// 테이블 구조: 날짜 | 시가 | 고가 | 저가 | 종가 | ...
type Scraper struct {
	urlTemplate string // e.g. https://example.com/quote/%s/history
	client      *httputil.Client
	logger      *logger.Logger
}

// NewScraper creates a scraper; urlTemplate must contain one %s for the symbol
func NewScraper(urlTemplate string, client *httputil.Client, log *logger.Logger) *Scraper {
	return &Scraper{urlTemplate: urlTemplate, client: client, logger: log}
}

// ClosePriceBars scrapes the history page for symbol, oldest first
func (s *Scraper) ClosePriceBars(ctx context.Context, symbol string) ([]contracts.ClosePriceBar, error) {
	if !strings.Contains(s.urlTemplate, "%s") {
		return nil, errors.New("scrape url template must contain %s")
	}
	pageURL := fmt.Sprintf(s.urlTemplate, symbol)

	resp, err := s.client.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html failed: %w", err)
	}

	bars := ParseHistoryTable(doc, symbol)
	if len(bars) == 0 {
		return nil, fmt.Errorf("no close prices found for %s", symbol)
	}

	s.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"count":  len(bars),
	}).Debug("Scraped close bars")
	return bars, nil
}

// ParseHistoryTable extracts (date, close) rows from the first table with parsable rows
func ParseHistoryTable(doc *goquery.Document, symbol string) []contracts.ClosePriceBar {
	var bars []contracts.ClosePriceBar
	seen := make(map[string]bool)

	doc.Find("table tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return // 헤더 또는 배당/분할 행
		}

		date, ok := parseScrapeDate(strings.TrimSpace(cells.Eq(0).Text()))
		if !ok {
			return
		}
		closePrice, ok := parsePrice(cells.Eq(4).Text())
		if !ok {
			return
		}

		key := date.Format(contracts.DateLayout)
		if seen[key] {
			return
		}
		seen[key] = true

		bars = append(bars, contracts.ClosePriceBar{Symbol: symbol, Date: date, ClosePrice: closePrice})
	})

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}

func parseScrapeDate(s string) (time.Time, bool) {
	for _, layout := range scrapeDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return contracts.TradingDate(t), true
		}
	}
	return time.Time{}, false
}

func parsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	if s == "" || s == "-" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
