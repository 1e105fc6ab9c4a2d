package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/realtime/feed"
	"github.com/wonny/daytrader/pkg/config"
	"github.com/wonny/daytrader/pkg/httputil"
	"github.com/wonny/daytrader/pkg/logger"
	"github.com/wonny/daytrader/pkg/redis"
)

// HTTPMarketData reads daily bars over REST and streams quotes over websocket
// ⭐ SSOT: 시세 REST 호출은 여기서만
type HTTPMarketData struct {
	cfg     config.MarketDataConfig
	broker  config.BrokerConfig
	client  *httputil.Client
	cache   *redis.Cache
	scraper *Scraper
	logger  *logger.Logger
	now     func() time.Time
}

// NewHTTPMarketData creates the REST/websocket market data source
// cache, scraper는 nil 가능
func NewHTTPMarketData(cfg *config.Config, client *httputil.Client, cache *redis.Cache, scraper *Scraper, log *logger.Logger) *HTTPMarketData {
	client.WithHeaders(map[string]string{
		"APCA-API-KEY-ID":     cfg.Broker.KeyID,
		"APCA-API-SECRET-KEY": cfg.Broker.SecretKey,
	})
	return &HTTPMarketData{
		cfg:     cfg.MarketData,
		broker:  cfg.Broker,
		client:  client,
		cache:   cache,
		scraper: scraper,
		logger:  log,
		now:     time.Now,
	}
}

type barsResponse struct {
	Bars []struct {
		Timestamp time.Time `json:"t"`
		Close     float64   `json:"c"`
	} `json:"bars"`
	Symbol string `json:"symbol"`
}

// GetClosePriceBars fetches recent daily closes for every symbol concurrently
func (m *HTTPMarketData) GetClosePriceBars(ctx context.Context, symbols []string) (map[string][]contracts.ClosePriceBar, error) {
	var mu sync.Mutex
	out := make(map[string][]contracts.ClosePriceBar, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			bars, err := m.barsFor(gctx, symbol)
			if err != nil {
				return err
			}
			mu.Lock()
			out[symbol] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// barsFor tries the cache, then REST, then the scraper
func (m *HTTPMarketData) barsFor(ctx context.Context, symbol string) ([]contracts.ClosePriceBar, error) {
	today := contracts.TradingDate(m.now())
	key := redis.CloseBarsKey(symbol, today.Format(contracts.DateLayout))

	if m.cache != nil {
		var cached []contracts.ClosePriceBar
		found, err := m.cache.Get(ctx, key, &cached)
		if err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("Close bar cache read failed")
		}
		if found && len(cached) > 0 {
			return cached, nil
		}
	}

	bars, err := m.fetchBars(ctx, symbol, today)
	if err != nil {
		if m.scraper == nil {
			return nil, err
		}
		m.logger.WithError(err).WithField("symbol", symbol).Warn("Close bar API failed, falling back to scraper")
		if bars, err = m.scraper.ClosePriceBars(ctx, symbol); err != nil {
			return nil, fmt.Errorf("failed to get close bars for %s: %w", symbol, err)
		}
	}

	// 오늘 이전 바만 사용
	kept := bars[:0]
	for _, b := range bars {
		if b.Date.Before(today) {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("no close bars before %s for %s", today.Format(contracts.DateLayout), symbol)
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, key, kept, redis.TTLLong); err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("Close bar cache write failed")
		}
	}
	return kept, nil
}

func (m *HTTPMarketData) fetchBars(ctx context.Context, symbol string, today time.Time) ([]contracts.ClosePriceBar, error) {
	days := m.cfg.CloseBarsDays
	if days <= 0 {
		days = 10
	}

	q := url.Values{}
	q.Set("timeframe", "1Day")
	q.Set("start", today.AddDate(0, 0, -days).Format(contracts.DateLayout))
	q.Set("end", today.AddDate(0, 0, -1).Format(contracts.DateLayout))
	q.Set("adjustment", "raw")
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", strings.TrimRight(m.cfg.BaseURL, "/"), url.PathEscape(symbol), q.Encode())

	var resp barsResponse
	if err := m.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
	}

	bars := make([]contracts.ClosePriceBar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		bars = append(bars, contracts.ClosePriceBar{
			Symbol:     symbol,
			Date:       contracts.TradingDate(b.Timestamp),
			ClosePrice: b.Close,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	m.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"count":  len(bars),
	}).Debug("Fetched close bars")
	return bars, nil
}

// NewPriceSocket returns an unconnected websocket quote stream
func (m *HTTPMarketData) NewPriceSocket() contracts.PriceSocket {
	return feed.NewWSSocket(feed.WSOptions{
		URL:       m.cfg.WebSocketURL,
		KeyID:     m.broker.KeyID,
		SecretKey: m.broker.SecretKey,
	}, m.logger)
}
