package handlers

import (
	"net/http"
	"strconv"

	"github.com/wonny/daytrader/internal/audit"
	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/realtime"
	"github.com/wonny/daytrader/internal/realtime/cache"
	"github.com/wonny/daytrader/internal/reporter"
	"github.com/wonny/daytrader/internal/runner"
	"github.com/wonny/daytrader/pkg/logger"
)

// Action listing bounds
const (
	DefaultActionLimit = 100
	MaxActionLimit     = 1000
)

// TradingHandler serves read-only views of the running trader
// ⭐ SSOT: 거래 API 핸들러는 이 구조체에서만
// 엔진을 직접 읽지 않고 훅이 발행한 값 복사본만 사용
type TradingHandler struct {
	hooks   *runner.Hooks
	quotes  *cache.QuoteCache // nil 가능
	symbols []string
	logger  *logger.Logger
}

// NewTradingHandler creates a new trading handler
func NewTradingHandler(hooks *runner.Hooks, quotes *cache.QuoteCache, symbols []string, log *logger.Logger) *TradingHandler {
	return &TradingHandler{
		hooks:   hooks,
		quotes:  quotes,
		symbols: symbols,
		logger:  log,
	}
}

// PositionsResponse is the live position list
type PositionsResponse struct {
	Date      string                `json:"date,omitempty"`
	FreeUSD   float64               `json:"free_usd"`
	Positions []runner.PositionView `json:"positions"`
}

// GetPositions returns position views as of the last round
// GET /api/positions
func (h *TradingHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	resp := PositionsResponse{
		FreeUSD:   h.hooks.FreeUSD(),
		Positions: h.hooks.Positions(),
	}
	if date, ok := h.hooks.Date(); ok {
		resp.Date = date.Format(contracts.DateLayout)
	}
	if resp.Positions == nil {
		resp.Positions = []runner.PositionView{}
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetLatestRound returns the last completed round summary
// GET /api/rounds/latest
func (h *TradingHandler) GetLatestRound(w http.ResponseWriter, r *http.Request) {
	round, ok := h.hooks.LatestRound()
	if !ok {
		respondError(w, http.StatusNotFound, "No round completed yet")
		return
	}
	respondJSON(w, http.StatusOK, round)
}

// ActionsResponse is one page of the order action log
type ActionsResponse struct {
	Actions []audit.OrderAction `json:"actions"`
	LastSeq int64               `json:"last_seq"`
	Count   int                 `json:"count"`
}

// GetActions pages through the order action log
// GET /api/actions?after=<seq>&limit=<n>
func (h *TradingHandler) GetActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var after int64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "Invalid 'after' (expected a non-negative sequence number)")
			return
		}
		after = n
	}

	limit := DefaultActionLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid 'limit' (expected a positive integer)")
			return
		}
		limit = min(n, MaxActionLimit)
	}

	log := h.hooks.Orders()
	page := log.Since(after, limit)

	if page == nil {
		page = []audit.OrderAction{}
	}
	respondJSON(w, http.StatusOK, ActionsResponse{
		Actions: page,
		LastSeq: log.LastSeq(),
		Count:   len(page),
	})
}

// GetSummary aggregates fills and profit over everything traded so far
// GET /api/summary
func (h *TradingHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	orders := h.hooks.Orders()
	report := reporter.Build(reporter.Input{
		Symbols:         h.symbols,
		Actions:         orders.Actions(),
		Renewals:        h.hooks.Renewals(),
		MinFreeUSD:      h.hooks.MinFreeUSD(),
		FinalFreeUSD:    h.hooks.FreeUSD(),
		NumZeroQuantity: orders.ZeroQuantityCount(),
	})
	respondJSON(w, http.StatusOK, report)
}

// GetQuotes returns the latest cached quote per symbol
// GET /api/quotes
func (h *TradingHandler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	if h.quotes == nil {
		respondJSON(w, http.StatusOK, []realtime.Quote{})
		return
	}
	respondJSON(w, http.StatusOK, h.quotes.GetAll())
}
