package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/pkg/config"
	"github.com/wonny/daytrader/pkg/httputil"
	"github.com/wonny/daytrader/pkg/logger"
)

// HTTPBroker talks to an Alpaca-style trading REST API
// ⭐ SSOT: 실거래 브로커 REST 호출은 여기서만
type HTTPBroker struct {
	baseURL string
	client  *httputil.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewHTTPBroker creates a broker client paced at cfg.RPS requests per second
// client는 재시도 비활성 상태여야 함 (주문 POST 중복 방지)
func NewHTTPBroker(cfg config.BrokerConfig, client *httputil.Client, log *logger.Logger) *HTTPBroker {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 3
	}
	client.WithHeaders(map[string]string{
		"APCA-API-KEY-ID":     cfg.KeyID,
		"APCA-API-SECRET-KEY": cfg.SecretKey,
	})
	return &HTTPBroker{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}
}

type orderBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Status         string     `json:"status"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice *string    `json:"filled_avg_price"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

type accountResponse struct {
	BuyingPower string `json:"buying_power"`
}

// ConvertStatus maps the brokerage status onto an order status
func ConvertStatus(raw string) (contracts.OrderStatus, error) {
	switch raw {
	case "filled":
		return contracts.StatusFilled, nil
	case "canceled", "pending_cancel":
		return contracts.StatusCancelled, nil
	case "accepted", "new", "partially_filled", "pending_new":
		return contracts.StatusOpen, nil
	}
	return "", fmt.Errorf("unrecognized brokerage order status %q", raw)
}

func (b *HTTPBroker) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}
	return nil
}

// PlaceLimitBuy submits a GTC limit buy
func (b *HTTPBroker) PlaceLimitBuy(ctx context.Context, req contracts.OrderRequest) (*contracts.PlaceOrderResponse, error) {
	return b.placeLimit(ctx, req, "buy")
}

// PlaceLimitSell submits a GTC limit sell
func (b *HTTPBroker) PlaceLimitSell(ctx context.Context, req contracts.OrderRequest) (*contracts.PlaceOrderResponse, error) {
	return b.placeLimit(ctx, req, "sell")
}

func (b *HTTPBroker) placeLimit(ctx context.Context, req contracts.OrderRequest, side string) (*contracts.PlaceOrderResponse, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be greater than zero: %s", req.OrderID)
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	body := orderBody{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Quantity),
		Side:          side,
		Type:          "limit",
		TimeInForce:   "gtc",
		LimitPrice:    strconv.FormatFloat(req.LimitPrice, 'f', 2, 64),
		ClientOrderID: req.OrderID,
	}

	log := b.log.Channel(logger.ChannelAPIPlaceOrder).WithFields(map[string]interface{}{
		"order_id": req.OrderID,
		"symbol":   req.Symbol,
		"side":     side,
		"qty":      req.Quantity,
		"limit":    req.LimitPrice,
	})

	resp, err := b.client.PostJSON(ctx, b.baseURL+"/v2/orders", body)
	if err != nil {
		log.WithError(err).Error("Place limit order failed")
		return nil, fmt.Errorf("failed to place limit %s: %w", side, err)
	}

	var out orderResponse
	if err := httputil.DecodeJSON(resp, &out); err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError {
			// 4xx: 브로커가 거부 (잔고 부족 등) → 재시도 가능한 실패로 취급
			log.WithField("status_code", se.StatusCode).Warn("Limit order rejected")
			return &contracts.PlaceOrderResponse{Success: false, RawStatus: se.Body}, nil
		}
		return nil, fmt.Errorf("failed to decode place response: %w", err)
	}

	status, err := ConvertStatus(out.Status)
	success := err == nil && status == contracts.StatusOpen
	log.WithFields(map[string]interface{}{
		"raw_status":      out.Status,
		"broker_order_id": out.ID,
		"success":         success,
	}).Info("Place limit order")

	return &contracts.PlaceOrderResponse{
		Success:       success,
		RawStatus:     out.Status,
		BrokerOrderID: out.ID,
		ClientOrderID: out.ClientOrderID,
	}, nil
}

// CancelOrder cancels by brokerage order id
func (b *HTTPBroker) CancelOrder(ctx context.Context, req contracts.OrderRequest) (*contracts.CancelOrderResponse, error) {
	if req.BrokerOrderID == "" {
		return nil, fmt.Errorf("cannot cancel order %s without a brokerage order id", req.OrderID)
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := b.client.Delete(ctx, b.baseURL+"/v2/orders/"+url.PathEscape(req.BrokerOrderID))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	success := resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK
	resp.Body.Close()

	b.log.Channel(logger.ChannelAPICancelOrder).WithFields(map[string]interface{}{
		"order_id":    req.OrderID,
		"status_code": resp.StatusCode,
		"success":     success,
	}).Info("Cancel order")
	return &contracts.CancelOrderResponse{Success: success}, nil
}

// GetAccountData reads buying power as the free USD balance
func (b *HTTPBroker) GetAccountData(ctx context.Context) (*contracts.AccountDataResponse, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	var out accountResponse
	if err := b.client.GetJSON(ctx, b.baseURL+"/v2/account", &out); err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	free, err := strconv.ParseFloat(out.BuyingPower, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid buying_power %q: %w", out.BuyingPower, err)
	}

	b.log.Channel(logger.ChannelAPIGetAccount).WithField("free_usd", free).Info("Get account")
	return &contracts.AccountDataResponse{Success: true, Data: contracts.AccountData{FreeUSDBalance: free}}, nil
}

// GetOrderStatus looks the order up by client order id
func (b *HTTPBroker) GetOrderStatus(ctx context.Context, req contracts.OrderRequest) (*contracts.OrderStatusResponse, error) {
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = req.OrderID
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	endpoint := b.baseURL + "/v2/orders:by_client_order_id?client_order_id=" + url.QueryEscape(clientID)
	var out orderResponse
	if err := b.client.GetJSON(ctx, endpoint, &out); err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", err)
	}

	status, err := ConvertStatus(out.Status)
	if err != nil {
		return nil, err
	}
	data := contracts.OrderStatusData{
		Status:      status,
		SubmittedAt: out.SubmittedAt,
		FilledAt:    out.FilledAt,
	}
	if out.FilledQty != "" {
		if data.FilledQty, err = strconv.Atoi(out.FilledQty); err != nil {
			return nil, fmt.Errorf("invalid filled_qty %q: %w", out.FilledQty, err)
		}
	}
	if out.FilledAvgPrice != nil && *out.FilledAvgPrice != "" {
		if data.AvgFilledPrice, err = strconv.ParseFloat(*out.FilledAvgPrice, 64); err != nil {
			return nil, fmt.Errorf("invalid filled_avg_price %q: %w", *out.FilledAvgPrice, err)
		}
	}

	b.log.Channel(logger.ChannelAPIGetOrderStatus).WithFields(map[string]interface{}{
		"order_id":   req.OrderID,
		"raw_status": out.Status,
		"filled_qty": data.FilledQty,
		"avg_price":  data.AvgFilledPrice,
	}).Info("Get order status")

	return &contracts.OrderStatusResponse{Success: true, RawStatus: out.Status, Data: data}, nil
}
