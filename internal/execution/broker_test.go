package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/pkg/config"
	"github.com/wonny/daytrader/pkg/httputil"
	"github.com/wonny/daytrader/pkg/logger"
)

func TestConvertStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    contracts.OrderStatus
		wantErr bool
	}{
		{"filled", contracts.StatusFilled, false},
		{"canceled", contracts.StatusCancelled, false},
		{"pending_cancel", contracts.StatusCancelled, false},
		{"new", contracts.StatusOpen, false},
		{"accepted", contracts.StatusOpen, false},
		{"partially_filled", contracts.StatusOpen, false},
		{"pending_new", contracts.StatusOpen, false},
		{"expired", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ConvertStatus(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMockBroker(t *testing.T) {
	ctx := context.Background()
	b := NewMockBroker(1000, nil)

	req := contracts.OrderRequest{OrderID: "o-1", Symbol: "SPY", Direction: contracts.DirectionBuy, Quantity: 10, LimitPrice: 99.5}
	resp, err := b.PlaceLimitBuy(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "MOCK-o-1", resp.BrokerOrderID)
	assert.Equal(t, "o-1", resp.ClientOrderID)

	_, err = b.PlaceLimitSell(ctx, contracts.OrderRequest{OrderID: "o-2", Quantity: 0})
	assert.Error(t, err, "zero quantity")

	st, err := b.GetOrderStatus(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusFilled, st.Data.Status)
	assert.Equal(t, 99.5, st.Data.AvgFilledPrice)
	assert.Equal(t, 10, st.Data.FilledQty)

	b.SetFilledPrice("o-1", 98.75)
	st, err = b.GetOrderStatus(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 98.75, st.Data.AvgFilledPrice)

	acct, err := b.GetAccountData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, acct.Data.FreeUSDBalance)
	b.SetFreeUSD(5)
	acct, _ = b.GetAccountData(ctx)
	assert.Equal(t, 5.0, acct.Data.FreeUSDBalance)

	cr, err := b.CancelOrder(ctx, req)
	require.NoError(t, err)
	assert.True(t, cr.Success)

	placed, cancelled, polls := b.Counts()
	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, 2, polls)
}

// newTestBroker wires an HTTPBroker to a fake brokerage server
func newTestBroker(t *testing.T, h http.Handler) *HTTPBroker {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := &config.Config{Env: "development", LogLevel: "error"}
	client := httputil.New(cfg, logger.Nop()).DisableRetry()
	return NewHTTPBroker(config.BrokerConfig{
		BaseURL:   srv.URL + "/",
		KeyID:     "key",
		SecretKey: "secret",
		RPS:       100,
	}, client, logger.Nop())
}

func TestHTTPBrokerPlaceLimitBuy(t *testing.T) {
	var got orderBody
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":              "broker-1",
			"client_order_id": got.ClientOrderID,
			"status":          "accepted",
		})
	}))

	resp, err := b.PlaceLimitBuy(context.Background(), contracts.OrderRequest{
		OrderID: "o-1", Symbol: "SPY", Quantity: 40, LimitPrice: 99,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "broker-1", resp.BrokerOrderID)
	assert.Equal(t, "o-1", resp.ClientOrderID)

	assert.Equal(t, orderBody{
		Symbol: "SPY", Qty: "40", Side: "buy", Type: "limit",
		TimeInForce: "gtc", LimitPrice: "99.00", ClientOrderID: "o-1",
	}, got)
}

func TestHTTPBrokerPlaceRejected(t *testing.T) {
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"insufficient buying power"}`))
	}))

	resp, err := b.PlaceLimitSell(context.Background(), contracts.OrderRequest{OrderID: "o-1", Symbol: "SPY", Quantity: 1, LimitPrice: 1})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.RawStatus, "insufficient")
}

func TestHTTPBrokerPlaceServerError(t *testing.T) {
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := b.PlaceLimitBuy(context.Background(), contracts.OrderRequest{OrderID: "o-1", Symbol: "SPY", Quantity: 1, LimitPrice: 1})
	assert.Error(t, err)
}

func TestHTTPBrokerPlaceUnexpectedStatus(t *testing.T) {
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","status":"rejected"}`))
	}))

	resp, err := b.PlaceLimitBuy(context.Background(), contracts.OrderRequest{OrderID: "o-1", Symbol: "SPY", Quantity: 1, LimitPrice: 1})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "rejected", resp.RawStatus)
}

func TestHTTPBrokerZeroQuantity(t *testing.T) {
	calls := 0
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))

	_, err := b.PlaceLimitBuy(context.Background(), contracts.OrderRequest{OrderID: "o-1", Quantity: 0})
	assert.Error(t, err)
	assert.Zero(t, calls)
}

func TestHTTPBrokerGetOrderStatus(t *testing.T) {
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders:by_client_order_id", r.URL.Path)
		assert.Equal(t, "c-1", r.URL.Query().Get("client_order_id"))
		_, _ = w.Write([]byte(`{
			"id": "broker-1",
			"client_order_id": "c-1",
			"status": "filled",
			"filled_qty": "40",
			"filled_avg_price": "98.97",
			"submitted_at": "2024-03-05T14:31:00Z",
			"filled_at": "2024-03-05T14:35:00Z"
		}`))
	}))

	resp, err := b.GetOrderStatus(context.Background(), contracts.OrderRequest{OrderID: "o-1", ClientOrderID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusFilled, resp.Data.Status)
	assert.Equal(t, 40, resp.Data.FilledQty)
	assert.Equal(t, 98.97, resp.Data.AvgFilledPrice)
	require.NotNil(t, resp.Data.FilledAt)
	assert.Equal(t, 35, resp.Data.FilledAt.Minute())
}

func TestHTTPBrokerGetOrderStatusOpen(t *testing.T) {
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "o-1", r.URL.Query().Get("client_order_id"))
		_, _ = w.Write([]byte(`{"id":"b","status":"new","filled_qty":"0","filled_avg_price":null,"submitted_at":"2024-03-05T14:31:00Z"}`))
	}))

	resp, err := b.GetOrderStatus(context.Background(), contracts.OrderRequest{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusOpen, resp.Data.Status)
	assert.Zero(t, resp.Data.FilledQty)
	assert.Nil(t, resp.Data.FilledAt)
}

func TestHTTPBrokerGetOrderStatusUnknown(t *testing.T) {
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"b","status":"expired"}`))
	}))

	_, err := b.GetOrderStatus(context.Background(), contracts.OrderRequest{OrderID: "o-1"})
	assert.Error(t, err)
}

func TestHTTPBrokerCancelOrder(t *testing.T) {
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/v2/orders/broker-1" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	ctx := context.Background()
	resp, err := b.CancelOrder(ctx, contracts.OrderRequest{OrderID: "o-1", BrokerOrderID: "broker-1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	resp, err = b.CancelOrder(ctx, contracts.OrderRequest{OrderID: "o-2", BrokerOrderID: "broker-2"})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	_, err = b.CancelOrder(ctx, contracts.OrderRequest{OrderID: "o-3"})
	assert.Error(t, err)
}

func TestHTTPBrokerGetAccountData(t *testing.T) {
	b := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		_, _ = w.Write([]byte(`{"buying_power":"25000.50","cash":"25000.50"}`))
	}))

	resp, err := b.GetAccountData(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 25000.50, resp.Data.FreeUSDBalance)
}
