package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/daytrader/internal/contracts"
)

// streamServer is a minimal quote stream: welcome, auth, subscribe ack, then quotes
type streamServer struct {
	t       *testing.T
	secret  string
	quotes  []string
	subs    chan []string
	srv     *httptest.Server
	upgrade websocket.Upgrader
}

func newStreamServer(t *testing.T, secret string, quotes ...string) *streamServer {
	s := &streamServer{t: t, secret: secret, quotes: quotes, subs: make(chan []string, 4)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *streamServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *streamServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"connected"}]`))

	var auth map[string]string
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth["secret"] != s.secret {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"error","code":402,"msg":"auth failed"}]`))
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"authenticated"}]`))

	var sub struct {
		Action string   `json:"action"`
		Quotes []string `json:"quotes"`
	}
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	s.subs <- sub.Quotes
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"subscription","quotes":["SPY"]}]`))

	for _, q := range s.quotes {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(q))
	}

	// 클라이언트가 닫을 때까지 대기
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWSSocketStreamsQuotes(t *testing.T) {
	srv := newStreamServer(t, "secret",
		`[{"T":"q","S":"SPY","bp":100.01,"ap":100.03,"t":"2024-03-05T14:30:00Z"}]`,
		`[{"T":"q","S":"QQQ","bp":400.5,"ap":400.6,"t":"2024-03-05T14:30:01Z"},{"T":"q","S":"SPY","bp":100.02,"ap":100.04,"t":"2024-03-05T14:30:02Z"}]`,
	)

	s := NewWSSocket(WSOptions{URL: srv.url(), KeyID: "key", SecretKey: "secret"}, nil)

	var mu sync.Mutex
	var got []contracts.PriceUpdate
	s.OnPriceUpdate(func(p contracts.PriceUpdate) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe(ctx, []string{"SPY", "QQQ"}))

	select {
	case subs := <-srv.subs:
		assert.Equal(t, []string{"SPY", "QQQ"}, subs)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not received")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "SPY", got[0].Symbol)
	assert.Equal(t, 100.01, got[0].Bid)
	assert.Equal(t, 100.03, got[0].Ask)
	assert.Equal(t, 30, got[0].Time.Minute())
	assert.Equal(t, "QQQ", got[1].Symbol)
	mu.Unlock()

	assert.False(t, s.Closed())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.Equal(t, int64(3), s.Received())
}

func TestWSSocketAuthFailure(t *testing.T) {
	srv := newStreamServer(t, "secret")
	s := NewWSSocket(WSOptions{URL: srv.url(), KeyID: "key", SecretKey: "wrong"}, nil)

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestWSSocketSubscribeBeforeConnect(t *testing.T) {
	s := NewWSSocket(WSOptions{URL: "ws://127.0.0.1:1"}, nil)
	assert.Error(t, s.Subscribe(context.Background(), []string{"SPY"}))
	require.NoError(t, s.Close())
	assert.Error(t, s.Connect(context.Background()), "closed socket")
}

func replayTicks() []contracts.PriceUpdate {
	t0 := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	var ticks []contracts.PriceUpdate
	for i := 0; i < 50; i++ {
		for _, sym := range []string{"SPY", "QQQ", "IWM", "DIA"} {
			ticks = append(ticks, contracts.PriceUpdate{Symbol: sym, Bid: float64(100 + i), Ask: float64(100 + i), Time: t0.Add(time.Duration(i) * time.Second)})
		}
	}
	return ticks
}

func TestReplaySocketSequential(t *testing.T) {
	ticks := replayTicks()
	s := NewReplaySocket(ticks, 1)

	var got []contracts.PriceUpdate
	s.OnPriceUpdate(func(p contracts.PriceUpdate) { got = append(got, p) })

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe(ctx, nil))
	require.Eventually(t, s.Closed, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, ticks, got)
	assert.Equal(t, int64(len(ticks)), s.Pushed())
	assert.Error(t, s.Subscribe(ctx, nil), "already started")
	require.NoError(t, s.Close())
}

func TestReplaySocketConcurrentKeepsSymbolOrder(t *testing.T) {
	ticks := replayTicks()
	s := NewReplaySocket(ticks, 4)

	var mu sync.Mutex
	bySymbol := make(map[string][]float64)
	s.OnPriceUpdate(func(p contracts.PriceUpdate) {
		mu.Lock()
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p.Bid)
		mu.Unlock()
	})

	require.NoError(t, s.Subscribe(context.Background(), nil))
	require.Eventually(t, s.Closed, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bySymbol, 4)
	for sym, bids := range bySymbol {
		require.Len(t, bids, 50, sym)
		for i := 1; i < len(bids); i++ {
			assert.Less(t, bids[i-1], bids[i], sym)
		}
	}
}

func TestReplaySocketRequiresHandler(t *testing.T) {
	s := NewReplaySocket(replayTicks(), 1)
	assert.Error(t, s.Subscribe(context.Background(), nil))
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
}
