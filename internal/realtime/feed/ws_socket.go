package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/pkg/logger"
)

const (
	// Reconnect settings
	reconnectDelay       = 2 * time.Second
	maxReconnectDelay    = 2 * time.Minute
	maxReconnectAttempts = 10

	// Ping/Pong settings
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// ErrAuthFailed is returned when the stream rejects the credentials
var ErrAuthFailed = errors.New("quote stream authentication failed")

// WSOptions configures a WSSocket
type WSOptions struct {
	URL       string
	KeyID     string
	SecretKey string

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// WSSocket streams quotes over an Alpaca-style websocket
// ⭐ SSOT: 실시간 호가 websocket 연결/구독은 이 클라이언트에서만
// handler는 read goroutine에서 호출됨 (throttle 큐가 엔진과 분리)
type WSSocket struct {
	opts   WSOptions
	dialer *websocket.Dialer
	logger *logger.Logger

	handlerMu sync.RWMutex
	handler   func(contracts.PriceUpdate)

	conn   *websocket.Conn
	connMu sync.RWMutex
	// gorilla conn은 동시 writer 1개만 허용
	writeMu sync.Mutex

	symbols   []string
	symbolsMu sync.RWMutex

	closed   atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	received atomic.Int64
}

// NewWSSocket creates an unconnected socket
func NewWSSocket(opts WSOptions, log *logger.Logger) *WSSocket {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = reconnectDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = maxReconnectAttempts
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WSSocket{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		logger: log.WithField("component", "ws_socket"),
		stopCh: make(chan struct{}),
	}
}

type streamMessage struct {
	Type      string    `json:"T"`
	Symbol    string    `json:"S"`
	BidPrice  float64   `json:"bp"`
	AskPrice  float64   `json:"ap"`
	Timestamp time.Time `json:"t"`
	Msg       string    `json:"msg"`
	Code      int       `json:"code"`
}

// OnPriceUpdate sets the quote handler
func (s *WSSocket) OnPriceUpdate(handler func(contracts.PriceUpdate)) {
	s.handlerMu.Lock()
	s.handler = handler
	s.handlerMu.Unlock()
}

// Connect dials, authenticates and starts the read and ping loops
func (s *WSSocket) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return errors.New("socket already closed")
	}
	if err := s.dial(ctx); err != nil {
		return fmt.Errorf("initial connection failed: %w", err)
	}

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.pingLoop(ctx)
	return nil
}

// Subscribe requests quotes for symbols; they are re-sent after every reconnect
func (s *WSSocket) Subscribe(_ context.Context, symbols []string) error {
	s.symbolsMu.Lock()
	s.symbols = append([]string(nil), symbols...)
	s.symbolsMu.Unlock()

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return errors.New("socket not connected")
	}
	return s.subscribe(conn, symbols)
}

// Closed reports whether the stream has stopped for good
func (s *WSSocket) Closed() bool {
	return s.closed.Load()
}

// Received returns the number of quotes handed to the handler
func (s *WSSocket) Received() int64 {
	return s.received.Load()
}

// Close stops the loops and closes the connection
func (s *WSSocket) Close() error {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopCh)

		s.connMu.Lock()
		if s.conn != nil {
			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			s.writeMu.Unlock()
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
	s.wg.Wait()
	s.logger.WithField("received", s.received.Load()).Info("Quote stream closed")
	return nil
}

// dial connects and authenticates, replacing any previous connection
func (s *WSSocket) dial(ctx context.Context) error {
	s.logger.WithField("url", s.opts.URL).Debug("Connecting to quote stream")

	conn, _, err := s.dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	if err := s.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.connMu.Lock()
	old := s.conn
	s.conn = conn
	s.connMu.Unlock()
	if old != nil {
		old.Close()
	}

	s.logger.Info("Connected to quote stream")
	return nil
}

// authenticate waits for the welcome frame, sends credentials and waits for the ack
func (s *WSSocket) authenticate(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(writeWait))
	defer conn.SetReadDeadline(time.Time{})

	if _, err := s.expect(conn, "connected"); err != nil {
		return err
	}

	s.writeMu.Lock()
	err := conn.WriteJSON(map[string]string{
		"action": "auth",
		"key":    s.opts.KeyID,
		"secret": s.opts.SecretKey,
	})
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	if _, err := s.expect(conn, "authenticated"); err != nil {
		return err
	}
	return nil
}

// expect reads one control frame and requires a success message with msg
func (s *WSSocket) expect(conn *websocket.Conn, msg string) (streamMessage, error) {
	var frame []streamMessage
	if err := conn.ReadJSON(&frame); err != nil {
		return streamMessage{}, fmt.Errorf("failed to read %s frame: %w", msg, err)
	}
	for _, m := range frame {
		switch {
		case m.Type == "error":
			return m, fmt.Errorf("%w: %d %s", ErrAuthFailed, m.Code, m.Msg)
		case m.Type == "success" && m.Msg == msg:
			return m, nil
		}
	}
	return streamMessage{}, fmt.Errorf("unexpected frame while waiting for %s", msg)
}

func (s *WSSocket) subscribe(conn *websocket.Conn, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	s.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"quotes": symbols,
	})
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.logger.WithField("symbols", symbols).Info("Subscribed to quotes")
	return nil
}

// readLoop reads frames until the socket is closed
func (s *WSSocket) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil {
				s.closed.Store(true)
				return
			}
			s.logger.WithError(err).Warn("Quote stream read failed")
			if !s.reconnect(ctx) {
				s.closed.Store(true)
				return
			}
			continue
		}

		if err := s.handleFrame(data); err != nil {
			s.logger.WithError(err).Error("Failed to handle quote frame")
		}
	}
}

// handleFrame dispatches every quote in a frame
func (s *WSSocket) handleFrame(data []byte) error {
	var frame []streamMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}

	s.handlerMu.RLock()
	handler := s.handler
	s.handlerMu.RUnlock()

	for _, m := range frame {
		switch m.Type {
		case "q":
			if handler == nil {
				continue
			}
			s.received.Add(1)
			handler(contracts.PriceUpdate{
				Symbol: m.Symbol,
				Bid:    m.BidPrice,
				Ask:    m.AskPrice,
				Time:   m.Timestamp,
			})
		case "error":
			s.logger.WithFields(map[string]interface{}{
				"code": m.Code,
				"msg":  m.Msg,
			}).Error("Quote stream error")
		case "subscription":
			s.logger.Debug("Subscription acknowledged")
		}
	}
	return nil
}

// reconnect redials with exponential backoff and resubscribes
func (s *WSSocket) reconnect(ctx context.Context) bool {
	delay := s.opts.ReconnectDelay
	for attempt := 1; attempt <= s.opts.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-s.stopCh:
			return false
		case <-time.After(delay):
		}

		if err := s.dial(ctx); err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Error("Reconnect failed, retrying")

			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		s.symbolsMu.RLock()
		symbols := append([]string(nil), s.symbols...)
		s.symbolsMu.RUnlock()

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if err := s.subscribe(conn, symbols); err != nil {
			s.logger.WithError(err).Error("Resubscribe failed")
			continue
		}

		s.logger.WithField("attempt", attempt).Info("Reconnected to quote stream")
		return true
	}

	s.logger.WithField("attempts", s.opts.MaxReconnectAttempts).Error("Giving up on quote stream")
	return false
}

// pingLoop keeps the connection alive
func (s *WSSocket) pingLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.WithError(err).Warn("Failed to send ping")
			}
		}
	}
}
