package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"klinewatch/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSSource opens one raw kline stream per (symbol, interval).
type WSSource struct {
	baseURL     string
	readTimeout time.Duration
	dialer      *websocket.Dialer
	logger      *zap.Logger
}

// NewWSSource creates a source for the given stream base URL, e.g.
// "wss://stream.binance.com:9443". readTimeout of 0 disables read deadlines.
func NewWSSource(baseURL string, readTimeout time.Duration, logger *zap.Logger) *WSSource {
	return &WSSource{
		baseURL:     strings.TrimRight(baseURL, "/"),
		readTimeout: readTimeout,
		dialer:      websocket.DefaultDialer,
		logger:      logger,
	}
}

// WithHandshakeTimeout bounds the websocket opening handshake.
func (s *WSSource) WithHandshakeTimeout(d time.Duration) *WSSource {
	if d > 0 {
		dialer := *s.dialer
		dialer.HandshakeTimeout = d
		s.dialer = &dialer
	}
	return s
}

// StreamURL returns the raw stream URL for key, e.g. ".../ws/btcusdt@kline_1m".
func (s *WSSource) StreamURL(key model.Key) string {
	return fmt.Sprintf("%s/ws/%s@kline_%s", s.baseURL, strings.ToLower(key.Symbol), key.Interval.StreamValue())
}

// Subscribe dials the kline stream of key.
func (s *WSSource) Subscribe(ctx context.Context, key model.Key) (*WSStream, error) {
	url := s.StreamURL(key)

	// Attempt to connect to the WebSocket server
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	s.logger.Info("WebSocket connected", zap.String("url", url))

	return &WSStream{conn: conn, readTimeout: s.readTimeout}, nil
}

// WSStream is one open kline stream.
type WSStream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
	closeErr    error
}

// ReadMessage blocks until the next text frame arrives. Server pings are
// answered by the default gorilla ping handler while reading.
func (s *WSStream) ReadMessage() ([]byte, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return nil, err
		}
	}
	_, msg, err := s.conn.ReadMessage()
	return msg, err
}

// Close closes the connection. It is safe to call more than once and from a
// goroutine other than the reader.
func (s *WSStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
