// Package live pushes records to connected subscribers: websocket clients of
// the Hub and Redis pub/sub consumers.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"klinewatch/internal/metrics"
	"klinewatch/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	historyTimeout = 5 * time.Second
)

// HistoryReader returns stored records of a pair, newest first.
type HistoryReader interface {
	ListRecords(ctx context.Context, key model.Key, limit int) ([]model.Record, error)
}

// Message is what clients receive. History carries Records, kline carries Record.
type Message struct {
	Type     string         `json:"type"` // "history", "kline" or "error"
	Symbol   string         `json:"symbol,omitempty"`
	Interval model.Interval `json:"interval,omitempty"`
	Records  []model.Record `json:"records,omitempty"`
	Record   *model.Record  `json:"record,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type HubConfig struct {
	SendBuffer   int // per client queue; full queues drop
	HistoryLimit int
}

// Hub tracks websocket clients and fans records out to the ones whose
// filter matches.
type Hub struct {
	cfg      HubConfig
	history  HistoryReader
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a Hub. history may be nil.
func NewHub(cfg HubConfig, history HistoryReader, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:     cfg,
		history: history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) Name() string { return "hub" }

// ServeWS upgrades the request and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	h.add(c)

	go c.writePump()
	go c.readPump()
}

// Write queues rec for every matching client without blocking.
func (h *Hub) Write(_ context.Context, rec model.Record) error {
	buf, err := json.Marshal(Message{Type: "kline", Record: &rec})
	if err != nil {
		return err
	}

	key := rec.Key()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(key) {
			continue
		}
		select {
		case c.send <- buf:
		default:
			h.logger.Debug("client queue full, dropping", zap.String("client", c.id), zap.String("pair", key.String()))
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.LiveClients.Set(float64(n))
	}
	h.logger.Info("live client connected", zap.String("client", c.id), zap.Int("clients", n))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.LiveClients.Set(float64(n))
	}
	h.logger.Info("live client disconnected", zap.String("client", c.id), zap.Int("clients", n))
}

// enqueue sends to one client if it is still registered.
func (h *Hub) enqueue(c *Client, buf []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- buf:
		return true
	default:
		return false
	}
}

// loadHistory encodes the stored records of key as a history message.
// A nil message means there is nothing to send.
func (h *Hub) loadHistory(key model.Key) ([]byte, error) {
	if h.history == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	records, err := h.history.ListRecords(ctx, key, h.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.Record{}
	}
	return json.Marshal(Message{Type: "history", Symbol: key.Symbol, Interval: key.Interval, Records: records})
}

// subscribe queues first (if any) and switches c to f in one step. Write
// holds the read lock while fanning out, so no live record for f can be
// queued ahead of first.
func (h *Hub) subscribe(c *Client, f Filter, first []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if first != nil {
		select {
		case c.send <- first:
		default:
		}
	}
	c.setFilter(f)
}
