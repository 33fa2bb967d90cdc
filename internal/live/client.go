package live

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"klinewatch/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Filter selects the records a client receives. An empty Symbol matches
// everything; an empty Interval matches every interval of Symbol.
type Filter struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// Client is a single websocket peer.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter Filter
}

func (c *Client) matches(key model.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filter.Symbol == "" {
		return true
	}
	if c.filter.Symbol != key.Symbol {
		return false
	}
	return c.filter.Interval == "" || c.filter.Interval == string(key.Interval)
}

func (c *Client) setFilter(f Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *Client) sendError(msg string) {
	buf, _ := json.Marshal(Message{Type: "error", Error: msg})
	c.hub.enqueue(c, buf)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump applies subscription messages until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var f Filter
		if err := json.Unmarshal(msg, &f); err != nil {
			c.sendError("invalid subscription")
			continue
		}
		f.Symbol = strings.ToUpper(strings.TrimSpace(f.Symbol))
		f.Interval = strings.TrimSpace(f.Interval)

		var iv model.Interval
		if f.Interval != "" {
			if iv, err = model.ParseInterval(f.Interval); err != nil {
				c.sendError(err.Error())
				continue
			}
		}

		// history is read before the filter changes so it reaches the
		// client ahead of any live record for the new pair
		var first []byte
		if f.Symbol != "" && iv != "" {
			key := model.Key{Symbol: f.Symbol, Interval: iv}
			if first, err = c.hub.loadHistory(key); err != nil {
				c.hub.logger.Warn("history lookup failed", zap.String("pair", key.String()), zap.Error(err))
				first, _ = json.Marshal(Message{Type: "error", Error: "history unavailable"})
			}
		}

		c.hub.subscribe(c, f, first)
		c.hub.logger.Debug("live client subscribed",
			zap.String("client", c.id),
			zap.String("symbol", f.Symbol),
			zap.String("interval", f.Interval),
		)
	}
}
