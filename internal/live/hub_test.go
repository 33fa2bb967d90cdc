package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"klinewatch/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	records []model.Record
	err     error
}

func (f fakeHistory) ListRecords(_ context.Context, key model.Key, limit int) ([]model.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Record
	for _, r := range f.records {
		if r.Key() == key {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func startHub(t *testing.T, history HistoryReader) (*Hub, string) {
	t.Helper()
	hub := NewHub(HubConfig{SendBuffer: 16, HistoryLimit: 10}, history, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func record(sym string, iv model.Interval, t int64) model.Record {
	return model.Record{Symbol: sym, Interval: iv, EventTime: t, Close: 1}
}

// go test -v --run TestHubHistoryThenFilteredLive
func TestHubHistoryThenFilteredLive(t *testing.T) {
	history := fakeHistory{records: []model.Record{
		record("BTCUSDT", model.Interval1m, 3),
		record("BTCUSDT", model.Interval1m, 2),
		record("ETHUSDT", model.Interval1m, 9),
	}}
	hub, url := startHub(t, history)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.WriteJSON(Filter{Symbol: "btcusdt", Interval: "1m"}))

	m := readMessage(t, conn)
	assert.Equal(t, "history", m.Type)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	require.Len(t, m.Records, 2)
	assert.Equal(t, int64(3), m.Records[0].EventTime)

	ctx := context.Background()
	require.NoError(t, hub.Write(ctx, record("ETHUSDT", model.Interval1m, 10)))
	require.NoError(t, hub.Write(ctx, record("BTCUSDT", model.Interval5m, 11)))
	require.NoError(t, hub.Write(ctx, record("BTCUSDT", model.Interval1m, 12)))

	m = readMessage(t, conn)
	assert.Equal(t, "kline", m.Type)
	require.NotNil(t, m.Record)
	assert.Equal(t, int64(12), m.Record.EventTime)
}

// go test -v --run TestHubEmptyFilterGetsEverything
func TestHubEmptyFilterGetsEverything(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, hub, url, 1)

	ctx := context.Background()
	require.NoError(t, hub.Write(ctx, record("ETHUSDT", model.Interval1m, 1)))
	require.NoError(t, hub.Write(ctx, record("BTCUSDT", model.Interval5m, 2)))

	assert.Equal(t, int64(1), readMessage(t, conn).Record.EventTime)
	assert.Equal(t, int64(2), readMessage(t, conn).Record.EventTime)
}

// go test -v --run TestHubRejectsBadInterval
func TestHubRejectsBadInterval(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.WriteJSON(Filter{Symbol: "BTCUSDT", Interval: "3m"}))
	m := readMessage(t, conn)
	assert.Equal(t, "error", m.Type)
	assert.NotEmpty(t, m.Error)
}

// go test -v --run TestHubHistoryFailure
func TestHubHistoryFailure(t *testing.T) {
	hub, url := startHub(t, fakeHistory{err: errors.New("db down")})
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.WriteJSON(Filter{Symbol: "BTCUSDT", Interval: "1m"}))
	m := readMessage(t, conn)
	assert.Equal(t, "error", m.Type)

	// live feed still flows
	require.NoError(t, hub.Write(context.Background(), record("BTCUSDT", model.Interval1m, 5)))
	assert.Equal(t, "kline", readMessage(t, conn).Type)
}

// go test -v --run TestHubDisconnectRemovesClient
func TestHubDisconnectRemovesClient(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, hub, url, 1)
	dial(t, hub, url, 2)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// writing with a departed client must not panic
	assert.NoError(t, hub.Write(context.Background(), record("BTCUSDT", model.Interval1m, 1)))
}

// go test -v --run TestHubWriteNeverBlocks
func TestHubWriteNeverBlocks(t *testing.T) {
	hub := NewHub(HubConfig{SendBuffer: 1}, nil, nil, nil)
	c := &Client{id: "slow", hub: hub, send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Write(context.Background(), record("BTCUSDT", model.Interval1m, int64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked on a full client queue")
	}
	assert.Len(t, c.send, 1)
}

// gatedHistory blocks lookups for gated symbols until release is closed.
type gatedHistory struct {
	gated   string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedHistory) ListRecords(_ context.Context, key model.Key, _ int) ([]model.Record, error) {
	if key.Symbol == g.gated {
		g.entered <- struct{}{}
		<-g.release
	}
	return []model.Record{record(key.Symbol, key.Interval, 1)}, nil
}

// go test -race -v --run TestHubHistoryPrecedesLiveOnResubscribe
func TestHubHistoryPrecedesLiveOnResubscribe(t *testing.T) {
	history := &gatedHistory{gated: "BTCUSDT", entered: make(chan struct{}, 1), release: make(chan struct{})}
	hub, url := startHub(t, history)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.WriteJSON(Filter{Symbol: "ETHUSDT", Interval: "1m"}))
	m := readMessage(t, conn)
	require.Equal(t, "history", m.Type)
	require.Equal(t, "ETHUSDT", m.Symbol)

	require.NoError(t, conn.WriteJSON(Filter{Symbol: "BTCUSDT", Interval: "1m"}))
	select {
	case <-history.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("history lookup never started")
	}

	// published while the snapshot is still being read: must not overtake it
	require.NoError(t, hub.Write(context.Background(), record("BTCUSDT", model.Interval1m, 7)))
	close(history.release)

	m = readMessage(t, conn)
	assert.Equal(t, "history", m.Type)
	assert.Equal(t, "BTCUSDT", m.Symbol)

	require.NoError(t, hub.Write(context.Background(), record("BTCUSDT", model.Interval1m, 8)))
	m = readMessage(t, conn)
	assert.Equal(t, "kline", m.Type)
	require.NotNil(t, m.Record)
	assert.Equal(t, int64(8), m.Record.EventTime)
}
