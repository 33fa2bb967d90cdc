package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"klinewatch/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestWSSourceSubscribe
func TestWSSourceSubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotPath := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"k":{"x":true}}`))
		// keep the connection open until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	source := NewWSSource(wsURL, 2*time.Second, zap.NewNop())
	key := model.Key{Symbol: "BTCUSDT", Interval: model.Interval1m}

	stream, err := source.Subscribe(context.Background(), key)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "/ws/btcusdt@kline_1m", <-gotPath)

	msg, err := stream.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":{"x":true}}`, string(msg))

	// a concurrent Close unblocks the reader
	go func() {
		time.Sleep(50 * time.Millisecond)
		stream.Close()
	}()
	_, err = stream.ReadMessage()
	assert.Error(t, err)
	assert.NoError(t, stream.Close(), "second close reports the first result")
}

// go test -v --run TestWSSourceDialError
func TestWSSourceDialError(t *testing.T) {
	source := NewWSSource("ws://127.0.0.1:1", time.Second, zap.NewNop())
	_, err := source.Subscribe(context.Background(), model.Key{Symbol: "BTCUSDT", Interval: model.Interval1m})
	assert.Error(t, err)
}
