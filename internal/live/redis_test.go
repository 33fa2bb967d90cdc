package live

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"klinewatch/internal/model"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run TestRedisPublisherWrite
func TestRedisPublisherWrite(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewRedisPublisher(db, "")

	rec := model.Record{Symbol: "BTCUSDT", Interval: model.Interval1m, EventTime: 1700000059999, Close: 37000.5, RSI: 28.4}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	assert.Equal(t, "klines:BTCUSDT:1m", p.Channel(rec.Key()))
	mock.ExpectPublish("klines:BTCUSDT:1m", string(payload)).SetVal(2)

	require.NoError(t, p.Write(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// go test -v --run TestRedisPublisherError
func TestRedisPublisherError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewRedisPublisher(db, "feed")

	rec := model.Record{Symbol: "ETHUSDT", Interval: model.Interval5m}
	payload, _ := json.Marshal(rec)
	mock.ExpectPublish("feed:ETHUSDT:5m", string(payload)).SetErr(errors.New("connection refused"))

	err := p.Write(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ETHUSDT@5m")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// go test -v --run TestRedisPublisherPing
func TestRedisPublisherPing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	assert.NoError(t, NewRedisPublisher(db, "").Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
