package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"klinewatch/internal/model"
	"klinewatch/pkg/storage/sqlstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *sqlstore.Client {
	t.Helper()

	client, err := sqlstore.NewSQLiteClient(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	require.NoError(t, client.AutoMigrate())
	t.Cleanup(func() { client.Close() })
	return client
}

func rec(symbol string, iv model.Interval, eventTime int64, close float64) model.Record {
	return model.Record{
		Symbol:        symbol,
		Interval:      iv,
		EventTime:     eventTime,
		Open:          close - 1,
		High:          close + 1,
		Low:           close - 2,
		Close:         close,
		RSI:           55.5,
		MedianClose:   close,
		MovingAverage: close - 0.5,
	}
}

// go test -v --run TestRecordCRUD
func TestRecordCRUD(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.True(t, client.IsHealthy(ctx))

	// Create
	require.NoError(t, client.InsertRecord(ctx, sqlstore.ToIndicatorRecord(rec("BTCUSDT", model.Interval1m, 1000, 100))))
	require.NoError(t, client.InsertRecord(ctx, sqlstore.ToIndicatorRecord(rec("BTCUSDT", model.Interval1m, 2000, 101))))
	require.NoError(t, client.InsertRecord(ctx, sqlstore.ToIndicatorRecord(rec("BTCUSDT", model.Interval5m, 2000, 200))))

	// Duplicate candle
	err := client.InsertRecord(ctx, sqlstore.ToIndicatorRecord(rec("BTCUSDT", model.Interval1m, 2000, 999)))
	assert.True(t, errors.Is(err, sqlstore.ErrDuplicate), "got %v", err)

	// Read, newest first, only the requested interval
	key := model.Key{Symbol: "BTCUSDT", Interval: model.Interval1m}
	got, err := client.ListRecords(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rec("BTCUSDT", model.Interval1m, 2000, 101), got[0])
	assert.Equal(t, int64(1000), got[1].EventTime)

	limited, err := client.ListRecords(ctx, key, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// Delete
	n, err := client.DeleteOlderThan(ctx, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = client.ListRecords(ctx, key, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// go test -v --run TestSinkIgnoresDuplicates
func TestSinkIgnoresDuplicates(t *testing.T) {
	client := newTestClient(t)
	sink := sqlstore.NewSink(client)
	ctx := context.Background()

	r := rec("ETHUSDT", model.Interval15m, 42, 3000)
	require.NoError(t, sink.Write(ctx, r))
	require.NoError(t, sink.Write(ctx, r), "redelivery is accepted")

	got, err := client.ListRecords(ctx, r.Key(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "sql", sink.Name())
}

// go test -v --run TestUnsupportedDriver
func TestUnsupportedDriver(t *testing.T) {
	_, err := sqlstore.Open(configWithDriver("mysql"), "dev")
	assert.Error(t, err)
}
