package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"klinewatch/internal/metrics"
	"klinewatch/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type countingSink struct {
	name string
	err  error
	// failFirst fails that many writes before succeeding
	failFirst int

	mu    sync.Mutex
	calls int
	recs  []model.Record
}

func (s *countingSink) Name() string { return s.name }

func (s *countingSink) Write(_ context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errors.New("transient")
	}
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

type blockingSink struct{}

func (blockingSink) Name() string { return "blocking" }

func (blockingSink) Write(ctx context.Context, _ model.Record) error {
	<-ctx.Done()
	return ctx.Err()
}

func record(i int) model.Record {
	return model.Record{Symbol: "BTCUSDT", Interval: model.Interval1m, EventTime: int64(i)}
}

// go test -v --run TestFailingStorageDoesNotBlockLive
func TestFailingStorageDoesNotBlockLive(t *testing.T) {
	live := &countingSink{name: "live"}
	storage := &countingSink{name: "csv", err: errors.New("disk full")}
	m := metrics.New(nil)

	d := New(Config{}, []Sink{live}, []Sink{storage}, nil, m)

	const n = 25
	for i := 0; i < n; i++ {
		d.Dispatch(context.Background(), record(i))
	}

	assert.Equal(t, n, live.calls)
	assert.Len(t, live.recs, n)
	assert.Equal(t, n, storage.calls)
	assert.Equal(t, float64(n), testutil.ToFloat64(m.SinkFailures.WithLabelValues("csv")))
	assert.Equal(t, float64(n), testutil.ToFloat64(m.RecordsTotal.WithLabelValues("BTCUSDT@1m")))
}

// go test -v --run TestFailingLiveDoesNotBlockStorage
func TestFailingLiveDoesNotBlockStorage(t *testing.T) {
	live := &countingSink{name: "hub", err: errors.New("no clients")}
	storage := &countingSink{name: "sql"}

	d := New(Config{}, []Sink{live}, []Sink{storage}, nil, nil)
	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), record(i))
	}

	assert.Len(t, storage.recs, 3)
	assert.Equal(t, []int64{0, 1, 2}, []int64{storage.recs[0].EventTime, storage.recs[1].EventTime, storage.recs[2].EventTime})
}

// go test -v --run TestSlowSinkTimesOut
func TestSlowSinkTimesOut(t *testing.T) {
	live := &countingSink{name: "live"}
	d := New(Config{Timeout: 20 * time.Millisecond}, []Sink{live}, []Sink{blockingSink{}}, nil, nil)

	start := time.Now()
	d.Dispatch(context.Background(), record(1))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, live.calls)
}

// go test -v --run TestBoundedRetry
func TestBoundedRetry(t *testing.T) {
	flaky := &countingSink{name: "s3", failFirst: 2}
	m := metrics.New(nil)
	d := New(Config{Retry: Retry{Attempts: 3, Delay: time.Millisecond}}, nil, []Sink{flaky}, nil, m)

	d.Dispatch(context.Background(), record(1))

	assert.Equal(t, 3, flaky.calls)
	assert.Len(t, flaky.recs, 1)
	assert.Zero(t, testutil.ToFloat64(m.SinkFailures.WithLabelValues("s3")))
}

// go test -v --run TestNoRetryByDefault
func TestNoRetryByDefault(t *testing.T) {
	flaky := &countingSink{name: "s3", failFirst: 1}
	d := New(Config{}, nil, []Sink{flaky}, nil, nil)

	d.Dispatch(context.Background(), record(1))

	assert.Equal(t, 1, flaky.calls)
	assert.Empty(t, flaky.recs)
}
