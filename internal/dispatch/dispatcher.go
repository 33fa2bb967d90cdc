// Package dispatch fans computed records out to storage and live sinks.
package dispatch

import (
	"context"
	"time"

	"klinewatch/internal/metrics"
	"klinewatch/internal/model"

	"go.uber.org/zap"
)

// Sink accepts records. Implementations must be safe for concurrent use by
// several subscription units.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec model.Record) error
}

// Retry bounds how often a failing sink write is repeated.
// Attempts of 1 (or less) means a single try.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

// Config tunes the dispatcher.
type Config struct {
	// Timeout caps each individual sink write.
	Timeout time.Duration
	Retry   Retry
}

// Dispatcher writes each record to every live and storage sink. A failing
// sink never prevents delivery to the others.
type Dispatcher struct {
	cfg     Config
	live    []Sink
	storage []Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a Dispatcher.
func New(cfg Config, live, storage []Sink, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Retry.Attempts < 1 {
		cfg.Retry.Attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:     cfg,
		live:    live,
		storage: storage,
		logger:  logger,
		metrics: m,
	}
}

// Dispatch sends rec to the live sinks first, then to the storage sinks.
// Failures are logged and counted; nothing is returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, rec model.Record) {
	for _, s := range d.live {
		d.write(ctx, s, rec)
	}
	for _, s := range d.storage {
		d.write(ctx, s, rec)
	}
	if d.metrics != nil {
		d.metrics.RecordsTotal.WithLabelValues(rec.Key().String()).Inc()
	}
}

func (d *Dispatcher) write(ctx context.Context, s Sink, rec model.Record) {
	var err error
	start := time.Now()

	for attempt := 1; attempt <= d.cfg.Retry.Attempts; attempt++ {
		err = d.writeOnce(ctx, s, rec)
		if err == nil || ctx.Err() != nil {
			break
		}
		if attempt < d.cfg.Retry.Attempts && d.cfg.Retry.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.cfg.Retry.Delay):
			}
		}
	}

	if d.metrics != nil {
		d.metrics.SinkWriteDur.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		d.logger.Warn("sink write failed",
			zap.String("sink", s.Name()),
			zap.String("pair", rec.Key().String()),
			zap.Int64("event_time", rec.EventTime),
			zap.Error(err),
		)
		if d.metrics != nil {
			d.metrics.SinkFailures.WithLabelValues(s.Name()).Inc()
		}
	}
}

func (d *Dispatcher) writeOnce(ctx context.Context, s Sink, rec model.Record) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	return s.Write(ctx, rec)
}
