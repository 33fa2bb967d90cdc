// Package pipeline wires one supervised subscription unit per pair:
// raw message -> candle -> window -> indicators -> signal -> sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klinewatch/internal/indicator"
	"klinewatch/internal/memorystore"
	"klinewatch/internal/metrics"
	"klinewatch/internal/model"
	"klinewatch/internal/signal"
	"klinewatch/internal/stream"
	"klinewatch/internal/supervisor"
	"klinewatch/pkg/binance"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Evaluator runs the position state machine.
type Evaluator interface {
	Evaluate(ctx context.Context, key model.Key, rsi float64) (signal.Transition, bool)
}

// Dispatcher delivers records to every sink.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec model.Record)
}

// KlineFetcher loads recent klines for window warm-up.
type KlineFetcher interface {
	GetKlines(ctx context.Context, symbol string, interval model.Interval, limit int) ([]binance.Kline, error)
}

type Config struct {
	Pairs   []model.Key
	Backoff supervisor.Backoff
	// Warmup backfills each window from REST before subscribing.
	Warmup bool
	// WarmupConcurrency bounds parallel REST calls.
	WarmupConcurrency int
	WarmupTimeout     time.Duration
	// StatsEvery is the period of the retained close count log; 0 disables it.
	StatsEvery time.Duration
}

type Deps struct {
	Source     supervisor.Source
	Store      *memorystore.WindowStore
	Calculator indicator.Calculator
	Evaluator  Evaluator
	Dispatcher Dispatcher
	Fetcher    KlineFetcher // required when Config.Warmup is set
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type Pipeline struct {
	cfg  Config
	deps Deps
	sem  chan struct{}
	now  func() time.Time
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	if len(cfg.Pairs) == 0 {
		return nil, errors.New("pipeline: no pairs")
	}
	if deps.Source == nil || deps.Store == nil || deps.Evaluator == nil || deps.Dispatcher == nil {
		return nil, errors.New("pipeline: source, store, evaluator and dispatcher are required")
	}
	if cfg.Warmup && deps.Fetcher == nil {
		return nil, errors.New("pipeline: warmup needs a kline fetcher")
	}
	if deps.Store.Capacity() < deps.Calculator.MinLen() {
		return nil, fmt.Errorf("pipeline: window capacity %d below indicator minimum %d",
			deps.Store.Capacity(), deps.Calculator.MinLen())
	}
	if cfg.WarmupConcurrency <= 0 {
		cfg.WarmupConcurrency = 5
	}
	if cfg.WarmupTimeout <= 0 {
		cfg.WarmupTimeout = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		sem:  make(chan struct{}, cfg.WarmupConcurrency),
		now:  time.Now,
	}, nil
}

// Run starts one unit per pair and blocks until all of them stopped.
// Units are independent: one giving up does not stop the others, and its
// error is returned once the rest are done.
func (p *Pipeline) Run(ctx context.Context) error {
	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	if p.cfg.StatsEvery > 0 {
		go p.logStats(statsCtx)
	}

	var g errgroup.Group
	for _, key := range p.cfg.Pairs {
		key := key
		g.Go(func() error {
			return p.runUnit(ctx, key)
		})
	}
	return g.Wait()
}

func (p *Pipeline) runUnit(ctx context.Context, key model.Key) error {
	log := p.deps.Logger.With(zap.String("pair", key.String()))

	if p.cfg.Warmup {
		n, err := p.Warmup(ctx, key)
		if err != nil {
			log.Warn("window warm-up failed", zap.Error(err))
		} else {
			log.Info("window warmed up",
				zap.Int("closes", n),
				zap.Duration("span", time.Duration(n)*key.Interval.Duration()),
			)
		}
	}

	sup := supervisor.New(key, p.deps.Source, func(ctx context.Context, msg []byte) {
		p.Process(ctx, key, msg)
	}, p.cfg.Backoff, p.deps.Logger, p.deps.Metrics)

	if err := sup.Run(ctx); err != nil {
		log.Error("subscription unit stopped", zap.Error(err))
		return err
	}
	return nil
}

// Process handles one raw message of key. It returns the dispatched record,
// or false when the message was skipped or the window is still too short.
func (p *Pipeline) Process(ctx context.Context, key model.Key, raw []byte) (model.Record, bool) {
	candle, err := stream.Parse(key, raw)
	if err != nil {
		if p.deps.Metrics != nil {
			p.deps.Metrics.SkippedMessages.WithLabelValues(stream.Reason(err)).Inc()
		}
		if !errors.Is(err, stream.ErrNotClosed) {
			p.deps.Logger.Debug("message skipped", zap.String("pair", key.String()), zap.Error(err))
		}
		return model.Record{}, false
	}

	p.deps.Store.Append(key, candle.Close)
	if p.deps.Metrics != nil {
		p.deps.Metrics.CandlesTotal.WithLabelValues(key.String()).Inc()
	}

	window := p.deps.Store.Window(key)
	snap, ok := p.deps.Calculator.Compute(window)
	if !ok {
		p.deps.Logger.Debug("window warming up",
			zap.String("pair", key.String()),
			zap.Int("len", len(window)),
			zap.Int("need", p.deps.Calculator.MinLen()),
		)
		return model.Record{}, false
	}

	p.deps.Evaluator.Evaluate(ctx, key, snap.RSI)

	rec := model.NewRecord(candle, snap)
	p.deps.Dispatcher.Dispatch(ctx, rec)
	return rec, true
}

// Warmup appends the closes of recent closed klines to key's window and
// returns how many were added. The still-open kline is left out.
func (p *Pipeline) Warmup(ctx context.Context, key model.Key) (int, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-p.sem }()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.WarmupTimeout)
	defer cancel()

	klines, err := p.deps.Fetcher.GetKlines(ctx, key.Symbol, key.Interval, p.deps.Store.Capacity()+1)
	if err != nil {
		return 0, fmt.Errorf("fetch klines: %w", err)
	}

	nowMs := p.now().UnixMilli()
	n := 0
	for _, k := range klines {
		if k.CloseTime >= nowMs {
			continue
		}
		p.deps.Store.Append(key, k.Close)
		n++
	}
	return min(n, p.deps.Store.Capacity()), nil
}

func (p *Pipeline) logStats(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StatsEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.deps.Logger.Info("current retained closes",
				zap.Int("count", p.deps.Store.CountAll()),
				zap.Int("pairs", len(p.deps.Store.Keys())),
			)
		}
	}
}
