// Package signal runs the RSI threshold position state machine.
package signal

import (
	"context"
	"math"
	"time"

	"klinewatch/internal/metrics"
	"klinewatch/internal/model"

	"go.uber.org/zap"
)

// State is the position state of one key.
type State int

const (
	Flat State = iota
	InPosition
)

func (s State) String() string {
	switch s {
	case Flat:
		return "FLAT"
	case InPosition:
		return "IN_POSITION"
	default:
		return "UNKNOWN"
	}
}

// PositionStore persists the position flag per key.
type PositionStore interface {
	Position(key model.Key) bool
	SetPosition(key model.Key, inPosition bool)
}

// Executor places an order when the state machine transitions.
type Executor interface {
	Place(ctx context.Context, side model.Side, quantity float64, symbol string) error
}

// Transition describes one state change.
type Transition struct {
	Key  model.Key
	From State
	To   State
	Side model.Side
	RSI  float64
	// OrderErr is the error returned by the executor, if any.
	OrderErr error
}

// Config holds the thresholds and order size of the evaluator.
type Config struct {
	Oversold   float64
	Overbought float64
	Quantity   float64
	// RequireFill keeps the position unchanged when the order fails.
	// The default (false) flips the flag regardless of the order outcome.
	RequireFill  bool
	OrderTimeout time.Duration
}

// Evaluator applies Config to each RSI value of a key.
type Evaluator struct {
	cfg      Config
	store    PositionStore
	executor Executor
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEvaluator creates an Evaluator. executor may be nil, in which case
// transitions only change state.
func NewEvaluator(cfg Config, store PositionStore, executor Executor, logger *zap.Logger, m *metrics.Metrics) *Evaluator {
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		cfg:      cfg,
		store:    store,
		executor: executor,
		logger:   logger,
		metrics:  m,
	}
}

// State returns the current state of key.
func (e *Evaluator) State(key model.Key) State {
	if e.store.Position(key) {
		return InPosition
	}
	return Flat
}

// Evaluate runs one closed-candle RSI value through the state machine and
// reports the transition, if any.
func (e *Evaluator) Evaluate(ctx context.Context, key model.Key, rsi float64) (Transition, bool) {
	if math.IsNaN(rsi) {
		return Transition{}, false
	}

	from := e.State(key)
	var t Transition
	switch {
	case from == Flat && rsi < e.cfg.Oversold:
		t = Transition{Key: key, From: Flat, To: InPosition, Side: model.SideBuy, RSI: rsi}
	case from == InPosition && rsi > e.cfg.Overbought:
		t = Transition{Key: key, From: InPosition, To: Flat, Side: model.SideSell, RSI: rsi}
	default:
		return Transition{}, false
	}

	log := e.logger.With(
		zap.String("pair", key.String()),
		zap.String("side", string(t.Side)),
		zap.Float64("rsi", rsi),
	)

	t.OrderErr = e.place(ctx, key, t.Side)
	if t.OrderErr != nil {
		log.Warn("order placement failed", zap.Error(t.OrderErr))
		if e.metrics != nil {
			e.metrics.OrderFailures.WithLabelValues(key.String()).Inc()
		}
		if e.cfg.RequireFill {
			log.Info("position unchanged, fill required")
			return Transition{}, false
		}
	}

	e.store.SetPosition(key, t.To == InPosition)
	if e.metrics != nil {
		e.metrics.SignalsTotal.WithLabelValues(key.String(), string(t.Side)).Inc()
	}
	log.Info("position changed", zap.Stringer("from", t.From), zap.Stringer("to", t.To))

	return t, true
}

func (e *Evaluator) place(ctx context.Context, key model.Key, side model.Side) error {
	if e.executor == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	return e.executor.Place(ctx, side, e.cfg.Quantity, key.Symbol)
}
