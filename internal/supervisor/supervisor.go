// Package supervisor keeps one exchange subscription alive, reconnecting
// with a fixed backoff whenever it fails or the peer goes away.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klinewatch/internal/metrics"
	"klinewatch/internal/model"

	"go.uber.org/zap"
)

// ErrMaxAttempts ends Run once Backoff.MaxAttempts consecutive connects failed.
var ErrMaxAttempts = errors.New("max connect attempts reached")

// State is the connection state of one subscription unit.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Stream is an open subscription yielding raw messages.
type Stream interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Source opens a Stream for a key.
type Source interface {
	Subscribe(ctx context.Context, key model.Key) (Stream, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, key model.Key) (Stream, error)

func (f SourceFunc) Subscribe(ctx context.Context, key model.Key) (Stream, error) {
	return f(ctx, key)
}

// Handler processes one raw message. It runs on the read loop, so a slow
// handler slows reading instead of dropping messages.
type Handler func(ctx context.Context, msg []byte)

// Backoff is the reconnect policy.
type Backoff struct {
	Interval time.Duration
	// MaxAttempts bounds consecutive failed connects; 0 retries forever.
	MaxAttempts int
}

// Supervisor runs the connect/read/reconnect loop of one key.
type Supervisor struct {
	key     model.Key
	source  Source
	handler Handler
	backoff Backoff
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Wait sleeps between attempts; tests swap it out.
	Wait func(ctx context.Context, d time.Duration) error
	// OnState observes every state change.
	OnState func(State)

	state State
}

// New creates a Supervisor for key.
func New(key model.Key, source Source, handler Handler, backoff Backoff, logger *zap.Logger, m *metrics.Metrics) *Supervisor {
	if backoff.Interval <= 0 {
		backoff.Interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		key:     key,
		source:  source,
		handler: handler,
		backoff: backoff,
		logger:  logger.With(zap.String("pair", key.String())),
		metrics: m,
		Wait:    sleep,
		state:   Disconnected,
	}
}

// State returns the last state entered. Only meaningful from the goroutine
// running Run or after it returned.
func (s *Supervisor) State() State {
	return s.state
}

// Run loops until ctx is cancelled, returning nil, or until MaxAttempts
// consecutive connects failed.
func (s *Supervisor) Run(ctx context.Context) error {
	failures := 0

	for {
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return nil
		}

		s.setState(Connecting)
		stream, err := s.source.Subscribe(ctx, s.key)
		if err != nil {
			s.setState(Disconnected)
			if ctx.Err() != nil {
				return nil
			}
			failures++
			s.logger.Warn("connect failed", zap.Int("attempt", failures), zap.Error(err))
			if s.backoff.MaxAttempts > 0 && failures >= s.backoff.MaxAttempts {
				return fmt.Errorf("%s: %w (%d): %v", s.key, ErrMaxAttempts, failures, err)
			}
		} else {
			failures = 0
			s.setState(Connected)
			err = s.read(ctx, stream)
			s.setState(Disconnected)
			if ctx.Err() != nil {
				s.logger.Info("subscription stopped")
				return nil
			}
			s.logger.Warn("connection lost", zap.Error(err))
		}

		if s.metrics != nil {
			s.metrics.Reconnects.WithLabelValues(s.key.String()).Inc()
		}
		s.logger.Info("reconnecting after backoff", zap.Duration("backoff", s.backoff.Interval))
		if err := s.Wait(ctx, s.backoff.Interval); err != nil {
			return nil
		}
	}
}

// read pumps messages into the handler until the stream fails. The stream is
// always closed on return; cancellation closes it to unblock ReadMessage.
func (s *Supervisor) read(ctx context.Context, stream Stream) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-done:
		}
	}()
	defer stream.Close()

	for {
		msg, err := stream.ReadMessage()
		if err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.MessagesTotal.WithLabelValues(s.key.String()).Inc()
		}
		s.handler(ctx, msg)
	}
}

func (s *Supervisor) setState(st State) {
	s.state = st
	if s.metrics != nil {
		s.metrics.ConnectionState.WithLabelValues(s.key.String()).Set(float64(st))
	}
	if s.OnState != nil {
		s.OnState(st)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
