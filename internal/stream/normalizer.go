// Package stream turns raw exchange messages into closed candles.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"klinewatch/internal/model"
)

// ErrSkipped is wrapped by every reason a message is not turned into a candle.
// Skipping is the steady-state outcome for open candles and noise, not a failure.
var ErrSkipped = errors.New("message skipped")

var (
	ErrEmpty        = fmt.Errorf("%w: empty message", ErrSkipped)
	ErrMalformed    = fmt.Errorf("%w: malformed payload", ErrSkipped)
	ErrNoKline      = fmt.Errorf("%w: missing kline object", ErrSkipped)
	ErrMissingField = fmt.Errorf("%w: missing kline field", ErrSkipped)
	ErrNotClosed    = fmt.Errorf("%w: kline not closed", ErrSkipped)
)

// Parse decodes a raw kline message for key into a closed Candle.
// Every failure is reported as one of the skip sentinels above.
func Parse(key model.Key, raw []byte) (model.Candle, error) {
	if len(raw) == 0 {
		return model.Candle{}, ErrEmpty
	}

	var msg KlineMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.Candle{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	k := msg.Kline
	if k == nil {
		return model.Candle{}, ErrNoKline
	}
	if k.Closed == nil || k.CloseTime == nil ||
		k.Open == nil || k.High == nil || k.Low == nil || k.Close == nil {
		return model.Candle{}, ErrMissingField
	}
	if !*k.Closed {
		return model.Candle{}, ErrNotClosed
	}

	var prices [4]float64
	for i, s := range [4]*string{k.Open, k.High, k.Low, k.Close} {
		v, err := strconv.ParseFloat(*s, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("%w: price %q: %v", ErrMalformed, *s, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Candle{}, fmt.Errorf("%w: non-finite price %q", ErrMalformed, *s)
		}
		prices[i] = v
	}

	return model.Candle{
		Symbol:    key.Symbol,
		Interval:  key.Interval,
		EventTime: *k.CloseTime,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Closed:    true,
	}, nil
}

// Reason maps a skip error to a short label for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrNoKline):
		return "no_kline"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrNotClosed):
		return "not_closed"
	default:
		return "unknown"
	}
}
