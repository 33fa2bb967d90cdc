// Package model holds the value types that flow through the kline pipeline.
package model

import (
	"fmt"
	"strings"
)

// Key identifies one subscription: a trading symbol on one interval.
type Key struct {
	Symbol   string   `json:"symbol" mapstructure:"symbol"`
	Interval Interval `json:"interval" mapstructure:"interval"`
}

func (k Key) String() string {
	return k.Symbol + "@" + string(k.Interval)
}

// ParseKey parses "BTCUSDT@1m" into a Key.
func ParseKey(s string) (Key, error) {
	symbol, iv, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok || symbol == "" {
		return Key{}, fmt.Errorf("invalid pair %q: want SYMBOL@interval", s)
	}
	interval, err := ParseInterval(iv)
	if err != nil {
		return Key{}, err
	}
	return Key{Symbol: strings.ToUpper(symbol), Interval: interval}, nil
}

// Candle is a single closed kline produced by the stream normalizer.
type Candle struct {
	Symbol    string
	Interval  Interval
	EventTime int64 // kline close time in milliseconds since epoch
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Closed    bool
}

// Key returns the subscription key the candle belongs to.
func (c Candle) Key() Key {
	return Key{Symbol: c.Symbol, Interval: c.Interval}
}

// Snapshot is the indicator output computed over one window.
type Snapshot struct {
	RSI           float64
	MedianClose   float64
	MovingAverage float64
}

// Record is the unit handed to storage and live sinks.
type Record struct {
	Symbol        string   `json:"symbol"`
	Interval      Interval `json:"interval"`
	EventTime     int64    `json:"event_time"`
	Open          float64  `json:"open"`
	High          float64  `json:"high"`
	Low           float64  `json:"low"`
	Close         float64  `json:"close"`
	RSI           float64  `json:"rsi"`
	MedianClose   float64  `json:"median_close"`
	MovingAverage float64  `json:"moving_average"`
}

// NewRecord joins a candle with the indicators computed for it.
func NewRecord(c Candle, s Snapshot) Record {
	return Record{
		Symbol:        c.Symbol,
		Interval:      c.Interval,
		EventTime:     c.EventTime,
		Open:          c.Open,
		High:          c.High,
		Low:           c.Low,
		Close:         c.Close,
		RSI:           s.RSI,
		MedianClose:   s.MedianClose,
		MovingAverage: s.MovingAverage,
	}
}

// Key returns the subscription key the record belongs to.
func (r Record) Key() Key {
	return Key{Symbol: r.Symbol, Interval: r.Interval}
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)
