package model

import (
	"fmt"
	"time"
)

// Interval is the kline interval as Binance spells it in stream names.
type Interval string

// IntervalMeta holds the stream value and bar length of an Interval.
type IntervalMeta struct {
	StreamValue string
	Minutes     int
}

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
)

var validIntervals = map[Interval]IntervalMeta{
	Interval1m:  {StreamValue: "1m", Minutes: 1},
	Interval5m:  {StreamValue: "5m", Minutes: 5},
	Interval15m: {StreamValue: "15m", Minutes: 15},
	Interval30m: {StreamValue: "30m", Minutes: 30},
	Interval1h:  {StreamValue: "1h", Minutes: 60},
}

// IsValid checks if the Interval is one of the supported intervals.
func (i Interval) IsValid() bool {
	_, ok := validIntervals[i]
	return ok
}

// StreamValue returns the interval as the exchange spells it in stream
// names and REST queries, or "" for an unsupported interval.
func (i Interval) StreamValue() string {
	return validIntervals[i].StreamValue
}

// Duration returns the bar length, or 0 for an unsupported interval.
func (i Interval) Duration() time.Duration {
	return time.Duration(validIntervals[i].Minutes) * time.Minute
}

// ParseInterval parses a string into a supported Interval.
func ParseInterval(s string) (Interval, error) {
	interval := Interval(s)
	if !interval.IsValid() {
		return "", fmt.Errorf("invalid kline interval: %q", s)
	}
	return interval, nil
}
