// Package indicator computes RSI, median close and simple moving average
// over a close-price window.
//
// All functions are pure: they never mutate their input and keep no state,
// so they are safe to call from any number of goroutines.
package indicator

import (
	"math"
	"sort"

	"klinewatch/internal/model"
)

// epsilon keeps the RSI ratio finite when there are no losses.
const epsilon = 1e-10

// RSI computes the Relative Strength Index over the whole slice.
//
// Gains and losses are averaged over all successive differences, with the
// opposite side counting as zero. Fewer than 2 closes yields NaN.
func RSI(closes []float64) float64 {
	if len(closes) < 2 {
		return math.NaN()
	}

	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gain += diff
		} else {
			loss -= diff
		}
	}

	n := float64(len(closes) - 1)
	avgGain := gain / n
	avgLoss := loss / n

	return 100 - 100/(1+avgGain/(avgLoss+epsilon))
}

// Median returns the median of closes, or NaN when closes is empty.
func Median(closes []float64) float64 {
	n := len(closes)
	if n == 0 {
		return math.NaN()
	}

	sorted := make([]float64, n)
	copy(sorted, closes)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// SMA returns the mean of the trailing period closes.
// period must be in [1, len(closes)]; anything else yields NaN.
func SMA(closes []float64, period int) float64 {
	if period <= 0 || period > len(closes) {
		return math.NaN()
	}

	var sum float64
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}

// Calculator gates and bundles the indicators for one window.
type Calculator struct {
	RSIPeriod int
	MAPeriod  int
}

// MinLen is the shortest window Compute accepts.
func (c Calculator) MinLen() int {
	n := 2
	if c.RSIPeriod > n {
		n = c.RSIPeriod
	}
	if c.MAPeriod > n {
		n = c.MAPeriod
	}
	return n
}

// Compute returns the snapshot for closes, or false when the window is
// still shorter than MinLen.
func (c Calculator) Compute(closes []float64) (model.Snapshot, bool) {
	if len(closes) < c.MinLen() {
		return model.Snapshot{}, false
	}

	maPeriod := c.MAPeriod
	if maPeriod <= 0 {
		maPeriod = c.RSIPeriod
	}

	return model.Snapshot{
		RSI:           RSI(closes),
		MedianClose:   Median(closes),
		MovingAverage: SMA(closes, maPeriod),
	}, true
}
