// Package csvfile appends records to one CSV file per symbol and interval.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"klinewatch/internal/model"
)

// Header is the first row of every file.
var Header = []string{
	"Symbol", "Event Time", "Open", "High", "Low", "Close",
	"RSI", "Median Close", "Moving Average",
}

// Writer appends one row per record. Each key is guarded by its own lock
// so units never interleave rows within a file.
type Writer struct {
	dir string

	mu    sync.Mutex
	locks map[model.Key]*sync.Mutex
}

// NewWriter creates dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create csv directory: %w", err)
	}
	return &Writer{dir: dir, locks: make(map[model.Key]*sync.Mutex)}, nil
}

func (w *Writer) Name() string { return "csv" }

// Path returns the file that holds key's rows.
func (w *Writer) Path(key model.Key) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.csv", key.Symbol, key.Interval))
}

func (w *Writer) lock(key model.Key) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[key]
	if !ok {
		l = &sync.Mutex{}
		w.locks[key] = l
	}
	return l
}

// Write appends rec, writing the header first when the file is empty.
func (w *Writer) Write(ctx context.Context, rec model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := rec.Key()
	l := w.lock(key)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(w.Path(key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat csv: %w", err)
	}

	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(Header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	if err := cw.Write(row(rec)); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return f.Sync()
}

func row(r model.Record) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		r.Symbol,
		strconv.FormatInt(r.EventTime, 10),
		f(r.Open),
		f(r.High),
		f(r.Low),
		f(r.Close),
		f(r.RSI),
		f(r.MedianClose),
		f(r.MovingAverage),
	}
}
