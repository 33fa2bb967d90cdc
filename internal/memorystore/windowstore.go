package memorystore

import (
	"sync"

	"klinewatch/internal/model"
)

// WindowStore keeps a bounded close-price window and a position flag per
// subscription key.
type WindowStore struct {
	capacity int

	globalMu sync.RWMutex
	data     map[model.Key]*symbolWindow
}

type symbolWindow struct {
	mu         sync.Mutex
	closes     []float64
	inPosition bool
}

// NewWindowStore creates a store retaining at most capacity closes per key.
// A capacity below 1 is treated as 1.
func NewWindowStore(capacity int) *WindowStore {
	if capacity < 1 {
		capacity = 1
	}
	return &WindowStore{
		capacity: capacity,
		data:     make(map[model.Key]*symbolWindow),
	}
}

// Capacity returns the maximum number of closes kept per key.
func (s *WindowStore) Capacity() int {
	return s.capacity
}

func (s *WindowStore) slot(key model.Key) *symbolWindow {
	// Fast path: shared lock while the key already exists
	s.globalMu.RLock()
	w, ok := s.data[key]
	s.globalMu.RUnlock()
	if ok {
		return w
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if w, ok = s.data[key]; !ok {
		w = &symbolWindow{closes: make([]float64, 0, s.capacity+1)}
		s.data[key] = w
	}
	return w
}

// Append adds a close to the key's window, evicting the oldest value once
// the window exceeds capacity.
func (s *WindowStore) Append(key model.Key, close float64) {
	w := s.slot(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.closes = append(w.closes, close)
	if over := len(w.closes) - s.capacity; over > 0 {
		// shift in place so the backing array never grows past capacity+1
		n := copy(w.closes, w.closes[over:])
		w.closes = w.closes[:n]
	}
}

// Window returns a copy of the key's closes, oldest first.
func (s *WindowStore) Window(key model.Key) []float64 {
	s.globalMu.RLock()
	w, ok := s.data[key]
	s.globalMu.RUnlock()
	if !ok {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cp := make([]float64, len(w.closes))
	copy(cp, w.closes)
	return cp
}

// Len returns the number of closes held for key.
func (s *WindowStore) Len(key model.Key) int {
	s.globalMu.RLock()
	w, ok := s.data[key]
	s.globalMu.RUnlock()
	if !ok {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.closes)
}

// Position reports whether key is currently in a position.
func (s *WindowStore) Position(key model.Key) bool {
	s.globalMu.RLock()
	w, ok := s.data[key]
	s.globalMu.RUnlock()
	if !ok {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inPosition
}

// SetPosition sets the position flag for key.
func (s *WindowStore) SetPosition(key model.Key, inPosition bool) {
	w := s.slot(key)

	w.mu.Lock()
	w.inPosition = inPosition
	w.mu.Unlock()
}

// Keys returns every key the store has seen.
func (s *WindowStore) Keys() []model.Key {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	keys := make([]model.Key, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// CountAll returns the total number of closes retained across all keys.
func (s *WindowStore) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, w := range s.data {
		w.mu.Lock()
		total += len(w.closes)
		w.mu.Unlock()
	}
	return total
}
