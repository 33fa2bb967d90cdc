// Package memorystore holds the in-memory per-symbol state of the pipeline.
//
// Each (symbol, interval) key has its own lock. Under normal operation a
// single subscription unit writes a key, so the lock is uncontended; it only
// matters when duplicate subscriptions feed the same key.
package memorystore
