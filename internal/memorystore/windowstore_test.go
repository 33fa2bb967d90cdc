package memorystore

import (
	"sync"
	"testing"

	"klinewatch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc1m = model.Key{Symbol: "BTCUSDT", Interval: model.Interval1m}

// go test -v --run TestAppendEvictsOldest
func TestAppendEvictsOldest(t *testing.T) {
	const capacity = 5
	store := NewWindowStore(capacity)

	for i := 1; i <= capacity+1; i++ {
		store.Append(btc1m, float64(i))
	}

	window := store.Window(btc1m)
	require.Len(t, window, capacity)
	assert.Equal(t, []float64{2, 3, 4, 5, 6}, window)
}

// go test -v --run TestWindowIsCopy
func TestWindowIsCopy(t *testing.T) {
	store := NewWindowStore(3)
	store.Append(btc1m, 1)
	store.Append(btc1m, 2)

	window := store.Window(btc1m)
	window[0] = 99

	assert.Equal(t, []float64{1, 2}, store.Window(btc1m))
}

// go test -v --run TestKeysArePartitioned
func TestKeysArePartitioned(t *testing.T) {
	store := NewWindowStore(3)
	eth5m := model.Key{Symbol: "ETHUSDT", Interval: model.Interval5m}

	store.Append(btc1m, 1)
	store.Append(eth5m, 2)
	store.Append(eth5m, 3)
	store.SetPosition(eth5m, true)

	assert.Equal(t, 1, store.Len(btc1m))
	assert.Equal(t, 2, store.Len(eth5m))
	assert.False(t, store.Position(btc1m))
	assert.True(t, store.Position(eth5m))
	assert.Equal(t, 3, store.CountAll())
	assert.ElementsMatch(t, []model.Key{btc1m, eth5m}, store.Keys())
}

// go test -v --run TestUnknownKey
func TestUnknownKey(t *testing.T) {
	store := NewWindowStore(3)
	assert.Nil(t, store.Window(btc1m))
	assert.Zero(t, store.Len(btc1m))
	assert.False(t, store.Position(btc1m))
}

// go test -race -v --run TestConcurrentProducersSameKey
func TestConcurrentProducersSameKey(t *testing.T) {
	store := NewWindowStore(10)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				store.Append(btc1m, float64(i))
				_ = store.Window(btc1m)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, store.Len(btc1m))
}
