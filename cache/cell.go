package cache

import (
	"sync"
	"sync/atomic"
)

// WatchFunc is called after a cell's value changes.
type WatchFunc func(old, new any)

// Cell is the result container of a cached query. The engine writes it on
// refresh; readers either poll Get or Watch for writes. Its lifetime is the
// lifetime of the cache entry holding it.
type Cell struct {
	mu       sync.Mutex
	value    any
	version  uint64
	watchers map[uint64]WatchFunc
	nextID   atomic.Uint64
}

// NewCell creates a cell holding v.
func NewCell(v any) *Cell {
	return &Cell{value: v}
}

// Get returns the current value.
func (c *Cell) Get() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Version counts the writes made to the cell.
func (c *Cell) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Set stores v and notifies watchers synchronously.
func (c *Cell) Set(v any) {
	c.mu.Lock()
	old := c.value
	c.value = v
	c.version++
	watchers := make([]WatchFunc, 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w)
	}
	c.mu.Unlock()

	for _, w := range watchers {
		w(old, v)
	}
}

// Watch registers fn and returns a function removing it.
func (c *Cell) Watch(fn WatchFunc) (stop func()) {
	id := c.nextID.Add(1)
	c.mu.Lock()
	if c.watchers == nil {
		c.watchers = map[uint64]WatchFunc{}
	}
	c.watchers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}
