// Package seencache implements a bounded, insertion-ordered set of recently
// seen event ids. It is the node-wide dedup window: within the last N
// distinct events the same id cannot be processed twice.
package seencache

import (
	"sync"

	"github.com/notemesh/notemesh/core"
)

const _defaultCapacity = 100000

// Cache is a fixed-capacity FIFO set of event ids. Overflow evicts the
// oldest inserted id. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	present  map[core.EventID]struct{}
	ring     []core.EventID
	head     int
	size     int
}

// New creates a new Cache. Non-positive capacity falls back to the default.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = _defaultCapacity
	}
	return &Cache{
		capacity: capacity,
		present:  make(map[core.EventID]struct{}, capacity),
		ring:     make([]core.EventID, capacity),
	}
}

// MarkSeen inserts id, evicting the oldest entry if at capacity. Returns
// true if id was not previously present, i.e. this is the first sighting.
func (c *Cache) MarkSeen(id core.EventID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.present[id]; ok {
		return false
	}
	if c.size == c.capacity {
		oldest := c.ring[c.head]
		delete(c.present, oldest)
		c.head = (c.head + 1) % c.capacity
		c.size--
	}
	tail := (c.head + c.size) % c.capacity
	c.ring[tail] = id
	c.present[id] = struct{}{}
	c.size++
	return true
}

// HasSeen returns whether id is within the dedup window.
func (c *Cache) HasSeen(id core.EventID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.present[id]
	return ok
}

// Len returns the number of ids currently remembered.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}
