// Package peertracker tracks which event ids have already been forwarded to
// each peer. Buckets are bounded; after an id is evicted the worst case is
// one extra duplicate send, which the receiver's own dedup window drops.
package peertracker

import (
	"sync"

	"github.com/notemesh/notemesh/core"
)

const _defaultCapacityPerPeer = 10000

// Tracker maintains one bounded FIFO id set per peer. Operations on
// different peers are independent.
type Tracker struct {
	mu       sync.RWMutex
	capacity int
	buckets  map[core.PeerID]*bucket
}

type bucket struct {
	mu      sync.Mutex
	present map[core.EventID]struct{}
	ring    []core.EventID
	head    int
	size    int
}

// New creates a new Tracker with the given per-peer capacity. Non-positive
// capacity falls back to the default.
func New(capacityPerPeer int) *Tracker {
	if capacityPerPeer <= 0 {
		capacityPerPeer = _defaultCapacityPerPeer
	}
	return &Tracker{
		capacity: capacityPerPeer,
		buckets:  make(map[core.PeerID]*bucket),
	}
}

// MarkSent records that id was sent (or at least attempted) to peer.
func (t *Tracker) MarkSent(peer core.PeerID, id core.EventID) {
	b := t.getOrCreateBucket(peer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.present[id]; ok {
		return
	}
	if b.size == cap(b.ring) {
		oldest := b.ring[b.head]
		delete(b.present, oldest)
		b.head = (b.head + 1) % cap(b.ring)
		b.size--
	}
	tail := (b.head + b.size) % cap(b.ring)
	b.ring[tail] = id
	b.present[id] = struct{}{}
	b.size++
}

// HasSent returns whether id was sent to peer within the bucket's window.
// False does not rule out delivery beyond the eviction horizon.
func (t *Tracker) HasSent(peer core.PeerID, id core.EventID) bool {
	t.mu.RLock()
	b, ok := t.buckets[peer]
	t.mu.RUnlock()
	if !ok {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok = b.present[id]
	return ok
}

// ClearPeer drops all tracked ids for peer.
func (t *Tracker) ClearPeer(peer core.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.buckets, peer)
}

// NumPeers returns the number of peers with tracked ids.
func (t *Tracker) NumPeers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.buckets)
}

func (t *Tracker) getOrCreateBucket(peer core.PeerID) *bucket {
	t.mu.RLock()
	b, ok := t.buckets[peer]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok = t.buckets[peer]
	if !ok {
		b = &bucket{
			present: make(map[core.EventID]struct{}),
			ring:    make([]core.EventID, t.capacity),
		}
		t.buckets[peer] = b
	}
	return b
}
