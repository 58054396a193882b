// Package buffer provides a fixed-capacity ring of recent write events.
// The service pushes every accepted bar into the ring so operators can
// inspect the most recent writes without scanning chunks.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantarchive/bardb/internal/storage/types"
)

// WriteEvent records one accepted bar write.
type WriteEvent struct {
	Series     types.SeriesID
	Bar        types.Bar
	ReceivedAt time.Time
}

// Ring is a thread-safe circular log of write events. New events overwrite
// the oldest once the ring is full; it is a tail log, not a queue.
type Ring struct {
	mu       sync.RWMutex
	data     []WriteEvent
	head     int64 // next write position
	count    int64
	capacity int64

	pushCount      atomic.Int64
	overwriteCount atomic.Int64
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Ring{
		data:     make([]WriteEvent, capacity),
		capacity: int64(capacity),
	}
}

// Push records an event, overwriting the oldest if the ring is full.
func (r *Ring) Push(ev WriteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count >= r.capacity {
		r.overwriteCount.Add(1)
	} else {
		r.count++
	}

	r.data[r.head%r.capacity] = ev
	r.head++
	r.pushCount.Add(1)
}

// Recent returns up to n events, newest first.
func (r *Ring) Recent(n int) []WriteEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 || n <= 0 {
		return nil
	}

	count := int64(n)
	if count > r.count {
		count = r.count
	}

	result := make([]WriteEvent, count)
	for i := int64(0); i < count; i++ {
		idx := (r.head - 1 - i) % r.capacity
		if idx < 0 {
			idx += r.capacity
		}
		result[i] = r.data[idx]
	}
	return result
}

// Newest returns the most recent event without removing it.
// Returns false if the ring is empty.
func (r *Ring) Newest() (WriteEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return WriteEvent{}, false
	}

	idx := (r.head - 1) % r.capacity
	if idx < 0 {
		idx += r.capacity
	}
	return r.data[idx], true
}

// Len returns the current number of events in the ring.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.count)
}

// Cap returns the capacity of the ring.
func (r *Ring) Cap() int {
	return int(r.capacity)
}

// Clear removes all events from the ring.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.data {
		r.data[i] = WriteEvent{}
	}
	r.head = 0
	r.count = 0
}

// Stats holds cumulative push counters.
type Stats struct {
	Pushes     int64
	Overwrites int64
}

// Stats returns cumulative counters for the ring.
func (r *Ring) Stats() Stats {
	return Stats{
		Pushes:     r.pushCount.Load(),
		Overwrites: r.overwriteCount.Load(),
	}
}
