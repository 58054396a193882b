// Package partition maps timestamps to the chunks that own them.
//
// Chunk boundaries are deterministic: a chunk's start is the timestamp
// floored to the series' chunk span, anchored to a fixed epoch, so the
// same timestamp always lands in the same chunk across restarts and
// regardless of write order.
package partition

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quantarchive/bardb/internal/storage/chunk"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// Epoch anchors chunk boundaries. Chosen so that common spans (7d, 30d,
// 90d) produce boundaries on calendar-friendly instants.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FloorToSpan floors ts to the start of its span-wide bucket relative to
// Epoch. Timestamps before Epoch floor downward (Euclidean), never toward
// zero, so bucketing stays consistent across the anchor.
func FloorToSpan(ts time.Time, span time.Duration) time.Time {
	d := ts.Sub(Epoch)
	r := d % span
	if r < 0 {
		r += span
	}
	return Epoch.Add(d - r)
}

// Index owns the ordered chunk collection of one series.
//
// Index is safe for concurrent use. Chunk creation is idempotent under
// concurrent resolution of the same span: exactly one chunk object exists
// per (series, start) pair.
type Index struct {
	series types.SeriesID

	mu     sync.RWMutex
	span   time.Duration
	chunks map[int64]*chunk.Chunk // keyed by start Unix ms
	starts []int64                // sorted ascending

	creating singleflight.Group
}

// New creates an empty index for the series with the given chunk span.
func New(series types.SeriesID, span time.Duration) *Index {
	if span <= 0 {
		span = series.Resolution.DefaultChunkSpan()
	}
	return &Index{
		series: series,
		span:   span,
		chunks: make(map[int64]*chunk.Chunk),
	}
}

// Series returns the series this index belongs to.
func (ix *Index) Series() types.SeriesID { return ix.series }

// Span returns the current chunk span.
func (ix *Index) Span() time.Duration {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.span
}

// SetSpan updates the chunk span. Existing chunks keep their boundaries;
// only chunks created afterwards use the new span.
func (ix *Index) SetSpan(span time.Duration) {
	if span <= 0 {
		return
	}
	ix.mu.Lock()
	ix.span = span
	ix.mu.Unlock()
}

// Resolve returns the chunk owning ts, creating it if absent. Ownership is
// decided by the existing chunk bounds, not by re-flooring ts: chunks created
// before a SetSpan keep receiving the timestamps they cover. A new chunk gets
// the span-floored window clamped against its neighbors, so a span change
// never produces overlapping chunks.
func (ix *Index) Resolve(ts time.Time) *chunk.Chunk {
	ix.mu.RLock()
	c := ix.findLocked(ts)
	span := ix.span
	ix.mu.RUnlock()
	if c != nil {
		return c
	}

	// Create-if-absent, deduplicated so concurrent first-writes into the
	// same span share one chunk object.
	key := strconv.FormatInt(FloorToSpan(ts, span).UnixMilli(), 10)
	v, _, _ := ix.creating.Do(key, func() (any, error) {
		ix.mu.Lock()
		defer ix.mu.Unlock()

		if c := ix.findLocked(ts); c != nil {
			return c, nil
		}

		start, end := ix.clampLocked(FloorToSpan(ts, ix.span), ts)
		c := chunk.NewMutable(ix.series, start, end)
		ix.insertLocked(c)
		return c, nil
	})
	return v.(*chunk.Chunk)
}

// findLocked returns the chunk containing ts, or nil. Callers hold ix.mu.
func (ix *Index) findLocked(ts time.Time) *chunk.Chunk {
	tsMs := ts.UnixMilli()
	i := sort.Search(len(ix.starts), func(i int) bool { return ix.starts[i] > tsMs })
	if i == 0 {
		return nil
	}
	if c := ix.chunks[ix.starts[i-1]]; c.Contains(ts) {
		return c
	}
	return nil
}

// clampLocked bounds a new chunk's [start, start+span) window against its
// neighbors. No existing chunk contains ts, so the clamped window still does:
// the predecessor ends at or before ts and the successor starts after it.
// Callers hold ix.mu.
func (ix *Index) clampLocked(start, ts time.Time) (time.Time, time.Time) {
	end := start.Add(ix.span)

	tsMs := ts.UnixMilli()
	i := sort.Search(len(ix.starts), func(i int) bool { return ix.starts[i] > tsMs })
	if i > 0 {
		if prevEnd := ix.chunks[ix.starts[i-1]].End(); prevEnd.After(start) {
			start = prevEnd
		}
	}
	if i < len(ix.starts) {
		if nextStart := ix.chunks[ix.starts[i]].Start(); nextStart.Before(end) {
			end = nextStart
		}
	}
	return start, end
}

// Register inserts an existing chunk, typically one recovered from disk at
// startup. Fails if a chunk with the same start exists or the span overlaps
// a neighbor.
func (ix *Index) Register(c *chunk.Chunk) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	startMs := c.Start().UnixMilli()
	if _, ok := ix.chunks[startMs]; ok {
		return fmt.Errorf("chunk already registered at %s", c.Start())
	}

	i := sort.Search(len(ix.starts), func(i int) bool { return ix.starts[i] >= startMs })
	if i > 0 {
		prev := ix.chunks[ix.starts[i-1]]
		if prev.End().After(c.Start()) {
			return fmt.Errorf("chunk at %s overlaps predecessor", c.Start())
		}
	}
	if i < len(ix.starts) {
		next := ix.chunks[ix.starts[i]]
		if c.End().After(next.Start()) {
			return fmt.Errorf("chunk at %s overlaps successor", c.Start())
		}
	}

	ix.insertLocked(c)
	return nil
}

// insertLocked adds a chunk to the map and the sorted start list.
func (ix *Index) insertLocked(c *chunk.Chunk) {
	startMs := c.Start().UnixMilli()
	ix.chunks[startMs] = c

	i := sort.Search(len(ix.starts), func(i int) bool { return ix.starts[i] >= startMs })
	ix.starts = append(ix.starts, 0)
	copy(ix.starts[i+1:], ix.starts[i:])
	ix.starts[i] = startMs
}

// Get returns the chunk with the given start, or nil.
func (ix *Index) Get(start time.Time) *chunk.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.chunks[start.UnixMilli()]
}

// Range returns the chunks overlapping [from, to), oldest first, found by a
// bounded scan over the sorted starts rather than a full sweep.
func (ix *Index) Range(from, to time.Time) []*chunk.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	// Chunks are non-overlapping, so their ends are ascending too; binary
	// search for the first chunk that ends after from.
	i := sort.Search(len(ix.starts), func(i int) bool {
		return ix.chunks[ix.starts[i]].End().After(from)
	})

	var out []*chunk.Chunk
	toMs := to.UnixMilli()
	for ; i < len(ix.starts); i++ {
		if ix.starts[i] >= toMs {
			break
		}
		out = append(out, ix.chunks[ix.starts[i]])
	}
	return out
}

// Chunks returns all chunks, oldest first.
func (ix *Index) Chunks() []*chunk.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]*chunk.Chunk, 0, len(ix.starts))
	for _, start := range ix.starts {
		out = append(out, ix.chunks[start])
	}
	return out
}

// Len returns the number of chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Remove deletes the chunk with the given start from the index.
// Returns false if no such chunk exists.
func (ix *Index) Remove(start time.Time) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	startMs := start.UnixMilli()
	if _, ok := ix.chunks[startMs]; !ok {
		return false
	}
	delete(ix.chunks, startMs)

	i := sort.Search(len(ix.starts), func(i int) bool { return ix.starts[i] >= startMs })
	ix.starts = append(ix.starts[:i], ix.starts[i+1:]...)
	return true
}
