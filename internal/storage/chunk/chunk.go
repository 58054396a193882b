// Package chunk implements the time-bounded storage unit of a series.
//
// A chunk owns every bar whose timestamp falls in [start, end) and is in
// exactly one of two representations:
//
//   - Mutable: row-oriented, keyed by (symbol, timestamp), open for upserts.
//   - Compressed: columnar, read-only, segmented by symbol with timestamps
//     descending inside each segment, backed by a Parquet file.
//
// The transition is one-way. Each chunk is its own consistency boundary:
// all synchronization is chunk-local, there is no store-wide lock.
package chunk

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// State is the chunk representation tag.
type State int

const (
	// StateMutable accepts upserts.
	StateMutable State = iota
	// StateCompressed is read-only columnar.
	StateCompressed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateMutable:
		return "mutable"
	case StateCompressed:
		return "compressed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// WriteFunc persists the compressed form of a chunk and returns the path of
// the file it wrote. Supplied by the caller so this package stays free of
// the on-disk format.
type WriteFunc func(bars []types.Bar) (string, error)

// LoadFunc reads the bars of a compressed chunk back from its file.
type LoadFunc func(path string) ([]types.Bar, error)

// Chunk holds the bars of one [start, end) span of a series.
//
// Chunk is safe for concurrent use. Writers to the same chunk serialize on
// the chunk lock; scans copy a point-in-time snapshot and never hold the
// lock while the caller consumes it.
type Chunk struct {
	series types.SeriesID
	start  time.Time
	end    time.Time

	mu    sync.RWMutex
	state State

	// Mutable representation.
	rows map[types.RowKey]types.Bar

	// Compressed representation. cols may be nil for a chunk registered
	// from disk at startup; it is loaded on first scan.
	cols *Columnar
	file string
	load LoadFunc

	// Readers currently holding a reference. The reaper refuses to delete
	// a chunk while refs > 0.
	refs atomic.Int64
}

// NewMutable creates an empty mutable chunk for the given span.
func NewMutable(series types.SeriesID, start, end time.Time) *Chunk {
	return &Chunk{
		series: series,
		start:  start,
		end:    end,
		state:  StateMutable,
		rows:   make(map[types.RowKey]types.Bar),
	}
}

// NewCompressed registers an already-compressed chunk backed by a file,
// typically during startup recovery. Columns are loaded lazily on first
// scan via load.
func NewCompressed(series types.SeriesID, start, end time.Time, file string, load LoadFunc) *Chunk {
	return &Chunk{
		series: series,
		start:  start,
		end:    end,
		state:  StateCompressed,
		file:   file,
		load:   load,
	}
}

// Series returns the owning series identity.
func (c *Chunk) Series() types.SeriesID { return c.series }

// Start returns the inclusive start of the chunk span.
func (c *Chunk) Start() time.Time { return c.start }

// End returns the exclusive end of the chunk span.
func (c *Chunk) End() time.Time { return c.end }

// Contains reports whether ts falls inside [start, end).
func (c *Chunk) Contains(ts time.Time) bool {
	return !ts.Before(c.start) && ts.Before(c.end)
}

// State returns the current representation.
func (c *Chunk) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// File returns the backing file path, empty while mutable.
func (c *Chunk) File() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.file
}

// Len returns the number of bars in the chunk.
func (c *Chunk) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state == StateMutable {
		return len(c.rows)
	}
	if c.cols == nil {
		return 0 // not yet loaded
	}
	return c.cols.Len()
}

// Upsert inserts or replaces the bar at its (symbol, timestamp) key.
// Last writer wins; a colliding key never duplicates.
func (c *Chunk) Upsert(bar types.Bar) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateCompressed {
		return errors.ErrImmutableChunk
	}

	c.rows[bar.Key()] = bar
	return nil
}

// Scan returns a point-in-time snapshot of the chunk's bars matching the
// filter, in ascending timestamp order (then symbol, for equal timestamps).
// symbol == "" matches all symbols; from/to bound the half-open range
// [from, to). Concurrent writes after the snapshot is taken are not
// observed, and a scan never sees a compression transition mid-flight.
func (c *Chunk) Scan(symbol string, from, to time.Time) ([]types.Bar, error) {
	fromMs := from.UnixMilli()
	toMs := to.UnixMilli()

	c.mu.RLock()
	if c.state == StateMutable {
		out := make([]types.Bar, 0, len(c.rows))
		for key, bar := range c.rows {
			if symbol != "" && key.Symbol != symbol {
				continue
			}
			if key.TimestampMs < fromMs || key.TimestampMs >= toMs {
				continue
			}
			out = append(out, bar)
		}
		c.mu.RUnlock()

		sortBarsAscending(out)
		return out, nil
	}

	cols := c.cols
	c.mu.RUnlock()

	if cols == nil {
		var err error
		cols, err = c.ensureLoaded()
		if err != nil {
			return nil, err
		}
	}

	return cols.Scan(symbol, fromMs, toMs), nil
}

// ensureLoaded loads the columnar data of a disk-registered chunk.
func (c *Chunk) ensureLoaded() (*Columnar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cols != nil {
		return c.cols, nil
	}
	if c.load == nil {
		return nil, fmt.Errorf("compressed chunk %s [%s) has no loader", c.series, c.start)
	}

	bars, err := c.load(c.file)
	if err != nil {
		return nil, fmt.Errorf("load compressed chunk: %w", err)
	}

	c.cols = FromBars(bars)
	return c.cols, nil
}

// Compress transitions the chunk to its compressed representation.
//
// The chunk lock is held exclusively for the duration, so new writers block
// until the transition completes and in-flight scans keep their snapshot.
// Calling Compress on an already-compressed chunk is a no-op success so the
// scheduler stays idempotent.
func (c *Chunk) Compress(write WriteFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateCompressed {
		return nil
	}

	cols := FromBars(rowsToSlice(c.rows))

	file, err := write(cols.Bars())
	if err != nil {
		return fmt.Errorf("write compressed chunk: %w", err)
	}

	c.cols = cols
	c.file = file
	c.state = StateCompressed
	c.rows = nil
	return nil
}

// Acquire takes a reader reference on the chunk. Callers must pair it with
// Release. The reaper never deletes a referenced chunk.
func (c *Chunk) Acquire() { c.refs.Add(1) }

// Release drops a reader reference.
func (c *Chunk) Release() { c.refs.Add(-1) }

// InUse reports whether any reader currently holds a reference.
func (c *Chunk) InUse() bool { return c.refs.Load() > 0 }

// rowsToSlice copies the mutable row map into a slice.
func rowsToSlice(rows map[types.RowKey]types.Bar) []types.Bar {
	out := make([]types.Bar, 0, len(rows))
	for _, bar := range rows {
		out = append(out, bar)
	}
	return out
}

// sortBarsAscending orders bars by timestamp, then symbol.
func sortBarsAscending(bars []types.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		ti, tj := bars[i].Timestamp.UnixMilli(), bars[j].Timestamp.UnixMilli()
		if ti != tj {
			return ti < tj
		}
		return bars[i].Symbol < bars[j].Symbol
	})
}
