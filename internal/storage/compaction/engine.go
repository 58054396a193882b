// Package compaction turns cold mutable chunks into compressed columnar
// chunk files.
//
// The engine sweeps every series on an interval, finds mutable chunks whose
// time range ended more than the series' compression age ago, and compresses
// them oldest first. A failure on one chunk is logged and does not stop the
// sweep. The background loop is disabled by default; explicit force calls
// work whether or not the loop runs.
package compaction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/logging"
	"github.com/quantarchive/bardb/internal/storage/catalog"
	"github.com/quantarchive/bardb/internal/storage/chunk"
	"github.com/quantarchive/bardb/internal/storage/config"
	"github.com/quantarchive/bardb/internal/storage/parquet"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// Engine compresses eligible chunks across all series.
type Engine struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	opts    parquet.Options

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats
}

// Stats holds compaction statistics.
type Stats struct {
	SweepsRun        atomic.Int64
	ChunksCompressed atomic.Int64
	ChunksFailed     atomic.Int64
	BarsCompressed   atomic.Int64
	LastSweepUnixMs  atomic.Int64
}

// New creates a compaction engine over the given catalog.
func New(cfg *config.Config, cat *catalog.Catalog) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cat == nil {
		return nil, fmt.Errorf("nil catalog")
	}

	ctx, cancel := context.WithCancel(context.Background())

	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(cfg.Compression.Algorithm)
	opts.CompressionLevel = cfg.Compression.Level

	return &Engine{
		cfg:     cfg,
		catalog: cat,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start starts the background sweep loop. When compaction is disabled in
// configuration the engine starts but sleeps; ForceSeries still works.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return apperrors.ErrAlreadyRunning
	}

	if e.cfg.Compaction.Enabled {
		e.wg.Add(1)
		go e.loop()
	}

	return nil
}

// Stop stops the background loop and waits for an in-flight sweep to
// reach a chunk boundary.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}

	e.cancel()
	e.wg.Wait()
	return nil
}

// IsRunning reports whether the engine has been started.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// loop runs periodic sweeps.
func (e *Engine) loop() {
	defer e.wg.Done()

	interval := e.cfg.Compaction.Interval.Std()
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(e.ctx)
		}
	}
}

// Sweep compresses every eligible chunk across all series. Returns the
// number of chunks compressed.
func (e *Engine) Sweep(ctx context.Context) int {
	log := logging.Component("compaction")
	now := time.Now().UTC()
	compressed := 0

	for _, series := range e.catalog.All() {
		cutoff := now.Add(-series.CompressionAge())

		for _, c := range series.Index.Chunks() {
			if ctx.Err() != nil {
				return compressed
			}
			if c.State() != chunk.StateMutable {
				continue
			}
			if !c.End().Before(cutoff) {
				// Chunks are ordered oldest first; everything after
				// this one is younger still.
				break
			}

			if err := e.compressChunk(series, c); err != nil {
				e.stats.ChunksFailed.Add(1)
				log.Error("compress chunk",
					"series", series.ID.String(),
					"chunk_start", c.Start(),
					"error", err)
				continue
			}
			compressed++
		}
	}

	e.stats.SweepsRun.Add(1)
	e.stats.LastSweepUnixMs.Store(now.UnixMilli())

	if compressed > 0 {
		log.Info("sweep complete", "chunks_compressed", compressed)
	}
	return compressed
}

// ForceSeries compresses every mutable chunk of one series immediately,
// ignoring the compression age. Returns the number of chunks compressed.
func (e *Engine) ForceSeries(ctx context.Context, id types.SeriesID) (int, error) {
	series, err := e.catalog.Get(id)
	if err != nil {
		return 0, err
	}

	compressed := 0
	for _, c := range series.Index.Chunks() {
		if ctx.Err() != nil {
			return compressed, ctx.Err()
		}
		if c.State() != chunk.StateMutable {
			continue
		}
		if err := e.compressChunk(series, c); err != nil {
			e.stats.ChunksFailed.Add(1)
			return compressed, fmt.Errorf("compress chunk at %s: %w", c.Start(), err)
		}
		compressed++
	}

	return compressed, nil
}

// ForceChunk compresses the chunk of one series that contains ts.
func (e *Engine) ForceChunk(id types.SeriesID, ts time.Time) error {
	series, err := e.catalog.Get(id)
	if err != nil {
		return err
	}

	hits := series.Index.Range(ts, ts.Add(time.Millisecond))
	if len(hits) == 0 {
		return fmt.Errorf("no chunk at %s for %s", ts, id)
	}
	return e.compressChunk(series, hits[0])
}

// compressChunk performs the one-way mutable to compressed transition for
// a single chunk, writing its bars to a columnar chunk file.
func (e *Engine) compressChunk(series *catalog.Series, c *chunk.Chunk) error {
	err := c.Compress(func(bars []types.Bar) (string, error) {
		return parquet.WriteChunkFile(series.Dir(), c.Start(), c.End(), bars, e.opts)
	})
	if err != nil {
		return err
	}

	e.stats.ChunksCompressed.Add(1)
	e.stats.BarsCompressed.Add(int64(c.Len()))
	return nil
}

// Stats returns a snapshot of compaction statistics.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		SweepsRun:        e.stats.SweepsRun.Load(),
		ChunksCompressed: e.stats.ChunksCompressed.Load(),
		ChunksFailed:     e.stats.ChunksFailed.Load(),
		BarsCompressed:   e.stats.BarsCompressed.Load(),
		LastSweepUnixMs:  e.stats.LastSweepUnixMs.Load(),
	}
}

// StatsSnapshot is a point-in-time copy of engine statistics.
type StatsSnapshot struct {
	SweepsRun        int64
	ChunksCompressed int64
	ChunksFailed     int64
	BarsCompressed   int64
	LastSweepUnixMs  int64
}
