// Package retention reaps whole chunks that have aged past a series'
// retention horizon.
//
// Reaping is chunk-granular: a chunk goes when its entire time range is
// older than the horizon, never row by row. Series without a horizon keep
// data forever. The background loop is disabled by default.
package retention

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/logging"
	"github.com/quantarchive/bardb/internal/storage/catalog"
	"github.com/quantarchive/bardb/internal/storage/chunk"
	"github.com/quantarchive/bardb/internal/storage/config"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// Manager handles automatic cleanup of expired chunks.
type Manager struct {
	cfg     *config.Config
	catalog *catalog.Catalog

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime   time.Time
	ChunksDeleted int64
	BarsDeleted   int64
	BytesFreed    int64
	ChunksSkipped int64
	Errors        int64
}

// CleanupResult holds the result of a cleanup pass over one series.
type CleanupResult struct {
	Series        types.SeriesID
	ChunksDeleted int
	BarsDeleted   int64
	BytesFreed    int64
	ChunksSkipped int
	Errors        []error
}

// New creates a new retention manager over the given catalog.
func New(cfg *config.Config, cat *catalog.Catalog) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:     cfg,
		catalog: cat,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the background reap loop. When retention is disabled in
// configuration the manager starts but sleeps; explicit cleanup calls
// still work.
func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return apperrors.ErrAlreadyRunning
	}

	if m.cfg.Retention.Enabled {
		m.wg.Add(1)
		go m.loop()
	}

	return nil
}

// Stop stops the background loop.
func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	return nil
}

// IsRunning reports whether the manager has been started.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

func (m *Manager) loop() {
	defer m.wg.Done()

	interval := m.cfg.Retention.Interval.Std()
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.RunCleanup()
		}
	}
}

// RunCleanup reaps expired chunks on every series with a horizon.
func (m *Manager) RunCleanup() []CleanupResult {
	var results []CleanupResult

	for _, series := range m.catalog.All() {
		result := m.cleanupSeries(series, false)
		results = append(results, result)
		m.recordResult(&result)
	}

	m.mu.Lock()
	m.stats.LastRunTime = time.Now().UTC()
	m.mu.Unlock()

	return results
}

// DryRun reports what RunCleanup would delete without deleting anything.
func (m *Manager) DryRun() []CleanupResult {
	var results []CleanupResult
	for _, series := range m.catalog.All() {
		results = append(results, m.cleanupSeries(series, true))
	}
	return results
}

// CleanupSeries reaps expired chunks on a single series.
func (m *Manager) CleanupSeries(id types.SeriesID) (CleanupResult, error) {
	series, err := m.catalog.Get(id)
	if err != nil {
		return CleanupResult{}, err
	}

	result := m.cleanupSeries(series, false)
	m.recordResult(&result)
	return result, nil
}

// cleanupSeries reaps every chunk of one series whose full range is past
// the horizon. Chunks pinned by in-flight scans are skipped; the next
// pass will retry them.
func (m *Manager) cleanupSeries(series *catalog.Series, dryRun bool) CleanupResult {
	result := CleanupResult{Series: series.ID}

	horizon := series.RetentionHorizon()
	if horizon == nil {
		return result
	}
	cutoff := time.Now().UTC().Add(-*horizon)

	log := logging.Component("retention")

	for _, c := range series.Index.Chunks() {
		if !c.End().Before(cutoff) {
			// Oldest first: nothing further along is expired either.
			break
		}

		if c.InUse() {
			result.ChunksSkipped++
			result.Errors = append(result.Errors,
				fmt.Errorf("chunk at %s: %w", c.Start(), apperrors.ErrChunkInUse))
			continue
		}

		if dryRun {
			result.ChunksDeleted++
			result.BarsDeleted += int64(c.Len())
			result.BytesFreed += fileSize(c)
			continue
		}

		bars := int64(c.Len())
		freed := fileSize(c)

		// Drop from the index first so no new scan can reach the chunk,
		// then remove its file.
		if !series.Index.Remove(c.Start()) {
			result.ChunksSkipped++
			continue
		}
		if c.State() == chunk.StateCompressed && c.File() != "" {
			if err := os.Remove(c.File()); err != nil && !os.IsNotExist(err) {
				result.Errors = append(result.Errors,
					fmt.Errorf("delete %s: %w", c.File(), err))
			}
		}

		result.ChunksDeleted++
		result.BarsDeleted += bars
		result.BytesFreed += freed

		log.Info("chunk reaped",
			"series", series.ID.String(),
			"chunk_start", c.Start(),
			"bars", bars)
	}

	return result
}

// recordResult folds a cleanup result into the running statistics.
func (m *Manager) recordResult(r *CleanupResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.ChunksDeleted += int64(r.ChunksDeleted)
	m.stats.BarsDeleted += r.BarsDeleted
	m.stats.BytesFreed += r.BytesFreed
	m.stats.ChunksSkipped += int64(r.ChunksSkipped)
	m.stats.Errors += int64(len(r.Errors))
}

// Stats returns a snapshot of retention statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// fileSize returns the on-disk size of a chunk's file, or zero for
// mutable chunks.
func fileSize(c *chunk.Chunk) int64 {
	if c.File() == "" {
		return 0
	}
	info, err := os.Stat(c.File())
	if err != nil {
		return 0
	}
	return info.Size()
}
