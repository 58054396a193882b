package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantarchive/bardb/internal/assets"
	apperrors "github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/logging"
	"github.com/quantarchive/bardb/internal/storage/buffer"
	"github.com/quantarchive/bardb/internal/storage/catalog"
	"github.com/quantarchive/bardb/internal/storage/chunk"
	"github.com/quantarchive/bardb/internal/storage/codec"
	"github.com/quantarchive/bardb/internal/storage/compaction"
	"github.com/quantarchive/bardb/internal/storage/config"
	"github.com/quantarchive/bardb/internal/storage/parquet"
	"github.com/quantarchive/bardb/internal/storage/retention"
	"github.com/quantarchive/bardb/internal/storage/stats"
	"github.com/quantarchive/bardb/internal/storage/types"
	"github.com/quantarchive/bardb/internal/storage/wal"
)

// AssetCatalog resolves symbols to their registered asset reference data.
// *assets.Store satisfies it; tests substitute fakes.
type AssetCatalog interface {
	Lookup(ctx context.Context, symbol string) (*assets.Asset, error)
}

// recentWrites is the capacity of the recent-writes ring kept for
// operator inspection.
const recentWrites = 1024

// Service is the storage engine: validated, WAL-backed bar writes into
// time-partitioned chunks, with background compression and retention.
type Service struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	assets  AssetCatalog

	wal        *wal.Writer
	compaction *compaction.Engine
	retention  *retention.Manager
	latency    *stats.LatencyRecorder
	recent     *buffer.Ring

	// State
	running     atomic.Bool
	barsWritten atomic.Int64
	startTime   time.Time
	mu          sync.RWMutex
}

// New creates the storage service and recovers existing state from disk:
// compressed chunk files are re-registered, then the WAL is replayed into
// mutable chunks.
func New(cfg *config.Config, assetCatalog AssetCatalog) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	cat, err := catalog.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		catalog: cat,
		assets:  assetCatalog,
		latency: stats.NewLatencyRecorder(),
		recent:  buffer.NewRing(recentWrites),
	}

	// Compressed chunks come back first so WAL replay of already-compressed
	// ranges is rejected instead of resurrecting the data mutably.
	if err := s.recoverChunkFiles(); err != nil {
		return nil, fmt.Errorf("recover chunk files: %w", err)
	}

	w, err := wal.NewWriter(cfg.WALDir(), wal.Options{
		MaxSegmentSize: cfg.WAL.MaxSegmentSize,
		SyncMode:       cfg.WAL.SyncMode,
		SyncInterval:   cfg.WAL.SyncInterval.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	s.wal = w

	replayed, err := s.replayWAL()
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	if replayed {
		if err := s.compactWAL(); err != nil {
			w.Close()
			return nil, fmt.Errorf("compact wal: %w", err)
		}
	}

	s.compaction, err = compaction.New(cfg, cat)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("create compaction: %w", err)
	}
	s.retention = retention.New(cfg, cat)

	return s, nil
}

// recoverChunkFiles scans each series directory for chunk files and
// registers them as compressed chunks with lazy loaders. Bars are not read
// until a scan touches the chunk.
func (s *Service) recoverChunkFiles() error {
	log := logging.Component("storage")

	for _, series := range s.catalog.All() {
		entries, err := os.ReadDir(series.Dir())
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			start, end, ok := parquet.ParseChunkFilename(entry.Name())
			if !ok {
				continue
			}

			path := filepath.Join(series.Dir(), entry.Name())
			c := chunk.NewCompressed(series.ID, start, end, path, parquet.ReadChunkFile)
			if err := series.Index.Register(c); err != nil {
				log.Warn("skip chunk file",
					"series", series.ID.String(),
					"file", path,
					"error", err)
				continue
			}
		}

		if n := series.Index.Len(); n > 0 {
			log.Info("chunks recovered", "series", series.ID.String(), "chunks", n)
		}
	}

	return nil
}

// replayWAL re-applies logged writes. Entries landing in compressed chunks
// are skipped: their data is already in the chunk file. Returns whether any
// pre-existing segments were read.
func (s *Service) replayWAL() (bool, error) {
	paths, err := s.wal.ListSegments()
	if err != nil {
		return false, err
	}

	// The current segment was just opened by NewWriter and is empty.
	current := s.wal.CurrentSegment()
	old := paths[:0]
	for _, p := range paths {
		if p != current {
			old = append(old, p)
		}
	}

	entries, err := wal.ReadAllSegments(old)
	if err != nil {
		return false, err
	}

	var replayed, skipped int64
	for i := range entries {
		series, err := s.catalog.Get(entries[i].Series)
		if err != nil {
			skipped += int64(len(entries[i].Bars))
			continue
		}

		for _, bar := range entries[i].Bars {
			c := series.Index.Resolve(bar.Timestamp)
			if err := c.Upsert(bar); err != nil {
				skipped++
				continue
			}
			replayed++
		}
	}

	if replayed > 0 || skipped > 0 {
		logging.Component("storage").Info("wal replayed",
			"bars_replayed", replayed, "bars_skipped", skipped)
	}
	return len(old) > 0, nil
}

// compactWAL rewrites the log so it holds exactly the bars still living in
// mutable chunks. Old segments carrying bars that have since been compressed
// or reaped are dropped, so they cannot resurrect on a later restart.
func (s *Service) compactWAL() error {
	if err := s.wal.Rotate(); err != nil {
		return err
	}
	keep := s.wal.CurrentSeq()

	for _, series := range s.catalog.All() {
		for _, c := range series.Index.Chunks() {
			if c.State() != chunk.StateMutable || c.Len() == 0 {
				continue
			}
			bars, err := c.Scan("", c.Start(), c.End())
			if err != nil {
				return err
			}
			if err := s.wal.Append(series.ID, bars); err != nil {
				return err
			}
		}
	}

	removed, err := s.wal.DeleteSegmentsBefore(keep)
	if err != nil {
		return err
	}
	if removed > 0 {
		logging.Component("storage").Info("wal compacted",
			"segments_removed", removed)
	}
	return s.wal.Sync()
}

// Start starts the background compression and retention loops.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return apperrors.ErrAlreadyRunning
	}

	s.mu.Lock()
	s.startTime = time.Now()
	s.mu.Unlock()

	if err := s.compaction.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("start compaction: %w", err)
	}
	if err := s.retention.Start(); err != nil {
		s.compaction.Stop()
		s.running.Store(false)
		return fmt.Errorf("start retention: %w", err)
	}

	logging.Component("storage").Info("storage service started",
		"data_dir", s.cfg.DataDir,
		"compaction_enabled", s.cfg.Compaction.Enabled,
		"retention_enabled", s.cfg.Retention.Enabled)
	return nil
}

// Stop stops background work and closes the WAL.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	var errs []error
	if err := s.retention.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop retention: %w", err))
	}
	if err := s.compaction.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop compaction: %w", err))
	}
	if err := s.wal.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync wal: %w", err))
	}
	if err := s.wal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close wal: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("stop errors: %v", errs)
	}
	return nil
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// PutBar writes one bar into a series. The write is validated, checked
// against the asset store, logged to the WAL, and upserted into its chunk.
// A write for an existing (symbol, timestamp) replaces the stored bar.
func (s *Service) PutBar(ctx context.Context, id types.SeriesID, bar types.Bar) error {
	if !s.running.Load() {
		return apperrors.ErrServiceNotRunning
	}

	start := time.Now()

	series, err := s.catalog.Get(id)
	if err != nil {
		return err
	}
	if err := codec.Validate(id.Class, &bar); err != nil {
		return err
	}
	bar = codec.Normalize(bar)

	asset, err := s.assets.Lookup(ctx, bar.Symbol)
	if err != nil {
		return err
	}
	if asset.Class != id.Class {
		return apperrors.Wrap(apperrors.ErrAssetMismatch,
			"symbol %s is %s, series is %s", bar.Symbol, asset.Class, id.Class)
	}
	if !asset.Active {
		return apperrors.Wrap(apperrors.ErrInactiveAsset, "symbol %s", bar.Symbol)
	}

	if err := s.wal.Append(id, []types.Bar{bar}); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}

	c := series.Index.Resolve(bar.Timestamp)
	if err := c.Upsert(bar); err != nil {
		return err
	}

	s.barsWritten.Add(1)
	s.latency.Record(time.Since(start))
	s.recent.Push(buffer.WriteEvent{Series: id, Bar: bar, ReceivedAt: start})
	return nil
}

// RecentWrites returns up to n of the most recently accepted bars, newest
// first.
func (s *Service) RecentWrites(n int) []buffer.WriteEvent {
	return s.recent.Recent(n)
}

// PutBars writes a batch of bars into one series. Each bar is judged on its
// own; a rejected bar does not abort the rest. The first error is returned
// after the whole batch has been attempted.
func (s *Service) PutBars(ctx context.Context, id types.SeriesID, bars []types.Bar) error {
	var first error
	for i := range bars {
		if err := s.PutBar(ctx, id, bars[i]); err != nil && first == nil {
			first = fmt.Errorf("bar %d (%s@%s): %w", i, bars[i].Symbol, bars[i].Timestamp, err)
		}
	}
	return first
}

// GetBars returns a lazy cursor over [from, to) for one symbol, or for all
// symbols when symbol is empty. Bars come back ascending by timestamp.
// Chunks are snapshotted one at a time as the cursor reaches them.
func (s *Service) GetBars(ctx context.Context, id types.SeriesID, symbol string, from, to time.Time) (*Scanner, error) {
	if !s.running.Load() {
		return nil, apperrors.ErrServiceNotRunning
	}

	series, err := s.catalog.Get(id)
	if err != nil {
		return nil, err
	}

	return newScanner(ctx, series.Index.Range(from, to), symbol, from, to), nil
}

// GetBar returns the single bar stored for (symbol, ts), or nil when the
// slot is empty.
func (s *Service) GetBar(ctx context.Context, id types.SeriesID, symbol string, ts time.Time) (*types.Bar, error) {
	sc, err := s.GetBars(ctx, id, symbol, ts, ts.Add(time.Millisecond))
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	for sc.Next() {
		bar := sc.Bar()
		if bar.Timestamp.Equal(ts.UTC()) {
			return &bar, nil
		}
	}
	return nil, sc.Err()
}

// ConfigureSeries updates the lifecycle policy of one series. Zero values
// leave the corresponding setting untouched; the retention horizon pointer
// is applied as given, where nil disables reaping.
func (s *Service) ConfigureSeries(id types.SeriesID, chunkSpan, compressionAge time.Duration, retentionHorizon *time.Duration) error {
	series, err := s.catalog.Get(id)
	if err != nil {
		return err
	}

	if chunkSpan > 0 {
		series.Index.SetSpan(chunkSpan)
	}
	if compressionAge > 0 {
		series.SetCompressionAge(compressionAge)
	}
	series.SetRetentionHorizon(retentionHorizon)

	logging.Component("storage").Info("series configured",
		"series", id.String(),
		"chunk_span", series.Index.Span(),
		"compression_age", series.CompressionAge())
	return nil
}

// ForceCompress compresses every mutable chunk of a series now, bypassing
// the age gate and the enabled flag.
func (s *Service) ForceCompress(ctx context.Context, id types.SeriesID) (int, error) {
	return s.compaction.ForceSeries(ctx, id)
}

// ForceReap runs retention cleanup for one series now, bypassing the
// enabled flag.
func (s *Service) ForceReap(id types.SeriesID) (retention.CleanupResult, error) {
	return s.retention.CleanupSeries(id)
}

// RunRetention triggers a full retention pass across all series.
func (s *Service) RunRetention() []retention.CleanupResult {
	return s.retention.RunCleanup()
}

// DryRunRetention reports what a retention pass would delete.
func (s *Service) DryRunRetention() []retention.CleanupResult {
	return s.retention.DryRun()
}

// CompactionSweep triggers one compression sweep across all series.
func (s *Service) CompactionSweep(ctx context.Context) int {
	return s.compaction.Sweep(ctx)
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Catalog returns the series catalog.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// SeriesStats describes the chunk population of one series.
type SeriesStats struct {
	Series           types.SeriesID
	Chunks           int
	MutableChunks    int
	CompressedChunks int
	Bars             int
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running      bool
	Uptime       time.Duration
	BarsWritten  int64
	WriteLatency stats.LatencySnapshot
	WAL          wal.WriterStats
	Compaction   compaction.StatsSnapshot
	Retention    retention.Stats
	Series       []SeriesStats
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	startTime := s.startTime
	s.mu.RUnlock()

	var uptime time.Duration
	if !startTime.IsZero() {
		uptime = time.Since(startTime)
	}

	var perSeries []SeriesStats
	for _, series := range s.catalog.All() {
		ss := SeriesStats{Series: series.ID}
		for _, c := range series.Index.Chunks() {
			ss.Chunks++
			ss.Bars += c.Len()
			if c.State() == chunk.StateCompressed {
				ss.CompressedChunks++
			} else {
				ss.MutableChunks++
			}
		}
		perSeries = append(perSeries, ss)
	}

	return ServiceStats{
		Running:      s.running.Load(),
		Uptime:       uptime,
		BarsWritten:  s.barsWritten.Load(),
		WriteLatency: s.latency.Snapshot(),
		WAL:          s.wal.Stats(),
		Compaction:   s.compaction.Stats(),
		Retention:    s.retention.Stats(),
		Series:       perSeries,
	}
}
