package retention

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/storage/catalog"
	"github.com/quantarchive/bardb/internal/storage/chunk"
	"github.com/quantarchive/bardb/internal/storage/config"
	"github.com/quantarchive/bardb/internal/storage/parquet"
	"github.com/quantarchive/bardb/internal/storage/types"
)

func testCatalog(t *testing.T) (*config.Config, *catalog.Catalog) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	cat, err := catalog.New(cfg)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cfg, cat
}

func testBar(symbol string, ts time.Time) types.Bar {
	return types.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      decimal.RequireFromString("250.00"),
		High:      decimal.RequireFromString("251.30"),
		Low:       decimal.RequireFromString("249.10"),
		Close:     decimal.RequireFromString("250.75"),
		Volume:    decimal.NewFromInt(900),
	}
}

// fillChunk writes one bar into the chunk owning ts and returns the chunk.
func fillChunk(t *testing.T, cat *catalog.Catalog, id types.SeriesID, ts time.Time) *chunk.Chunk {
	t.Helper()

	series, err := cat.Get(id)
	if err != nil {
		t.Fatalf("catalog.Get: %v", err)
	}
	c := series.Index.Resolve(ts)
	if err := c.Upsert(testBar("AAPL", ts)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return c
}

// compress writes the chunk's bars to a real file so reaping has something
// to delete.
func compress(t *testing.T, series *catalog.Series, c *chunk.Chunk) {
	t.Helper()

	err := c.Compress(func(bars []types.Bar) (string, error) {
		return parquet.WriteChunkFile(series.Dir(), c.Start(), c.End(), bars, parquet.DefaultOptions())
	})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
}

func TestCleanupDisabledWithoutHorizon(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetStock, Resolution: types.Res1Min}

	fillChunk(t, cat, id, time.Now().UTC().Add(-5*365*24*time.Hour))

	m := New(cfg, cat)
	results := m.RunCleanup()

	for _, r := range results {
		if r.ChunksDeleted != 0 {
			t.Errorf("series %s lost %d chunks with no horizon set", r.Series, r.ChunksDeleted)
		}
	}
}

func TestCleanupReapsExpiredChunks(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetStock, Resolution: types.Res1Min}

	series, err := cat.Get(id)
	if err != nil {
		t.Fatalf("catalog.Get: %v", err)
	}

	// Expired compressed chunk, expired mutable chunk, and a live chunk.
	expired := fillChunk(t, cat, id, time.Now().UTC().Add(-200*24*time.Hour))
	compress(t, series, expired)
	expiredMutable := fillChunk(t, cat, id, time.Now().UTC().Add(-150*24*time.Hour))
	live := fillChunk(t, cat, id, time.Now().UTC())

	horizon := 90 * 24 * time.Hour
	series.SetRetentionHorizon(&horizon)

	m := New(cfg, cat)
	m.RunCleanup()

	if series.Index.Get(expired.Start()) != nil {
		t.Error("expired compressed chunk still indexed")
	}
	if series.Index.Get(expiredMutable.Start()) != nil {
		t.Error("expired mutable chunk still indexed")
	}
	if series.Index.Get(live.Start()) == nil {
		t.Error("live chunk reaped")
	}

	if _, err := os.Stat(expired.File()); !os.IsNotExist(err) {
		t.Error("expired chunk file not deleted")
	}

	stats := m.Stats()
	if stats.ChunksDeleted != 2 {
		t.Errorf("ChunksDeleted = %d, want 2", stats.ChunksDeleted)
	}
}

func TestCleanupSparesChunkStraddlingCutoff(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetCrypto, Resolution: types.Res1Min}

	series, err := cat.Get(id)
	if err != nil {
		t.Fatalf("catalog.Get: %v", err)
	}

	// Chunk whose range ends inside the horizon: it stays whole even though
	// its older rows are past the cutoff.
	horizon := 3 * 24 * time.Hour
	series.SetRetentionHorizon(&horizon)
	straddling := fillChunk(t, cat, id, time.Now().UTC().Add(-2*24*time.Hour))

	m := New(cfg, cat)
	m.RunCleanup()

	if series.Index.Get(straddling.Start()) == nil {
		t.Error("chunk straddling the cutoff was reaped")
	}
}

func TestCleanupSkipsPinnedChunk(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetCrypto, Resolution: types.Res1Hour}

	series, err := cat.Get(id)
	if err != nil {
		t.Fatalf("catalog.Get: %v", err)
	}

	expired := fillChunk(t, cat, id, time.Now().UTC().Add(-400*24*time.Hour))
	horizon := 90 * 24 * time.Hour
	series.SetRetentionHorizon(&horizon)

	expired.Acquire()

	m := New(cfg, cat)
	result, err := m.CleanupSeries(id)
	if err != nil {
		t.Fatalf("CleanupSeries: %v", err)
	}

	if result.ChunksDeleted != 0 {
		t.Error("pinned chunk was reaped")
	}
	if result.ChunksSkipped != 1 {
		t.Errorf("ChunksSkipped = %d, want 1", result.ChunksSkipped)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], apperrors.ErrChunkInUse) {
		t.Errorf("errors = %v, want one ErrChunkInUse", result.Errors)
	}
	if series.Index.Get(expired.Start()) == nil {
		t.Error("pinned chunk removed from index")
	}

	// Once the pin drops, the next pass reaps it.
	expired.Release()

	result, err = m.CleanupSeries(id)
	if err != nil {
		t.Fatalf("CleanupSeries: %v", err)
	}
	if result.ChunksDeleted != 1 {
		t.Errorf("ChunksDeleted = %d after unpin, want 1", result.ChunksDeleted)
	}
}

func TestDryRunDeletesNothing(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetStock, Resolution: types.Res1Day}

	series, err := cat.Get(id)
	if err != nil {
		t.Fatalf("catalog.Get: %v", err)
	}

	expired := fillChunk(t, cat, id, time.Now().UTC().Add(-400*24*time.Hour))
	compress(t, series, expired)
	horizon := 90 * 24 * time.Hour
	series.SetRetentionHorizon(&horizon)

	m := New(cfg, cat)
	results := m.DryRun()

	var total int
	for _, r := range results {
		total += r.ChunksDeleted
	}
	if total != 1 {
		t.Errorf("dry run reported %d reapable chunks, want 1", total)
	}

	if series.Index.Get(expired.Start()) == nil {
		t.Error("dry run removed a chunk from the index")
	}
	if _, err := os.Stat(expired.File()); err != nil {
		t.Errorf("dry run deleted the chunk file: %v", err)
	}
	if m.Stats().ChunksDeleted != 0 {
		t.Errorf("dry run counted deletions in stats: %d", m.Stats().ChunksDeleted)
	}
}

func TestCleanupSeriesUnknown(t *testing.T) {
	cfg, cat := testCatalog(t)

	m := New(cfg, cat)
	bad := types.SeriesID{Class: types.AssetClass(7), Resolution: types.Res1Min}
	if _, err := m.CleanupSeries(bad); !errors.Is(err, apperrors.ErrUnknownSeries) {
		t.Errorf("CleanupSeries = %v, want ErrUnknownSeries", err)
	}
}

func TestStartStop(t *testing.T) {
	cfg, cat := testCatalog(t)

	m := New(cfg, cat)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(); !errors.Is(err, apperrors.ErrAlreadyRunning) {
		t.Errorf("double Start = %v, want ErrAlreadyRunning", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
