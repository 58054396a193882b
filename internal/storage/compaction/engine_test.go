package compaction

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/storage/catalog"
	"github.com/quantarchive/bardb/internal/storage/chunk"
	"github.com/quantarchive/bardb/internal/storage/config"
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
		Open:      decimal.RequireFromString("100.10"),
		High:      decimal.RequireFromString("101.00"),
		Low:       decimal.RequireFromString("99.85"),
		Close:     decimal.RequireFromString("100.55"),
		Volume:    decimal.NewFromInt(5000),
	}
}

func fillChunk(t *testing.T, cat *catalog.Catalog, id types.SeriesID, ts time.Time, symbols ...string) *chunk.Chunk {
	t.Helper()

	series, err := cat.Get(id)
	if err != nil {
		t.Fatalf("catalog.Get: %v", err)
	}

	c := series.Index.Resolve(ts)
	for _, sym := range symbols {
		if err := c.Upsert(testBar(sym, ts)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	return c
}

func TestEngineStartStop(t *testing.T) {
	cfg, cat := testCatalog(t)

	engine, err := New(cfg, cat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if engine.IsRunning() {
		t.Error("engine running before Start")
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !engine.IsRunning() {
		t.Error("engine not running after Start")
	}
	if err := engine.Start(); !errors.Is(err, apperrors.ErrAlreadyRunning) {
		t.Errorf("double Start = %v, want ErrAlreadyRunning", err)
	}
	if err := engine.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if engine.IsRunning() {
		t.Error("engine still running after Stop")
	}
}

func TestSweepCompressesOldChunks(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetCrypto, Resolution: types.Res1Min}

	// One chunk well past the compression age, one that contains now.
	old := fillChunk(t, cat, id, time.Now().UTC().Add(-120*24*time.Hour), "BTC-USD", "ETH-USD")
	young := fillChunk(t, cat, id, time.Now().UTC(), "BTC-USD")

	engine, err := New(cfg, cat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n := engine.Sweep(context.Background())
	if n != 1 {
		t.Fatalf("Sweep compressed %d chunks, want 1", n)
	}

	if old.State() != chunk.StateCompressed {
		t.Error("old chunk still mutable after sweep")
	}
	if young.State() != chunk.StateMutable {
		t.Error("young chunk compressed by sweep")
	}

	// The chunk file landed on disk.
	if _, err := os.Stat(old.File()); err != nil {
		t.Errorf("chunk file missing: %v", err)
	}

	// Data survives compression.
	bars, err := old.Scan("", old.Start(), old.End())
	if err != nil {
		t.Fatalf("Scan after compression: %v", err)
	}
	if len(bars) != 2 {
		t.Errorf("scanned %d bars after compression, want 2", len(bars))
	}

	if got := engine.Stats().ChunksCompressed; got != 1 {
		t.Errorf("ChunksCompressed = %d, want 1", got)
	}
}

func TestSweepIdempotent(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetStock, Resolution: types.Res1Hour}

	fillChunk(t, cat, id, time.Now().UTC().Add(-400*24*time.Hour), "AAPL")

	engine, err := New(cfg, cat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n := engine.Sweep(context.Background()); n != 1 {
		t.Fatalf("first sweep compressed %d, want 1", n)
	}
	if n := engine.Sweep(context.Background()); n != 0 {
		t.Errorf("second sweep compressed %d, want 0", n)
	}
}

func TestForceSeriesIgnoresAge(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetCrypto, Resolution: types.Res5Min}

	// Young chunk: a plain sweep would leave it alone.
	c := fillChunk(t, cat, id, time.Now().UTC(), "BTC-USD")

	engine, err := New(cfg, cat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := engine.ForceSeries(context.Background(), id)
	if err != nil {
		t.Fatalf("ForceSeries: %v", err)
	}
	if n != 1 {
		t.Errorf("ForceSeries compressed %d chunks, want 1", n)
	}
	if c.State() != chunk.StateCompressed {
		t.Error("chunk still mutable after ForceSeries")
	}

	// Writes into a force-compressed chunk are rejected.
	err = c.Upsert(testBar("BTC-USD", time.Now().UTC()))
	if !errors.Is(err, apperrors.ErrImmutableChunk) {
		t.Errorf("Upsert after force = %v, want ErrImmutableChunk", err)
	}
}

func TestForceSeriesUnknown(t *testing.T) {
	cfg, cat := testCatalog(t)

	engine, err := New(cfg, cat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bad := types.SeriesID{Class: types.AssetClass(42), Resolution: types.Res1Min}
	if _, err := engine.ForceSeries(context.Background(), bad); !errors.Is(err, apperrors.ErrUnknownSeries) {
		t.Errorf("ForceSeries = %v, want ErrUnknownSeries", err)
	}
}

func TestForceChunk(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetStock, Resolution: types.Res1Day}

	ts := time.Now().UTC().Add(-60 * 24 * time.Hour)
	c := fillChunk(t, cat, id, ts, "AAPL", "MSFT")

	engine, err := New(cfg, cat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := engine.ForceChunk(id, ts); err != nil {
		t.Fatalf("ForceChunk: %v", err)
	}
	if c.State() != chunk.StateCompressed {
		t.Error("chunk still mutable after ForceChunk")
	}

	// No chunk covers a far-future timestamp that was never written.
	if err := engine.ForceChunk(id, time.Now().UTC().Add(10*365*24*time.Hour)); err == nil {
		t.Error("ForceChunk succeeded on an empty time range")
	}
}

func TestSweepCancellation(t *testing.T) {
	cfg, cat := testCatalog(t)
	id := types.SeriesID{Class: types.AssetCrypto, Resolution: types.Res1Min}

	fillChunk(t, cat, id, time.Now().UTC().Add(-120*24*time.Hour), "BTC-USD")

	engine, err := New(cfg, cat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if n := engine.Sweep(ctx); n != 0 {
		t.Errorf("cancelled sweep compressed %d chunks, want 0", n)
	}
}
