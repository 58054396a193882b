package chunk

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/storage/types"
)

var testSeries = types.SeriesID{Class: types.AssetCrypto, Resolution: types.Res1Min}

func testChunk() *Chunk {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewMutable(testSeries, start, start.Add(7*24*time.Hour))
}

func bar(symbol string, ts time.Time, open int64) types.Bar {
	return types.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      decimal.NewFromInt(open),
		High:      decimal.NewFromInt(open + 100),
		Low:       decimal.NewFromInt(open - 100),
		Close:     decimal.NewFromInt(open + 50),
		Volume:    decimal.RequireFromString("1.5"),
	}
}

// memoryWrite is a WriteFunc that persists nothing; the columnar form stays
// in memory, which is all most tests need.
func memoryWrite(bars []types.Bar) (string, error) {
	return "mem", nil
}

func TestUpsertLastWriterWins(t *testing.T) {
	c := testChunk()
	ts := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)

	if err := c.Upsert(bar("BTC/USD", ts, 42000)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := c.Upsert(bar("BTC/USD", ts, 42050)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if c.Len() != 1 {
		t.Fatalf("expected 1 record after colliding writes, got %d", c.Len())
	}

	bars, err := c.Scan("BTC/USD", c.Start(), c.End())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}
	if !bars[0].Open.Equal(decimal.NewFromInt(42050)) {
		t.Errorf("expected last write to win, got open=%s", bars[0].Open)
	}
}

func TestScanOrdering(t *testing.T) {
	c := testChunk()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order across two symbols.
	for _, m := range []int{5, 1, 3} {
		c.Upsert(bar("BTC/USD", base.Add(time.Duration(m)*time.Minute), int64(m)))
		c.Upsert(bar("ETH/USD", base.Add(time.Duration(m)*time.Minute), int64(m)))
	}

	bars, err := c.Scan("", c.Start(), c.End())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(bars) != 6 {
		t.Fatalf("expected 6 bars, got %d", len(bars))
	}

	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1], bars[i]
		if cur.Timestamp.Before(prev.Timestamp) {
			t.Fatalf("bars not ascending at %d", i)
		}
		if cur.Timestamp.Equal(prev.Timestamp) && cur.Symbol < prev.Symbol {
			t.Fatalf("symbol tiebreak violated at %d", i)
		}
	}
}

func TestScanTimeRange(t *testing.T) {
	c := testChunk()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for m := 0; m < 10; m++ {
		c.Upsert(bar("BTC/USD", base.Add(time.Duration(m)*time.Minute), int64(m)))
	}

	// Half-open range: [2m, 5m) selects minutes 2, 3, 4.
	bars, err := c.Scan("BTC/USD", base.Add(2*time.Minute), base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(bars))
	}
	if !bars[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Error("range start should be inclusive")
	}
}

func TestScanSnapshotIsolation(t *testing.T) {
	c := testChunk()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Upsert(bar("BTC/USD", base, 100))

	bars, err := c.Scan("", c.Start(), c.End())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	// Writes after the snapshot must not be visible in it.
	c.Upsert(bar("BTC/USD", base.Add(time.Minute), 200))
	c.Upsert(bar("BTC/USD", base, 999))

	if len(bars) != 1 {
		t.Fatalf("snapshot grew after writes: %d", len(bars))
	}
	if !bars[0].Open.Equal(decimal.NewFromInt(100)) {
		t.Error("snapshot mutated after overwrite")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	c := testChunk()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for m := 0; m < 20; m++ {
		c.Upsert(bar("BTC/USD", base.Add(time.Duration(m)*time.Minute), int64(m)))
		c.Upsert(bar("ETH/USD", base.Add(time.Duration(m)*time.Minute), int64(m+1000)))
	}

	before, err := c.Scan("", c.Start(), c.End())
	if err != nil {
		t.Fatalf("scan before: %v", err)
	}

	if err := c.Compress(memoryWrite); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if c.State() != StateCompressed {
		t.Fatal("chunk should be compressed")
	}

	after, err := c.Scan("", c.Start(), c.End())
	if err != nil {
		t.Fatalf("scan after: %v", err)
	}

	if len(before) != len(after) {
		t.Fatalf("row count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if !before[i].Equal(&after[i]) {
			t.Fatalf("row %d changed across compression", i)
		}
	}
}

func TestCompressedChunkRejectsWrites(t *testing.T) {
	c := testChunk()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Upsert(bar("BTC/USD", base, 100))

	if err := c.Compress(memoryWrite); err != nil {
		t.Fatalf("compress: %v", err)
	}

	err := c.Upsert(bar("BTC/USD", base.Add(time.Minute), 200))
	if !errors.Is(err, errors.ErrImmutableChunk) {
		t.Fatalf("expected ErrImmutableChunk, got %v", err)
	}
	if c.Len() != 1 {
		t.Error("rejected write must not be applied")
	}
}

func TestCompressIdempotent(t *testing.T) {
	c := testChunk()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Upsert(bar("BTC/USD", base, 100))

	if err := c.Compress(memoryWrite); err != nil {
		t.Fatalf("first compress: %v", err)
	}

	writes := 0
	second := func(bars []types.Bar) (string, error) {
		writes++
		return "mem", nil
	}
	if err := c.Compress(second); err != nil {
		t.Fatalf("second compress should be a no-op success: %v", err)
	}
	if writes != 0 {
		t.Error("second compress must not rewrite the chunk")
	}

	bars, _ := c.Scan("", c.Start(), c.End())
	if len(bars) != 1 {
		t.Error("content changed after idempotent compress")
	}
}

func TestColumnarLayout(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []types.Bar
	for m := 0; m < 3; m++ {
		bars = append(bars, bar("ETH/USD", base.Add(time.Duration(m)*time.Minute), int64(m)))
		bars = append(bars, bar("BTC/USD", base.Add(time.Duration(m)*time.Minute), int64(m)))
	}

	cols := FromBars(bars)

	syms := cols.Symbols()
	if len(syms) != 2 || syms[0] != "BTC/USD" || syms[1] != "ETH/USD" {
		t.Fatalf("symbols should segment ascending, got %v", syms)
	}

	// Physical order: within a segment, timestamps descend.
	physical := cols.Bars()
	if len(physical) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(physical))
	}
	for i := 1; i < 3; i++ {
		if physical[i].Timestamp.After(physical[i-1].Timestamp) {
			t.Fatal("timestamps should descend within a segment")
		}
	}
}

func TestConcurrentUpserts(t *testing.T) {
	c := testChunk()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for m := 0; m < 100; m++ {
				// All goroutines hit the same 100 keys.
				c.Upsert(bar("BTC/USD", base.Add(time.Duration(m)*time.Minute), int64(g)))
			}
		}(g)
	}
	wg.Wait()

	if c.Len() != 100 {
		t.Fatalf("expected 100 unique records, got %d", c.Len())
	}
}

func TestRefCounting(t *testing.T) {
	c := testChunk()

	if c.InUse() {
		t.Fatal("new chunk should not be in use")
	}

	c.Acquire()
	c.Acquire()
	if !c.InUse() {
		t.Fatal("chunk should be in use after acquire")
	}

	c.Release()
	if !c.InUse() {
		t.Fatal("chunk should remain in use until all references released")
	}

	c.Release()
	if c.InUse() {
		t.Fatal("chunk should be free after final release")
	}
}
