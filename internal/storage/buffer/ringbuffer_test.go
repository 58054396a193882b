package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarchive/bardb/internal/storage/types"
)

func event(symbol string, n int) WriteEvent {
	return WriteEvent{
		Series: types.SeriesID{Class: types.AssetStock, Resolution: types.Res1Min},
		Bar: types.Bar{
			Symbol:    symbol,
			Timestamp: time.Date(2024, 6, 1, 0, n, 0, 0, time.UTC),
			Open:      decimal.NewFromInt(int64(n)),
			High:      decimal.NewFromInt(int64(n)),
			Low:       decimal.NewFromInt(int64(n)),
			Close:     decimal.NewFromInt(int64(n)),
			Volume:    decimal.NewFromInt(100),
		},
		ReceivedAt: time.Now(),
	}
}

func TestPushAndRecent(t *testing.T) {
	r := NewRing(8)

	for i := 0; i < 5; i++ {
		r.Push(event("AAPL", i))
	}

	if r.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", r.Len())
	}

	recent := r.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("Recent(3) returned %d events", len(recent))
	}
	// Newest first.
	for i, want := range []int{4, 3, 2} {
		if got := recent[i].Bar.Timestamp.Minute(); got != want {
			t.Errorf("recent[%d] minute = %d, want %d", i, got, want)
		}
	}
}

func TestRecentMoreThanStored(t *testing.T) {
	r := NewRing(8)
	r.Push(event("AAPL", 1))
	r.Push(event("AAPL", 2))

	if got := len(r.Recent(100)); got != 2 {
		t.Fatalf("Recent(100) returned %d events, want 2", got)
	}
	if r.Recent(0) != nil {
		t.Error("Recent(0) should return nil")
	}
}

func TestOverwriteWhenFull(t *testing.T) {
	r := NewRing(4)

	for i := 0; i < 10; i++ {
		r.Push(event("MSFT", i))
	}

	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}

	stats := r.Stats()
	if stats.Pushes != 10 {
		t.Errorf("Pushes = %d, want 10", stats.Pushes)
	}
	if stats.Overwrites != 6 {
		t.Errorf("Overwrites = %d, want 6", stats.Overwrites)
	}

	// Only the last 4 survive.
	recent := r.Recent(4)
	for i, want := range []int{9, 8, 7, 6} {
		if got := recent[i].Bar.Timestamp.Minute(); got != want {
			t.Errorf("recent[%d] minute = %d, want %d", i, got, want)
		}
	}
}

func TestNewest(t *testing.T) {
	r := NewRing(4)

	if _, ok := r.Newest(); ok {
		t.Error("Newest() on empty ring should return false")
	}

	r.Push(event("AAPL", 1))
	r.Push(event("AAPL", 2))

	ev, ok := r.Newest()
	if !ok {
		t.Fatal("Newest() returned false")
	}
	if ev.Bar.Timestamp.Minute() != 2 {
		t.Errorf("Newest() minute = %d, want 2", ev.Bar.Timestamp.Minute())
	}
}

func TestClear(t *testing.T) {
	r := NewRing(4)
	r.Push(event("AAPL", 1))
	r.Clear()

	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", r.Len())
	}
	if got := r.Recent(10); got != nil {
		t.Errorf("Recent after Clear = %v, want nil", got)
	}
}

func TestConcurrentPush(t *testing.T) {
	r := NewRing(64)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Push(event(fmt.Sprintf("SYM%d", g), i%60))
			}
		}(g)
	}
	wg.Wait()

	if r.Len() != 64 {
		t.Errorf("Len() = %d, want 64", r.Len())
	}
	if got := r.Stats().Pushes; got != 800 {
		t.Errorf("Pushes = %d, want 800", got)
	}
}
