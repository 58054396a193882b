// Package stats tracks write-path latency and storage counters.
package stats

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// LatencyRecorder keeps a quantile sketch of observed write latencies.
// It is safe for concurrent use.
type LatencyRecorder struct {
	mu     sync.Mutex
	sketch *ddsketch.DDSketch
	count  int64
}

// NewLatencyRecorder creates a recorder with 1% relative accuracy.
func NewLatencyRecorder() *LatencyRecorder {
	r := &LatencyRecorder{}
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err == nil {
		r.sketch = sketch
	}
	return r
}

// Record adds one observed latency.
func (r *LatencyRecorder) Record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	if r.sketch != nil {
		// Sketches cannot hold non-positive values; clamp to 1ns.
		us := float64(d.Microseconds())
		if us <= 0 {
			us = 0.001
		}
		_ = r.sketch.Add(us)
	}
}

// Count returns the number of recorded observations.
func (r *LatencyRecorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Quantile returns the latency at quantile q (0 < q < 1), or zero when
// nothing has been recorded.
func (r *LatencyRecorder) Quantile(q float64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sketch == nil || r.count == 0 {
		return 0
	}
	us, err := r.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return time.Duration(us * float64(time.Microsecond))
}

// Snapshot returns the standard latency quantiles.
func (r *LatencyRecorder) Snapshot() LatencySnapshot {
	return LatencySnapshot{
		Count: r.Count(),
		P50:   r.Quantile(0.50),
		P90:   r.Quantile(0.90),
		P99:   r.Quantile(0.99),
	}
}

// Reset discards all recorded observations.
func (r *LatencyRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count = 0
	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		r.sketch = sketch
	}
}

// LatencySnapshot is a point-in-time view of write latency quantiles.
type LatencySnapshot struct {
	Count int64
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
}
