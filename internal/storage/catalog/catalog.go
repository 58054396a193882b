// Package catalog holds the fixed set of bar series and their per-series
// policy knobs: chunk span, compression age, and retention horizon.
package catalog

import (
	"sort"
	"sync"
	"time"

	apperrors "github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/storage/config"
	"github.com/quantarchive/bardb/internal/storage/partition"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// Series is one registered bar series plus its lifecycle policy.
type Series struct {
	ID    types.SeriesID
	Index *partition.Index

	dir string

	mu               sync.RWMutex
	compressionAge   time.Duration
	retentionHorizon *time.Duration // nil keeps data forever
}

// Dir returns the directory holding this series' chunk files.
func (s *Series) Dir() string { return s.dir }

// CompressionAge returns how old a chunk must be before it is compressed.
func (s *Series) CompressionAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compressionAge
}

// SetCompressionAge updates the compression age.
func (s *Series) SetCompressionAge(age time.Duration) {
	s.mu.Lock()
	s.compressionAge = age
	s.mu.Unlock()
}

// RetentionHorizon returns how far back data is kept, or nil for forever.
func (s *Series) RetentionHorizon() *time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.retentionHorizon == nil {
		return nil
	}
	h := *s.retentionHorizon
	return &h
}

// SetRetentionHorizon updates the retention horizon. A nil horizon disables
// reaping for this series.
func (s *Series) SetRetentionHorizon(horizon *time.Duration) {
	s.mu.Lock()
	if horizon == nil {
		s.retentionHorizon = nil
	} else {
		h := *horizon
		s.retentionHorizon = &h
	}
	s.mu.Unlock()
}

// Catalog is the registry of all series. The set is fixed at construction;
// only per-series policy changes at runtime.
type Catalog struct {
	series map[types.SeriesID]*Series
}

// New builds the catalog from configuration. Every (asset class, resolution)
// combination gets a series; entries in cfg.Series override the defaults for
// the series they name.
func New(cfg *config.Config) (*Catalog, error) {
	overrides := make(map[types.SeriesID]config.SeriesConfig)
	for _, sc := range cfg.Series {
		id, err := sc.ID()
		if err != nil {
			return nil, err
		}
		overrides[id] = sc
	}

	c := &Catalog{series: make(map[types.SeriesID]*Series)}
	for _, id := range types.AllSeries() {
		span := id.Resolution.DefaultChunkSpan()
		age := config.DefaultCompressionAge
		var horizon *time.Duration

		if sc, ok := overrides[id]; ok {
			if sc.ChunkSpan > 0 {
				span = sc.ChunkSpan.Std()
			}
			if sc.CompressionAge > 0 {
				age = sc.CompressionAge.Std()
			}
			if sc.RetentionHorizon != nil {
				h := sc.RetentionHorizon.Std()
				horizon = &h
			}
		}

		c.series[id] = &Series{
			ID:               id,
			Index:            partition.New(id, span),
			dir:              cfg.SeriesDir(id),
			compressionAge:   age,
			retentionHorizon: horizon,
		}
	}

	return c, nil
}

// Get returns the series with the given id.
func (c *Catalog) Get(id types.SeriesID) (*Series, error) {
	s, ok := c.series[id]
	if !ok {
		return nil, apperrors.ErrUnknownSeries
	}
	return s, nil
}

// All returns every series in a stable order.
func (c *Catalog) All() []*Series {
	out := make([]*Series, 0, len(c.series))
	for _, s := range c.series {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
