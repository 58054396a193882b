package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantarchive/bardb/internal/storage/types"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if err := c.WAL.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("wal: %w", err))
	}

	if err := c.Compression.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}

	if c.Compaction.Enabled && c.Compaction.Interval <= 0 {
		errs = append(errs, errors.New("compaction.interval must be positive when enabled"))
	}

	if c.Retention.Enabled && c.Retention.Interval <= 0 {
		errs = append(errs, errors.New("retention.interval must be positive when enabled"))
	}

	seen := make(map[types.SeriesID]bool)
	for i := range c.Series {
		s := &c.Series[i]
		id, err := s.ID()
		if err != nil {
			errs = append(errs, fmt.Errorf("series[%d]: %w", i, err))
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("series[%d]: duplicate series %s", i, id))
		}
		seen[id] = true

		if s.ChunkSpan < 0 {
			errs = append(errs, fmt.Errorf("series[%d]: chunk_span must be non-negative", i))
		}
		if s.CompressionAge < 0 {
			errs = append(errs, fmt.Errorf("series[%d]: compression_age must be non-negative", i))
		}
		if s.RetentionHorizon != nil && *s.RetentionHorizon <= 0 {
			errs = append(errs, fmt.Errorf("series[%d]: retention_horizon must be positive when set", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the WAL configuration.
func (c *WALConfig) Validate() error {
	var errs []error

	switch c.SyncMode {
	case "async", "sync", "":
	default:
		errs = append(errs, errors.New("sync_mode must be one of: async, sync"))
	}

	if c.SyncMode == "async" && c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync_interval must be positive for async mode"))
	}

	if c.MaxSegmentSize < 0 {
		errs = append(errs, errors.New("max_segment_size must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the compression configuration.
func (c *CompressionConfig) Validate() error {
	var errs []error

	switch c.Algorithm {
	case "snappy", "zstd", "lz4", "gzip", "none", "":
	default:
		errs = append(errs, errors.New("algorithm must be one of: snappy, zstd, lz4, gzip, none"))
	}

	if c.Algorithm == "zstd" && (c.Level < 0 || c.Level > 22) {
		errs = append(errs, errors.New("level for zstd must be between 0 and 22"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.WALDir()}
	for _, id := range types.AllSeries() {
		dirs = append(dirs, c.SeriesDir(id))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// WALDir returns the WAL directory path.
func (c *Config) WALDir() string {
	if c.WAL.Dir != "" {
		return c.WAL.Dir
	}
	return filepath.Join(c.DataDir, "wal")
}

// SeriesDir returns the directory holding one series' compressed chunks.
func (c *Config) SeriesDir(id types.SeriesID) string {
	return filepath.Join(c.DataDir, id.Class.String(), id.Resolution.String())
}

// CatalogPath returns the asset store database path.
func (c *Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.DataDir, "assets.db")
}
