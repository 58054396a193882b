package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantarchive/bardb/internal/storage/types"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// Catalog configures the asset reference store.
	Catalog CatalogConfig `yaml:"catalog"`

	// WAL configures the write-ahead log for mutable chunks.
	WAL WALConfig `yaml:"wal"`

	// Compression configures the columnar layout of compressed chunks.
	Compression CompressionConfig `yaml:"compression"`

	// Compaction configures the background compression scheduler.
	Compaction CompactionConfig `yaml:"compaction"`

	// Retention configures the background retention reaper.
	Retention RetentionConfig `yaml:"retention"`

	// Series overrides per-series defaults. Series not listed here run with
	// the defaults for their resolution.
	Series []SeriesConfig `yaml:"series"`
}

// CatalogConfig configures the asset reference store.
type CatalogConfig struct {
	// Path is the DuckDB database file. Defaults to {DataDir}/assets.db.
	Path string `yaml:"path"`
}

// WALConfig configures the write-ahead log.
type WALConfig struct {
	// Dir is the WAL directory. Defaults to {DataDir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode is the sync mode: async, sync.
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the fsync interval for async mode.
	SyncInterval Duration `yaml:"sync_interval"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// CompressionConfig configures the Parquet layout of compressed chunks.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: snappy, zstd, lz4, gzip, none.
	Algorithm string `yaml:"algorithm"`

	// Level is the compression level (for zstd: 1-22).
	Level int `yaml:"level"`
}

// CompactionConfig configures the compression scheduler.
// Disabled by default: the source ships with compression policies commented
// out, so aging chunks stay mutable until explicitly enabled.
type CompactionConfig struct {
	// Enabled turns the background sweep on.
	Enabled bool `yaml:"enabled"`

	// Interval between sweeps.
	Interval Duration `yaml:"interval"`
}

// RetentionConfig configures the retention reaper.
// Disabled by default, mirroring the source's commented-out retention
// policies. Series without a retention horizon are never reaped even when
// the reaper runs.
type RetentionConfig struct {
	// Enabled turns the background sweep on.
	Enabled bool `yaml:"enabled"`

	// Interval between sweeps.
	Interval Duration `yaml:"interval"`
}

// SeriesConfig carries the per-series tuning knobs.
type SeriesConfig struct {
	// Class is the asset class: stock, crypto.
	Class string `yaml:"class"`

	// Resolution is the bar width: 1m, 5m, 1h, 1d.
	Resolution string `yaml:"resolution"`

	// ChunkSpan is the time width of one chunk. Zero means the default for
	// the resolution.
	ChunkSpan Duration `yaml:"chunk_span"`

	// CompressionAge is how old a chunk's end must be before the scheduler
	// compresses it. Zero means DefaultCompressionAge.
	CompressionAge Duration `yaml:"compression_age"`

	// RetentionHorizon is the age past which chunks are reaped.
	// Nil means never reap this series.
	RetentionHorizon *Duration `yaml:"retention_horizon"`
}

// ID parses the series identity out of a SeriesConfig.
func (s *SeriesConfig) ID() (types.SeriesID, error) {
	class, err := types.ParseAssetClass(s.Class)
	if err != nil {
		return types.SeriesID{}, err
	}
	res, err := types.ParseResolution(s.Resolution)
	if err != nil {
		return types.SeriesID{}, err
	}
	return types.SeriesID{Class: class, Resolution: res}, nil
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/bardb",
		WAL: WALConfig{
			SyncMode:       "async",
			SyncInterval:   Duration(time.Second),
			MaxSegmentSize: 64 * 1024 * 1024, // 64MB
		},
		Compression: CompressionConfig{
			Algorithm: "zstd",
			Level:     3,
		},
		Compaction: CompactionConfig{
			Enabled:  false,
			Interval: Duration(time.Minute),
		},
		Retention: RetentionConfig{
			Enabled:  false,
			Interval: Duration(time.Hour),
		},
	}
}

// DefaultCompressionAge is the compression age applied to series without an
// explicit override.
const DefaultCompressionAge = 30 * 24 * time.Hour
