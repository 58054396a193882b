package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantarchive/bardb/internal/storage/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.Compaction.Enabled {
		t.Error("compaction should be disabled by default")
	}
	if cfg.Retention.Enabled {
		t.Error("retention should be disabled by default")
	}
}

func TestValidate(t *testing.T) {
	negative := Duration(-time.Hour)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing data dir",
			mutate:  func(c *Config) { c.DataDir = "" },
			wantErr: true,
		},
		{
			name:    "bad sync mode",
			mutate:  func(c *Config) { c.WAL.SyncMode = "eventually" },
			wantErr: true,
		},
		{
			name:    "fsync is not a sync mode",
			mutate:  func(c *Config) { c.WAL.SyncMode = "fsync" },
			wantErr: true,
		},
		{
			name:    "bad compression algorithm",
			mutate:  func(c *Config) { c.Compression.Algorithm = "brotli" },
			wantErr: true,
		},
		{
			name: "enabled compaction needs interval",
			mutate: func(c *Config) {
				c.Compaction.Enabled = true
				c.Compaction.Interval = 0
			},
			wantErr: true,
		},
		{
			name: "unknown series class",
			mutate: func(c *Config) {
				c.Series = []SeriesConfig{{Class: "forex", Resolution: "1m"}}
			},
			wantErr: true,
		},
		{
			name: "duplicate series",
			mutate: func(c *Config) {
				c.Series = []SeriesConfig{
					{Class: "crypto", Resolution: "1m"},
					{Class: "crypto", Resolution: "1m"},
				}
			},
			wantErr: true,
		},
		{
			name: "zero retention horizon",
			mutate: func(c *Config) {
				c.Series = []SeriesConfig{{
					Class: "crypto", Resolution: "1m",
					RetentionHorizon: &negative,
				}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
data_dir: /tmp/bardb-test
compaction:
  enabled: true
  interval: 5m
series:
  - class: crypto
    resolution: 1m
    chunk_span: 168h
    compression_age: 72h
    retention_horizon: 720h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DataDir != "/tmp/bardb-test" {
		t.Errorf("unexpected data dir %s", cfg.DataDir)
	}
	if !cfg.Compaction.Enabled || cfg.Compaction.Interval.Std() != 5*time.Minute {
		t.Error("compaction settings not applied")
	}

	if len(cfg.Series) != 1 {
		t.Fatalf("expected 1 series override, got %d", len(cfg.Series))
	}
	s := cfg.Series[0]
	if s.ChunkSpan.Std() != 7*24*time.Hour {
		t.Errorf("unexpected chunk span %v", s.ChunkSpan)
	}
	if s.RetentionHorizon == nil || s.RetentionHorizon.Std() != 30*24*time.Hour {
		t.Error("retention horizon not parsed")
	}

	// Retention stays off unless enabled, even with per-series horizons.
	if cfg.Retention.Enabled {
		t.Error("retention should remain disabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	for _, id := range types.AllSeries() {
		if _, err := os.Stat(cfg.SeriesDir(id)); err != nil {
			t.Errorf("series dir for %s missing: %v", id, err)
		}
	}
	if _, err := os.Stat(cfg.WALDir()); err != nil {
		t.Errorf("wal dir missing: %v", err)
	}
}
