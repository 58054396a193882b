// bardbd is the bar storage daemon.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/quantarchive/bardb/internal/assets"
	"github.com/quantarchive/bardb/internal/logging"
	"github.com/quantarchive/bardb/internal/storage"
	"github.com/quantarchive/bardb/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "bardb.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	catalogPath := flag.String("catalog", "", "asset catalog database path (overrides config)")
	walSync := flag.String("wal-sync", "", "WAL sync mode: sync, async (overrides config)")
	compact := flag.Bool("compact", false, "enable the background compression scheduler")
	reap := flag.Bool("reap", false, "enable the background retention reaper")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "force JSON log output")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("bardbd %s\n", Version)
		return
	}

	// JSON when detached, text on a terminal, unless forced.
	jsonFormat := *logJSON || !term.IsTerminal(int(os.Stderr.Fd()))
	logging.Init(parseLevel(*logLevel), jsonFormat)
	logging.Info("bardbd starting", "version", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = config.DefaultConfig()
		} else {
			logging.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *catalogPath != "" {
		cfg.Catalog.Path = *catalogPath
	}
	if *walSync != "" {
		cfg.WAL.SyncMode = *walSync
	}
	if *compact {
		cfg.Compaction.Enabled = true
	}
	if *reap {
		cfg.Retention.Enabled = true
	}

	// =========================================================================
	// Initialize Asset Catalog (DuckDB - reference data)
	// =========================================================================

	logging.Info("opening asset catalog", "path", cfg.CatalogPath())

	assetStore, err := assets.Open(cfg.CatalogPath())
	if err != nil {
		logging.Error("open asset catalog", "error", err)
		os.Exit(1)
	}

	// =========================================================================
	// Initialize Storage (Parquet + WAL - bar data)
	// =========================================================================

	logging.Info("initializing storage", "data_dir", cfg.DataDir)

	svc, err := storage.New(cfg, assetStore)
	if err != nil {
		assetStore.Close()
		logging.Error("create storage", "error", err)
		os.Exit(1)
	}

	if err := svc.Start(); err != nil {
		assetStore.Close()
		logging.Error("start storage", "error", err)
		os.Exit(1)
	}

	logging.Info("storage started",
		"data_dir", cfg.DataDir,
		"wal_sync", cfg.WAL.SyncMode,
		"compaction", cfg.Compaction.Enabled,
		"retention", cfg.Retention.Enabled)

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logging.Info("shutting down")

	// Stop storage first (flush WAL, stop background sweeps)
	if err := svc.Stop(); err != nil {
		logging.Warn("storage stop", "error", err)
	}

	// Close asset catalog last
	if err := assetStore.Close(); err != nil {
		logging.Warn("asset catalog close", "error", err)
	}

	st := svc.Stats()
	logging.Info("stopped",
		"uptime", st.Uptime.Round(time.Second).String(),
		"bars_written", st.BarsWritten)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
