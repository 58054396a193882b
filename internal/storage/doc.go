// Package storage implements a time-partitioned storage engine for OHLCV
// market-data bars.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Service   │────▶│     WAL     │     │   Parquet   │
//	│  (PutBar)   │     │  (append)   │     │   Writer    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	       │                                       ▲
//	       ▼                                       │
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Partition  │────▶│   Mutable   │────▶│ Compressed  │
//	│    Index    │     │    Chunk    │     │    Chunk    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//
// Bars land in mutable chunks keyed by (symbol, timestamp) with
// last-write-wins semantics. Each series partitions time into fixed-width
// chunks anchored at a common epoch. A background scheduler compresses aging
// chunks into Parquet files; compression is one-way, and compressed chunks
// reject writes. A retention reaper deletes whole chunks past a per-series
// horizon. Both sweeps are disabled by default.
//
// The storage system provides:
//   - Validated writes with per-asset-class volume rules
//   - WAL durability for mutable chunks, replayed on startup
//   - Parquet columnar files for compressed chunks, lazily loaded on read
//   - Snapshot-isolated range scans across chunk states
//   - DDSketch-based write latency percentiles
//   - Per-series compression age and retention horizon policies
package storage
