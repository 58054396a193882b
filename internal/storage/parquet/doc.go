// Package parquet implements columnar chunk files for bar data.
//
// Each compressed chunk is one Parquet file holding every bar of the
// chunk, sorted by symbol ascending and timestamp descending. Prices and
// volumes are stored as decimal strings so values round-trip exactly.
// File names encode the chunk's time bounds, which lets startup recovery
// rebuild the chunk index from a directory listing alone.
package parquet
