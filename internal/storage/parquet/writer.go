package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/shopspring/decimal"

	apperrors "github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int

	// PageSize is the target page size in bytes
	PageSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
		RowGroupSize:     100000,
		PageSize:         1024 * 1024, // 1MB
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// BarRow represents a bar in Parquet format. Decimal fields are stored as
// strings to preserve exact scale across write and read.
type BarRow struct {
	Symbol      string  `parquet:"symbol,zstd"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Open        string  `parquet:"open,zstd"`
	High        string  `parquet:"high,zstd"`
	Low         string  `parquet:"low,zstd"`
	Close       string  `parquet:"close,zstd"`
	Volume      string  `parquet:"volume,zstd"`
	TradeCount  *int64  `parquet:"trade_count,optional"`
	VWAP        *string `parquet:"vwap,optional,zstd"`
}

// BarToRow converts a Bar to a BarRow.
func BarToRow(b *types.Bar) BarRow {
	row := BarRow{
		Symbol:      b.Symbol,
		TimestampMs: b.Timestamp.UnixMilli(),
		Open:        types.FormatDecimal(b.Open),
		High:        types.FormatDecimal(b.High),
		Low:         types.FormatDecimal(b.Low),
		Close:       types.FormatDecimal(b.Close),
		Volume:      types.FormatDecimal(b.Volume),
		TradeCount:  b.TradeCount,
	}
	if b.VWAP != nil {
		s := types.FormatDecimal(*b.VWAP)
		row.VWAP = &s
	}
	return row
}

// RowToBar converts a BarRow back to a Bar.
func RowToBar(r *BarRow) (types.Bar, error) {
	bar := types.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.TimestampMs).UTC(),
		TradeCount: r.TradeCount,
	}

	var err error
	if bar.Open, err = decimal.NewFromString(r.Open); err != nil {
		return types.Bar{}, fmt.Errorf("parse open %q: %w", r.Open, err)
	}
	if bar.High, err = decimal.NewFromString(r.High); err != nil {
		return types.Bar{}, fmt.Errorf("parse high %q: %w", r.High, err)
	}
	if bar.Low, err = decimal.NewFromString(r.Low); err != nil {
		return types.Bar{}, fmt.Errorf("parse low %q: %w", r.Low, err)
	}
	if bar.Close, err = decimal.NewFromString(r.Close); err != nil {
		return types.Bar{}, fmt.Errorf("parse close %q: %w", r.Close, err)
	}
	if bar.Volume, err = decimal.NewFromString(r.Volume); err != nil {
		return types.Bar{}, fmt.Errorf("parse volume %q: %w", r.Volume, err)
	}
	if r.VWAP != nil {
		v, err := decimal.NewFromString(*r.VWAP)
		if err != nil {
			return types.Bar{}, fmt.Errorf("parse vwap %q: %w", *r.VWAP, err)
		}
		bar.VWAP = &v
	}

	return bar, nil
}

// ChunkFilename returns the file name for a chunk covering [start, end).
func ChunkFilename(start, end time.Time) string {
	return fmt.Sprintf("%d-%d.parquet", start.UnixMilli(), end.UnixMilli())
}

// ParseChunkFilename recovers chunk bounds from a file name produced by
// ChunkFilename. Returns false for names in any other shape.
func ParseChunkFilename(name string) (start, end time.Time, ok bool) {
	base := strings.TrimSuffix(name, ".parquet")
	if base == name {
		return time.Time{}, time.Time{}, false
	}

	startStr, endStr, found := strings.Cut(base, "-")
	if !found {
		return time.Time{}, time.Time{}, false
	}

	startMs, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	endMs, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	if endMs <= startMs {
		return time.Time{}, time.Time{}, false
	}

	return time.UnixMilli(startMs).UTC(), time.UnixMilli(endMs).UTC(), true
}

// BarWriter writes bars to a Parquet file.
type BarWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[BarRow]
	rowCount int64
	closed   bool
}

// NewBarWriter creates a new bar Parquet writer.
func NewBarWriter(path string, opts Options) (*BarWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}

	writer := parquet.NewGenericWriter[BarRow](f, writerOpts...)

	return &BarWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes bars to the Parquet file.
func (w *BarWriter) Write(bars []types.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return apperrors.ErrWriterClosed
	}

	rows := make([]BarRow, len(bars))
	for i := range bars {
		rows[i] = BarToRow(&bars[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *BarWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *BarWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *BarWriter) Path() string {
	return w.path
}

// WriteChunkFile writes bars into dir under the chunk naming convention and
// returns the resulting path. The write goes through a temp file and rename
// so readers never observe a partially written chunk.
func WriteChunkFile(dir string, start, end time.Time, bars []types.Bar, opts Options) (string, error) {
	final := filepath.Join(dir, ChunkFilename(start, end))
	tmp := final + ".tmp"

	w, err := NewBarWriter(tmp, opts)
	if err != nil {
		return "", err
	}
	if err := w.Write(bars); err != nil {
		w.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename chunk file: %w", err)
	}
	return final, nil
}
