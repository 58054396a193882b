package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/quantarchive/bardb/internal/storage/types"
)

// BarReader reads bars from a Parquet chunk file.
type BarReader struct {
	file   *os.File
	reader *parquet.GenericReader[BarRow]
	path   string
}

// NewBarReader creates a new bar Parquet reader.
func NewBarReader(path string) (*BarReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[BarRow](f)

	return &BarReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n bars from the file. The final batch comes back with a
// nil error; a subsequent call returns io.EOF.
func (r *BarReader) Read(n int) ([]types.Bar, error) {
	rows := make([]BarRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}

	bars := make([]types.Bar, count)
	for i := 0; i < count; i++ {
		bars[i], err = RowToBar(&rows[i])
		if err != nil {
			return nil, err
		}
	}

	return bars, nil
}

// ReadAll reads all bars from the file.
func (r *BarReader) ReadAll() ([]types.Bar, error) {
	numRows := r.reader.NumRows()
	rows := make([]BarRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		bars[i], err = RowToBar(&rows[i])
		if err != nil {
			return nil, err
		}
	}

	return bars, nil
}

// NumRows returns the total number of rows in the file.
func (r *BarReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *BarReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *BarReader) Path() string {
	return r.path
}

// ReadChunkFile reads every bar from a chunk file in one call.
func ReadChunkFile(path string) ([]types.Bar, error) {
	r, err := NewBarReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}
