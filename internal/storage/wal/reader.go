package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Reader reads entries from WAL segment files.
type Reader struct {
	path string
	file *os.File

	// Statistics
	stats ReaderStats
}

// ReaderStats holds WAL reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	BarsRead       int64
	BytesRead      int64
	CorruptRecords int64
}

// NewReader creates a new WAL reader for a segment file.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	// Verify header
	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x", uint64(walMagic), magic)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{
		path: path,
		file: f,
	}, nil
}

// ReadAll reads all entries from the segment. Corrupt or torn records are
// counted and skipped; a crash mid-append must not block replay of the
// records written before it.
func (r *Reader) ReadAll() ([]Entry, error) {
	var entries []Entry

	for {
		entry, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.stats.CorruptRecords++
			continue
		}

		entries = append(entries, *entry)
	}

	return entries, nil
}

// ReadRecord reads the next record from the segment.
// Returns io.EOF when there are no more records.
func (r *Reader) ReadRecord() (*Entry, error) {
	// Read record header
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	// Sanity check length
	if length > 100*1024*1024 { // 100MB max
		return nil, fmt.Errorf("record too large: %d bytes", length)
	}

	// Read payload
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	// Verify CRC
	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actualCRC)
	}

	entry, err := decodeEntry(payload)
	if err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}

	r.stats.RecordsRead++
	r.stats.BarsRead += int64(len(entry.Bars))
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	return entry, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment is a convenience function to read all entries from a segment file.
func ReadSegment(path string) ([]Entry, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// ReadAllSegments reads all entries from multiple segment files.
// Segments are read in order, which preserves append order across rotation
// and lets last-writer-wins replay reproduce the pre-crash state.
func ReadAllSegments(paths []string) ([]Entry, error) {
	var entries []Entry

	for _, path := range paths {
		segEntries, err := ReadSegment(path)
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", path, err)
		}
		entries = append(entries, segEntries...)
	}

	return entries, nil
}
