package wal

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarchive/bardb/internal/storage/types"
)

// Entry encoding format (binary, little-endian):
// - Series length (2 bytes) + Series string (e.g. "crypto/1m")
// - Bar count (4 bytes)
// - Per bar:
//   - Symbol length (2 bytes) + Symbol string
//   - TimestampMs (8 bytes)
//   - Open/High/Low/Close/Volume as length-prefixed decimal strings
//   - TradeCount presence (1 byte) + TradeCount (8 bytes, if present)
//   - VWAP presence (1 byte) + VWAP decimal string (if present)
//
// Decimals travel as strings so scale survives the round trip.

// Entry is one WAL record: a batch of bars bound for a single series.
type Entry struct {
	Series types.SeriesID
	Bars   []types.Bar
}

// encodeEntry encodes an entry into the binary record payload.
func encodeEntry(e *Entry) ([]byte, error) {
	if len(e.Bars) == 0 {
		return nil, nil
	}

	// Estimate size: ~80 bytes per bar average
	buf := make([]byte, 0, 16+len(e.Bars)*80)

	buf = appendString(buf, e.Series.String())
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Bars)))

	for i := range e.Bars {
		b := &e.Bars[i]

		buf = appendString(buf, b.Symbol)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Timestamp.UnixMilli()))
		buf = appendString(buf, types.FormatDecimal(b.Open))
		buf = appendString(buf, types.FormatDecimal(b.High))
		buf = appendString(buf, types.FormatDecimal(b.Low))
		buf = appendString(buf, types.FormatDecimal(b.Close))
		buf = appendString(buf, types.FormatDecimal(b.Volume))

		if b.TradeCount != nil {
			buf = append(buf, 1)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(*b.TradeCount))
		} else {
			buf = append(buf, 0)
		}

		if b.VWAP != nil {
			buf = append(buf, 1)
			buf = appendString(buf, types.FormatDecimal(*b.VWAP))
		} else {
			buf = append(buf, 0)
		}
	}

	return buf, nil
}

// decodeEntry decodes a binary record payload into an entry.
func decodeEntry(data []byte) (*Entry, error) {
	seriesStr, offset, err := readString(data, 0)
	if err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}

	series, err := types.ParseSeriesID(seriesStr)
	if err != nil {
		return nil, fmt.Errorf("series %q: %w", seriesStr, err)
	}

	if offset+4 > len(data) {
		return nil, fmt.Errorf("data too short for bar count")
	}
	count := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	bars := make([]types.Bar, count)
	for i := 0; i < count; i++ {
		b := &bars[i]

		b.Symbol, offset, err = readString(data, offset)
		if err != nil {
			return nil, fmt.Errorf("bar %d symbol: %w", i, err)
		}

		if offset+8 > len(data) {
			return nil, fmt.Errorf("bar %d: data too short for timestamp", i)
		}
		b.Timestamp = time.UnixMilli(int64(binary.LittleEndian.Uint64(data[offset:]))).UTC()
		offset += 8

		if b.Open, offset, err = readDecimal(data, offset); err != nil {
			return nil, fmt.Errorf("bar %d open: %w", i, err)
		}
		if b.High, offset, err = readDecimal(data, offset); err != nil {
			return nil, fmt.Errorf("bar %d high: %w", i, err)
		}
		if b.Low, offset, err = readDecimal(data, offset); err != nil {
			return nil, fmt.Errorf("bar %d low: %w", i, err)
		}
		if b.Close, offset, err = readDecimal(data, offset); err != nil {
			return nil, fmt.Errorf("bar %d close: %w", i, err)
		}
		if b.Volume, offset, err = readDecimal(data, offset); err != nil {
			return nil, fmt.Errorf("bar %d volume: %w", i, err)
		}

		if offset+1 > len(data) {
			return nil, fmt.Errorf("bar %d: data too short for trade count flag", i)
		}
		hasTradeCount := data[offset] == 1
		offset++
		if hasTradeCount {
			if offset+8 > len(data) {
				return nil, fmt.Errorf("bar %d: data too short for trade count", i)
			}
			tc := int64(binary.LittleEndian.Uint64(data[offset:]))
			b.TradeCount = &tc
			offset += 8
		}

		if offset+1 > len(data) {
			return nil, fmt.Errorf("bar %d: data too short for vwap flag", i)
		}
		hasVWAP := data[offset] == 1
		offset++
		if hasVWAP {
			var v decimal.Decimal
			if v, offset, err = readDecimal(data, offset); err != nil {
				return nil, fmt.Errorf("bar %d vwap: %w", i, err)
			}
			b.VWAP = &v
		}
	}

	return &Entry{Series: series, Bars: bars}, nil
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	s := string(data[offset : offset+length])
	return s, offset + length, nil
}

// readDecimal reads a length-prefixed decimal string from the buffer.
func readDecimal(data []byte, offset int) (decimal.Decimal, int, error) {
	s, offset, err := readString(data, offset)
	if err != nil {
		return decimal.Decimal{}, offset, err
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, offset, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, offset, nil
}
