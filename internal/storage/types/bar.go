package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single OHLCV bar for one symbol at one instant.
// This is the primary data unit flowing through the storage engine.
type Bar struct {
	// Identity within a chunk
	Symbol    string
	Timestamp time.Time // Absolute instant; normalized to UTC on write

	// Prices
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal

	// Volume is decimal because crypto assets trade in fractional units.
	// Stock series carry integral volumes (enforced at the write boundary).
	Volume decimal.Decimal

	// TradeCount is the number of trades in the bar, when the feed provides it.
	TradeCount *int64

	// VWAP is the volume-weighted average price, when the feed provides it.
	VWAP *decimal.Decimal
}

// RowKey uniquely identifies a bar within a chunk.
type RowKey struct {
	Symbol      string
	TimestampMs int64
}

// Key returns the unique (symbol, timestamp) identity of this bar.
func (b *Bar) Key() RowKey {
	return RowKey{Symbol: b.Symbol, TimestampMs: b.Timestamp.UnixMilli()}
}

// TimestampMs returns the bar timestamp as Unix milliseconds.
func (b *Bar) TimestampMs() int64 {
	return b.Timestamp.UnixMilli()
}

// Equal reports whether two bars carry the same identity and values.
func (b *Bar) Equal(o *Bar) bool {
	if b.Symbol != o.Symbol || !b.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if !b.Open.Equal(o.Open) || !b.High.Equal(o.High) ||
		!b.Low.Equal(o.Low) || !b.Close.Equal(o.Close) ||
		!b.Volume.Equal(o.Volume) {
		return false
	}
	if (b.TradeCount == nil) != (o.TradeCount == nil) {
		return false
	}
	if b.TradeCount != nil && *b.TradeCount != *o.TradeCount {
		return false
	}
	if (b.VWAP == nil) != (o.VWAP == nil) {
		return false
	}
	if b.VWAP != nil && !b.VWAP.Equal(*o.VWAP) {
		return false
	}
	return true
}

// FormatDecimal renders d at its own scale: trailing zeros implied by the
// exponent are kept, unlike Decimal.String which trims them. Parsing the
// result reproduces the value exactly, scale included.
func FormatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}
