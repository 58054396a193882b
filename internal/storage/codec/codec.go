// Package codec validates bar records at the write boundary.
//
// Validation is pure: a bar either passes unchanged or is rejected with a
// sentinel error before any chunk state is touched. OHLC internal ordering
// (high >= low, etc.) is intentionally NOT enforced; the source schema
// carries no such constraint, so illogical bars pass through. Known gap.
package codec

import (
	"github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// Validate checks a bar against the rules for the given asset class.
//
// Rejected: empty symbol, zero timestamp, negative volume, negative
// trade_count, and fractional volume on stock series (stock volumes are
// whole share counts; crypto volumes may be fractional).
func Validate(class types.AssetClass, bar *types.Bar) error {
	if bar.Symbol == "" {
		return errors.ErrMissingSymbol
	}

	// All timestamps are absolute instants. A zero time is the Go analog of
	// a wall-clock-naive timestamp leaking in from an upstream feed.
	if bar.Timestamp.IsZero() {
		return errors.ErrZeroTimestamp
	}

	if bar.Volume.IsNegative() {
		return errors.ErrNegativeVolume
	}

	if bar.TradeCount != nil && *bar.TradeCount < 0 {
		return errors.ErrNegativeTradeCount
	}

	if class == types.AssetStock && !bar.Volume.IsInteger() {
		return errors.ErrFractionalVolume
	}

	return nil
}

// Normalize returns a copy of the bar with its timestamp in UTC.
// Validation does not require UTC; normalizing keeps chunk bookkeeping
// and scan ordering independent of the feed's zone.
func Normalize(bar types.Bar) types.Bar {
	bar.Timestamp = bar.Timestamp.UTC()
	return bar
}
