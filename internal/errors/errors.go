// Package errors provides the error taxonomy for the storage engine.
//
// All rejections are sentinel errors so callers can route on them with
// errors.Is. Errors surfaced from the write path are never partially
// applied: a rejected bar leaves no record behind.
package errors

import (
	"errors"
	"fmt"
)

var (
	// Validation errors - malformed bars, rejected at the boundary.
	ErrNegativeVolume     = errors.New("negative volume")
	ErrNegativeTradeCount = errors.New("negative trade count")
	ErrZeroTimestamp      = errors.New("zero timestamp")
	ErrFractionalVolume   = errors.New("fractional volume on stock series")
	ErrMissingSymbol      = errors.New("missing symbol")

	// Routing errors - the write or read targets something that does not
	// exist or does not match.
	ErrUnknownSeries = errors.New("unknown series")
	ErrUnknownAsset  = errors.New("unknown asset")
	ErrAssetMismatch = errors.New("asset class does not match series")
	ErrInactiveAsset = errors.New("asset is inactive")

	// Chunk lifecycle errors.
	ErrImmutableChunk = errors.New("chunk is compressed and immutable")
	ErrChunkInUse     = errors.New("chunk is referenced by an active reader")

	// Service state errors.
	ErrServiceNotRunning = errors.New("service not running")
	ErrAlreadyRunning    = errors.New("service already running")

	// Writer state errors.
	ErrWriterClosed = errors.New("writer is closed")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// IsValidation returns true if err is a bar validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNegativeVolume) ||
		errors.Is(err, ErrNegativeTradeCount) ||
		errors.Is(err, ErrZeroTimestamp) ||
		errors.Is(err, ErrFractionalVolume) ||
		errors.Is(err, ErrMissingSymbol)
}

// IsRejected returns true if err is any boundary rejection: the write was
// refused before touching chunk state.
func IsRejected(err error) bool {
	return IsValidation(err) ||
		errors.Is(err, ErrUnknownSeries) ||
		errors.Is(err, ErrUnknownAsset) ||
		errors.Is(err, ErrAssetMismatch) ||
		errors.Is(err, ErrInactiveAsset)
}

// Wrap adds context to an error while preserving the sentinel for errors.Is.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
