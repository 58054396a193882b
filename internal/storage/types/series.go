package types

import (
	"fmt"
	"strings"
	"time"
)

// AssetClass identifies the asset class of a series.
type AssetClass int

const (
	// AssetStock is exchange-listed equities.
	AssetStock AssetClass = iota
	// AssetCrypto is cryptocurrency pairs. Volumes may be fractional.
	AssetCrypto
)

// String returns the string representation of the asset class.
func (c AssetClass) String() string {
	switch c {
	case AssetStock:
		return "stock"
	case AssetCrypto:
		return "crypto"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseAssetClass parses a string into an AssetClass.
func ParseAssetClass(s string) (AssetClass, error) {
	switch s {
	case "stock":
		return AssetStock, nil
	case "crypto":
		return AssetCrypto, nil
	default:
		return AssetStock, fmt.Errorf("unknown asset class: %s", s)
	}
}

// AllAssetClasses returns all asset classes in order.
func AllAssetClasses() []AssetClass {
	return []AssetClass{AssetStock, AssetCrypto}
}

// Resolution is the bar width of a series.
type Resolution int

const (
	// Res1Min stores 1-minute bars.
	Res1Min Resolution = iota
	// Res5Min stores 5-minute bars.
	Res5Min
	// Res1Hour stores hourly bars.
	Res1Hour
	// Res1Day stores daily bars.
	Res1Day
)

// String returns the string representation of the resolution.
func (r Resolution) String() string {
	switch r {
	case Res1Min:
		return "1m"
	case Res5Min:
		return "5m"
	case Res1Hour:
		return "1h"
	case Res1Day:
		return "1d"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// Duration returns the bar width for this resolution.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Res1Min:
		return time.Minute
	case Res5Min:
		return 5 * time.Minute
	case Res1Hour:
		return time.Hour
	case Res1Day:
		return 24 * time.Hour
	default:
		return 0
	}
}

// DefaultChunkSpan returns the default time width of one chunk for this
// resolution: fine resolutions partition into narrow chunks so compression
// and retention operate on bounded row counts.
func (r Resolution) DefaultChunkSpan() time.Duration {
	switch r {
	case Res1Min:
		return 7 * 24 * time.Hour
	case Res5Min:
		return 30 * 24 * time.Hour
	case Res1Hour:
		return 90 * 24 * time.Hour
	case Res1Day:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseResolution parses a string into a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "1m":
		return Res1Min, nil
	case "5m":
		return Res5Min, nil
	case "1h":
		return Res1Hour, nil
	case "1d":
		return Res1Day, nil
	default:
		return Res1Min, fmt.Errorf("unknown resolution: %s", s)
	}
}

// AllResolutions returns all resolutions in order, finest first.
func AllResolutions() []Resolution {
	return []Resolution{Res1Min, Res5Min, Res1Hour, Res1Day}
}

// SeriesID identifies one logical time-ordered stream of bars.
type SeriesID struct {
	Class      AssetClass
	Resolution Resolution
}

// String returns the "class/resolution" form, e.g. "crypto/1m".
func (s SeriesID) String() string {
	return s.Class.String() + "/" + s.Resolution.String()
}

// ParseSeriesID parses the "class/resolution" form produced by String.
func ParseSeriesID(s string) (SeriesID, error) {
	classStr, resStr, found := strings.Cut(s, "/")
	if !found {
		return SeriesID{}, fmt.Errorf("malformed series id: %s", s)
	}

	class, err := ParseAssetClass(classStr)
	if err != nil {
		return SeriesID{}, err
	}
	res, err := ParseResolution(resStr)
	if err != nil {
		return SeriesID{}, err
	}
	return SeriesID{Class: class, Resolution: res}, nil
}

// AllSeries returns every (asset class, resolution) combination.
func AllSeries() []SeriesID {
	var ids []SeriesID
	for _, c := range AllAssetClasses() {
		for _, r := range AllResolutions() {
			ids = append(ids, SeriesID{Class: c, Resolution: r})
		}
	}
	return ids
}
