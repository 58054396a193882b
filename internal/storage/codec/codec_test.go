package codec

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/storage/types"
)

func validBar() types.Bar {
	return types.Bar{
		Symbol:    "BTC/USD",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC),
		Open:      decimal.NewFromInt(42000),
		High:      decimal.NewFromInt(42100),
		Low:       decimal.NewFromInt(41900),
		Close:     decimal.NewFromInt(42050),
		Volume:    decimal.RequireFromString("1.5"),
	}
}

func TestValidate(t *testing.T) {
	negCount := int64(-1)

	tests := []struct {
		name    string
		class   types.AssetClass
		mutate  func(*types.Bar)
		wantErr error
	}{
		{
			name:   "valid crypto bar",
			class:  types.AssetCrypto,
			mutate: func(b *types.Bar) {},
		},
		{
			name:    "missing symbol",
			class:   types.AssetCrypto,
			mutate:  func(b *types.Bar) { b.Symbol = "" },
			wantErr: errors.ErrMissingSymbol,
		},
		{
			name:    "zero timestamp",
			class:   types.AssetCrypto,
			mutate:  func(b *types.Bar) { b.Timestamp = time.Time{} },
			wantErr: errors.ErrZeroTimestamp,
		},
		{
			name:    "negative volume",
			class:   types.AssetCrypto,
			mutate:  func(b *types.Bar) { b.Volume = decimal.NewFromInt(-1) },
			wantErr: errors.ErrNegativeVolume,
		},
		{
			name:    "negative trade count",
			class:   types.AssetCrypto,
			mutate:  func(b *types.Bar) { b.TradeCount = &negCount },
			wantErr: errors.ErrNegativeTradeCount,
		},
		{
			name:    "fractional stock volume",
			class:   types.AssetStock,
			mutate:  func(b *types.Bar) { b.Volume = decimal.RequireFromString("10.5") },
			wantErr: errors.ErrFractionalVolume,
		},
		{
			name:   "integral stock volume",
			class:  types.AssetStock,
			mutate: func(b *types.Bar) { b.Volume = decimal.NewFromInt(1000) },
		},
		{
			name:  "fractional crypto volume allowed",
			class: types.AssetCrypto,
			mutate: func(b *types.Bar) {
				b.Volume = decimal.RequireFromString("0.0001")
			},
		},
		{
			// The source schema does not constrain OHLC ordering.
			name:  "inverted high low passes",
			class: types.AssetCrypto,
			mutate: func(b *types.Bar) {
				b.High = decimal.NewFromInt(1)
				b.Low = decimal.NewFromInt(100)
			},
		},
		{
			name:  "negative prices pass",
			class: types.AssetCrypto,
			mutate: func(b *types.Bar) {
				b.Open = decimal.NewFromInt(-5)
				b.Close = decimal.NewFromInt(-3)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := validBar()
			tt.mutate(&bar)

			err := Validate(tt.class, &bar)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.IsValidation(err) {
				t.Errorf("error %v should classify as validation", err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	zone := time.FixedZone("UTC+4", 4*3600)
	bar := validBar()
	bar.Timestamp = time.Date(2024, 1, 1, 4, 0, 30, 0, zone)

	out := Normalize(bar)
	if out.Timestamp.Location() != time.UTC {
		t.Error("timestamp should be normalized to UTC")
	}
	if !out.Timestamp.Equal(bar.Timestamp) {
		t.Error("normalization must not change the instant")
	}
}
