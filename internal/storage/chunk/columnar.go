package chunk

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarchive/bardb/internal/storage/types"
)

// Columnar is the read-only layout of a compressed chunk: one segment per
// symbol, symbols ascending, timestamps descending within each segment.
// This mirrors the source's compress_segmentby = symbol,
// compress_orderby = ts DESC.
type Columnar struct {
	// segment index: symbols[i] owns rows [starts[i], starts[i+1]).
	symbols []string
	starts  []int

	tsMs       []int64
	open       []decimal.Decimal
	high       []decimal.Decimal
	low        []decimal.Decimal
	close      []decimal.Decimal
	volume     []decimal.Decimal
	tradeCount []*int64
	vwap       []*decimal.Decimal
}

// FromBars builds the columnar layout from an arbitrary bar slice.
func FromBars(bars []types.Bar) *Columnar {
	ordered := make([]types.Bar, len(bars))
	copy(ordered, bars)

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Symbol != ordered[j].Symbol {
			return ordered[i].Symbol < ordered[j].Symbol
		}
		return ordered[i].Timestamp.UnixMilli() > ordered[j].Timestamp.UnixMilli()
	})

	c := &Columnar{
		tsMs:       make([]int64, 0, len(ordered)),
		open:       make([]decimal.Decimal, 0, len(ordered)),
		high:       make([]decimal.Decimal, 0, len(ordered)),
		low:        make([]decimal.Decimal, 0, len(ordered)),
		close:      make([]decimal.Decimal, 0, len(ordered)),
		volume:     make([]decimal.Decimal, 0, len(ordered)),
		tradeCount: make([]*int64, 0, len(ordered)),
		vwap:       make([]*decimal.Decimal, 0, len(ordered)),
	}

	for i, bar := range ordered {
		if len(c.symbols) == 0 || c.symbols[len(c.symbols)-1] != bar.Symbol {
			c.symbols = append(c.symbols, bar.Symbol)
			c.starts = append(c.starts, i)
		}
		c.tsMs = append(c.tsMs, bar.Timestamp.UnixMilli())
		c.open = append(c.open, bar.Open)
		c.high = append(c.high, bar.High)
		c.low = append(c.low, bar.Low)
		c.close = append(c.close, bar.Close)
		c.volume = append(c.volume, bar.Volume)
		c.tradeCount = append(c.tradeCount, bar.TradeCount)
		c.vwap = append(c.vwap, bar.VWAP)
	}

	return c
}

// Len returns the number of rows.
func (c *Columnar) Len() int {
	return len(c.tsMs)
}

// segment returns the [lo, hi) row range of symbol i.
func (c *Columnar) segment(i int) (int, int) {
	lo := c.starts[i]
	hi := len(c.tsMs)
	if i+1 < len(c.starts) {
		hi = c.starts[i+1]
	}
	return lo, hi
}

// row materializes row i as a Bar.
func (c *Columnar) row(symbol string, i int) types.Bar {
	return types.Bar{
		Symbol:     symbol,
		Timestamp:  msToTime(c.tsMs[i]),
		Open:       c.open[i],
		High:       c.high[i],
		Low:        c.low[i],
		Close:      c.close[i],
		Volume:     c.volume[i],
		TradeCount: c.tradeCount[i],
		VWAP:       c.vwap[i],
	}
}

// Scan returns bars matching the filter in ascending timestamp order
// (then symbol). symbol == "" matches all symbols; the time range is
// half-open [fromMs, toMs).
func (c *Columnar) Scan(symbol string, fromMs, toMs int64) []types.Bar {
	var out []types.Bar

	for si, sym := range c.symbols {
		if symbol != "" && sym != symbol {
			continue
		}

		lo, hi := c.segment(si)

		// Timestamps are descending within the segment; walk it backwards
		// to produce ascending order.
		for i := hi - 1; i >= lo; i-- {
			ts := c.tsMs[i]
			if ts < fromMs || ts >= toMs {
				continue
			}
			out = append(out, c.row(sym, i))
		}
	}

	if symbol == "" {
		// Rows from different segments interleave; restore global order.
		sortBarsAscending(out)
	}
	return out
}

// Bars returns every row in segment order (symbol ascending, timestamp
// descending within a symbol) - the physical layout order.
func (c *Columnar) Bars() []types.Bar {
	out := make([]types.Bar, 0, c.Len())
	for si, sym := range c.symbols {
		lo, hi := c.segment(si)
		for i := lo; i < hi; i++ {
			out = append(out, c.row(sym, i))
		}
	}
	return out
}

// msToTime converts Unix milliseconds to a UTC time.Time.
func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Symbols returns the distinct symbols, ascending.
func (c *Columnar) Symbols() []string {
	out := make([]string, len(c.symbols))
	copy(out, c.symbols)
	return out
}
