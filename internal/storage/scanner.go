package storage

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/quantarchive/bardb/internal/storage/chunk"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// Scanner is a lazy cursor over the bars of one series. It walks chunks
// oldest first and snapshots each chunk only when the cursor reaches it,
// so a long scan never holds more than one chunk's bars in memory.
//
// Every chunk in the cursor's range is pinned when the scanner is built:
// retention skips reaping them until the cursor moves past or is closed.
// A chunk whose file was reaped before the scanner could pin it reads as
// empty rather than failing the scan.
type Scanner struct {
	ctx    context.Context
	chunks []*chunk.Chunk
	symbol string
	from   time.Time
	to     time.Time

	pinned   *chunk.Chunk
	buffer   []types.Bar
	position int
	current  types.Bar
	err      error
	closed   bool
}

// newScanner builds a cursor over the given chunks, assumed oldest first.
// All chunks are pinned immediately so the reaper cannot delete any of them
// while the cursor is live.
func newScanner(ctx context.Context, chunks []*chunk.Chunk, symbol string, from, to time.Time) *Scanner {
	for _, c := range chunks {
		c.Acquire()
	}
	return &Scanner{
		ctx:    ctx,
		chunks: chunks,
		symbol: symbol,
		from:   from,
		to:     to,
	}
}

// Next advances to the next bar. Returns false at the end of the range or
// on error; check Err afterwards.
func (sc *Scanner) Next() bool {
	if sc.closed || sc.err != nil {
		return false
	}
	if err := sc.ctx.Err(); err != nil {
		sc.err = err
		sc.unpin()
		return false
	}

	for sc.position >= len(sc.buffer) {
		sc.unpin()

		if len(sc.chunks) == 0 {
			return false
		}

		c := sc.chunks[0]
		sc.chunks = sc.chunks[1:]
		sc.pinned = c

		bars, err := c.Scan(sc.symbol, sc.from, sc.to)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Reaped before the cursor could pin it; reads as empty.
				continue
			}
			sc.err = err
			return false
		}

		sc.buffer = bars
		sc.position = 0
	}

	sc.current = sc.buffer[sc.position]
	sc.position++
	return true
}

// Bar returns the bar the cursor currently points at. Only valid after a
// true Next.
func (sc *Scanner) Bar() types.Bar {
	return sc.current
}

// Err returns the error that terminated iteration, if any.
func (sc *Scanner) Err() error {
	return sc.err
}

// All drains the cursor into a slice.
func (sc *Scanner) All() ([]types.Bar, error) {
	defer sc.Close()

	var out []types.Bar
	for sc.Next() {
		out = append(out, sc.Bar())
	}
	return out, sc.Err()
}

// Close releases every chunk pin the scanner still holds. Safe to call more
// than once.
func (sc *Scanner) Close() error {
	if sc.closed {
		return nil
	}
	sc.closed = true
	sc.unpin()
	for _, c := range sc.chunks {
		c.Release()
	}
	sc.chunks = nil
	sc.buffer = nil
	return nil
}

func (sc *Scanner) unpin() {
	if sc.pinned != nil {
		sc.pinned.Release()
		sc.pinned = nil
	}
}
