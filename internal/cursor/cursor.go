// Package cursor implements the sorted cursor of spec §4.7: a
// random-access cursor over a 1-D sorted tuple stream, exposing
// end/getTuple/next/getIdx/setIdx. It is the pull-based, index-addressable
// counterpart to extsort's forward-only Scanner, needed because the
// sort-merge kernel's right cursor must rewind over a duplicate-key run
// (spec §4.11 step 4) — something a pure forward iterator cannot do
// without buffering the whole run itself.
package cursor

import (
	"github.com/csvquery/equijoin/internal/blockio"
	"github.com/csvquery/equijoin/internal/jointuple"
)

// source abstracts the two backings a SortedCursor can ride on: a fully
// in-memory tuple slice, or a blockio.Reader over a spilled, sorted run.
// Both already give O(1)-ish random access; blockio.Reader additionally
// caches its last-decompressed block, so setIdx "efficiently reuses the
// current chunk iterator when i falls in the same chunk" (spec §4.7) for
// free.
type source interface {
	Len() int64
	TupleAt(idx int64) (jointuple.Tuple, error)
}

type memSource []jointuple.Tuple

func (m memSource) Len() int64 { return int64(len(m)) }
func (m memSource) TupleAt(idx int64) (jointuple.Tuple, error) {
	return m[idx], nil
}

type blockSource struct{ br *blockio.Reader }

func (b blockSource) Len() int64 { return b.br.RowCount() }
func (b blockSource) TupleAt(idx int64) (jointuple.Tuple, error) {
	return b.br.TupleAt(idx)
}

// SortedCursor is the spec §4.7 cursor.
type SortedCursor struct {
	src source
	idx int64
}

// NewInMemory builds a SortedCursor over an already (hash,keys)-sorted
// in-memory tuple slice.
func NewInMemory(tuples []jointuple.Tuple) *SortedCursor {
	return &SortedCursor{src: memSource(tuples)}
}

// NewFromBlockReader builds a SortedCursor over a spilled, sorted run.
func NewFromBlockReader(br *blockio.Reader) *SortedCursor {
	return &SortedCursor{src: blockSource{br: br}}
}

// End reports whether the cursor has advanced past the last tuple.
func (c *SortedCursor) End() bool { return c.idx >= c.src.Len() }

// GetTuple returns the tuple at the current position. Calling it at End()
// raises E-INVARIANT (spec §4.4/§4.7's "iterating past end... raise
// 'internal invariant violated'").
func (c *SortedCursor) GetTuple() (jointuple.Tuple, error) {
	if c.End() {
		return jointuple.Tuple{}, invariantPastEnd()
	}
	return c.src.TupleAt(c.idx)
}

// Next advances the cursor by one position.
func (c *SortedCursor) Next() { c.idx++ }

// GetIdx returns the cursor's absolute row index.
func (c *SortedCursor) GetIdx() int64 { return c.idx }

// SetIdx repositions the cursor to absolute row index i. Any non-negative i
// is accepted (spec §4.7): the merge kernel's rewind moves backwards within
// the current duplicate-key run, which is the one case this is exercised
// for.
func (c *SortedCursor) SetIdx(i int64) { c.idx = i }

// Len returns the total number of tuples in the underlying stream.
func (c *SortedCursor) Len() int64 { return c.src.Len() }
