package tupleio

import (
	"encoding/binary"

	"github.com/csvquery/equijoin/internal/joinerr"
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/peering"
)

// Mode selects one of the three output layouts spec §4.5 requires. Unlike
// a template-parameterised writer, this is an explicit enum dispatching to
// three small methods — SPEC_FULL's §9 DESIGN NOTES callout ("template-
// parameterised ArrayWriter/ArrayReader modes → explicit mode enum").
type Mode int

const (
	// ModePreSort: layout (0, myInstance, row_no); tuple columns + trailing
	// hash + trailing empty-tag.
	ModePreSort Mode = iota
	// ModeSplitOnHash: layout (targetInstance, myInstance, row_no); input
	// tuples already carry a trailing hash column.
	ModeSplitOnHash
	// ModeOutput: layout (myInstance, row_no); optional predicate filter,
	// trailing empty-tag.
	ModeOutput
)

// PredicateFunc evaluates the optional post-join predicate (spec §4.12)
// over an OUTPUT-layout tuple; a false or null result drops the row.
// Returning isNull=true means the predicate's result itself was null.
type PredicateFunc func(t jointuple.Tuple) (result bool, isNull bool, err error)

// Writer assembles tuples into peering.Chunk-shaped output, honoring the
// active chunking/partitioning rules of its Mode, then hands finished
// chunks to Chunks(). It mirrors the scanner→sorter batching shape
// (internal_teacher/indexer/indexer.go buffers IndexRecord batches onto a
// channel per sorter) but produces self-contained chunks instead of a
// channel feed, since the join core's sort/shuffle stages each consume a
// whole Array.
type Writer struct {
	mode        Mode
	myInstance  int
	chunkSize   int
	breakpoints []uint32 // ModeSplitOnHash: exclusive upper bound per target instance
	predicate   PredicateFunc

	finished []peering.Chunk

	curRows      []jointuple.Tuple
	curTarget    int // ModeSplitOnHash: the instance the current chunk is addressed to
	haveTarget   bool
	rowNoInChunk int
	globalRowNo  int64
}

// NewPreSortWriter builds a ModePreSort writer; myInstance tags every row's
// origin instance in the output coordinate space.
func NewPreSortWriter(myInstance, chunkSize int) *Writer {
	return &Writer{mode: ModePreSort, myInstance: myInstance, chunkSize: chunkSize}
}

// NewSplitOnHashWriter builds a ModeSplitOnHash writer with numPartitions
// contiguous hash-space partitions (spec §4.5: "precomputed break points
// partition hash space into N contiguous ranges of (numHashBuckets / N)
// each").
func NewSplitOnHashWriter(myInstance, chunkSize, numPartitions int) *Writer {
	return &Writer{
		mode:        ModeSplitOnHash,
		myInstance:  myInstance,
		chunkSize:   chunkSize,
		breakpoints: hashBreakpoints(numPartitions),
	}
}

// NewOutputWriter builds a ModeOutput writer with an optional post-join
// predicate; pass a nil predicate when none was configured.
func NewOutputWriter(myInstance, chunkSize int, predicate PredicateFunc) *Writer {
	return &Writer{mode: ModeOutput, myInstance: myInstance, chunkSize: chunkSize, predicate: predicate}
}

// hashBreakpoints divides the full uint32 hash space into n contiguous
// ranges of equal width (the last range absorbs any remainder), returning
// each range's exclusive upper bound.
func hashBreakpoints(n int) []uint32 {
	if n <= 0 {
		n = 1
	}
	width := (uint64(1) << 32) / uint64(n)
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		upper := uint64(i+1) * width
		if i == n-1 {
			upper = uint64(1) << 32
		}
		if upper > (uint64(1)<<32 - 1) {
			out[i] = ^uint32(0)
		} else {
			out[i] = uint32(upper)
		}
	}
	return out
}

func targetForHash(hash uint32, breakpoints []uint32) int {
	for i, bp := range breakpoints {
		if hash < bp {
			return i
		}
	}
	return len(breakpoints) - 1
}

// WritePreSort appends t (caller-built, keys + payload, no hash/tag yet)
// tagged with hash, closing the current chunk at chunkSize rows.
func (w *Writer) WritePreSort(t jointuple.Tuple, hash uint32) error {
	if w.mode != ModePreSort {
		return joinerr.Invariant("WritePreSort called on a non-PRE_SORT writer")
	}
	row := WithHash(t, hash)
	w.appendRow(row, w.myInstance)
	return nil
}

// WithHash appends t's trailing hash column plus a present empty-tag, the
// same layout WritePreSort gives a row — exported so a caller that computes
// the hash once up front (the sort-merge driver's split-on-hash phase) can
// tag a tuple before handing it to WriteSplitOnHash without going through
// ModePreSort.
func WithHash(t jointuple.Tuple, hash uint32) jointuple.Tuple {
	return appendHashAndTag(t, hash, true)
}

// WriteSplitOnHash appends t, which already carries a trailing hash column
// (spec §4.5), routing it to the partition targetForHash(hash) selects. A
// new chunk opens whenever the target changes (targets advance
// monotonically because the input arrives hash-sorted) or row_no hits
// chunkSize.
func (w *Writer) WriteSplitOnHash(t jointuple.Tuple) error {
	if w.mode != ModeSplitOnHash {
		return joinerr.Invariant("WriteSplitOnHash called on a non-SPLIT_ON_HASH writer")
	}
	hash := HashColumn(t)
	target := targetForHash(hash, w.breakpoints)
	if w.haveTarget && target < w.curTarget {
		return joinerr.Invariant("hash partition target regressed; input must be hash-sorted ascending")
	}
	if w.haveTarget && target != w.curTarget {
		w.closeChunk()
	}
	w.curTarget = target
	w.haveTarget = true
	w.appendRow(t, target)
	return nil
}

// WriteOutput evaluates the optional predicate (dropping on false/null)
// and, if the row survives, appends it with a trailing true-valued
// empty-tag attribute (spec §4.5 ModeOutput).
func (w *Writer) WriteOutput(t jointuple.Tuple) (kept bool, err error) {
	if w.mode != ModeOutput {
		return false, joinerr.Invariant("WriteOutput called on a non-OUTPUT writer")
	}
	if w.predicate != nil {
		ok, isNull, err := w.predicate(t)
		if err != nil {
			return false, err
		}
		if isNull || !ok {
			return false, nil
		}
	}
	row := appendEmptyTag(t)
	w.appendRow(row, w.myInstance)
	return true, nil
}

func appendHashAndTag(t jointuple.Tuple, hash uint32, tag bool) jointuple.Tuple {
	hashBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(hashBytes, hash)
	values := make([]jointuple.Value, 0, len(t.Values)+2)
	values = append(values, t.Values...)
	values = append(values, jointuple.Value{Kind: jointuple.KindBytes, Raw: hashBytes})
	values = append(values, emptyTagValue(tag))
	return jointuple.Tuple{Values: values}
}

func appendEmptyTag(t jointuple.Tuple) jointuple.Tuple {
	values := make([]jointuple.Value, 0, len(t.Values)+1)
	values = append(values, t.Values...)
	values = append(values, emptyTagValue(true))
	return jointuple.Tuple{Values: values}
}

func emptyTagValue(present bool) jointuple.Value {
	b := byte(0)
	if present {
		b = 1
	}
	return jointuple.Value{Kind: jointuple.KindBytes, Raw: []byte{b}}
}

// HashColumn extracts the trailing hash column a ModePreSort/ModeSplitOnHash
// tuple carries, per §4.11's "the last attribute of the sorted/shuffled
// tuple IS the hash."
func HashColumn(t jointuple.Tuple) uint32 {
	return binary.LittleEndian.Uint32(t.Values[len(t.Values)-2].Raw)
}

// StripTrailer drops the trailing hash+tag (or tag-only) columns a writer
// appended, returning the original key/payload tuple.
func StripTrailer(t jointuple.Tuple, n int) jointuple.Tuple {
	return jointuple.Tuple{Values: t.Values[:len(t.Values)-n]}
}

func (w *Writer) appendRow(t jointuple.Tuple, targetInstance int) {
	w.curRows = append(w.curRows, t)
	w.rowNoInChunk++
	if w.rowNoInChunk >= w.chunkSize {
		w.closeChunk()
	}
	_ = targetInstance
}

// closeChunk materialises the buffered rows as one peering.Chunk addressed
// by this writer's Mode-specific coordinate layout.
func (w *Writer) closeChunk() {
	if len(w.curRows) == 0 {
		return
	}
	var origin []int64
	cells := make([]peering.Cell, len(w.curRows))
	rowStart := w.globalRowNo

	switch w.mode {
	case ModePreSort:
		origin = []int64{0, int64(w.myInstance), rowStart}
		for i, t := range w.curRows {
			cells[i] = peering.Cell{Coords: []int64{0, int64(w.myInstance), rowStart + int64(i)}, Attributes: t.Values}
		}
	case ModeSplitOnHash:
		origin = []int64{int64(w.curTarget), int64(w.myInstance), rowStart}
		for i, t := range w.curRows {
			cells[i] = peering.Cell{Coords: []int64{int64(w.curTarget), int64(w.myInstance), rowStart + int64(i)}, Attributes: t.Values}
		}
	case ModeOutput:
		origin = []int64{int64(w.myInstance), rowStart}
		for i, t := range w.curRows {
			cells[i] = peering.Cell{Coords: []int64{int64(w.myInstance), rowStart + int64(i)}, Attributes: t.Values}
		}
	}

	w.finished = append(w.finished, peering.Chunk{Origin: origin, Cells: cells})
	w.globalRowNo += int64(len(w.curRows))
	w.curRows = nil
	w.rowNoInChunk = 0
}

// Close flushes any partially filled chunk.
func (w *Writer) Close() { w.closeChunk() }

// Chunks returns every finished chunk, in the order they were closed. Call
// after Close.
func (w *Writer) Chunks() []peering.Chunk { return w.finished }

// Array wraps the writer's finished chunks as a peering.Array, ready to
// hand to the next pipeline stage (shuffle, a downstream Reader, or the
// host's result materialisation).
func (w *Writer) Array() peering.Array { return peering.NewMaterialArray(w.finished) }
