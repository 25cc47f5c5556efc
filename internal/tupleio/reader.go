// Package tupleio adapts between peering's chunked cell arrays and
// in-memory jointuple.Tuple sequences (spec §4.5), grounded on csvquery's
// own scanner→sorter pipeline (internal_teacher/indexer/scanner.go feeds
// internal_teacher/indexer/sorter.go one IndexRecord at a time): Reader is
// the scanner side, Writer is the sorter-input side, generalized from CSV
// rows to arbitrary-width typed tuples and from one fixed record shape to
// the three output layouts spec §4.5 requires.
package tupleio

import (
	"github.com/csvquery/equijoin/internal/bitset"
	"github.com/csvquery/equijoin/internal/chunkfilter"
	"github.com/csvquery/equijoin/internal/joinconfig"
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/peering"
)

// Reader is a lazy, finite, pull-based sequence of Tuples built from a
// peering.Array (spec §4.5 "Reader"). Construct with NewReader and drain
// with Next until ok is false.
type Reader struct {
	chunks  peering.ChunkIterator
	mapping []jointuple.ColumnMapping
	numKeys int
	width   int

	cf    *chunkfilter.ChunkFilter // optional, rejects whole chunks
	probe *bitset.BloomFilter      // optional, rejects individual tuples

	curChunk peering.Chunk
	curCells []peering.Cell
	curIdx   int
	loaded   bool
}

// NewReader builds a Reader over arr using the given column mapping (from
// joinconfig.BuildMapping) and width (the mapping's returned tuple size).
// cf and probe are both optional (nil disables the corresponding filter
// pass).
func NewReader(arr peering.Array, mapping []jointuple.ColumnMapping, numKeys, width int, cf *chunkfilter.ChunkFilter, probe *bitset.BloomFilter) *Reader {
	return &Reader{
		chunks:  arr.Chunks(),
		mapping: mapping,
		numKeys: numKeys,
		width:   width,
		cf:      cf,
		probe:   probe,
	}
}

// Next returns the next surviving tuple, or ok=false once the input and all
// its chunks are exhausted.
func (r *Reader) Next() (jointuple.Tuple, bool, error) {
	for {
		if !r.loaded || r.curIdx >= len(r.curCells) {
			ok, err := r.advanceChunk()
			if err != nil {
				return jointuple.Tuple{}, false, err
			}
			if !ok {
				return jointuple.Tuple{}, false, nil
			}
			continue
		}
		cell := r.curCells[r.curIdx]
		r.curIdx++

		t := r.buildTuple(cell)
		if t.HasNullKey(r.numKeys) {
			continue
		}
		if r.probe != nil && !r.probe.HasTuple(t, r.numKeys) {
			continue
		}
		return t, true, nil
	}
}

func (r *Reader) advanceChunk() (bool, error) {
	for {
		chunk, ok, err := r.chunks.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			r.loaded = false
			return false, nil
		}
		if r.cf != nil && !r.cf.ContainsChunk(chunk.Origin) {
			continue
		}
		r.curChunk = chunk
		r.curCells = chunk.Cells
		r.curIdx = 0
		r.loaded = true
		return true, nil
	}
}

func (r *Reader) buildTuple(cell peering.Cell) jointuple.Tuple {
	values := make([]jointuple.Value, r.width)
	for i := range values {
		values[i] = jointuple.NullValue(jointuple.KindInt64)
	}
	for _, m := range r.mapping {
		if m.TargetPos < 0 {
			continue
		}
		if joinconfig.IsDimension(m.SourceOrdinal) {
			dimIdx := joinconfig.DimIndex(m.SourceOrdinal)
			values[m.TargetPos] = jointuple.Int64Value(cell.Coords[dimIdx])
			continue
		}
		values[m.TargetPos] = cell.Attributes[m.SourceOrdinal]
	}
	return jointuple.Tuple{Values: values}
}
