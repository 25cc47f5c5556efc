// Package chunkfilter implements the bloom-backed chunk-origin pruning of
// spec §4.3, layered directly on bitset.BloomFilter the way csvquery layers
// its sparse block index (internal/common/cidx.go) on top of raw bloom
// membership checks to decide which on-disk block is worth reading.
package chunkfilter

import (
	"encoding/binary"

	"github.com/csvquery/equijoin/internal/bitset"
)

// DimMapping describes one build-side join key that corresponds to a
// dimension on the probe side: its chunk interval (chunkSize) and origin
// (the dimension's lower bound), used to compute the chunk-origin a key
// value falls in.
type DimMapping struct {
	ChunkSize int64
	Origin    int64
}

// ChunkFilter records, for the build side, which probe-side chunk origins
// could possibly contain a match. If no join key corresponds to a probe
// dimension (dims is empty), ContainsChunk is pass-through (spec §4.3).
type ChunkFilter struct {
	dims  []DimMapping
	bloom *bitset.BloomFilter
}

// New builds a ChunkFilter over the given probe-side dimension mappings
// (one per build-side join key that maps to a probe dimension) with a bloom
// of the given bit size.
func New(dims []DimMapping, bloomSize int) *ChunkFilter {
	return &ChunkFilter{dims: dims, bloom: bitset.NewBloomFilter(bloomSize)}
}

// chunkOrigin computes floor((key-origin)/chunkSize)*chunkSize + origin,
// per spec §4.3.
func chunkOrigin(key int64, d DimMapping) int64 {
	delta := key - d.Origin
	q := delta / d.ChunkSize
	if delta%d.ChunkSize != 0 && delta < 0 {
		q-- // floor division for negative deltas
	}
	return q*d.ChunkSize + d.Origin
}

func (cf *ChunkFilter) originBytes(keys []int64) []byte {
	buf := make([]byte, 8*len(cf.dims))
	for i, d := range cf.dims {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(chunkOrigin(keys[i], d)))
	}
	return buf
}

// AddTuple records the build-side tuple's key-derived chunk-origin vector.
// keys is the build-side tuple's join-key values expressed as the
// dimension's integer coordinate space (only meaningful for keys that map
// to a probe dimension — see New).
func (cf *ChunkFilter) AddTuple(keys []int64) {
	if len(cf.dims) == 0 {
		return
	}
	cf.bloom.AddData(cf.originBytes(keys))
}

// ContainsChunk reports whether the probe-side chunk whose origin vector is
// origin could possibly contain a match. Pass-through (always true) if no
// join key maps to a probe dimension.
func (cf *ChunkFilter) ContainsChunk(origin []int64) bool {
	if len(cf.dims) == 0 {
		return true
	}
	buf := make([]byte, 8*len(origin))
	for i, o := range origin {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(o))
	}
	return cf.bloom.HasData(buf)
}

// Bloom exposes the underlying BloomFilter for globalExchange.
func (cf *ChunkFilter) Bloom() *bitset.BloomFilter { return cf.bloom }

// GlobalExchange runs the same two-phase all-reduce as
// BloomFilter.GlobalExchange, replacing cf's bloom with the merged result.
func (cf *ChunkFilter) GlobalExchange(ex bitset.Exchanger) error {
	merged, err := cf.bloom.GlobalExchange(ex)
	if err != nil {
		return err
	}
	cf.bloom = merged
	return nil
}

// PassThrough reports whether this filter has no dimension mapping and
// therefore never rejects a chunk.
func (cf *ChunkFilter) PassThrough() bool { return len(cf.dims) == 0 }
