// Package bitset implements the join core's BitVector and BloomFilter
// (spec §4.2), grounded on csvquery's own internal/common/bloom.go for the
// serialization shape (a fixed header followed by raw bits, loadable via
// mmap) but swapped from CRC32 double-hashing to the spec-mandated
// MurmurHash3 two-seed scheme (internal/xhash).
package bitset

import (
	"github.com/csvquery/equijoin/internal/joinerr"
)

// BitVector is a fixed-length bit array with bounds-checked set/get and an
// orIn merge used by BloomFilter.globalExchange.
type BitVector struct {
	bits []uint64
	size int
}

// NewBitVector allocates a BitVector of the given bit length.
func NewBitVector(size int) *BitVector {
	return &BitVector{bits: make([]uint64, (size+63)/64), size: size}
}

// Len returns the bit length.
func (v *BitVector) Len() int { return v.size }

// Set sets bit i. Out-of-range i raises E-INVARIANT ("internal invariant
// violated"), per spec §4.2.
func (v *BitVector) Set(i int) {
	if i < 0 || i >= v.size {
		panic(joinerr.Invariant("bit index out of range"))
	}
	v.bits[i/64] |= 1 << uint(i%64)
}

// Get tests bit i.
func (v *BitVector) Get(i int) bool {
	if i < 0 || i >= v.size {
		panic(joinerr.Invariant("bit index out of range"))
	}
	return v.bits[i/64]&(1<<uint(i%64)) != 0
}

// OrIn merges other into v in place. Lengths must match (spec §4.2); a
// mismatch raises E-INVARIANT, since it can only happen if two peers
// disagree on bloomFilterSize — a configuration bug, but one the BitVector
// layer itself cannot distinguish from a corrupted wire message.
func (v *BitVector) OrIn(other *BitVector) error {
	if other.size != v.size {
		return joinerr.Invariant("bit-vector length mismatch in exchange")
	}
	for i := range v.bits {
		v.bits[i] |= other.bits[i]
	}
	return nil
}

// Bytes returns the raw backing words as a little-endian byte slice,
// suitable for wire transfer or persistence.
func (v *BitVector) Bytes() []byte {
	out := make([]byte, len(v.bits)*8)
	for i, w := range v.bits {
		for b := 0; b < 8; b++ {
			out[i*8+b] = byte(w >> uint(b*8))
		}
	}
	return out
}

// FromBytes reconstructs a BitVector of the given bit length from raw bytes
// produced by Bytes.
func FromBytes(size int, data []byte) *BitVector {
	v := NewBitVector(size)
	for i := range v.bits {
		var w uint64
		for b := 0; b < 8 && i*8+b < len(data); b++ {
			w |= uint64(data[i*8+b]) << uint(b*8)
		}
		v.bits[i] = w
	}
	return v
}
