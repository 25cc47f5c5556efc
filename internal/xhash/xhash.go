// Package xhash implements the join core's keyed hashing (spec §4.1).
//
// Two 32-bit non-cryptographic hashes with distinct fixed seeds are computed
// over the raw byte concatenation of a tuple's key Values, in tuple order.
// The algorithm is MurmurHash3 (32-bit) — grounded directly in the original
// SciDB JoinHashTable.h's hand-rolled murmur3_32, but here wired to the
// dedicated ecosystem implementation (github.com/spaolacci/murmur3) rather
// than reproducing the mixing constants by hand, since several sibling repos
// in the retrieval pack already depend on that package for exactly this.
package xhash

import (
	"github.com/spaolacci/murmur3"
)

// SeedPrimary and SeedSecondary are the two fixed seeds spec §4.1 requires:
// s1 for the hash table's bucket/pre-sort hash column, s2 for the bloom
// filter's second hash position.
const (
	SeedPrimary   uint32 = 0x5C1DB123
	SeedSecondary uint32 = 0xACEDBEEF
)

// Sum32WithSeed computes MurmurHash3 (32-bit) of b with the given seed.
func Sum32WithSeed(b []byte, seed uint32) uint32 {
	return murmur3.Sum32WithSeed(b, seed)
}

// KeyHash computes the hash used as the tuple's trailing hash column: the
// primary-seeded MurmurHash3 over the raw concatenated key bytes. The same
// byte layout (numeric little-endian, strings as raw bytes — see
// jointuple.Value.Raw) must be produced by every peer for P-7 to hold.
func KeyHash(keyBytes []byte) uint32 {
	return Sum32WithSeed(keyBytes, SeedPrimary)
}

// BloomPositions returns the two bit positions (mod size) the bloom filter
// must set/test for keyBytes, using the primary and secondary seeds as its
// two independent hash functions (spec §4.2).
func BloomPositions(keyBytes []byte, size int) (p1, p2 int) {
	h1 := Sum32WithSeed(keyBytes, SeedPrimary)
	h2 := Sum32WithSeed(keyBytes, SeedSecondary)
	return int(h1) % size, int(h2) % size
}
