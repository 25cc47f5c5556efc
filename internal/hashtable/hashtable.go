// Package hashtable implements the join core's open-addressing-free
// bucketed hash table (spec §4.4), grounded directly on the original SciDB
// plugin's JoinHashTable (_examples/original_source/JoinHashTable.h):
// a fixed bucket array of singly-linked, index-based entries into a flat,
// append-only Values arena. Entries reference the arena by index rather
// than by pointer, so the arena can grow (reallocate) without invalidating
// any live entry — the same index-chain idiom csvquery uses for its
// arena-style IndexRecord batches, generalized here to a real linked
// structure.
package hashtable

import (
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/joinerr"
	"github.com/csvquery/equijoin/internal/xhash"
)

const noEntry = -1

// entry is one link in a bucket's sorted chain: an index into the Values
// arena plus the next link and the tuple's full (pre-mod) key hash. The
// hash is recorded but not read back; NextAtHash walks the chain by links.
type entry struct {
	valueIdx int
	next     int
	hash     uint32
}

// HashTable is the bucketed hash table of spec §4.4.
type HashTable struct {
	numKeys  int
	numAttrs int // tuple width
	buckets  []int
	entries  []entry
	values   []jointuple.Tuple

	numGroups        int64 // distinct key groups
	numHashes        int64 // distinct hash values observed
	largeValueBytes  int64 // payload bytes beyond the fixed tuple frame
	seenHash         map[uint32]struct{}
}

// New allocates a HashTable with B buckets sized per the memory-limit table
// (hashtable.BucketCount), for tuples of the given width with numKeys
// leading key columns.
func New(numKeys, numAttrs, memoryLimitMB int) *HashTable {
	b := BucketCount(memoryLimitMB)
	buckets := make([]int, b)
	for i := range buckets {
		buckets[i] = noEntry
	}
	return &HashTable{
		numKeys:  numKeys,
		numAttrs: numAttrs,
		buckets:  buckets,
		seenHash: make(map[uint32]struct{}),
	}
}

func (h *HashTable) bucketFor(hash uint32) int {
	return int(hash % uint32(len(h.buckets)))
}

func compareKeys(a, b []jointuple.Value) int {
	for i := range a {
		if c := jointuple.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// Insert hashes tuple.Keys, walks the owning bucket chain maintaining sorted
// order, and links a new entry. Ties (equal keys) are appended at the tail
// of their run, preserving insertion order (I-1). The tuple is copied into
// the Values arena before the entry is linked (I-2).
func (h *HashTable) Insert(t jointuple.Tuple) {
	keyBytes := jointuple.KeyBytes(t, h.numKeys)
	hash := xhash.KeyHash(keyBytes)
	h.insertHashed(t, hash)
}

// InsertHashed links t using a hash computed elsewhere, instead of
// recomputing it from raw key bytes — the pre-tupled insertion path spec
// §4.11's post-shuffle hash fallback uses. That caller computes the hash
// with xhash.KeyHash itself: its tuples no longer carry the trailing hash
// column (tupleio.HashColumn).
func (h *HashTable) InsertHashed(t jointuple.Tuple, hash uint32) {
	h.insertHashed(t, hash)
}

func (h *HashTable) insertHashed(t jointuple.Tuple, hash uint32) {
	bi := h.bucketFor(hash)
	newKeys := t.Keys(h.numKeys)

	prev := noEntry
	cur := h.buckets[bi]
	sawEqual := false
	for cur != noEntry {
		e := h.entries[cur]
		storedKeys := h.values[e.valueIdx].Keys(h.numKeys)
		cmp := compareKeys(storedKeys, newKeys)
		if cmp > 0 {
			break
		}
		if cmp == 0 {
			sawEqual = true
		}
		prev = cur
		cur = e.next
	}

	h.values = append(h.values, t)
	valueIdx := len(h.values) - 1
	h.entries = append(h.entries, entry{valueIdx: valueIdx, next: cur, hash: hash})
	newIdx := len(h.entries) - 1

	if prev == noEntry {
		h.buckets[bi] = newIdx
	} else {
		h.entries[prev].next = newIdx
	}

	if !sawEqual {
		h.numGroups++
	}
	if _, ok := h.seenHash[hash]; !ok {
		h.seenHash[hash] = struct{}{}
		h.numHashes++
	}
	for _, v := range t.Payload(h.numKeys) {
		h.largeValueBytes += int64(len(v.Raw))
	}
	if h.largeValueBytes < 0 {
		panic(joinerr.New(joinerr.EOverflow, "inconsistent state size overflow"))
	}
}

// Contains walks the bucket chain for keys, terminating early once a
// stored key compares greater than the probed key. Returns whether an
// equal-key entry exists and the hash that was computed for keys.
func (h *HashTable) Contains(keys []jointuple.Value) (found bool, hash uint32) {
	keyBytes := make([]byte, 0, 32)
	for _, v := range keys {
		keyBytes = append(keyBytes, v.Raw...)
	}
	hash = xhash.KeyHash(keyBytes)
	bi := h.bucketFor(hash)
	cur := h.buckets[bi]
	for cur != noEntry {
		e := h.entries[cur]
		storedKeys := h.values[e.valueIdx].Keys(h.numKeys)
		cmp := compareKeys(storedKeys, keys)
		if cmp == 0 {
			return true, hash
		}
		if cmp > 0 {
			return false, hash
		}
		cur = e.next
	}
	return false, hash
}

// Values returns the arena's tuples in insertion order — the order
// spec.md's hash-fallback path (§4.11 Phase 3) needs to walk every build
// entry once, at finalize, to emit build-side rows an outer probe never
// matched (the replicate-hash driver never needs this, since §4.9 rule 5
// vetoes an outer build side there, but the sort-merge hash fallback can
// land on an outer build side when the other algorithm direction is
// chosen).
func (h *HashTable) Values() []jointuple.Tuple { return h.values }

// NumGroups, NumHashes and UsedBytes expose the counters spec §3 (I-3)
// requires: usedBytes never decreases.
func (h *HashTable) NumGroups() int64 { return h.numGroups }
func (h *HashTable) NumHashes() int64 { return h.numHashes }
func (h *HashTable) UsedBytes() int64 {
	return int64(len(h.entries))*24 + int64(len(h.values))*int64(h.numAttrs)*16 + h.largeValueBytes
}
