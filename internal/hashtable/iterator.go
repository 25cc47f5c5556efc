package hashtable

import (
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/joinerr"
)

// Iterator is the spec §4.4 const_iterator: yields tuples in bucket-major,
// chain order. restart()/end()/next()/nextAtHash()/find()/atKeys() are
// exposed as Restart/End/Next/NextAtHash/Find/AtKeys; mark()/goToMark()
// save and restore a position within the current bucket, used by the
// merge-join fallback to rewind over duplicate-key runs the same way
// cursor.SortedCursor.SetIdx rewinds the merge kernel's right cursor.
type Iterator struct {
	h        *HashTable
	bucket   int
	cur      int // index into h.entries, or noEntry
	marked   int // entries index of the mark, or noMark
	hasMark  bool
}

const noMark = noEntry

// Iterator returns a fresh Iterator positioned before the first bucket.
func (h *HashTable) Iterator() *Iterator {
	it := &Iterator{h: h, bucket: -1, cur: noEntry, marked: noMark}
	it.Restart()
	return it
}

// Restart repositions the iterator to the first non-empty bucket.
func (it *Iterator) Restart() {
	it.bucket = 0
	it.cur = noEntry
	it.hasMark = false
	it.advanceToNonEmptyBucket()
}

func (it *Iterator) advanceToNonEmptyBucket() {
	for it.bucket < len(it.h.buckets) {
		if it.h.buckets[it.bucket] != noEntry {
			it.cur = it.h.buckets[it.bucket]
			return
		}
		it.bucket++
	}
	it.cur = noEntry
}

// End reports whether the iterator has exhausted every bucket.
func (it *Iterator) End() bool { return it.cur == noEntry && it.bucket >= len(it.h.buckets) }

// Tuple returns the tuple at the current position. Calling it past End
// raises E-INVARIANT.
func (it *Iterator) Tuple() (jointuple.Tuple, error) {
	if it.End() {
		return jointuple.Tuple{}, joinerr.Invariant("hash table iterator: read past end")
	}
	return it.h.values[it.h.entries[it.cur].valueIdx], nil
}

// Next advances to the next entry in bucket-major, chain order.
func (it *Iterator) Next() {
	if it.cur == noEntry {
		return
	}
	next := it.h.entries[it.cur].next
	if next != noEntry {
		it.cur = next
		return
	}
	it.bucket++
	it.advanceToNonEmptyBucket()
}

// NextAtHash advances only within the current bucket's chain, stopping at
// end-of-chain rather than crossing into the next bucket — used to walk an
// equal-key run once positioned by Find. Stepping past the chain's last
// entry leaves the iterator at End.
func (it *Iterator) NextAtHash() {
	if it.cur == noEntry {
		return
	}
	it.cur = it.h.entries[it.cur].next
	if it.cur == noEntry {
		it.bucket = len(it.h.buckets)
	}
}

// Find positions the iterator on the first entry whose keys equal keys,
// searching only the owning bucket; if none exists the iterator is left at
// End.
func (it *Iterator) Find(keys []jointuple.Value) bool {
	found, hash := it.h.Contains(keys)
	if !found {
		it.cur = noEntry
		it.bucket = len(it.h.buckets)
		return false
	}
	bi := it.h.bucketFor(hash)
	cur := it.h.buckets[bi]
	for cur != noEntry {
		e := it.h.entries[cur]
		if compareKeys(it.h.values[e.valueIdx].Keys(it.h.numKeys), keys) == 0 {
			it.bucket = bi
			it.cur = cur
			return true
		}
		cur = e.next
	}
	it.cur = noEntry
	it.bucket = len(it.h.buckets)
	return false
}

// AtKeys reports whether the current position's tuple has the given keys.
func (it *Iterator) AtKeys(keys []jointuple.Value) bool {
	if it.End() {
		return false
	}
	t, _ := it.Tuple()
	return compareKeys(t.Keys(it.h.numKeys), keys) == 0
}

// ValueIndex returns the current position's index into HashTable.Values(),
// the stable per-entry identifier a caller needs to track "has this build
// entry been matched yet" across repeated Find calls (spec §4.11 Phase 3's
// hash fallback, when the build side is also outer). Calling it past End
// raises E-INVARIANT.
func (it *Iterator) ValueIndex() (int, error) {
	if it.End() {
		return 0, joinerr.Invariant("hash table iterator: value index past end")
	}
	return it.h.entries[it.cur].valueIdx, nil
}

// Mark saves the current position so a later GoToMark can rewind to it.
func (it *Iterator) Mark() { it.marked = it.cur; it.hasMark = true }

// GoToMark restores the position last saved by Mark. Calling it without a
// prior Mark raises E-INVARIANT ("accessing a null mark").
func (it *Iterator) GoToMark() error {
	if !it.hasMark {
		return joinerr.Invariant("hash table iterator: go-to-mark with no mark set")
	}
	it.cur = it.marked
	return nil
}
