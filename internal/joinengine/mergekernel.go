package joinengine

import (
	"github.com/csvquery/equijoin/internal/cursor"
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/tupleio"
	"github.com/csvquery/equijoin/internal/xhash"
)

// compareHashKeys orders two tuples the same way sortMergeLess ordered the
// spilled streams the cursors replay: primarily by the key-derived hash,
// then by the keys themselves. Two distinct keys can sort in either
// direction under plain key comparison while their hashes (and therefore
// their actual physical stream position) disagree, so the merge kernel's
// "which cursor is behind" decision must walk the same (hash, keys) order
// the sort used, not a raw key compare — it recomputes the hash from each
// tuple's own raw key bytes rather than threading a stored hash column
// through, the same call extsort's comparator makes.
func compareHashKeys(numKeys int, a, b jointuple.Tuple) int {
	ha := xhash.KeyHash(jointuple.KeyBytes(a, numKeys))
	hb := xhash.KeyHash(jointuple.KeyBytes(b, numKeys))
	switch {
	case ha < hb:
		return -1
	case ha > hb:
		return 1
	default:
		return jointuple.CompareKeys(a.Keys(numKeys), b.Keys(numKeys))
	}
}

// mergeKernel implements spec §4.11's merge kernel: a classic sort-merge
// join over two cursors already globally sorted on (hash, keys) — the
// cursor-based analogue of csvquery's sorted-run merge in sorter.go, with
// the addition of duplicate-key fan-out (every left row with a given key
// is joined against every right row sharing it) and optional outer-join
// emission on either side.
//
// Step 1: compare the cursors' current keys.
// Step 2: on a mismatch, advance the lagging cursor, emitting an outer row
// for it if that side is configured outer.
// Step 3: on a match, mark the right cursor's position and, for every left
// row sharing the key, rewind the right cursor to the mark and emit one
// output row per matching right row (GoToMark's job in hashtable.Iterator;
// here a plain GetIdx/SetIdx pair since SortedCursor has no hashtable-style
// Mark).
// Step 4: once the whole duplicate-key run is exhausted on both sides,
// resume the outer compare/advance loop.
func mergeKernel(left, right *cursor.SortedCursor, numKeys int, leftPayloadWidth, rightPayloadWidth int, leftOuter, rightOuter bool, out *tupleio.Writer) (Result, error) {
	var res Result

	emit := func(row jointuple.Tuple) error {
		kept, err := out.WriteOutput(row)
		if err != nil {
			return err
		}
		if kept {
			res.RowsEmitted++
		} else {
			res.RowsFiltered++
		}
		return nil
	}

	for !left.End() && !right.End() {
		lt, err := left.GetTuple()
		if err != nil {
			return res, err
		}
		rt, err := right.GetTuple()
		if err != nil {
			return res, err
		}

		cmp := compareHashKeys(numKeys, lt, rt)
		switch {
		case cmp < 0:
			if leftOuter {
				if err := emit(combineLeftOuter(lt, rightPayloadWidth)); err != nil {
					return res, err
				}
			}
			left.Next()
			continue
		case cmp > 0:
			if rightOuter {
				if err := emit(combineRightOuter(rt, numKeys, leftPayloadWidth)); err != nil {
					return res, err
				}
			}
			right.Next()
			continue
		}

		keys := lt.Keys(numKeys)
		runMark := right.GetIdx()
		for !left.End() {
			lt2, err := left.GetTuple()
			if err != nil {
				return res, err
			}
			if jointuple.CompareKeys(lt2.Keys(numKeys), keys) != 0 {
				break
			}
			right.SetIdx(runMark)
			for !right.End() {
				rt2, err := right.GetTuple()
				if err != nil {
					return res, err
				}
				if jointuple.CompareKeys(rt2.Keys(numKeys), keys) != 0 {
					break
				}
				if err := emit(combineOutput(lt2, rt2, numKeys)); err != nil {
					return res, err
				}
				right.Next()
			}
			left.Next()
		}
		// advance right past the whole duplicate-key run once every left row
		// sharing it has been joined.
		right.SetIdx(runMark)
		for !right.End() {
			rt2, err := right.GetTuple()
			if err != nil {
				return res, err
			}
			if jointuple.CompareKeys(rt2.Keys(numKeys), keys) != 0 {
				break
			}
			right.Next()
		}
	}

	if leftOuter {
		for !left.End() {
			lt, err := left.GetTuple()
			if err != nil {
				return res, err
			}
			if err := emit(combineLeftOuter(lt, rightPayloadWidth)); err != nil {
				return res, err
			}
			left.Next()
		}
	}
	if rightOuter {
		for !right.End() {
			rt, err := right.GetTuple()
			if err != nil {
				return res, err
			}
			if err := emit(combineRightOuter(rt, numKeys, leftPayloadWidth)); err != nil {
				return res, err
			}
			right.Next()
		}
	}
	return res, nil
}
