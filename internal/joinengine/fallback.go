package joinengine

import (
	"github.com/csvquery/equijoin/internal/cursor"
	"github.com/csvquery/equijoin/internal/hashtable"
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/tupleio"
	"github.com/csvquery/equijoin/internal/xhash"
)

// runHashFallback implements spec §4.11 Phase 3's hash-join fallback: once
// one post-shuffle side's size drops under the threshold, hash that side
// and probe with the other instead of running the merge kernel. Both
// cursors were already re-sorted by sortOneSide before this choice is
// made, so the fallback does not save that sort. buildCur is the side
// being hashed; probeCur is streamed
// once against it. Unlike the replicate-hash driver (which §4.9 rule 5
// never lets land on an outer build side), either side here can be outer,
// so both build- and probe-side unmatched rows are tracked and emitted.
//
// This reuses the hash table's pre-tupled insertion path (hashtable.
// InsertHashed): sortOneSide stripped the trailing hash column before the
// post-shuffle sort, so the hash is recomputed here from the raw key bytes
// the same way sortMergeLess does, rather than re-deriving the tuple
// through tupleio's raw-input mapping.
func runHashFallback(buildCur, probeCur *cursor.SortedCursor, numKeys, buildWidth, probeWidth int, buildIsLeft, buildOuter, probeOuter bool, opts Options, out *tupleio.Writer) (Result, error) {
	ht := hashtable.New(numKeys, buildWidth, opts.HashThresholdMB)
	for !buildCur.End() {
		t, err := buildCur.GetTuple()
		if err != nil {
			return Result{}, err
		}
		hash := xhash.KeyHash(jointuple.KeyBytes(t, numKeys))
		ht.InsertHashed(t, hash)
		buildCur.Next()
	}

	buildSide := Left
	if !buildIsLeft {
		buildSide = Right
	}
	matched := make([]bool, len(ht.Values()))
	probePayloadWidth := probeWidth - numKeys
	buildPayloadWidth := buildWidth - numKeys

	var res Result
	it := ht.Iterator()
	for !probeCur.End() {
		pt, err := probeCur.GetTuple()
		if err != nil {
			return res, err
		}
		keys := pt.Keys(numKeys)
		if it.Find(keys) {
			for !it.End() && it.AtKeys(keys) {
				bt, err := it.Tuple()
				if err != nil {
					return res, err
				}
				idx, err := it.ValueIndex()
				if err != nil {
					return res, err
				}
				matched[idx] = true
				if err := emitMatch(out, bt, pt, buildSide, numKeys, &res); err != nil {
					return res, err
				}
				it.NextAtHash()
			}
		} else if probeOuter {
			if err := emitProbeUnmatched(out, pt, buildSide, numKeys, buildPayloadWidth, &res); err != nil {
				return res, err
			}
		}
		probeCur.Next()
	}

	if buildOuter {
		for idx, bt := range ht.Values() {
			if matched[idx] {
				continue
			}
			if err := emitBuildUnmatched(out, bt, buildSide, numKeys, probePayloadWidth, &res); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// emitBuildUnmatched emits an outer row for a build-side entry no probe
// tuple matched — the mirror of emitProbeUnmatched, needed only by the
// hash fallback since the replicate-hash driver never allows an outer
// build side.
func emitBuildUnmatched(out *tupleio.Writer, build jointuple.Tuple, buildSide Side, numKeys, probePayloadWidth int, res *Result) error {
	var row jointuple.Tuple
	if buildSide == Left {
		row = combineLeftOuter(build, probePayloadWidth)
	} else {
		row = combineRightOuter(build, numKeys, probePayloadWidth)
	}
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
