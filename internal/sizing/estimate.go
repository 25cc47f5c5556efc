// Package sizing implements the local/global size estimator (spec §4.8)
// and the algorithm selector (spec §4.9). The local estimate is grounded on
// csvquery's own fingerprinting pass (internal_teacher/indexer/indexer.go
// calculateFingerprint samples a CSV file's head/middle/tail rather than
// hashing the whole thing); here the "sample instead of materialise fully"
// idea becomes "sum compressed chunk sizes instead of decompressing," with
// a cheap fixed-size-per-cell fallback when the array isn't materialised.
package sizing

import "github.com/csvquery/equijoin/internal/peering"

// PerCellFixedSize is the fallback per-cell byte estimate used when an
// input array is not materialised (spec §4.8, second branch).
const PerCellFixedSize = 64

// LocalLowerBound implements spec §4.8's localLowerBound, judging each
// chunk on its own: a chunk reporting a non-zero CompressedBytes adds that
// size, any other chunk adds its cell count times PerCellFixedSize. An
// array mixing both kinds of chunk therefore gets a mixed sum; no single
// rule is chosen for the whole array. The computation short-circuits once
// the sum reaches limit, returning limit.
func LocalLowerBound(arr peering.Array, limit int64) (int64, error) {
	it := arr.Chunks()
	var sum int64
	for {
		chunk, ok, err := it.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		if chunk.CompressedBytes > 0 {
			sum += chunk.CompressedBytes
		} else {
			sum += int64(len(chunk.Cells)) * PerCellFixedSize
		}
		if sum >= limit {
			return limit, nil
		}
	}
	if sum > limit {
		return limit, nil
	}
	return sum, nil
}

// GlobalLowerBound implements spec §4.8's globalLowerBound: every peer
// sends its local estimate and receives every other peer's, returning the
// sum. This is a global synchronization point (spec §5).
func GlobalLowerBound(t peering.Transport, local int64) (int64, error) {
	vec, err := t.AllToAllInt64(local)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, v := range vec {
		total += v
	}
	return total, nil
}
