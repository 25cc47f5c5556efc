package sizing

import "github.com/csvquery/equijoin/internal/joinconfig"

// Decision is the selector's output: the chosen algorithm plus the capped
// global sizes that fed it, kept for diagnostics/logging.
type Decision struct {
	Algorithm  joinconfig.Algorithm
	LeftSize   int64
	RightSize  int64
}

// Select implements spec §4.9's decision rule in order: a user override
// (subject to the rule-5 veto), then the two replicate thresholds, then a
// merge-side tiebreak on the smaller capped size. leftSize/rightSize are
// taken as already capped at thresholdBytes: GlobalLowerBound sums
// per-peer values that are each capped, so the caller applies
// min(sum, thresholdBytes) itself (cmd/equijoin's runOnPeer does). Select
// does not cap them.
func Select(override joinconfig.Algorithm, leftOuter, rightOuter bool, leftSize, rightSize, thresholdBytes int64) Decision {
	if override != joinconfig.AlgorithmAuto {
		// The veto in joinconfig.Validate already rejects
		// hash_replicate_left+leftOuter and hash_replicate_right+rightOuter
		// at setup time, so no second check is needed here.
		return Decision{Algorithm: override, LeftSize: leftSize, RightSize: rightSize}
	}

	switch {
	case leftSize < thresholdBytes && !leftOuter:
		return Decision{Algorithm: joinconfig.AlgorithmHashReplicateLeft, LeftSize: leftSize, RightSize: rightSize}
	case rightSize < thresholdBytes && !rightOuter:
		return Decision{Algorithm: joinconfig.AlgorithmHashReplicateRight, LeftSize: leftSize, RightSize: rightSize}
	case leftSize < rightSize:
		return Decision{Algorithm: joinconfig.AlgorithmMergeLeftFirst, LeftSize: leftSize, RightSize: rightSize}
	default:
		return Decision{Algorithm: joinconfig.AlgorithmMergeRightFirst, LeftSize: leftSize, RightSize: rightSize}
	}
}
