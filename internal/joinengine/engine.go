package joinengine

import (
	"github.com/csvquery/equijoin/internal/joinconfig"
	"github.com/csvquery/equijoin/internal/joinerr"
	"github.com/csvquery/equijoin/internal/peering"
	"github.com/csvquery/equijoin/internal/tupleio"
)

// Run is the join core's single entry point: given the two resolved side
// inputs, an already-decided algorithm (sizing.Select's output) and a
// Transport, it drives the matching algorithm and returns the output as a
// peering.Array plus row counters. It owns nothing about where algorithm
// came from — the host wires sizing.LocalLowerBound/GlobalLowerBound/Select
// ahead of calling Run, the same separation csvquery keeps between its
// query planner (decides) and its engine (executes a decided plan).
func Run(left, right SideInput, algorithm joinconfig.Algorithm, opts Options, transport peering.Transport) (peering.Array, Result, error) {
	out := tupleio.NewOutputWriter(transport.InstanceID(), opts.ChunkSize, asPredicateFunc(opts.Predicate))

	var res Result
	var err error
	switch algorithm {
	case joinconfig.AlgorithmHashReplicateLeft:
		res, err = RunReplicateHash(left, right, Left, opts, transport, out)
	case joinconfig.AlgorithmHashReplicateRight:
		res, err = RunReplicateHash(left, right, Right, opts, transport, out)
	case joinconfig.AlgorithmMergeLeftFirst:
		res, err = RunSortMerge(Left, left, right, opts, transport, out)
	case joinconfig.AlgorithmMergeRightFirst:
		res, err = RunSortMerge(Right, left, right, opts, transport, out)
	default:
		return nil, Result{}, joinerr.New(joinerr.EConfig, "algorithm %v has no driver", algorithm)
	}
	if err != nil {
		return nil, Result{}, err
	}
	return out.Array(), res, nil
}
