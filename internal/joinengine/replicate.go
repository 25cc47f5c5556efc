package joinengine

import (
	"fmt"

	"github.com/csvquery/equijoin/internal/chunkfilter"
	"github.com/csvquery/equijoin/internal/hashtable"
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/peering"
	"github.com/csvquery/equijoin/internal/tupleio"
)

// RunReplicateHash implements spec §4.10 (HASH_REPLICATE_LEFT/RIGHT):
// buildSide's array is redistributed to every peer with Transport.Replicate,
// then loaded whole into a hashtable.HashTable; probeSide's array stays
// local and is streamed once against that table. It is the join-core
// analogue of csvquery's broadcast-join special case — skip the shuffle
// entirely when one side is small enough to fit in memory everywhere.
//
// The build side can never be outer (joinconfig.Validate vetoes that
// combination at setup time, since an unmatched build-side row would need
// cross-peer deduplication this driver doesn't do); the probe side's
// unmatched rows are emitted locally, since every probe tuple lives on
// exactly one peer regardless of how the build side was redistributed.
func RunReplicateHash(left, right SideInput, buildSide Side, opts Options, transport peering.Transport, out *tupleio.Writer) (Result, error) {
	var build, probe SideInput
	if buildSide == Left {
		build, probe = left, right
	} else {
		build, probe = right, left
	}

	replicated, err := transport.Replicate(build.Array)
	if err != nil {
		return Result{}, fmt.Errorf("joinengine: replicate build side: %w", err)
	}

	// §4.10 step 2: "build the hash table from the replicated tuples;
	// simultaneously populate a ChunkFilter keyed on the probe side's
	// dimensions." Unlike the sort-merge driver's ChunkFilter (built from
	// one peer's local pre-shuffle contribution, so it needs
	// GlobalExchange to see every peer's keys), this ChunkFilter is built
	// from transport.Replicate's output, which is already every peer's
	// contribution merged — so it needs no further exchange.
	ht := hashtable.New(opts.NumKeys, build.Width, opts.HashThresholdMB)
	cf := chunkfilter.New(build.DimMaps, opts.BloomFilterSize)
	br := tupleio.NewReader(replicated, build.Mapping, opts.NumKeys, build.Width, nil, nil)
	for {
		t, ok, err := br.Next()
		if err != nil {
			return Result{}, fmt.Errorf("joinengine: read replicated build side: %w", err)
		}
		if !ok {
			break
		}
		ht.Insert(t)
		if !cf.PassThrough() {
			cf.AddTuple(chunkOriginKeys(t, build.DimKeyPos))
		}
	}
	if opts.Logger != nil {
		opts.Logger.Infow("replicate-hash: build table ready", map[string]any{
			"groups": ht.NumGroups(), "usedBytes": ht.UsedBytes(),
		})
	}

	buildPayloadWidth := build.Width - opts.NumKeys
	probeOuter := (buildSide == Left && opts.RightOuter) || (buildSide == Right && opts.LeftOuter)

	var res Result
	// ChunkFilter can only drop chunks with no possible match (it has no
	// false negatives), but an outer probe still needs every row it might
	// otherwise drop — an unmatched row must be emitted even when it
	// provably can't join — so outer probes skip the prune pass entirely
	// and read every local chunk.
	var chunkPrune *chunkfilter.ChunkFilter
	if !probeOuter {
		chunkPrune = cf
	}
	pr := tupleio.NewReader(probe.Array, probe.Mapping, opts.NumKeys, probe.Width, chunkPrune, nil)
	it := ht.Iterator()
	for {
		pt, ok, err := pr.Next()
		if err != nil {
			return Result{}, fmt.Errorf("joinengine: read probe side: %w", err)
		}
		if !ok {
			break
		}

		keys := pt.Keys(opts.NumKeys)
		if !it.Find(keys) {
			if probeOuter {
				if err := emitProbeUnmatched(out, pt, buildSide, opts.NumKeys, buildPayloadWidth, &res); err != nil {
					return Result{}, err
				}
			}
			continue
		}
		for !it.End() && it.AtKeys(keys) {
			bt, err := it.Tuple()
			if err != nil {
				return Result{}, err
			}
			if err := emitMatch(out, bt, pt, buildSide, opts.NumKeys, &res); err != nil {
				return Result{}, err
			}
			it.NextAtHash()
		}
	}
	out.Close()
	return res, nil
}

// chunkOriginKeys extracts, in dimKeyPos order, the build tuple's join-key
// values at the given key positions as int64 — the shape
// chunkfilter.ChunkFilter.AddTuple expects (one value per dimension-mapped
// key, §4.3).
func chunkOriginKeys(t jointuple.Tuple, dimKeyPos []int) []int64 {
	out := make([]int64, len(dimKeyPos))
	for i, pos := range dimKeyPos {
		out[i] = t.Values[pos].Int64()
	}
	return out
}

func emitMatch(out *tupleio.Writer, build, probe jointuple.Tuple, buildSide Side, numKeys int, res *Result) error {
	var row jointuple.Tuple
	if buildSide == Left {
		row = combineOutput(build, probe, numKeys)
	} else {
		row = combineOutput(probe, build, numKeys)
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

func emitProbeUnmatched(out *tupleio.Writer, probe jointuple.Tuple, buildSide Side, numKeys, buildPayloadWidth int, res *Result) error {
	var row jointuple.Tuple
	if buildSide == Left {
		// probe is the right side; build (left) payload is missing.
		row = combineRightOuter(probe, numKeys, buildPayloadWidth)
	} else {
		// probe is the left side; build (right) payload is missing.
		row = combineLeftOuter(probe, buildPayloadWidth)
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
