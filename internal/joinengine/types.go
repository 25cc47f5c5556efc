// Package joinengine implements the two join drivers of spec §4.10/§4.11
// (replicate-hash and sort-merge), their shared merge kernel, and the
// output predicate application of §4.12. It is the top-level orchestrator
// that wires together the other core packages (xhash, bitset, chunkfilter,
// hashtable, tupleio, extsort, cursor) the way csvquery's
// query.Engine (internal_teacher/query/engine.go) sits above the scanner,
// sorter and indexes to answer one query end to end. Algorithm selection
// (sizing.Select) is left to the caller; Run dispatches on the Algorithm
// it is given.
package joinengine

import (
	"github.com/csvquery/equijoin/internal/chunkfilter"
	"github.com/csvquery/equijoin/internal/joinconfig"
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/obslog"
	"github.com/csvquery/equijoin/internal/peering"
)

// Side identifies an input relation; re-exported for driver call sites.
type Side = jointuple.Side

const (
	Left  = jointuple.Left
	Right = jointuple.Right
)

// SideInput bundles one side's array with the resolved mapping/width spec
// §3's key-mapping construction produces (joinconfig.BuildMapping).
//
// DimMaps/DimKeyPos describe this side's contribution to the chunk-origin
// pruning of spec §4.3: for every one of this side's join-key positions
// that corresponds to a dimension on the OTHER side, DimKeyPos records that
// key position (0..NumKeys-1) and DimMaps[i] records the matching
// dimension's (chunkSize, origin). A side with no dimension-mapped keys
// (or a host that chooses not to compute one) leaves both nil — chunkfilter
// pruning is then a no-op (chunkfilter.New with zero dims is pass-through).
type SideInput struct {
	Array      peering.Array
	Mapping    []jointuple.ColumnMapping
	Width      int
	DimMaps    []chunkfilter.DimMapping
	DimKeyPos  []int
}

// Predicate is the output filter of spec §4.12: bound against the OUTPUT
// tuple layout, evaluated per candidate row. The core does not own an
// expression language (§6 Non-goals), so Predicate is the seam a host
// query-language compiler plugs into.
type Predicate interface {
	Eval(t jointuple.Tuple) (result bool, isNull bool, err error)
}

// Options carries every per-invocation setting a driver needs, already
// resolved and validated by joinconfig.Validate.
type Options struct {
	NumKeys         int
	HashThresholdMB int
	ChunkSize       int
	BloomFilterSize int
	LeftOuter       bool
	RightOuter      bool
	Predicate       Predicate
	Algorithm       joinconfig.Algorithm
	Logger          obslog.Logger
}

// Result counts the rows a driver handed to its output writer: RowsEmitted
// survived the predicate, RowsFiltered were dropped by it. The rows
// themselves are in the tupleio.Writer passed to the driver.
type Result struct {
	RowsEmitted  int64
	RowsFiltered int64
}
