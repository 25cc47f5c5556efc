package joinengine

import (
	"github.com/csvquery/equijoin/internal/joinconfig"
	"github.com/csvquery/equijoin/internal/joinerr"
	"github.com/csvquery/equijoin/internal/jointuple"
)

// FuncPredicate adapts a plain function to the Predicate interface, the way
// csvquery's query package wraps a compiled expression tree behind a single
// Eval call (internal_teacher/query/engine.go filter step).
type FuncPredicate func(t jointuple.Tuple) (bool, bool, error)

func (f FuncPredicate) Eval(t jointuple.Tuple) (bool, bool, error) { return f(t) }

// asPredicateFunc adapts a Predicate to tupleio.PredicateFunc's shape for
// NewOutputWriter; a nil Predicate yields a nil PredicateFunc (no filtering).
func asPredicateFunc(p Predicate) func(t jointuple.Tuple) (bool, bool, error) {
	if p == nil {
		return nil
	}
	return p.Eval
}

// ValidateFilterColumns checks the column ordinals a compiled predicate (spec
// §6's Filter option) references against the OUTPUT tuple's layout (spec
// §4.12): the join core has no expression language of its own (§6
// Non-goals), so a host compiler resolves column names to ordinals and
// calls this before wiring a Predicate in. Output tuples never carry
// dimension columns directly — any dimension a query wants to filter on
// must first be retained via keepDimensions, at which point it's an
// ordinary output attribute — so a negative (dimension) ordinal here is
// always a configuration mistake, not a valid reference.
func ValidateFilterColumns(refs []int, outputWidth int) error {
	for _, r := range refs {
		if joinconfig.IsDimension(r) {
			return joinerr.New(joinerr.EUnsupported, "filter column %d refers to an input dimension directly; retain it with keepDimensions to filter on it", r)
		}
		if r < 0 || r >= outputWidth {
			return joinerr.New(joinerr.EBounds, "filter column %d out of range for %d output columns", r, outputWidth)
		}
	}
	return nil
}
