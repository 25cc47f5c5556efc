package cursor

import "github.com/csvquery/equijoin/internal/joinerr"

func invariantPastEnd() error {
	return joinerr.Invariant("sorted cursor: read past end")
}
