// Package joinconfig parses and validates the join core's configuration
// (spec §6), following csvquery's own configuration shape: a flat struct
// populated either from a flag.FlagSet (see cmd/equijoin) or unmarshalled
// from JSON (schema.Load / updatemgr.Load in internal_teacher/schema and
// internal_teacher/updatemgr both load sidecar JSON with encoding/json; the
// join core's config is the wire format a query planner would hand it, so
// it follows the same unmarshal-then-validate shape).
package joinconfig

import "github.com/csvquery/equijoin/internal/jointuple"

// Attribute describes one source-array attribute (spec §6 "a schema").
type Attribute struct {
	Name     string
	Kind     jointuple.Kind
	Nullable bool
}

// Dimension describes one source-array dimension: name, inclusive range,
// and chunk interval, used both for key-mapping resolution (dimension
// ordinals are negative, §3) and for ChunkFilter origin computation (§4.3).
type Dimension struct {
	Name      string
	Low, High int64
	ChunkSize int64
}

// Schema is one side's input array schema: ordered attributes followed,
// conceptually, by ordered dimensions. Source column ordinals (spec §6
// leftIds/rightIds) address this ordering: ordinal >= 0 indexes Attributes;
// ordinal < 0 indexes Dimensions counting down from -1 (Dimensions[0] is
// ordinal -1, Dimensions[1] is ordinal -2, …).
type Schema struct {
	Attributes []Attribute
	Dimensions []Dimension
}

// AttrOrdinal returns the non-negative attribute ordinal for name, or -1 if
// no attribute has that name.
func (s Schema) AttrOrdinal(name string) int {
	for i, a := range s.Attributes {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// DimOrdinal returns the negative dimension ordinal for name (-1, -2, …),
// or 0 (never a valid ordinal) if no dimension has that name.
func (s Schema) DimOrdinal(name string) int {
	for i, d := range s.Dimensions {
		if d.Name == name {
			return -(i + 1)
		}
	}
	return 0
}

// IsDimension reports whether a source ordinal addresses a dimension.
func IsDimension(ordinal int) bool { return ordinal < 0 }

// DimIndex converts a negative dimension ordinal to its 0-based index into
// Schema.Dimensions.
func DimIndex(ordinal int) int { return -ordinal - 1 }
