// Package jointuple implements the join core's data model (spec §3): typed
// Values, fixed-width Tuples, and the left/right key-mapping injections.
//
// Following csvquery's IndexRecord (internal/common/common.go), values are
// kept as raw byte payloads rather than boxed Go interfaces wherever
// possible, so hashing and comparison can work directly off byte slices
// without re-encoding.
package jointuple

import (
	"encoding/binary"
	"math"
)

// Kind is the physical representation of a Value's bytes, mirroring the
// fixed serialization spec §4.1 requires ("numeric little-endian, strings
// as their raw bytes").
type Kind int

const (
	KindInt64 Kind = iota
	KindFloat64
	KindString
	KindBytes
)

// Value is a typed cell: raw bytes plus a null flag. Equality and ordering
// are defined per type by an externally supplied comparator (Compare).
type Value struct {
	Kind   Kind
	Null   bool
	Raw    []byte
}

// NullValue returns a null Value of the given kind.
func NullValue(k Kind) Value { return Value{Kind: k, Null: true} }

// Int64Value encodes an int64 as 8 little-endian bytes, per spec §4.1.
func Int64Value(v int64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return Value{Kind: KindInt64, Raw: b}
}

// Float64Value encodes a float64 as its IEEE-754 little-endian bits.
func Float64Value(v float64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return Value{Kind: KindFloat64, Raw: b}
}

// StringValue stores the string's raw UTF-8 bytes, unpadded and
// unprefixed — spec §4.1 requires the exact same layout on every peer.
func StringValue(s string) Value {
	return Value{Kind: KindString, Raw: []byte(s)}
}

// BytesValue wraps an opaque byte payload.
func BytesValue(b []byte) Value {
	return Value{Kind: KindBytes, Raw: b}
}

func (v Value) Int64() int64 {
	return int64(binary.LittleEndian.Uint64(v.Raw))
}

// Float64 decodes a KindFloat64 Value's IEEE-754 little-endian bits.
func (v Value) Float64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Raw))
}

func (v Value) String() string {
	return string(v.Raw)
}

// Compare orders two non-null Values of the same Kind. Strings and bytes
// compare lexicographically on raw bytes; numerics compare by decoded value.
// Callers must not mix Kinds — joinconfig.Validate's optional
// typeCompatible callback is where a host rejects mismatched key types
// before any Value reaches here.
func Compare(a, b Value) int {
	switch a.Kind {
	case KindInt64:
		ai, bi := a.Int64(), b.Int64()
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case KindFloat64:
		af, bf := math.Float64frombits(binary.LittleEndian.Uint64(a.Raw)), math.Float64frombits(binary.LittleEndian.Uint64(b.Raw))
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	default:
		return compareBytes(a.Raw, b.Raw)
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Equal reports whether two Values (same Kind, neither null) are equal.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}
