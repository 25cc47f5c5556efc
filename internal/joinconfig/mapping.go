package joinconfig

import "github.com/csvquery/equijoin/internal/jointuple"

// BuildMapping constructs one side's leftMap/rightMap injection (spec §3
// "Key mapping"): the numKeys join-key source ordinals land at positions
// 0..numKeys-1 in canonical order; remaining source columns land at
// numKeys..tupleSize-1 in schema order. When keepDimensions is false,
// source dimensions that are not join keys are dropped (TargetPos -1)
// rather than merely hidden at output (SPEC_FULL §12).
func BuildMapping(ids []int, numKeys int, s Schema, keepDimensions bool) ([]jointuple.ColumnMapping, int) {
	keySet := make(map[int]int, numKeys) // source ordinal -> key position
	for i, id := range ids {
		keySet[id] = i
	}

	var mappings []jointuple.ColumnMapping
	next := numKeys

	for i, id := range ids {
		mappings = append(mappings, jointuple.ColumnMapping{SourceOrdinal: id, TargetPos: i})
		_ = id
	}

	for i := range s.Attributes {
		if _, isKey := keySet[i]; isKey {
			continue
		}
		mappings = append(mappings, jointuple.ColumnMapping{SourceOrdinal: i, TargetPos: next})
		next++
	}

	for i := range s.Dimensions {
		ord := -(i + 1)
		if _, isKey := keySet[ord]; isKey {
			continue
		}
		if !keepDimensions {
			mappings = append(mappings, jointuple.ColumnMapping{SourceOrdinal: ord, TargetPos: -1})
			continue
		}
		mappings = append(mappings, jointuple.ColumnMapping{SourceOrdinal: ord, TargetPos: next})
		next++
	}

	return mappings, next
}
