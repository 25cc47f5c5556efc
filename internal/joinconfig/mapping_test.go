package joinconfig

import (
	"testing"

	"github.com/csvquery/equijoin/internal/jointuple"
)

func sampleSchema() Schema {
	return Schema{
		Attributes: []Attribute{{Name: "a0", Kind: jointuple.KindInt64}, {Name: "a1", Kind: jointuple.KindString}},
		Dimensions: []Dimension{{Name: "d0", Low: 0, High: 100, ChunkSize: 10}},
	}
}

func TestBuildMappingKeyOrdinalsLeadTuple(t *testing.T) {
	s := sampleSchema()
	mapping, width := BuildMapping([]int{0}, 1, s, false)
	var keyMapping *jointuple.ColumnMapping
	for i := range mapping {
		if mapping[i].SourceOrdinal == 0 {
			keyMapping = &mapping[i]
		}
	}
	if keyMapping == nil || keyMapping.TargetPos != 0 {
		t.Fatalf("join key source ordinal 0 must land at target position 0, got %+v", keyMapping)
	}
	if width <= 0 {
		t.Fatalf("width must be positive, got %d", width)
	}
}

func TestBuildMappingDropsNonKeyDimensionsByDefault(t *testing.T) {
	s := sampleSchema()
	mapping, _ := BuildMapping([]int{0}, 1, s, false)
	for _, m := range mapping {
		if m.SourceOrdinal == -1 && m.TargetPos != -1 {
			t.Fatalf("non-key dimension must be dropped (TargetPos -1) when keepDimensions is false, got %+v", m)
		}
	}
}

func TestBuildMappingKeepsDimensionsWhenRequested(t *testing.T) {
	s := sampleSchema()
	mapping, _ := BuildMapping([]int{0}, 1, s, true)
	found := false
	for _, m := range mapping {
		if m.SourceOrdinal == -1 {
			found = true
			if m.TargetPos < 0 {
				t.Fatalf("kept dimension must have a non-negative TargetPos, got %+v", m)
			}
		}
	}
	if !found {
		t.Fatal("expected a mapping entry for the dimension ordinal -1")
	}
}

func TestBuildMappingKeyDimensionOrdinal(t *testing.T) {
	s := sampleSchema()
	mapping, _ := BuildMapping([]int{-1}, 1, s, false)
	var dimMapping *jointuple.ColumnMapping
	for i := range mapping {
		if mapping[i].SourceOrdinal == -1 {
			dimMapping = &mapping[i]
		}
	}
	if dimMapping == nil || dimMapping.TargetPos != 0 {
		t.Fatalf("dimension used as a join key must land at position 0, got %+v", dimMapping)
	}
}

func TestSchemaAttrOrdinal(t *testing.T) {
	s := sampleSchema()
	if s.AttrOrdinal("a1") != 1 {
		t.Fatalf("AttrOrdinal(a1) = %d, want 1", s.AttrOrdinal("a1"))
	}
	if s.AttrOrdinal("missing") != -1 {
		t.Fatal("AttrOrdinal for an unknown name must return -1")
	}
}

func TestSchemaDimOrdinal(t *testing.T) {
	s := sampleSchema()
	if s.DimOrdinal("d0") != -1 {
		t.Fatalf("DimOrdinal(d0) = %d, want -1", s.DimOrdinal("d0"))
	}
	if s.DimOrdinal("missing") != 0 {
		t.Fatal("DimOrdinal for an unknown name must return 0")
	}
}

func TestIsDimensionAndDimIndex(t *testing.T) {
	if !IsDimension(-1) || IsDimension(0) {
		t.Fatal("IsDimension must treat negative ordinals as dimensions, non-negative as attributes")
	}
	if DimIndex(-1) != 0 || DimIndex(-3) != 2 {
		t.Fatalf("DimIndex mapping incorrect: DimIndex(-1)=%d DimIndex(-3)=%d", DimIndex(-1), DimIndex(-3))
	}
}
