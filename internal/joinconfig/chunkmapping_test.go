package joinconfig

import "testing"

func TestBuildDimMappingNoDimensionsReturnsNil(t *testing.T) {
	dims, keyPos := BuildDimMapping([]int{0}, Schema{})
	if dims != nil || keyPos != nil {
		t.Fatal("a probe schema with no dimensions must yield a nil (pass-through) mapping")
	}
}

func TestBuildDimMappingEveryDimensionCovered(t *testing.T) {
	probeSchema := Schema{Dimensions: []Dimension{{Name: "d0", Low: 10, ChunkSize: 5}}}
	dims, keyPos := BuildDimMapping([]int{-1}, probeSchema)
	if len(dims) != 1 || dims[0].Origin != 10 || dims[0].ChunkSize != 5 {
		t.Fatalf("unexpected dims: %+v", dims)
	}
	if len(keyPos) != 1 || keyPos[0] != 0 {
		t.Fatalf("unexpected keyPos: %+v", keyPos)
	}
}

func TestBuildDimMappingMissingDimensionKeyReturnsNil(t *testing.T) {
	probeSchema := Schema{Dimensions: []Dimension{{Name: "d0", Low: 0, ChunkSize: 5}, {Name: "d1", Low: 0, ChunkSize: 5}}}
	// probeIds covers only dimension -1, not dimension -2.
	dims, keyPos := BuildDimMapping([]int{-1}, probeSchema)
	if dims != nil || keyPos != nil {
		t.Fatal("an uncovered probe dimension must make chunk-origin pruning impossible (nil, nil)")
	}
}

func TestBuildDimMappingMultipleDimensions(t *testing.T) {
	probeSchema := Schema{Dimensions: []Dimension{
		{Name: "d0", Low: 0, ChunkSize: 10},
		{Name: "d1", Low: 100, ChunkSize: 20},
	}}
	// probeIds: key position 0 -> dim -2, key position 1 -> dim -1.
	dims, keyPos := BuildDimMapping([]int{-2, -1}, probeSchema)
	if len(dims) != 2 {
		t.Fatalf("expected 2 dims, got %d", len(dims))
	}
	if dims[0].Origin != 0 || dims[1].Origin != 100 {
		t.Fatalf("dims origins in schema-dimension order: %+v", dims)
	}
	if keyPos[0] != 1 || keyPos[1] != 0 {
		t.Fatalf("keyPos must point back to the probeIds position for each dimension: %+v", keyPos)
	}
}
