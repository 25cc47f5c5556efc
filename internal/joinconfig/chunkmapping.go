package joinconfig

import "github.com/csvquery/equijoin/internal/chunkfilter"

// BuildDimMapping derives one side's chunk-origin pruning input (spec
// §4.3) for use as a build side in RunReplicateHash: it only applies when
// the OTHER side's (the probe side's) every dimension is addressed by a
// join key, in the probe schema's dimension order — the common case for an
// array-aligned equi-join. probeIds is the other side's resolved join-key
// ids (leftIds or rightIds, whichever belongs to the probe side); since
// leftIds/rightIds are paired by position, index i into probeIds is also
// the build side's key position i — the returned keyPos values index
// directly into either side's own key-position space. probeSchema is the
// probe side's Schema.
//
// When some probe dimension has no corresponding join key, chunk-origin
// pruning can't be computed (there is no build-side value to place in that
// coordinate), so both return values are nil — chunkfilter.New with a nil
// dims slice is pass-through (SideInput's DimMaps/DimKeyPos doc comment).
func BuildDimMapping(probeIds []int, probeSchema Schema) ([]chunkfilter.DimMapping, []int) {
	if len(probeSchema.Dimensions) == 0 {
		return nil, nil
	}
	dims := make([]chunkfilter.DimMapping, len(probeSchema.Dimensions))
	keyPos := make([]int, len(probeSchema.Dimensions))
	for d, dim := range probeSchema.Dimensions {
		ord := -(d + 1)
		found := -1
		for i, pid := range probeIds {
			if pid == ord {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, nil
		}
		dims[d] = chunkfilter.DimMapping{ChunkSize: dim.ChunkSize, Origin: dim.Low}
		keyPos[d] = found
	}
	return dims, keyPos
}
