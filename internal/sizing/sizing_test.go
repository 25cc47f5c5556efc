package sizing

import (
	"testing"

	"github.com/csvquery/equijoin/internal/joinconfig"
	"github.com/csvquery/equijoin/internal/peering"
)

func arrayWithCompressedChunks(sizes ...int64) peering.Array {
	var chunks []peering.Chunk
	for _, s := range sizes {
		chunks = append(chunks, peering.Chunk{CompressedBytes: s})
	}
	return peering.NewMaterialArray(chunks)
}

func arrayWithCellCounts(counts ...int) peering.Array {
	var chunks []peering.Chunk
	for _, n := range counts {
		chunks = append(chunks, peering.Chunk{Cells: make([]peering.Cell, n)})
	}
	return peering.NewMaterialArray(chunks)
}

func TestLocalLowerBoundSumsCompressedBytes(t *testing.T) {
	arr := arrayWithCompressedChunks(100, 200, 300)
	got, err := LocalLowerBound(arr, 10000)
	if err != nil {
		t.Fatalf("LocalLowerBound: %v", err)
	}
	if got != 600 {
		t.Fatalf("got %d, want 600", got)
	}
}

func TestLocalLowerBoundFallsBackToPerCell(t *testing.T) {
	arr := arrayWithCellCounts(2, 3)
	got, err := LocalLowerBound(arr, 10000)
	if err != nil {
		t.Fatalf("LocalLowerBound: %v", err)
	}
	want := int64(5) * PerCellFixedSize
	if got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestLocalLowerBoundCapsAtLimit(t *testing.T) {
	arr := arrayWithCompressedChunks(1000, 1000, 1000)
	got, err := LocalLowerBound(arr, 500)
	if err != nil {
		t.Fatalf("LocalLowerBound: %v", err)
	}
	if got != 500 {
		t.Fatalf("got %d, want capped value 500", got)
	}
}

func TestGlobalLowerBoundSumsAcrossPeers(t *testing.T) {
	cl := peering.NewCluster(3)
	locals := []int64{10, 20, 30}
	results := make([]int64, 3)
	errs := make([]error, 3)
	done := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(id int) {
			results[id], errs[id] = GlobalLowerBound(cl.Peer(id), locals[id])
			done <- id
		}(i)
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	for i := 0; i < 3; i++ {
		if errs[i] != nil {
			t.Fatalf("peer %d: %v", i, errs[i])
		}
		if results[i] != 60 {
			t.Fatalf("peer %d got %d, want 60", i, results[i])
		}
	}
}

func TestSelectOverrideWins(t *testing.T) {
	d := Select(joinconfig.AlgorithmMergeLeftFirst, false, false, 1, 1_000_000, 100)
	if d.Algorithm != joinconfig.AlgorithmMergeLeftFirst {
		t.Fatalf("override must always win, got %v", d.Algorithm)
	}
}

func TestSelectReplicateLeftWhenSmallAndNotOuter(t *testing.T) {
	d := Select(joinconfig.AlgorithmAuto, false, false, 50, 1_000_000, 100)
	if d.Algorithm != joinconfig.AlgorithmHashReplicateLeft {
		t.Fatalf("got %v, want HashReplicateLeft", d.Algorithm)
	}
}

func TestSelectSkipsReplicateLeftWhenLeftOuter(t *testing.T) {
	d := Select(joinconfig.AlgorithmAuto, true, false, 50, 1_000_000, 100)
	if d.Algorithm == joinconfig.AlgorithmHashReplicateLeft {
		t.Fatal("leftOuter must veto HashReplicateLeft")
	}
}

func TestSelectReplicateRightWhenSmallAndNotOuter(t *testing.T) {
	d := Select(joinconfig.AlgorithmAuto, false, false, 1_000_000, 50, 100)
	if d.Algorithm != joinconfig.AlgorithmHashReplicateRight {
		t.Fatalf("got %v, want HashReplicateRight", d.Algorithm)
	}
}

func TestSelectMergeTiebreakOnSmallerSide(t *testing.T) {
	d := Select(joinconfig.AlgorithmAuto, true, true, 200, 500, 100)
	if d.Algorithm != joinconfig.AlgorithmMergeLeftFirst {
		t.Fatalf("got %v, want MergeLeftFirst (left smaller)", d.Algorithm)
	}
	d = Select(joinconfig.AlgorithmAuto, true, true, 500, 200, 100)
	if d.Algorithm != joinconfig.AlgorithmMergeRightFirst {
		t.Fatalf("got %v, want MergeRightFirst (right smaller)", d.Algorithm)
	}
}
