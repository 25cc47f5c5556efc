package tupleio

import (
	"testing"

	"github.com/csvquery/equijoin/internal/jointuple"
)

func rowTuple(n int64) jointuple.Tuple {
	return jointuple.Tuple{Values: []jointuple.Value{jointuple.Int64Value(n)}}
}

func TestPreSortWriterChunksAtSize(t *testing.T) {
	w := NewPreSortWriter(3, 2)
	for i := int64(0); i < 5; i++ {
		if err := w.WritePreSort(rowTuple(i), uint32(i)); err != nil {
			t.Fatalf("WritePreSort: %v", err)
		}
	}
	w.Close()
	chunks := w.Chunks()
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (2+2+1 rows at chunkSize 2)", len(chunks))
	}
	if len(chunks[0].Cells) != 2 || len(chunks[2].Cells) != 1 {
		t.Fatalf("unexpected chunk sizes: %d, %d, %d", len(chunks[0].Cells), len(chunks[1].Cells), len(chunks[2].Cells))
	}
	if chunks[0].Origin[1] != 3 {
		t.Fatalf("origin must tag myInstance=3, got %v", chunks[0].Origin)
	}
}

func TestPreSortWriterWrongModeErrors(t *testing.T) {
	w := NewOutputWriter(0, 10, nil)
	if err := w.WritePreSort(rowTuple(1), 0); err == nil {
		t.Fatal("WritePreSort on a non-PRE_SORT writer must error")
	}
}

func TestHashColumnRoundTrip(t *testing.T) {
	tagged := WithHash(rowTuple(7), 0xDEADBEEF)
	if got := HashColumn(tagged); got != 0xDEADBEEF {
		t.Fatalf("HashColumn() = %#x, want %#x", got, 0xDEADBEEF)
	}
}

func TestStripTrailerRestoresOriginal(t *testing.T) {
	orig := rowTuple(7)
	tagged := WithHash(orig, 1)
	stripped := StripTrailer(tagged, 2)
	if len(stripped.Values) != len(orig.Values) {
		t.Fatalf("StripTrailer left %d values, want %d", len(stripped.Values), len(orig.Values))
	}
}

func TestSplitOnHashWriterRoutesByPartition(t *testing.T) {
	w := NewSplitOnHashWriter(0, 100, 2)
	// Low hash -> partition 0, high hash -> partition 1.
	low := WithHash(rowTuple(1), 0)
	high := WithHash(rowTuple(2), ^uint32(0))
	if err := w.WriteSplitOnHash(low); err != nil {
		t.Fatalf("WriteSplitOnHash(low): %v", err)
	}
	if err := w.WriteSplitOnHash(high); err != nil {
		t.Fatalf("WriteSplitOnHash(high): %v", err)
	}
	w.Close()
	chunks := w.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (one per partition transition)", len(chunks))
	}
	if chunks[0].Origin[0] != 0 {
		t.Fatalf("first chunk must target partition 0, got origin %v", chunks[0].Origin)
	}
	if chunks[1].Origin[0] != 1 {
		t.Fatalf("second chunk must target partition 1, got origin %v", chunks[1].Origin)
	}
}

func TestSplitOnHashWriterRejectsRegression(t *testing.T) {
	w := NewSplitOnHashWriter(0, 100, 2)
	high := WithHash(rowTuple(1), ^uint32(0))
	low := WithHash(rowTuple(2), 0)
	if err := w.WriteSplitOnHash(high); err != nil {
		t.Fatalf("WriteSplitOnHash(high): %v", err)
	}
	if err := w.WriteSplitOnHash(low); err == nil {
		t.Fatal("a partition target regression must error (input must be hash-sorted ascending)")
	}
}

func TestOutputWriterPredicateFiltersRows(t *testing.T) {
	predicate := func(t jointuple.Tuple) (bool, bool, error) {
		return t.Values[0].Int64() > 0, false, nil
	}
	w := NewOutputWriter(0, 100, predicate)
	kept, err := w.WriteOutput(rowTuple(5))
	if err != nil || !kept {
		t.Fatalf("expected row to be kept, kept=%v err=%v", kept, err)
	}
	kept, err = w.WriteOutput(rowTuple(-5))
	if err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	if kept {
		t.Fatal("row failing the predicate must be dropped")
	}
	w.Close()
	if len(w.Chunks()) != 1 {
		t.Fatalf("got %d chunks, want 1 (only the kept row)", len(w.Chunks()))
	}
}

func TestOutputWriterArrayWrapsChunks(t *testing.T) {
	w := NewOutputWriter(0, 100, nil)
	if _, err := w.WriteOutput(rowTuple(1)); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	w.Close()
	arr := w.Array()
	it := arr.Chunks()
	_, ok, err := it.Next()
	if err != nil {
		t.Fatalf("Chunks().Next: %v", err)
	}
	if !ok {
		t.Fatal("Array() must expose the writer's finished chunk")
	}
}
