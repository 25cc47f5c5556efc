package tupleio

import (
	"testing"

	"github.com/csvquery/equijoin/internal/bitset"
	"github.com/csvquery/equijoin/internal/chunkfilter"
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/peering"
)

// identityMapping maps two leading attribute ordinals straight into the
// first two tuple positions, the simplest possible BuildMapping output.
func identityMapping() []jointuple.ColumnMapping {
	return []jointuple.ColumnMapping{
		{SourceOrdinal: 0, TargetPos: 0},
		{SourceOrdinal: 1, TargetPos: 1},
	}
}

func cellArray(rows ...[2]jointuple.Value) peering.Array {
	cells := make([]peering.Cell, len(rows))
	for i, r := range rows {
		cells[i] = peering.Cell{Attributes: []jointuple.Value{r[0], r[1]}}
	}
	return peering.NewMaterialArray([]peering.Chunk{{Cells: cells}})
}

func TestReaderYieldsEveryTuple(t *testing.T) {
	arr := cellArray(
		[2]jointuple.Value{jointuple.Int64Value(1), jointuple.StringValue("a")},
		[2]jointuple.Value{jointuple.Int64Value(2), jointuple.StringValue("b")},
	)
	r := NewReader(arr, identityMapping(), 1, 2, nil, nil)
	var got []int64
	for {
		tup, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, tup.Values[0].Int64())
	}
	if len(got) != 2 {
		t.Fatalf("got %d tuples, want 2", len(got))
	}
}

func TestReaderDropsNullKeys(t *testing.T) {
	arr := cellArray(
		[2]jointuple.Value{jointuple.NullValue(jointuple.KindInt64), jointuple.StringValue("a")},
		[2]jointuple.Value{jointuple.Int64Value(2), jointuple.StringValue("b")},
	)
	r := NewReader(arr, identityMapping(), 1, 2, nil, nil)
	var got []int64
	for {
		tup, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, tup.Values[0].Int64())
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("got %v, want only [2] (null-keyed row dropped)", got)
	}
}

func TestReaderAppliesProbeBloomFilter(t *testing.T) {
	arr := cellArray(
		[2]jointuple.Value{jointuple.Int64Value(1), jointuple.StringValue("a")},
		[2]jointuple.Value{jointuple.Int64Value(2), jointuple.StringValue("b")},
	)
	probe := bitset.NewBloomFilter(4096)
	keyTuple := jointuple.Tuple{Values: []jointuple.Value{jointuple.Int64Value(1), jointuple.StringValue("a")}}
	probe.AddTuple(keyTuple, 1)

	r := NewReader(arr, identityMapping(), 1, 2, nil, probe)
	var got []int64
	for {
		tup, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, tup.Values[0].Int64())
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want only [1] (filtered by probe bloom)", got)
	}
}

func TestReaderAppliesChunkFilter(t *testing.T) {
	keptCell := peering.Cell{Attributes: []jointuple.Value{jointuple.Int64Value(1), jointuple.StringValue("a")}}
	droppedCell := peering.Cell{Attributes: []jointuple.Value{jointuple.Int64Value(2), jointuple.StringValue("b")}}
	arr := peering.NewMaterialArray([]peering.Chunk{
		{Origin: []int64{0}, Cells: []peering.Cell{keptCell}},
		{Origin: []int64{10}, Cells: []peering.Cell{droppedCell}},
	})

	dims := []chunkfilter.DimMapping{{ChunkSize: 10, Origin: 0}}
	cf := chunkfilter.New(dims, 4096)
	cf.AddTuple([]int64{0}) // only chunk origin 0 is recorded as possibly relevant

	r := NewReader(arr, identityMapping(), 1, 2, cf, nil)
	var got []int64
	for {
		tup, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, tup.Values[0].Int64())
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want only [1] (chunk at origin 10 pruned)", got)
	}
}

func TestReaderDimensionColumnFromCoords(t *testing.T) {
	mapping := []jointuple.ColumnMapping{
		{SourceOrdinal: -1, TargetPos: 0}, // dimension 0 -> key position
		{SourceOrdinal: 0, TargetPos: 1},  // attribute 0 -> payload
	}
	arr := peering.NewMaterialArray([]peering.Chunk{{
		Cells: []peering.Cell{{Coords: []int64{42}, Attributes: []jointuple.Value{jointuple.StringValue("payload")}}},
	}})
	r := NewReader(arr, mapping, 1, 2, nil, nil)
	tup, ok, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatal("expected one tuple")
	}
	if tup.Values[0].Int64() != 42 {
		t.Fatalf("dimension coordinate not mapped into key position: got %d, want 42", tup.Values[0].Int64())
	}
}
