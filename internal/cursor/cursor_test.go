package cursor

import (
	"testing"

	"github.com/csvquery/equijoin/internal/jointuple"
)

func sampleTuples() []jointuple.Tuple {
	return []jointuple.Tuple{
		{Values: []jointuple.Value{jointuple.Int64Value(1)}},
		{Values: []jointuple.Value{jointuple.Int64Value(2)}},
		{Values: []jointuple.Value{jointuple.Int64Value(3)}},
	}
}

func TestInMemoryCursorWalksForward(t *testing.T) {
	c := NewInMemory(sampleTuples())
	var got []int64
	for !c.End() {
		tup, err := c.GetTuple()
		if err != nil {
			t.Fatalf("GetTuple: %v", err)
		}
		got = append(got, tup.Values[0].Int64())
		c.Next()
	}
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %d tuples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCursorPastEndErrors(t *testing.T) {
	c := NewInMemory(sampleTuples())
	c.SetIdx(3)
	if !c.End() {
		t.Fatal("cursor set to idx == length must report End")
	}
	if _, err := c.GetTuple(); err == nil {
		t.Fatal("GetTuple past End must error")
	}
}

func TestGetIdxSetIdxRewind(t *testing.T) {
	c := NewInMemory(sampleTuples())
	c.Next()
	c.Next()
	mark := c.GetIdx()
	if mark != 2 {
		t.Fatalf("GetIdx() = %d, want 2", mark)
	}
	c.Next()
	c.SetIdx(mark)
	tup, err := c.GetTuple()
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if tup.Values[0].Int64() != 3 {
		t.Fatalf("after rewind got %d, want 3", tup.Values[0].Int64())
	}
}

func TestCursorLen(t *testing.T) {
	c := NewInMemory(sampleTuples())
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
}

func TestEmptyCursorStartsAtEnd(t *testing.T) {
	c := NewInMemory(nil)
	if !c.End() {
		t.Fatal("an empty cursor must start at End")
	}
}
