package hashtable

import (
	"testing"

	"github.com/csvquery/equijoin/internal/jointuple"
)

func tup(key int64, payload string) jointuple.Tuple {
	return jointuple.Tuple{Values: []jointuple.Value{
		jointuple.Int64Value(key),
		jointuple.StringValue(payload),
	}}
}

func TestInsertContains(t *testing.T) {
	h := New(1, 2, 1)
	h.Insert(tup(1, "a"))
	h.Insert(tup(2, "b"))

	found, _ := h.Contains([]jointuple.Value{jointuple.Int64Value(1)})
	if !found {
		t.Fatal("expected key 1 to be found")
	}
	found, _ = h.Contains([]jointuple.Value{jointuple.Int64Value(3)})
	if found {
		t.Fatal("key 3 was never inserted and must not be found")
	}
}

func TestInsertPreservesInsertionOrderForTies(t *testing.T) {
	h := New(1, 2, 1)
	h.Insert(tup(5, "first"))
	h.Insert(tup(5, "second"))
	h.Insert(tup(5, "third"))

	it := h.Iterator()
	var payloads []string
	for !it.End() {
		tp, err := it.Tuple()
		if err != nil {
			t.Fatalf("Tuple: %v", err)
		}
		payloads = append(payloads, tp.Payload(1)[0].String())
		it.Next()
	}
	want := []string{"first", "second", "third"}
	if len(payloads) != len(want) {
		t.Fatalf("got %d entries, want %d", len(payloads), len(want))
	}
	for i := range want {
		if payloads[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q (insertion order must be preserved among equal keys)", i, payloads[i], want[i])
		}
	}
}

func TestNumGroupsCountsDistinctKeysOnly(t *testing.T) {
	h := New(1, 2, 1)
	h.Insert(tup(1, "a"))
	h.Insert(tup(1, "b"))
	h.Insert(tup(2, "c"))
	if h.NumGroups() != 2 {
		t.Fatalf("NumGroups() = %d, want 2", h.NumGroups())
	}
}

func TestUsedBytesNeverDecreases(t *testing.T) {
	h := New(1, 2, 1)
	var prev int64
	for i := int64(0); i < 5; i++ {
		h.Insert(tup(i, "payload"))
		cur := h.UsedBytes()
		if cur < prev {
			t.Fatalf("UsedBytes decreased: %d -> %d", prev, cur)
		}
		prev = cur
	}
}

func TestValuesAndValueIndex(t *testing.T) {
	h := New(1, 2, 1)
	h.Insert(tup(10, "x"))
	h.Insert(tup(20, "y"))

	it := h.Iterator()
	if !it.Find([]jointuple.Value{jointuple.Int64Value(20)}) {
		t.Fatal("Find(20) should succeed")
	}
	idx, err := it.ValueIndex()
	if err != nil {
		t.Fatalf("ValueIndex: %v", err)
	}
	values := h.Values()
	if idx < 0 || idx >= len(values) {
		t.Fatalf("ValueIndex %d out of range for %d values", idx, len(values))
	}
	got := values[idx]
	if got.Keys(1)[0].Int64() != 20 {
		t.Fatalf("Values()[ValueIndex()] key = %d, want 20", got.Keys(1)[0].Int64())
	}
}

func TestIteratorFindMiss(t *testing.T) {
	h := New(1, 2, 1)
	h.Insert(tup(1, "a"))
	it := h.Iterator()
	if it.Find([]jointuple.Value{jointuple.Int64Value(999)}) {
		t.Fatal("Find must fail for an absent key")
	}
	if !it.End() {
		t.Fatal("iterator must be at End after a failed Find")
	}
}

func TestIteratorMarkGoToMark(t *testing.T) {
	h := New(1, 2, 1)
	h.Insert(tup(7, "a"))
	h.Insert(tup(7, "b"))

	it := h.Iterator()
	if !it.Find([]jointuple.Value{jointuple.Int64Value(7)}) {
		t.Fatal("Find(7) should succeed")
	}
	it.Mark()
	it.NextAtHash()
	if err := it.GoToMark(); err != nil {
		t.Fatalf("GoToMark: %v", err)
	}
	tp, err := it.Tuple()
	if err != nil {
		t.Fatalf("Tuple: %v", err)
	}
	if tp.Payload(1)[0].String() != "a" {
		t.Fatalf("GoToMark did not restore the marked position, got payload %q", tp.Payload(1)[0].String())
	}
}

func TestGoToMarkWithoutMarkFails(t *testing.T) {
	h := New(1, 2, 1)
	h.Insert(tup(1, "a"))
	it := h.Iterator()
	if err := it.GoToMark(); err == nil {
		t.Fatal("GoToMark without a prior Mark must error")
	}
}

func TestTuplePastEndFails(t *testing.T) {
	h := New(1, 2, 1)
	it := h.Iterator()
	if !it.End() {
		t.Fatal("iterator over an empty table must start at End")
	}
	if _, err := it.Tuple(); err == nil {
		t.Fatal("Tuple() past End must error")
	}
	if _, err := it.ValueIndex(); err == nil {
		t.Fatal("ValueIndex() past End must error")
	}
}
