package extsort

import (
	"testing"

	"github.com/csvquery/equijoin/internal/jointuple"
)

func int64Less(a, b jointuple.Tuple) bool {
	return a.Values[0].Int64() < b.Values[0].Int64()
}

func drainAll(t *testing.T, r *Result) []int64 {
	t.Helper()
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
	return got
}

func mustSorted(t *testing.T, got []int64) {
	t.Helper()
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Fatalf("output not sorted at position %d: %v", i, got)
		}
	}
}

func TestSorterInMemoryNoSpill(t *testing.T) {
	s := New(t.TempDir(), 100, int64Less)
	for _, v := range []int64{5, 3, 4, 1, 2} {
		if err := s.Add(jointuple.Tuple{Values: []jointuple.Value{jointuple.Int64Value(v)}}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	res, err := s.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got := drainAll(t, res)
	if len(got) != 5 {
		t.Fatalf("got %d tuples, want 5", len(got))
	}
	mustSorted(t, got)
}

func TestSorterSpillsAndMerges(t *testing.T) {
	s := New(t.TempDir(), 3, int64Less)
	values := []int64{9, 2, 7, 4, 1, 8, 5, 3, 6}
	for _, v := range values {
		if err := s.Add(jointuple.Tuple{Values: []jointuple.Value{jointuple.Int64Value(v)}}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	res, err := s.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got := drainAll(t, res)
	if len(got) != len(values) {
		t.Fatalf("got %d tuples, want %d", len(got), len(values))
	}
	mustSorted(t, got)
	s.Cleanup()
}

func TestSorterTotalAdded(t *testing.T) {
	s := New(t.TempDir(), 2, int64Less)
	for i := 0; i < 7; i++ {
		if err := s.Add(jointuple.Tuple{Values: []jointuple.Value{jointuple.Int64Value(int64(i))}}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if s.TotalAdded() != 7 {
		t.Fatalf("TotalAdded() = %d, want 7", s.TotalAdded())
	}
}

func TestSorterStableOnTies(t *testing.T) {
	type labeled struct {
		key   int64
		label string
	}
	input := []labeled{{1, "a"}, {1, "b"}, {1, "c"}, {0, "z"}}
	s := New(t.TempDir(), 100, int64Less)
	for _, l := range input {
		tup := jointuple.Tuple{Values: []jointuple.Value{jointuple.Int64Value(l.key), jointuple.StringValue(l.label)}}
		if err := s.Add(tup); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	res, err := s.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	var labels []string
	for {
		tup, ok, err := res.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		labels = append(labels, tup.Values[1].String())
	}
	want := []string{"z", "a", "b", "c"}
	if len(labels) != len(want) {
		t.Fatalf("got %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("stability broken: got %v, want %v", labels, want)
		}
	}
}
