package bitset

import "testing"

func TestBitVectorSetGet(t *testing.T) {
	v := NewBitVector(100)
	if v.Get(42) {
		t.Fatal("bit should start clear")
	}
	v.Set(42)
	if !v.Get(42) {
		t.Fatal("bit should be set after Set")
	}
	if v.Get(41) || v.Get(43) {
		t.Fatal("neighboring bits must remain clear")
	}
}

func TestBitVectorOutOfRangePanics(t *testing.T) {
	v := NewBitVector(8)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-range Set")
		}
	}()
	v.Set(100)
}

func TestBitVectorOrIn(t *testing.T) {
	a := NewBitVector(64)
	b := NewBitVector(64)
	a.Set(1)
	b.Set(2)
	if err := a.OrIn(b); err != nil {
		t.Fatalf("OrIn: %v", err)
	}
	if !a.Get(1) || !a.Get(2) {
		t.Fatal("OrIn must merge both operands' bits")
	}
}

func TestBitVectorOrInLengthMismatch(t *testing.T) {
	a := NewBitVector(64)
	b := NewBitVector(128)
	if err := a.OrIn(b); err == nil {
		t.Fatal("expected error on length mismatch")
	}
}

func TestBitVectorBytesRoundTrip(t *testing.T) {
	v := NewBitVector(200)
	v.Set(0)
	v.Set(199)
	v.Set(77)
	round := FromBytes(200, v.Bytes())
	for _, i := range []int{0, 199, 77} {
		if !round.Get(i) {
			t.Fatalf("bit %d lost in round trip", i)
		}
	}
	if round.Get(5) {
		t.Fatal("unset bit should stay unset after round trip")
	}
}
