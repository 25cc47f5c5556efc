package jointuple

import "testing"

func TestInt64ValueRoundTrip(t *testing.T) {
	v := Int64Value(-42)
	if v.Int64() != -42 {
		t.Fatalf("got %d, want -42", v.Int64())
	}
}

func TestFloat64ValueRoundTrip(t *testing.T) {
	v := Float64Value(3.5)
	if v.Float64() != 3.5 {
		t.Fatalf("got %v, want 3.5", v.Float64())
	}
}

func TestStringValueRoundTrip(t *testing.T) {
	v := StringValue("hello")
	if v.String() != "hello" {
		t.Fatalf("got %q, want %q", v.String(), "hello")
	}
}

func TestCompareInt64(t *testing.T) {
	cases := []struct {
		a, b int64
		want int
	}{
		{1, 2, -1},
		{2, 1, 1},
		{5, 5, 0},
		{-1, 1, -1},
	}
	for _, c := range cases {
		got := Compare(Int64Value(c.a), Int64Value(c.b))
		if got != c.want {
			t.Errorf("Compare(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareFloat64(t *testing.T) {
	if Compare(Float64Value(1.5), Float64Value(2.5)) >= 0 {
		t.Fatal("1.5 should compare less than 2.5")
	}
	if Compare(Float64Value(2.5), Float64Value(2.5)) != 0 {
		t.Fatal("equal floats should compare equal")
	}
}

func TestCompareString(t *testing.T) {
	if Compare(StringValue("abc"), StringValue("abd")) >= 0 {
		t.Fatal("\"abc\" should compare less than \"abd\"")
	}
	if Compare(StringValue("ab"), StringValue("abc")) >= 0 {
		t.Fatal("shorter prefix should compare less than its extension")
	}
}

func TestEqual(t *testing.T) {
	if !Equal(Int64Value(9), Int64Value(9)) {
		t.Fatal("identical int64 values must be equal")
	}
	if Equal(Int64Value(9), Int64Value(10)) {
		t.Fatal("distinct int64 values must not be equal")
	}
}

func TestBytesValue(t *testing.T) {
	b := []byte{1, 2, 3}
	v := BytesValue(b)
	if v.Kind != KindBytes {
		t.Fatalf("got kind %v, want KindBytes", v.Kind)
	}
	if Compare(v, BytesValue([]byte{1, 2, 3})) != 0 {
		t.Fatal("identical byte payloads must compare equal")
	}
}

func TestNullValue(t *testing.T) {
	v := NullValue(KindInt64)
	if !v.Null {
		t.Fatal("NullValue must set Null")
	}
}
