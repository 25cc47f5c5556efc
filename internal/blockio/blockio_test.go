package blockio

import (
	"bytes"
	"testing"

	"github.com/csvquery/equijoin/internal/jointuple"
)

func sampleTuples() []jointuple.Tuple {
	return []jointuple.Tuple{
		{Values: []jointuple.Value{jointuple.Int64Value(1), jointuple.StringValue("alpha")}},
		{Values: []jointuple.Value{jointuple.Int64Value(2), jointuple.StringValue("beta")}},
		{Values: []jointuple.Value{jointuple.NullValue(jointuple.KindInt64), jointuple.StringValue("gamma")}},
	}
}

func TestEncodeDecodeTupleRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	tup := sampleTuples()[0]
	EncodeTuple(&buf, tup)

	got, err := DecodeTuple(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeTuple: %v", err)
	}
	if len(got.Values) != len(tup.Values) {
		t.Fatalf("got %d values, want %d", len(got.Values), len(tup.Values))
	}
	if got.Values[0].Int64() != 1 {
		t.Fatalf("first value = %d, want 1", got.Values[0].Int64())
	}
	if got.Values[1].String() != "alpha" {
		t.Fatalf("second value = %q, want %q", got.Values[1].String(), "alpha")
	}
}

func TestEncodeDecodeNullValue(t *testing.T) {
	var buf bytes.Buffer
	tup := jointuple.Tuple{Values: []jointuple.Value{jointuple.NullValue(jointuple.KindInt64)}}
	EncodeTuple(&buf, tup)
	got, err := DecodeTuple(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeTuple: %v", err)
	}
	if !got.Values[0].Null {
		t.Fatal("null flag must round-trip")
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	tuples := sampleTuples()
	for _, tup := range tuples {
		if err := bw.WriteTuple(tup); err != nil {
			t.Fatalf("WriteTuple: %v", err)
		}
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bw.RowCount() != int64(len(tuples)) {
		t.Fatalf("RowCount() = %d, want %d", bw.RowCount(), len(tuples))
	}

	br, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if br.RowCount() != int64(len(tuples)) {
		t.Fatalf("Reader.RowCount() = %d, want %d", br.RowCount(), len(tuples))
	}

	for i := range tuples {
		got, err := br.TupleAt(int64(i))
		if err != nil {
			t.Fatalf("TupleAt(%d): %v", i, err)
		}
		if len(got.Values) != len(tuples[i].Values) {
			t.Fatalf("TupleAt(%d): value count mismatch", i)
		}
	}

	all, err := br.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != len(tuples) {
		t.Fatalf("All() returned %d tuples, want %d", len(all), len(tuples))
	}
}

func TestScannerIteratesInOrder(t *testing.T) {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	tuples := sampleTuples()
	for _, tup := range tuples {
		if err := bw.WriteTuple(tup); err != nil {
			t.Fatalf("WriteTuple: %v", err)
		}
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	br, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	sc := NewScanner(br)
	var count int
	for {
		_, ok, err := sc.Next()
		if err != nil {
			t.Fatalf("Scanner.Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != len(tuples) {
		t.Fatalf("scanner produced %d tuples, want %d", count, len(tuples))
	}
}

func TestMmapReaderParsesFooter(t *testing.T) {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	for _, tup := range sampleTuples() {
		if err := bw.WriteTuple(tup); err != nil {
			t.Fatalf("WriteTuple: %v", err)
		}
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	br, err := NewMmapReader(buf.Bytes())
	if err != nil {
		t.Fatalf("NewMmapReader: %v", err)
	}
	if br.RowCount() != 3 {
		t.Fatalf("RowCount() = %d, want 3", br.RowCount())
	}
	tup, err := br.TupleAt(1)
	if err != nil {
		t.Fatalf("TupleAt(1): %v", err)
	}
	if tup.Values[1].String() != "beta" {
		t.Fatalf("TupleAt(1) = %q, want %q", tup.Values[1].String(), "beta")
	}
}
