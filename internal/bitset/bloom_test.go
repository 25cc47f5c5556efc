package bitset

import (
	"testing"

	"github.com/csvquery/equijoin/internal/jointuple"
)

func TestBloomFilterAddHasData(t *testing.T) {
	bf := NewBloomFilter(4096)
	bf.AddData([]byte("hello"))
	if !bf.HasData([]byte("hello")) {
		t.Fatal("bloom filter must report membership for inserted data")
	}
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(8192)
	inputs := [][]byte{[]byte("k1"), []byte("k2"), []byte("k3"), []byte("another-key")}
	for _, in := range inputs {
		bf.AddData(in)
	}
	for _, in := range inputs {
		if !bf.HasData(in) {
			t.Fatalf("false negative for %q", in)
		}
	}
}

func TestBloomFilterAddHasTuple(t *testing.T) {
	bf := NewBloomFilter(4096)
	tup := jointuple.Tuple{Values: []jointuple.Value{
		jointuple.Int64Value(7),
		jointuple.StringValue("payload"),
	}}
	bf.AddTuple(tup, 1)
	if !bf.HasTuple(tup, 1) {
		t.Fatal("bloom filter must report membership for inserted tuple's key")
	}
	other := jointuple.Tuple{Values: []jointuple.Value{
		jointuple.Int64Value(7),
		jointuple.StringValue("different-payload"),
	}}
	if !bf.HasTuple(other, 1) {
		t.Fatal("tuples sharing the same key bytes must also test positive")
	}
}

func TestBloomFilterSerializeRoundTrip(t *testing.T) {
	bf := NewBloomFilter(2048)
	bf.AddData([]byte("a"))
	bf.AddData([]byte("b"))
	data := bf.Serialize()
	round, err := DeserializeBloom(data)
	if err != nil {
		t.Fatalf("DeserializeBloom: %v", err)
	}
	if round.Size() != bf.Size() {
		t.Fatalf("size mismatch: got %d want %d", round.Size(), bf.Size())
	}
	if !round.HasData([]byte("a")) || !round.HasData([]byte("b")) {
		t.Fatal("round-tripped filter lost membership")
	}
}

func TestBloomFilterMerge(t *testing.T) {
	a := NewBloomFilter(4096)
	b := NewBloomFilter(4096)
	a.AddData([]byte("only-in-a"))
	b.AddData([]byte("only-in-b"))
	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !a.HasData([]byte("only-in-a")) || !a.HasData([]byte("only-in-b")) {
		t.Fatal("merged filter must contain both operands' data")
	}
}

// fakeExchanger is a trivial in-process Exchanger for exercising
// GlobalExchange's two-phase all-reduce deterministically, single-threaded,
// without a real transport. Messages are keyed purely by sender id, which
// is enough for the coordinator/non-coordinator roundtrip this protocol
// performs (a peer only ever sends to the coordinator; the coordinator
// only ever broadcasts).
type fakeExchanger struct {
	self, coord, peers int
	bySender           map[int][]byte
}

func (f *fakeExchanger) InstanceID() int    { return f.self }
func (f *fakeExchanger) PeerCount() int     { return f.peers }
func (f *fakeExchanger) CoordinatorID() int { return f.coord }
func (f *fakeExchanger) Send(to int, buf []byte) error {
	f.bySender[f.self] = buf
	return nil
}
func (f *fakeExchanger) Receive(from int) ([]byte, error) {
	return f.bySender[from], nil
}
func (f *fakeExchanger) Broadcast(buf []byte) error {
	f.bySender[f.self] = buf
	return nil
}

func TestBloomFilterGlobalExchangeTwoPeers(t *testing.T) {
	size := 4096
	coordBF := NewBloomFilter(size)
	coordBF.AddData([]byte("coord-key"))
	peerBF := NewBloomFilter(size)
	peerBF.AddData([]byte("peer-key"))

	shared := map[int][]byte{}
	coordEx := &fakeExchanger{self: 0, coord: 0, peers: 2, bySender: shared}
	peerEx := &fakeExchanger{self: 1, coord: 0, peers: 2, bySender: shared}

	// Non-coordinator sends first so the coordinator's Receive has data.
	if err := peerEx.Send(0, peerBF.Serialize()); err != nil {
		t.Fatalf("peer send: %v", err)
	}

	merged, err := coordBF.GlobalExchange(coordEx)
	if err != nil {
		t.Fatalf("coordinator GlobalExchange: %v", err)
	}
	if !merged.HasData([]byte("coord-key")) || !merged.HasData([]byte("peer-key")) {
		t.Fatal("coordinator's merged filter must contain both peers' data")
	}

	// Coordinator's broadcast landed in bySender[0]; a fresh peer-side
	// filter now reads it back via GlobalExchange's receive-merged step.
	peerMerged, err := peerBF.GlobalExchange(peerEx)
	if err != nil {
		t.Fatalf("peer GlobalExchange: %v", err)
	}
	if !peerMerged.HasData([]byte("coord-key")) || !peerMerged.HasData([]byte("peer-key")) {
		t.Fatal("non-coordinator's merged filter must contain both peers' data")
	}
}
