package bitset

import (
	"encoding/binary"
	"fmt"

	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/xhash"
)

// BloomFilter is a fixed-size bit array with two independent hash positions
// per insertion (spec §4.2 / §3). Unlike csvquery's string-keyed bloom, it
// operates directly on the raw key-byte layout shared with the hash table,
// via AddTuple/HasTuple.
type BloomFilter struct {
	bits *BitVector
	size int
}

// NewBloomFilter allocates a BloomFilter with S bits, per spec §6's
// bloomFilterSize configuration option.
func NewBloomFilter(size int) *BloomFilter {
	if size < 1 {
		size = 1
	}
	return &BloomFilter{bits: NewBitVector(size), size: size}
}

// AddData sets bits h1(b) mod S and h2(b) mod S (spec §4.2).
func (bf *BloomFilter) AddData(b []byte) {
	p1, p2 := xhash.BloomPositions(b, bf.size)
	bf.bits.Set(p1)
	bf.bits.Set(p2)
}

// HasData returns whether both bit positions for b are set.
func (bf *BloomFilter) HasData(b []byte) bool {
	p1, p2 := xhash.BloomPositions(b, bf.size)
	return bf.bits.Get(p1) && bf.bits.Get(p2)
}

// AddTuple concatenates the first numKeys Value payloads (as in §4.1) and
// adds them to the filter.
func (bf *BloomFilter) AddTuple(t jointuple.Tuple, numKeys int) {
	bf.AddData(jointuple.KeyBytes(t, numKeys))
}

// HasTuple is the AddTuple-symmetric membership test.
func (bf *BloomFilter) HasTuple(t jointuple.Tuple, numKeys int) bool {
	return bf.HasData(jointuple.KeyBytes(t, numKeys))
}

// Merge ORs other into bf in place (used by globalExchange's coordinator
// accumulation step).
func (bf *BloomFilter) Merge(other *BloomFilter) error {
	return bf.bits.OrIn(other.bits)
}

// Serialize writes a small header (size as big-endian uint64) followed by
// the raw bits — the same shape as csvquery's BloomFilter.Serialize, minus
// the hashCount/count fields this filter's fixed two-hash scheme doesn't need.
func (bf *BloomFilter) Serialize() []byte {
	header := make([]byte, 8)
	binary.BigEndian.PutUint64(header, uint64(bf.size))
	return append(header, bf.bits.Bytes()...)
}

// DeserializeBloom reconstructs a BloomFilter from bytes produced by Serialize.
func DeserializeBloom(data []byte) (*BloomFilter, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("bitset: truncated bloom filter payload")
	}
	size := int(binary.BigEndian.Uint64(data[0:8]))
	return &BloomFilter{bits: FromBytes(size, data[8:]), size: size}, nil
}

// Size returns the bit length S.
func (bf *BloomFilter) Size() int { return bf.size }

// Exchanger is the point-to-point collective the bloom filter's
// globalExchange rides on top of; peering.Transport implements it.
type Exchanger interface {
	InstanceID() int
	PeerCount() int
	CoordinatorID() int
	Send(to int, buf []byte) error
	Receive(from int) ([]byte, error)
	Broadcast(buf []byte) error
}

// GlobalExchange implements the two-phase all-reduce of spec §4.2:
// non-coordinators send their filter to the coordinator and await the
// merged result; the coordinator receives from every peer, ORs into its
// own, then broadcasts. Peak memory on a non-coordinator is two filters:
// its own plus the merged one it receives back.
func (bf *BloomFilter) GlobalExchange(ex Exchanger) (*BloomFilter, error) {
	self := ex.InstanceID()
	coord := ex.CoordinatorID()

	if self != coord {
		if err := ex.Send(coord, bf.Serialize()); err != nil {
			return nil, fmt.Errorf("bitset: send to coordinator: %w", err)
		}
		merged, err := ex.Receive(coord)
		if err != nil {
			return nil, fmt.Errorf("bitset: receive merged filter: %w", err)
		}
		return DeserializeBloom(merged)
	}

	acc := bf
	for p := 0; p < ex.PeerCount(); p++ {
		if p == coord {
			continue
		}
		data, err := ex.Receive(p)
		if err != nil {
			return nil, fmt.Errorf("bitset: receive from peer %d: %w", p, err)
		}
		other, err := DeserializeBloom(data)
		if err != nil {
			return nil, err
		}
		if err := acc.Merge(other); err != nil {
			return nil, err
		}
	}
	if err := ex.Broadcast(acc.Serialize()); err != nil {
		return nil, fmt.Errorf("bitset: broadcast merged filter: %w", err)
	}
	return acc, nil
}
