// Package peering reifies the join core's external collaborators (spec §6)
// as Go interfaces: the chunked input-array contract, the two redistribute
// primitives (replicate, shuffleByFirstDim), and point-to-point messaging.
// It also ships a reference implementation of each (LocalTransport for
// single-process/in-test multi-peer runs, NetTransport for a real TCP
// rendezvous) so the repository is runnable standalone, the way csvquery's
// server package (internal_teacher/server/daemon.go) gives its query engine
// a real transport instead of leaving it purely abstract.
package peering

import "github.com/csvquery/equijoin/internal/jointuple"

// Cell is one input cell: its dimension coordinates plus its attribute
// values, in schema order (spec §6 "a chunked cell iterator that yields
// cells in chunk-major order").
type Cell struct {
	Coords     []int64
	Attributes []jointuple.Value
}

// Chunk is one chunk of an input array: its origin coordinate vector (one
// per dimension) and its cells, yielded in unspecified per-chunk order.
// CompressedBytes is the chunk's on-disk compressed size when the array is
// materialised (spec §4.8 localLowerBound's first branch); zero means
// "not materialised," falling back to a per-cell fixed-size estimate.
type Chunk struct {
	Origin          []int64
	Cells           []Cell
	CompressedBytes int64
}

// ChunkIterator is a pull-based cursor over an Array's chunks, in
// chunk-major order (spec §6).
type ChunkIterator interface {
	// Next returns the next chunk, or ok=false once exhausted.
	Next() (chunk Chunk, ok bool, err error)
}

// Array is one side's input: a schema (carried by the caller, since the
// join core doesn't own schema resolution — see internal/joinconfig.Schema)
// plus a chunked cell iterator.
type Array interface {
	Chunks() ChunkIterator
}

// Transport is the redistribute contract of spec §6: replicate and
// shuffleByFirstDim, plus the peer-identity accessors BloomFilter's
// GlobalExchange (bitset.Exchanger) and ChunkFilter.GlobalExchange need.
type Transport interface {
	InstanceID() int
	PeerCount() int
	CoordinatorID() int

	// Replicate returns an Array visible on every peer, built from this
	// peer's local contribution to arr.
	Replicate(arr Array) (Array, error)
	// ShuffleByFirstDim returns an Array containing only the cells whose
	// first-dimension coordinate equals this peer's InstanceID.
	ShuffleByFirstDim(arr Array) (Array, error)

	// Send is a non-blocking point-to-point send of an opaque buffer.
	Send(to int, buf []byte) error
	// Receive is a blocking point-to-point receive.
	Receive(from int) ([]byte, error)
	// Broadcast sends buf to every peer other than self; used by
	// BloomFilter/ChunkFilter's coordinator to fan the merged filter back
	// out.
	Broadcast(buf []byte) error

	// AllToAllInt64 is the size-estimator's global synchronization point
	// (spec §4.8): every peer contributes local, and every peer receives
	// the full vector of N contributions (in instance-id order).
	AllToAllInt64(local int64) ([]int64, error)
}
