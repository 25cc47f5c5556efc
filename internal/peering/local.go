package peering

import (
	"sync"

	"github.com/csvquery/equijoin/internal/joinerr"
)

// round is one instance of an N-way barrier exchange: every peer's enter()
// call blocks until all N have arrived, then all N see the same snapshot.
// A fresh round is installed before the barrier releases, so a peer that
// starts a second collective immediately never races the tail of the first.
type round struct {
	values []any
	count  int
	done   chan struct{}
}

type barrier struct {
	mu  sync.Mutex
	n   int
	cur *round
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, cur: &round{values: make([]any, n), done: make(chan struct{})}}
}

// enter contributes val at index id and returns the full N-element snapshot
// once every peer has contributed.
func (b *barrier) enter(id int, val any) []any {
	b.mu.Lock()
	r := b.cur
	r.values[id] = val
	r.count++
	if r.count == b.n {
		b.cur = &round{values: make([]any, b.n), done: make(chan struct{})}
		b.mu.Unlock()
		close(r.done)
		return r.values
	}
	b.mu.Unlock()
	<-r.done
	return r.values
}

// Cluster is an in-process simulation of N cooperating peers, used both by
// tests (exercising the N=1 and N>1 collectives without a real network —
// SPEC_FULL §12's "degenerate single-peer execution") and by the CLI demo
// harness's single-process multi-peer mode.
type Cluster struct {
	n         int
	coord     int
	mailboxes [][]chan []byte
	sizeBar   *barrier
	arrayBar  *barrier
}

// NewCluster builds a Cluster of n peers with peer 0 as coordinator.
func NewCluster(n int) *Cluster {
	mb := make([][]chan []byte, n)
	for i := range mb {
		mb[i] = make([]chan []byte, n)
		for j := range mb[i] {
			mb[i][j] = make(chan []byte, 64)
		}
	}
	return &Cluster{
		n:         n,
		coord:     0,
		mailboxes: mb,
		sizeBar:   newBarrier(n),
		arrayBar:  newBarrier(n),
	}
}

// Peer returns the Transport a single peer goroutine should use.
func (c *Cluster) Peer(id int) *LocalTransport {
	return &LocalTransport{cluster: c, id: id}
}

// LocalTransport implements Transport against a shared in-process Cluster.
type LocalTransport struct {
	cluster *Cluster
	id      int
}

func (t *LocalTransport) InstanceID() int    { return t.id }
func (t *LocalTransport) PeerCount() int     { return t.cluster.n }
func (t *LocalTransport) CoordinatorID() int { return t.cluster.coord }

// Send enqueues buf on the (t.id -> to) mailbox without blocking the
// caller: if the buffered channel is momentarily full, the send continues
// on its own goroutine rather than stalling the invocation thread.
func (t *LocalTransport) Send(to int, buf []byte) error {
	if to < 0 || to >= t.cluster.n {
		return joinerr.New(joinerr.EBounds, "send target instance %d out of range", to)
	}
	ch := t.cluster.mailboxes[t.id][to]
	select {
	case ch <- buf:
	default:
		go func() { ch <- buf }()
	}
	return nil
}

// Receive blocks for the next buffer sent from `from` to this peer.
func (t *LocalTransport) Receive(from int) ([]byte, error) {
	if from < 0 || from >= t.cluster.n {
		return nil, joinerr.New(joinerr.EBounds, "receive source instance %d out of range", from)
	}
	return <-t.cluster.mailboxes[from][t.id], nil
}

// Broadcast sends buf to every other peer's mailbox, addressed as coming
// from t.id — the coordinator's fan-out half of globalExchange. Each other
// peer picks it up with Receive(coordinatorID).
func (t *LocalTransport) Broadcast(buf []byte) error {
	for p := 0; p < t.cluster.n; p++ {
		if p == t.id {
			continue
		}
		if err := t.Send(p, buf); err != nil {
			return err
		}
	}
	return nil
}

// AllToAllInt64 implements spec §4.8's globalLowerBound: every peer
// contributes its local value and all receive the full N-vector.
func (t *LocalTransport) AllToAllInt64(local int64) ([]int64, error) {
	raw := t.cluster.sizeBar.enter(t.id, local)
	out := make([]int64, len(raw))
	for i, v := range raw {
		out[i] = v.(int64)
	}
	return out, nil
}

// Replicate gathers every peer's local contribution to arr and returns the
// union as a materialised Array visible identically on every peer.
func (t *LocalTransport) Replicate(arr Array) (Array, error) {
	chunks, err := drainChunks(arr)
	if err != nil {
		return nil, err
	}
	raw := t.cluster.arrayBar.enter(t.id, chunks)
	var all []Chunk
	for _, v := range raw {
		all = append(all, v.([]Chunk)...)
	}
	return &materialArray{chunks: all}, nil
}

// ShuffleByFirstDim gathers every peer's chunks and returns only the cells
// whose first-dimension coordinate equals this peer's InstanceID.
func (t *LocalTransport) ShuffleByFirstDim(arr Array) (Array, error) {
	chunks, err := drainChunks(arr)
	if err != nil {
		return nil, err
	}
	raw := t.cluster.arrayBar.enter(t.id, chunks)

	var mine []Chunk
	for _, v := range raw {
		for _, c := range v.([]Chunk) {
			var keep []Cell
			for _, cell := range c.Cells {
				if len(cell.Coords) > 0 && cell.Coords[0] == int64(t.id) {
					keep = append(keep, cell)
				}
			}
			if len(keep) > 0 {
				mine = append(mine, Chunk{Origin: c.Origin, Cells: keep})
			}
		}
	}
	return &materialArray{chunks: mine}, nil
}

func drainChunks(arr Array) ([]Chunk, error) {
	var out []Chunk
	it := arr.Chunks()
	for {
		c, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}

// materialArray is a fully in-memory Array, the shape Replicate and
// ShuffleByFirstDim hand back once their collective has run.
type materialArray struct{ chunks []Chunk }

func (m *materialArray) Chunks() ChunkIterator { return &materialIter{chunks: m.chunks} }

type materialIter struct {
	chunks []Chunk
	pos    int
}

func (it *materialIter) Next() (Chunk, bool, error) {
	if it.pos >= len(it.chunks) {
		return Chunk{}, false, nil
	}
	c := it.chunks[it.pos]
	it.pos++
	return c, true, nil
}

// NewMaterialArray wraps an in-memory chunk slice as an Array, used by
// tests and by the CLI demo harness to seed inputs.
func NewMaterialArray(chunks []Chunk) Array { return &materialArray{chunks: chunks} }
