package peering

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/csvquery/equijoin/internal/joinerr"
	"github.com/csvquery/equijoin/internal/obslog"
)

// NetTransport is the TCP reference Transport: each peer listens on its own
// address and short-lived, length-prefixed connections carry point-to-point
// messages, the way csvquery's UDSDaemon (internal_teacher/server/daemon.go)
// accepts one connection per request rather than holding a persistent
// session open. Each Send generates a uuid correlation ID that goes only
// into the debug log, for log correlation across peers; frames do not
// carry it. The uuid use is grounded on dolthub-dolt's use of
// github.com/google/uuid for request IDs.
type NetTransport struct {
	id          int
	addrs       []string
	coordinator int
	listener    net.Listener
	log         obslog.Logger

	mu    sync.Mutex
	inbox []chan []byte
}

type frameHeader struct {
	From uint32
	Len  uint32
}

// NewNetTransport binds addrs[id] and starts accepting inbound frames. addrs
// must list every peer's address in instance-id order.
func NewNetTransport(id int, addrs []string, coordinator int, log obslog.Logger) (*NetTransport, error) {
	if log == nil {
		log = obslog.Noop()
	}
	ln, err := net.Listen("tcp", addrs[id])
	if err != nil {
		return nil, fmt.Errorf("peering: listen on %s: %w", addrs[id], err)
	}
	t := &NetTransport{
		id:          id,
		addrs:       addrs,
		coordinator: coordinator,
		listener:    ln,
		log:         log,
		inbox:       make([]chan []byte, len(addrs)),
	}
	for i := range t.inbox {
		t.inbox[i] = make(chan []byte, 64)
	}
	go t.acceptLoop()
	return t, nil
}

func (t *NetTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return // listener closed: Close() was called
		}
		go t.handleConn(conn)
	}
}

func (t *NetTransport) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	var hdr frameHeader
	if err := binary.Read(conn, binary.BigEndian, &hdr); err != nil {
		return
	}
	buf := make([]byte, hdr.Len)
	if _, err := readFull(conn, buf); err != nil {
		t.log.Warnw("peering: short frame read", map[string]any{"err": err.Error()})
		return
	}
	if int(hdr.From) >= len(t.inbox) {
		return
	}
	t.inbox[hdr.From] <- buf
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close stops accepting new connections.
func (t *NetTransport) Close() error { return t.listener.Close() }

func (t *NetTransport) InstanceID() int    { return t.id }
func (t *NetTransport) PeerCount() int     { return len(t.addrs) }
func (t *NetTransport) CoordinatorID() int { return t.coordinator }

// Send dials the target peer, writes one length-prefixed frame, and closes
// the connection. A correlation ID is logged but not placed on the wire.
func (t *NetTransport) Send(to int, buf []byte) error {
	if to < 0 || to >= len(t.addrs) {
		return joinerr.New(joinerr.EBounds, "send target instance %d out of range", to)
	}
	corr := uuid.New()
	conn, err := net.Dial("tcp", t.addrs[to])
	if err != nil {
		return fmt.Errorf("peering: dial peer %d: %w", to, err)
	}
	defer func() { _ = conn.Close() }()

	hdr := frameHeader{From: uint32(t.id), Len: uint32(len(buf))}
	if err := binary.Write(conn, binary.BigEndian, hdr); err != nil {
		return fmt.Errorf("peering: write frame header to %d: %w", to, err)
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("peering: write frame body to %d: %w", to, err)
	}
	t.log.Debugw("peering: sent frame", map[string]any{"to": to, "bytes": len(buf), "corr": corr.String()})
	return nil
}

// Receive blocks until a frame from `from` has arrived.
func (t *NetTransport) Receive(from int) ([]byte, error) {
	if from < 0 || from >= len(t.inbox) {
		return nil, joinerr.New(joinerr.EBounds, "receive source instance %d out of range", from)
	}
	return <-t.inbox[from], nil
}

// Broadcast sends buf to every other peer.
func (t *NetTransport) Broadcast(buf []byte) error {
	for p := 0; p < len(t.addrs); p++ {
		if p == t.id {
			continue
		}
		if err := t.Send(p, buf); err != nil {
			return err
		}
	}
	return nil
}

// AllToAllInt64 implements spec §4.8's globalLowerBound over the network:
// non-coordinators send to the coordinator and await the merged vector; the
// coordinator collects from every peer, then broadcasts the full vector.
func (t *NetTransport) AllToAllInt64(local int64) ([]int64, error) {
	if t.id != t.coordinator {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.BigEndian, local)
		if err := t.Send(t.coordinator, buf.Bytes()); err != nil {
			return nil, err
		}
		data, err := t.Receive(t.coordinator)
		if err != nil {
			return nil, err
		}
		return decodeInt64Vector(data)
	}

	vec := make([]int64, len(t.addrs))
	vec[t.id] = local
	for p := 0; p < len(t.addrs); p++ {
		if p == t.id {
			continue
		}
		data, err := t.Receive(p)
		if err != nil {
			return nil, err
		}
		v, err := decodeInt64(data)
		if err != nil {
			return nil, err
		}
		vec[p] = v
	}
	if err := t.Broadcast(encodeInt64Vector(vec)); err != nil {
		return nil, err
	}
	return vec, nil
}

func decodeInt64(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, joinerr.Invariant("malformed int64 frame")
	}
	var v int64
	_ = binary.Read(bytes.NewReader(data), binary.BigEndian, &v)
	return v, nil
}

func encodeInt64Vector(vec []int64) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int64(len(vec)))
	for _, v := range vec {
		_ = binary.Write(&buf, binary.BigEndian, v)
	}
	return buf.Bytes()
}

func decodeInt64Vector(data []byte) ([]int64, error) {
	r := bytes.NewReader(data)
	var n int64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, joinerr.Invariant("malformed int64 vector frame")
	}
	out := make([]int64, n)
	for i := range out {
		if err := binary.Read(r, binary.BigEndian, &out[i]); err != nil {
			return nil, joinerr.Invariant("truncated int64 vector frame")
		}
	}
	return out, nil
}

// Replicate gathers every peer's chunks through the coordinator and
// broadcasts the union back, using gob to encode the Chunk/Cell/Value
// structs (all-exported fields, so gob needs no custom codec).
func (t *NetTransport) Replicate(arr Array) (Array, error) {
	chunks, err := drainChunks(arr)
	if err != nil {
		return nil, err
	}
	all, err := t.gatherAndBroadcastChunks(chunks)
	if err != nil {
		return nil, err
	}
	return &materialArray{chunks: all}, nil
}

// ShuffleByFirstDim gathers every peer's chunks and keeps only the cells
// whose first-dimension coordinate equals this peer's InstanceID.
func (t *NetTransport) ShuffleByFirstDim(arr Array) (Array, error) {
	chunks, err := drainChunks(arr)
	if err != nil {
		return nil, err
	}
	all, err := t.gatherAndBroadcastChunks(chunks)
	if err != nil {
		return nil, err
	}
	var mine []Chunk
	for _, c := range all {
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
	return &materialArray{chunks: mine}, nil
}

func (t *NetTransport) gatherAndBroadcastChunks(local []Chunk) ([]Chunk, error) {
	encoded, err := encodeChunks(local)
	if err != nil {
		return nil, err
	}
	if t.id != t.coordinator {
		if err := t.Send(t.coordinator, encoded); err != nil {
			return nil, err
		}
		data, err := t.Receive(t.coordinator)
		if err != nil {
			return nil, err
		}
		return decodeChunks(data)
	}

	all := append([]Chunk(nil), local...)
	for p := 0; p < len(t.addrs); p++ {
		if p == t.id {
			continue
		}
		data, err := t.Receive(p)
		if err != nil {
			return nil, err
		}
		chunks, err := decodeChunks(data)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	merged, err := encodeChunks(all)
	if err != nil {
		return nil, err
	}
	if err := t.Broadcast(merged); err != nil {
		return nil, err
	}
	return all, nil
}

func encodeChunks(chunks []Chunk) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(chunks); err != nil {
		return nil, fmt.Errorf("peering: encode chunks: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeChunks(data []byte) ([]Chunk, error) {
	var chunks []Chunk
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&chunks); err != nil {
		return nil, fmt.Errorf("peering: decode chunks: %w", err)
	}
	return chunks, nil
}
