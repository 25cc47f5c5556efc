package peering

import (
	"fmt"
	"testing"
)

func TestSingleInstanceIdentity(t *testing.T) {
	cl := NewCluster(1)
	p := cl.Peer(0)
	if p.InstanceID() != 0 || p.PeerCount() != 1 || p.CoordinatorID() != 0 {
		t.Fatalf("unexpected identity: id=%d peers=%d coord=%d", p.InstanceID(), p.PeerCount(), p.CoordinatorID())
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	cl := NewCluster(2)
	a, b := cl.Peer(0), cl.Peer(1)
	done := make(chan error, 1)
	go func() {
		buf, err := b.Receive(0)
		if err != nil {
			done <- err
			return
		}
		if string(buf) != "hello" {
			done <- errMismatch(buf)
			return
		}
		done <- nil
	}()
	if err := a.Send(1, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Receive: %v", err)
	}
}

func errMismatch(buf []byte) error {
	return fmt.Errorf("unexpected payload: %q", buf)
}

func TestSendOutOfRangeErrors(t *testing.T) {
	cl := NewCluster(2)
	p := cl.Peer(0)
	if err := p.Send(9, []byte("x")); err == nil {
		t.Fatal("Send to an out-of-range instance must error")
	}
}

func TestReceiveOutOfRangeErrors(t *testing.T) {
	cl := NewCluster(2)
	p := cl.Peer(0)
	if _, err := p.Receive(9); err == nil {
		t.Fatal("Receive from an out-of-range instance must error")
	}
}

func TestBroadcastReachesAllOtherPeers(t *testing.T) {
	cl := NewCluster(3)
	done := make(chan error, 2)
	for id := 1; id < 3; id++ {
		go func(id int) {
			buf, err := cl.Peer(id).Receive(0)
			if err != nil {
				done <- err
				return
			}
			if string(buf) != "fanout" {
				done <- errMismatch(buf)
				return
			}
			done <- nil
		}(id)
	}
	if err := cl.Peer(0).Broadcast([]byte("fanout")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("peer receive: %v", err)
		}
	}
}

func TestReplicateUnionsEveryPeersChunks(t *testing.T) {
	cl := NewCluster(2)
	arr0 := NewMaterialArray([]Chunk{{Origin: []int64{0}, Cells: []Cell{{Coords: []int64{0}}}}})
	arr1 := NewMaterialArray([]Chunk{{Origin: []int64{1}, Cells: []Cell{{Coords: []int64{1}}}}})

	results := make([]Array, 2)
	errs := make([]error, 2)
	done := make(chan int, 2)
	go func() { results[0], errs[0] = cl.Peer(0).Replicate(arr0); done <- 0 }()
	go func() { results[1], errs[1] = cl.Peer(1).Replicate(arr1); done <- 1 }()
	<-done
	<-done

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("peer %d Replicate: %v", i, errs[i])
		}
		n := countChunks(t, results[i])
		if n != 2 {
			t.Fatalf("peer %d: got %d chunks, want 2 (union of both peers)", i, n)
		}
	}
}

func TestShuffleByFirstDimPartitionsByInstanceID(t *testing.T) {
	cl := NewCluster(2)
	shared := NewMaterialArray([]Chunk{{
		Origin: []int64{0},
		Cells: []Cell{
			{Coords: []int64{0}},
			{Coords: []int64{1}},
			{Coords: []int64{0}},
		},
	}})

	results := make([]Array, 2)
	errs := make([]error, 2)
	done := make(chan int, 2)
	for id := 0; id < 2; id++ {
		go func(id int) { results[id], errs[id] = cl.Peer(id).ShuffleByFirstDim(shared); done <- id }(id)
	}
	<-done
	<-done

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("errors: %v, %v", errs[0], errs[1])
	}
	// Both peers contribute the same chunk, so each peer receives its cells
	// once per contributing peer: 2x2 with coordinate 0, 2x1 with coordinate 1.
	if n := countCells(t, results[0]); n != 4 {
		t.Fatalf("peer 0 got %d cells, want 4", n)
	}
	if n := countCells(t, results[1]); n != 2 {
		t.Fatalf("peer 1 got %d cells, want 2", n)
	}
}

func countChunks(t *testing.T, arr Array) int {
	t.Helper()
	it := arr.Chunks()
	n := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Chunks().Next: %v", err)
		}
		if !ok {
			return n
		}
		n++
	}
}

func countCells(t *testing.T, arr Array) int {
	t.Helper()
	it := arr.Chunks()
	n := 0
	for {
		c, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Chunks().Next: %v", err)
		}
		if !ok {
			return n
		}
		n += len(c.Cells)
	}
}
