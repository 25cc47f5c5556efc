package sizing

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/csvquery/equijoin/internal/peering"
)

// sampleChunks is the stride LocalFingerprint samples the chunk stream
// with: the first chunk and every sampleChunks-th chunk after it are
// hashed. It carries csvquery's "sample a few points, not the whole file"
// idea (internal_teacher/indexer/indexer.go calculateFingerprint hashes a
// CSV file's head, middle and tail) over to "sample some chunks, not the
// whole array."
const sampleChunks = 3

// LocalFingerprint computes a cheap content fingerprint of arr's local
// chunks by xxhash-summing the origin, CompressedBytes, cell coordinates
// and attribute bytes of chunks 0, sampleChunks, 2*sampleChunks, ... of the
// chunk stream. Since ChunkIterator is pull-only and doesn't expose a count
// up front, every chunk is still visited; about one chunk in sampleChunks
// is hashed into the running digest.
//
// The fingerprint has no correctness role in the join core itself — it
// exists for a host to cheaply recognize "this is the same array I sized a
// moment ago" (e.g. across a retry, or between LocalLowerBound and a later
// re-estimate) without re-summing every chunk's CompressedBytes by content.
func LocalFingerprint(arr peering.Array) (uint64, error) {
	it := arr.Chunks()
	h := xxhash.New()
	var buf [8]byte
	total := 0
	for {
		chunk, ok, err := it.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		if total%sampleChunks == 0 {
			writeChunkDigestInput(h, &buf, chunk)
		}
		total++
	}
	return h.Sum64(), nil
}

func writeChunkDigestInput(h *xxhash.Digest, buf *[8]byte, chunk peering.Chunk) {
	for _, o := range chunk.Origin {
		binary.LittleEndian.PutUint64(buf[:], uint64(o))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(chunk.CompressedBytes))
	h.Write(buf[:])
	for _, cell := range chunk.Cells {
		for _, c := range cell.Coords {
			binary.LittleEndian.PutUint64(buf[:], uint64(c))
			h.Write(buf[:])
		}
		for _, v := range cell.Attributes {
			h.Write(v.Raw)
		}
	}
}
