package joinengine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/csvquery/equijoin/internal/blockio"
	"github.com/csvquery/equijoin/internal/cursor"
	"github.com/csvquery/equijoin/internal/extsort"
	"github.com/csvquery/equijoin/internal/mmapfile"
	"github.com/csvquery/equijoin/internal/tupleio"
)

// materializeSorted drains a fully (hash,keys)-sorted extsort.Result to a
// spilled blockio file and wraps it in a cursor.SortedCursor, giving the
// merge kernel the random-access rewind (SetIdx) a forward-only Result
// can't provide. trailerCols strips that many trailing columns (the
// hash/tag a pre-sort or split-on-hash writer appended) before spilling, so
// the cursor yields plain key+payload tuples.
// The returned int64 is the spill file's byte size — spec §4.11 Phase 3's
// hash-fallback decision needs each side's post-shuffle size measured
// independently (spec.md Q-1: the original source's bug reused one side's
// estimate for both checks), and the compressed spill file is the cheapest
// available proxy for it, already paid for by materializing the cursor.
func materializeSorted(res *extsort.Result, tempDir, name string, trailerCols int) (*cursor.SortedCursor, int64, func(), error) {
	path := filepath.Join(tempDir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("joinengine: create merge-input spill %s: %w", name, err)
	}

	bw := blockio.NewWriter(f)
	for {
		t, ok, err := res.Next()
		if err != nil {
			_ = f.Close()
			return nil, 0, nil, fmt.Errorf("joinengine: drain sorted stream %s: %w", name, err)
		}
		if !ok {
			break
		}
		if trailerCols > 0 {
			t = tupleio.StripTrailer(t, trailerCols)
		}
		if err := bw.WriteTuple(t); err != nil {
			_ = f.Close()
			return nil, 0, nil, fmt.Errorf("joinengine: write merge-input spill %s: %w", name, err)
		}
	}
	if err := bw.Close(); err != nil {
		_ = f.Close()
		return nil, 0, nil, fmt.Errorf("joinengine: close merge-input spill %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return nil, 0, nil, fmt.Errorf("joinengine: close merge-input spill writer %s: %w", name, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("joinengine: stat merge-input spill %s: %w", name, err)
	}

	// The merge kernel's rewind (mark/goToMark, §4.7) re-reads this cursor's
	// blocks out of order, so mapping the whole spill file once up front
	// (internal/mmapfile) avoids re-seeking/re-reading it block by block the
	// way cidx.go's NewBlockReaderMmap avoids repeat syscalls for its own
	// sparse-index reader.
	rf, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("joinengine: reopen merge-input spill %s: %w", name, err)
	}
	data, err := mmapfile.MmapFile(rf)
	if err != nil {
		_ = rf.Close()
		return nil, 0, nil, fmt.Errorf("joinengine: mmap merge-input spill %s: %w", name, err)
	}
	if data == nil {
		br, err := blockio.NewReader(rf)
		if err != nil {
			_ = rf.Close()
			return nil, 0, nil, fmt.Errorf("joinengine: read empty merge-input spill %s: %w", name, err)
		}
		cleanup := func() {
			_ = rf.Close()
			_ = os.Remove(path)
		}
		return cursor.NewFromBlockReader(br), info.Size(), cleanup, nil
	}

	br, err := blockio.NewMmapReader(data)
	if err != nil {
		_ = mmapfile.Munmap(data)
		_ = rf.Close()
		return nil, 0, nil, fmt.Errorf("joinengine: parse mmap merge-input spill %s: %w", name, err)
	}
	cleanup := func() {
		_ = br.Cleanup(mmapfile.Munmap)
		_ = rf.Close()
		_ = os.Remove(path)
	}
	return cursor.NewFromBlockReader(br), info.Size(), cleanup, nil
}
