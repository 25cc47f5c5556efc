// Package extsort implements the external-memory sort of spec §4.6: a
// tuple stream is sorted on (hash, key0, …, key_{k-1}), spilling sorted
// runs to disk when the in-memory buffer fills and merging them back with
// a k-way merge. It is grounded directly on csvquery's own external sorter
// (internal_teacher/indexer/sorter.go): buffer-until-full, sort, spill an
// LZ4-compressed chunk file, then a manual binary-heap k-way merge at
// Finalize — generalized here from a fixed 80-byte IndexRecord to
// jointuple.Tuple via internal/blockio, and from a fixed key-then-offset
// comparator to a caller-supplied Less, so the exact (hash, keys) ordering
// spec §4.6 requires lives in the caller (internal/joinengine) rather than
// being hard-coded here.
package extsort

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/csvquery/equijoin/internal/blockio"
	"github.com/csvquery/equijoin/internal/jointuple"
)

// LessFunc orders two tuples. The sort MUST be stable on ties (spec §4.6)
// to preserve the property the merge-join hash fallback exploits.
type LessFunc func(a, b jointuple.Tuple) bool

// Sorter accumulates tuples, spilling sorted runs to tempDir once the
// in-memory buffer reaches chunkRows, and merges them back at Finalize.
type Sorter struct {
	tempDir   string
	chunkRows int
	less      LessFunc

	buffer   []jointuple.Tuple
	runFiles []string
	total    int64
}

// New creates a Sorter that buffers up to chunkRows tuples in memory
// before spilling a run to tempDir, ordering every run (and the final
// merge) with less.
func New(tempDir string, chunkRows int, less LessFunc) *Sorter {
	if chunkRows < 1 {
		chunkRows = 1
	}
	return &Sorter{
		tempDir:   tempDir,
		chunkRows: chunkRows,
		less:      less,
		buffer:    make([]jointuple.Tuple, 0, chunkRows),
	}
}

// Add buffers t, flushing a sorted run to disk once the buffer is full.
func (s *Sorter) Add(t jointuple.Tuple) error {
	s.buffer = append(s.buffer, t)
	s.total++
	if len(s.buffer) >= s.chunkRows {
		return s.flush()
	}
	return nil
}

func (s *Sorter) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}
	slices.SortStableFunc(s.buffer, func(a, b jointuple.Tuple) int {
		switch {
		case s.less(a, b):
			return -1
		case s.less(b, a):
			return 1
		default:
			return 0
		}
	})

	path := filepath.Join(s.tempDir, fmt.Sprintf("extsort_run_%d.tmp", len(s.runFiles)))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("extsort: create run file: %w", err)
	}
	bw := blockio.NewWriter(f)
	for _, t := range s.buffer {
		if err := bw.WriteTuple(t); err != nil {
			_ = f.Close()
			return fmt.Errorf("extsort: write run: %w", err)
		}
	}
	if err := bw.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("extsort: close run writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("extsort: close run file: %w", err)
	}

	s.runFiles = append(s.runFiles, path)
	s.buffer = s.buffer[:0]
	return nil
}

// Cleanup removes any spilled run files. Safe to call after Finalize or on
// an aborted invocation.
func (s *Sorter) Cleanup() {
	for _, p := range s.runFiles {
		_ = os.Remove(p)
	}
	s.runFiles = nil
}

// Result is the fully sorted output: either purely in-memory (no run ever
// spilled) or a forward-only Scan over the merged runs.
type Result struct {
	inMemory []jointuple.Tuple
	merge    *merger
}

// Next returns the next tuple in sorted order, or ok=false at the end.
func (r *Result) Next() (jointuple.Tuple, bool, error) {
	if r.merge != nil {
		return r.merge.next()
	}
	if len(r.inMemory) == 0 {
		return jointuple.Tuple{}, false, nil
	}
	t := r.inMemory[0]
	r.inMemory = r.inMemory[1:]
	return t, true, nil
}

// Finalize flushes any buffered tail and returns a Result that yields every
// tuple in (hash, keys) order. If nothing was ever spilled, the sort runs
// once, fully in memory; otherwise a k-way merge reads the spilled runs in
// streaming fashion via blockio.Scanner.
func (s *Sorter) Finalize() (*Result, error) {
	if len(s.runFiles) == 0 {
		slices.SortStableFunc(s.buffer, func(a, b jointuple.Tuple) int {
			switch {
			case s.less(a, b):
				return -1
			case s.less(b, a):
				return 1
			default:
				return 0
			}
		})
		out := s.buffer
		s.buffer = nil
		return &Result{inMemory: out}, nil
	}
	if err := s.flush(); err != nil {
		return nil, err
	}
	m, err := newMerger(s.runFiles, s.less)
	if err != nil {
		return nil, err
	}
	return &Result{merge: m}, nil
}

// TotalAdded returns the number of tuples ever passed to Add.
func (s *Sorter) TotalAdded() int64 { return s.total }
