package extsort

import (
	"fmt"
	"os"

	"github.com/csvquery/equijoin/internal/blockio"
	"github.com/csvquery/equijoin/internal/jointuple"
)

// mergeItem is one candidate in the merge heap: a decoded tuple plus which
// run it came from, so the next tuple from the same run can be pulled once
// this one is popped. Mirrors sorter.go's mergeItem/manualHeap exactly,
// generalized from a fixed IndexRecord comparison to the caller's LessFunc.
type mergeItem struct {
	tuple  jointuple.Tuple
	source int
}

// manualHeap is a hand-rolled binary min-heap, avoiding container/heap's
// interface{} boxing the way sorter.go's manualHeap does.
type manualHeap struct {
	items []mergeItem
	less  LessFunc
}

func (h *manualHeap) Len() int { return len(h.items) }
func (h *manualHeap) lessAt(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.less(a.tuple, b.tuple) {
		return true
	}
	if h.less(b.tuple, a.tuple) {
		return false
	}
	// Equal tuples: the earlier run holds the earlier input, so it goes first.
	return a.source < b.source
}
func (h *manualHeap) swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *manualHeap) push(it mergeItem) {
	h.items = append(h.items, it)
	h.up(len(h.items) - 1)
}

func (h *manualHeap) pop() mergeItem {
	n := len(h.items)
	top := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	h.down(0, n-1)
	return top
}

func (h *manualHeap) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !h.lessAt(j, i) {
			break
		}
		h.swap(i, j)
		j = i
	}
}

func (h *manualHeap) down(i0, n int) {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.lessAt(j2, j1) {
			j = j2
		}
		if !h.lessAt(j, i) {
			break
		}
		h.swap(j, i)
		i = j
	}
}

func (h *manualHeap) heapify() {
	n := len(h.items)
	for i := n/2 - 1; i >= 0; i-- {
		h.down(i, n)
	}
}

// merger performs the streaming k-way merge over spilled run files.
type merger struct {
	files    []*os.File
	scanners []*blockio.Scanner
	heap     manualHeap
}

func newMerger(runFiles []string, less LessFunc) (*merger, error) {
	m := &merger{heap: manualHeap{less: less}}
	for i, path := range runFiles {
		f, err := os.Open(path)
		if err != nil {
			m.closeAll()
			return nil, fmt.Errorf("extsort: open run %d: %w", i, err)
		}
		m.files = append(m.files, f)

		br, err := blockio.NewReader(f)
		if err != nil {
			m.closeAll()
			return nil, fmt.Errorf("extsort: read run %d footer: %w", i, err)
		}
		sc := blockio.NewScanner(br)
		m.scanners = append(m.scanners, sc)

		t, ok, err := sc.Next()
		if err != nil {
			m.closeAll()
			return nil, fmt.Errorf("extsort: read first record of run %d: %w", i, err)
		}
		if ok {
			m.heap.push(mergeItem{tuple: t, source: i})
		}
	}
	m.heap.heapify()
	return m, nil
}

func (m *merger) next() (jointuple.Tuple, bool, error) {
	if m.heap.Len() == 0 {
		m.closeAll()
		return jointuple.Tuple{}, false, nil
	}
	item := m.heap.pop()

	next, ok, err := m.scanners[item.source].Next()
	if err != nil {
		return jointuple.Tuple{}, false, fmt.Errorf("extsort: read next record from run %d: %w", item.source, err)
	}
	if ok {
		m.heap.push(mergeItem{tuple: next, source: item.source})
	}
	return item.tuple, true, nil
}

func (m *merger) closeAll() {
	for _, f := range m.files {
		_ = f.Close()
	}
}
