// Package mmapfile memory-maps spilled sort runs and compressed blocks for
// zero-copy reads, the Unix counterpart to csvquery's
// internal/common/mmap_windows.go (which falls back to io.ReadAll on
// Windows "to avoid unsafe pointer arithmetic complexity without external
// lib"). The retrieval pack's go.mod already depends on golang.org/x/sys,
// so here we do the real thing with unix.Mmap/Munmap instead of punting.
package mmapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapFile memory-maps f read-only for its current size and returns the
// mapped bytes. The caller must call Munmap on the returned slice (not on a
// sub-slice of it) when done.
func MmapFile(f *os.File) ([]byte, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmapfile: stat: %w", err)
	}
	size := st.Size()
	if size == 0 {
		return nil, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: mmap: %w", err)
	}
	return data, nil
}

// Munmap unmaps a slice previously returned by MmapFile. Safe to call with
// nil (empty-file case).
func Munmap(data []byte) error {
	if data == nil {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("mmapfile: munmap: %w", err)
	}
	return nil
}
