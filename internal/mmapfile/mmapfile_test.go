package mmapfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMmapFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	want := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data, err := MmapFile(f)
	if err != nil {
		t.Fatalf("MmapFile: %v", err)
	}
	defer Munmap(data)

	if string(data) != string(want) {
		t.Fatalf("mapped data = %q, want %q", data, want)
	}
}

func TestMmapFileEmptyFileReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data, err := MmapFile(f)
	if err != nil {
		t.Fatalf("MmapFile: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil mapping for an empty file, got %d bytes", len(data))
	}
	if err := Munmap(data); err != nil {
		t.Fatalf("Munmap(nil) must be a no-op: %v", err)
	}
}
