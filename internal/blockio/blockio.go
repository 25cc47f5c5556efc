// Package blockio is the LZ4-compressed block container shared by
// internal/extsort (spilled sort runs) and internal/tupleio (the three
// output writer modes). It is grounded directly on csvquery's
// internal/common/cidx.go BlockWriter/BlockReader: fixed-size uncompressed
// blocks, LZ4-compressed independently, followed by a JSON sparse-index
// footer and an 8-byte footer-length trailer. Unlike cidx.go's fixed
// 80-byte IndexRecord, blockio serializes jointuple.Tuple, whose Values are
// variable-length, so each record is length-prefixed instead of fixed-width.
package blockio

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/csvquery/equijoin/internal/jointuple"
)

// BlockTargetSize is the target uncompressed block size before a block is
// flushed, matching cidx.go's BlockTargetSize.
const BlockTargetSize = 64 * 1024

// BlockMeta describes one compressed block in the footer's sparse index.
type BlockMeta struct {
	Offset      int64 `json:"offset"`
	Length      int64 `json:"length"`
	RecordCount int64 `json:"recordCount"`
	RowStart    int64 `json:"rowStart"`
}

// SparseIndex is the footer written at Close, the same shape as cidx.go's.
type SparseIndex struct {
	Blocks []BlockMeta `json:"blocks"`
}

// EncodeTuple serializes a tuple as: varint value count, then per value
// [kind byte][null byte][varint len][raw bytes].
func EncodeTuple(buf *bytes.Buffer, t jointuple.Tuple) {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(t.Values)))
	buf.Write(hdr[:n])
	for _, v := range t.Values {
		buf.WriteByte(byte(v.Kind))
		if v.Null {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		n := binary.PutUvarint(hdr[:], uint64(len(v.Raw)))
		buf.Write(hdr[:n])
		buf.Write(v.Raw)
	}
}

// DecodeTuple reads one tuple from r, in the EncodeTuple layout.
func DecodeTuple(r *bytes.Reader) (jointuple.Tuple, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return jointuple.Tuple{}, err
	}
	vals := make([]jointuple.Value, count)
	for i := range vals {
		kind, err := r.ReadByte()
		if err != nil {
			return jointuple.Tuple{}, fmt.Errorf("blockio: read kind: %w", err)
		}
		isNull, err := r.ReadByte()
		if err != nil {
			return jointuple.Tuple{}, fmt.Errorf("blockio: read null flag: %w", err)
		}
		ln, err := binary.ReadUvarint(r)
		if err != nil {
			return jointuple.Tuple{}, fmt.Errorf("blockio: read value length: %w", err)
		}
		raw := make([]byte, ln)
		if _, err := io.ReadFull(r, raw); err != nil {
			return jointuple.Tuple{}, fmt.Errorf("blockio: read value bytes: %w", err)
		}
		vals[i] = jointuple.Value{Kind: jointuple.Kind(kind), Null: isNull != 0, Raw: raw}
	}
	return jointuple.Tuple{Values: vals}, nil
}

// Writer accumulates serialized tuples into target-sized blocks, LZ4
// compresses each, and tracks a sparse index footer — the tuple-shaped
// analogue of cidx.go's BlockWriter.
type Writer struct {
	w       io.Writer
	raw     bytes.Buffer
	comp    bytes.Buffer
	lw      *lz4.Writer
	index   SparseIndex
	offset  int64
	pending int64 // records buffered in raw since last flush
	rowNo   int64 // total records written so far
}

// NewWriter wraps w in a block writer. No magic header is written here
// (unlike cidx.go) because blockio containers are always paired with an
// out-of-band mode tag at a higher layer — see tupleio.Mode.
func NewWriter(w io.Writer) *Writer {
	lw := lz4.NewWriter(io.Discard)
	_ = lw.Apply(lz4.BlockSizeOption(lz4.Block64Kb))
	return &Writer{w: w, lw: lw}
}

// WriteTuple buffers t and flushes the current block once it reaches
// BlockTargetSize of raw (pre-compression) bytes.
func (bw *Writer) WriteTuple(t jointuple.Tuple) error {
	before := bw.raw.Len()
	EncodeTuple(&bw.raw, t)
	_ = before
	bw.pending++
	if bw.raw.Len() >= BlockTargetSize {
		return bw.FlushBlock()
	}
	return nil
}

// FlushBlock compresses the buffered raw bytes and writes them as one block.
func (bw *Writer) FlushBlock() error {
	if bw.pending == 0 {
		return nil
	}
	bw.comp.Reset()
	bw.lw.Reset(&bw.comp)
	if _, err := bw.lw.Write(bw.raw.Bytes()); err != nil {
		return fmt.Errorf("blockio: compress block: %w", err)
	}
	if err := bw.lw.Close(); err != nil {
		return fmt.Errorf("blockio: close lz4 frame: %w", err)
	}
	compressed := bw.comp.Bytes()

	meta := BlockMeta{
		Offset:      bw.offset,
		Length:      int64(len(compressed)),
		RecordCount: bw.pending,
		RowStart:    bw.rowNo,
	}
	bw.index.Blocks = append(bw.index.Blocks, meta)

	n, err := bw.w.Write(compressed)
	if err != nil {
		return fmt.Errorf("blockio: write block: %w", err)
	}
	bw.offset += int64(n)
	bw.rowNo += bw.pending

	bw.raw.Reset()
	bw.pending = 0
	return nil
}

// Close flushes any remaining buffer and writes the JSON footer followed by
// its 8-byte big-endian length, matching cidx.go's footer layout.
func (bw *Writer) Close() error {
	if err := bw.FlushBlock(); err != nil {
		return err
	}
	footer, err := json.Marshal(bw.index)
	if err != nil {
		return fmt.Errorf("blockio: marshal footer: %w", err)
	}
	n, err := bw.w.Write(footer)
	if err != nil {
		return fmt.Errorf("blockio: write footer: %w", err)
	}
	return binary.Write(bw.w, binary.BigEndian, int64(n))
}

// RowCount returns the number of tuples written (flushed or pending) so far.
func (bw *Writer) RowCount() int64 { return bw.rowNo + bw.pending }

// Reader is the paired sequential+random-access reader, modeled on
// cidx.go's BlockReader (seek-based constructor NewReader; NewMmapReader
// builds one over an already memory-mapped file).
type Reader struct {
	r         io.ReadSeeker
	mmapData  []byte
	Index     SparseIndex
	curBlock  int
	curRecs   []jointuple.Tuple
	curStart  int64 // row index of curRecs[0]
}

// NewReader reads the footer from the end of r and returns a Reader
// positioned to decode blocks on demand.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	if _, err := r.Seek(-8, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("blockio: seek footer length: %w", err)
	}
	var footerLen int64
	if err := binary.Read(r, binary.BigEndian, &footerLen); err != nil {
		return nil, fmt.Errorf("blockio: read footer length: %w", err)
	}
	if _, err := r.Seek(-(8 + footerLen), io.SeekEnd); err != nil {
		return nil, fmt.Errorf("blockio: seek footer start: %w", err)
	}
	footerBytes := make([]byte, footerLen)
	if _, err := io.ReadFull(r, footerBytes); err != nil {
		return nil, fmt.Errorf("blockio: read footer: %w", err)
	}
	var idx SparseIndex
	if err := json.Unmarshal(footerBytes, &idx); err != nil {
		return nil, fmt.Errorf("blockio: unmarshal footer: %w", err)
	}
	return &Reader{r: r, Index: idx, curBlock: -1}, nil
}

// NewMmapReader builds a Reader over an already memory-mapped file (see
// internal/mmapfile), parsing the footer directly out of mapped memory with
// no syscalls — the zero-copy path cidx.go's NewBlockReaderMmap follows.
func NewMmapReader(data []byte) (*Reader, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("blockio: mapped file too small: %d bytes", len(data))
	}
	footerLen := int64(binary.BigEndian.Uint64(data[len(data)-8:]))
	footerStart := int64(len(data)) - 8 - footerLen
	if footerStart < 0 {
		return nil, fmt.Errorf("blockio: invalid footer start %d", footerStart)
	}
	var idx SparseIndex
	if err := json.Unmarshal(data[footerStart:len(data)-8], &idx); err != nil {
		return nil, fmt.Errorf("blockio: unmarshal mmap footer: %w", err)
	}
	return &Reader{mmapData: data, Index: idx, curBlock: -1}, nil
}

func (br *Reader) readBlock(i int) ([]jointuple.Tuple, error) {
	meta := br.Index.Blocks[i]
	var compData []byte
	if br.mmapData != nil {
		end := meta.Offset + meta.Length
		if end > int64(len(br.mmapData)) {
			return nil, fmt.Errorf("blockio: block %d extends past mapped file", i)
		}
		compData = br.mmapData[meta.Offset:end]
	} else {
		if _, err := br.r.Seek(meta.Offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("blockio: seek block %d: %w", i, err)
		}
		compData = make([]byte, meta.Length)
		if _, err := io.ReadFull(br.r, compData); err != nil {
			return nil, fmt.Errorf("blockio: read block %d: %w", i, err)
		}
	}

	lr := lz4.NewReader(bytes.NewReader(compData))
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(lr); err != nil {
		return nil, fmt.Errorf("blockio: decompress block %d: %w", i, err)
	}

	rr := bytes.NewReader(raw.Bytes())
	out := make([]jointuple.Tuple, 0, meta.RecordCount)
	for int64(len(out)) < meta.RecordCount {
		t, err := DecodeTuple(rr)
		if err != nil {
			return nil, fmt.Errorf("blockio: decode record in block %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// TupleAt returns the tuple at absolute row index idx, reusing the
// currently-decompressed block when idx falls within it — the same
// chunk-reuse optimization spec §4.7 requires of the sorted cursor's
// setIdx.
func (br *Reader) TupleAt(idx int64) (jointuple.Tuple, error) {
	if br.curBlock >= 0 {
		rel := idx - br.curStart
		if rel >= 0 && rel < int64(len(br.curRecs)) {
			return br.curRecs[rel], nil
		}
	}
	for bi, meta := range br.Index.Blocks {
		if idx >= meta.RowStart && idx < meta.RowStart+meta.RecordCount {
			recs, err := br.readBlock(bi)
			if err != nil {
				return jointuple.Tuple{}, err
			}
			br.curBlock = bi
			br.curRecs = recs
			br.curStart = meta.RowStart
			return recs[idx-meta.RowStart], nil
		}
	}
	return jointuple.Tuple{}, fmt.Errorf("blockio: row index %d out of range", idx)
}

// RowCount returns the total number of tuples recorded in the footer.
func (br *Reader) RowCount() int64 {
	if len(br.Index.Blocks) == 0 {
		return 0
	}
	last := br.Index.Blocks[len(br.Index.Blocks)-1]
	return last.RowStart + last.RecordCount
}

// Scanner is a forward-only, one-block-at-a-time iterator over a Reader's
// contents, used by extsort's k-way merge so a spilled run's blocks are
// decompressed on demand rather than all at once.
type Scanner struct {
	br     *Reader
	block  int
	recs   []jointuple.Tuple
	idx    int
}

// NewScanner returns a forward-only Scanner over br.
func NewScanner(br *Reader) *Scanner { return &Scanner{br: br} }

// Next returns the next tuple in block order, or ok=false at end of stream.
func (s *Scanner) Next() (jointuple.Tuple, bool, error) {
	for s.idx >= len(s.recs) {
		if s.block >= len(s.br.Index.Blocks) {
			return jointuple.Tuple{}, false, nil
		}
		recs, err := s.br.readBlock(s.block)
		if err != nil {
			return jointuple.Tuple{}, false, err
		}
		s.block++
		s.recs = recs
		s.idx = 0
	}
	t := s.recs[s.idx]
	s.idx++
	return t, true, nil
}

// Cleanup releases mmap resources if this Reader was built with
// NewMmapReader; safe to call on seek-based readers.
func (br *Reader) Cleanup(unmap func([]byte) error) error {
	if br.mmapData != nil && unmap != nil {
		data := br.mmapData
		br.mmapData = nil
		return unmap(data)
	}
	return nil
}

// All decodes every tuple in the container in order, decompressing every
// block into one in-memory slice (extsort's k-way merge reads runs through
// Scanner instead).
func (br *Reader) All() ([]jointuple.Tuple, error) {
	total := br.RowCount()
	out := make([]jointuple.Tuple, 0, total)
	for bi := range br.Index.Blocks {
		recs, err := br.readBlock(bi)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}
