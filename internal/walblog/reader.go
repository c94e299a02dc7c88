package walblog

import (
	"bufio"
	"io"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

// readerBufBlocks sizes the default payload allocator chunk [blocks].
const readerBufBlocks = 1024

// PackIo is one record together with its payload, as yielded by Reader.
type PackIo struct {
	PackLsid uint64
	Record   LogRecord
	Block    *BlockShared
}

// Reader iterates over the records of one WLOG stream in temporal
// order, verifying the header and every per-record checksum.
type Reader struct {
	src    *bufio.Reader
	alloc  *walb.BlockAllocator
	header *FileHeader

	pack    *PackHeader
	recIdx  int
	endLsid uint64
}

// NewReader wraps r. The payload allocator may be nil, in which case an
// internal one is created after the header fixes the stream's pbs.
func NewReader(r io.Reader, alloc *walb.BlockAllocator) *Reader {
	return &Reader{src: bufio.NewReader(r), alloc: alloc}
}

// ReadHeader consumes and returns the WLOG file header. It must be
// called once before Next. io.EOF means the stream ended cleanly before
// a header, which callers may treat as "no more wlogs".
func (r *Reader) ReadHeader() (*FileHeader, error) {
	h, err := ReadFileHeader(r.src)
	if err != nil {
		return nil, err
	}
	r.header = h
	r.endLsid = h.BeginLsid
	if r.alloc == nil {
		r.alloc = walb.NewBlockAllocator(int(h.Pbs), readerBufBlocks)
	}
	return h, nil
}

// Header returns the stream header read by ReadHeader.
func (r *Reader) Header() *FileHeader { return r.header }

// EndLsid returns the lsid just after the last fully-read pack.
func (r *Reader) EndLsid() uint64 { return r.endLsid }

// Next yields the next record with its payload. It returns io.EOF after
// the terminator pack or a clean end of stream at a pack boundary.
func (r *Reader) Next() (PackIo, error) {
	for {
		if r.pack != nil && r.recIdx < r.pack.NRecords() {
			return r.readRecord()
		}
		if err := r.fetchPack(); err != nil {
			return PackIo{}, err
		}
	}
}

func (r *Reader) fetchPack() error {
	if r.header == nil {
		return NewInvalidWlogHeaderError("header not read")
	}
	block := make([]byte, r.header.Pbs)
	n, err := io.ReadFull(r.src, block)
	if err == io.EOF {
		// End of stream at a pack boundary is a valid end.
		return io.EOF
	}
	if err != nil {
		return NewCorruptLogError("short pack header read: %d bytes: %v", n, err)
	}
	pack, err := ParsePackHeader(block, r.header.Pbs, r.header.Salt)
	if err != nil {
		return err
	}
	if pack.IsEnd() {
		return io.EOF
	}
	r.pack = pack
	r.recIdx = 0
	r.endLsid = pack.NextLogpackLsid()
	return nil
}

func (r *Reader) readRecord() (PackIo, error) {
	rec := *r.pack.Record(r.recIdx)
	r.recIdx++

	bs := NewBlockShared(r.header.Pbs)
	if rec.HasData() {
		nBlocks := int(rec.IoSizePb(r.header.Pbs))
		if err := bs.ReadFrom(r.src, nBlocks, r.alloc); err != nil {
			return PackIo{}, err
		}
		if rec.HasDataForChecksum() {
			if sum := bs.CalcChecksum(rec.IoSize, r.header.Salt); sum != rec.Checksum {
				return PackIo{}, NewCorruptLogError(
					"record lsid %d payload checksum %08x != %08x", rec.Lsid, sum, rec.Checksum)
			}
		}
	}
	return PackIo{PackLsid: r.pack.LogpackLsid, Record: rec, Block: bs}, nil
}
