package walbdiff

import (
	"bufio"
	"io"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

// Reader iterates over the records of one WDIFF archive in ascending
// address order, verifying pack and payload checksums.
type Reader struct {
	src    *bufio.Reader
	header *FileHeader

	pack    *Pack
	payload []byte
	recIdx  int
	stat    Statistics
}

// NewReader wraps r. ReadHeader must be called before Next.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: bufio.NewReader(r)}
}

// ReadHeader consumes and returns the WDIFF file header.
func (r *Reader) ReadHeader() (*FileHeader, error) {
	h, err := ReadFileHeader(r.src)
	if err != nil {
		return nil, err
	}
	r.header = h
	return h, nil
}

// Header returns the header read by ReadHeader.
func (r *Reader) Header() *FileHeader { return r.header }

// Stat returns statistics over everything read so far.
func (r *Reader) Stat() Statistics { return r.stat }

// Next yields the next record with its payload. io.EOF marks the end of
// the archive.
func (r *Reader) Next() (Record, IoData, error) {
	for {
		if r.pack != nil && r.recIdx < len(r.pack.Records) {
			return r.readRecord()
		}
		if err := r.fetchPack(); err != nil {
			return Record{}, IoData{}, err
		}
	}
}

func (r *Reader) fetchPack() error {
	if r.header == nil {
		return NewCorruptDiffError("header not read")
	}
	block := make([]byte, PackHeaderSize)
	if _, err := io.ReadFull(r.src, block); err != nil {
		return NewCorruptDiffError("short pack header read: %v", err)
	}
	pack, err := ParsePack(block)
	if err != nil {
		return err
	}
	if pack.End {
		return io.EOF
	}
	payload := make([]byte, pack.TotalSize)
	if _, err := io.ReadFull(r.src, payload); err != nil {
		return NewCorruptDiffError("short pack payload read: %v", err)
	}
	r.pack = pack
	r.payload = payload
	r.recIdx = 0
	return nil
}

func (r *Reader) readRecord() (Record, IoData, error) {
	rec := r.pack.Records[r.recIdx]
	r.recIdx++

	io0 := IoData{}
	if rec.IsNormal() {
		data := r.payload[rec.DataOffset : rec.DataOffset+rec.DataSize]
		if sum := walb.Checksum(data, 0); sum != rec.Checksum {
			return Record{}, IoData{}, NewCorruptDiffError(
				"record at %d payload checksum %08x != %08x", rec.IoAddress, sum, rec.Checksum)
		}
		io0 = IoData{IoBlocks: rec.IoBlocks, CompressionType: rec.CompressionType, Data: data}
	}
	r.stat.Update(&rec)
	return rec, io0, nil
}
