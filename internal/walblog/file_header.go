package walblog

import (
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

// WlogHeaderSize is the on-disk size of the WLOG file header [bytes].
// The header block is this size regardless of the stream's pbs, since
// pbs itself is recorded inside it.
const WlogHeaderSize = 4096

// FileHeader identifies one WLOG stream.
type FileHeader struct {
	Salt      uint32
	Lbs       uint32
	Pbs       uint32
	UUID      uuid.UUID
	BeginLsid uint64
	EndLsid   uint64
}

// Validate checks the header field invariants.
func (h *FileHeader) Validate() error {
	if h.Lbs != walb.LogicalBlockSize {
		return NewInvalidWlogHeaderError("bad logical block size")
	}
	if !walb.IsValidPbs(h.Pbs) {
		return NewInvalidWlogHeaderError("bad physical block size")
	}
	if h.BeginLsid > h.EndLsid {
		return NewInvalidWlogHeaderError("begin lsid exceeds end lsid")
	}
	return nil
}

// Marshal renders the header into its 4096-byte block.
func (h *FileHeader) Marshal() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	block := make([]byte, WlogHeaderSize)
	putUint16LE(block[0:], walb.SectorTypeWlogHeader)
	putUint16LE(block[2:], walb.WlogVersion)
	putUint16LE(block[4:], WlogHeaderSize)
	putUint32LE(block[12:], h.Salt)
	putUint32LE(block[16:], h.Lbs)
	putUint32LE(block[20:], h.Pbs)
	copy(block[24:40], h.UUID[:])
	putUint64LE(block[40:], h.BeginLsid)
	putUint64LE(block[48:], h.EndLsid)
	putUint32LE(block[8:], walb.Checksum(block, 0))
	return block, nil
}

// WriteTo writes the header block to w.
func (h *FileHeader) WriteTo(w io.Writer) error {
	block, err := h.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(block)
	return errors.Wrap(err, "failed to write wlog header")
}

// ReadFileHeader reads and verifies one WLOG file header block. io.EOF
// is returned untouched when the stream ends cleanly before the header.
func ReadFileHeader(r io.Reader) (*FileHeader, error) {
	block := make([]byte, WlogHeaderSize)
	n, err := io.ReadFull(r, block)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, NewCorruptLogError("short wlog header: %d bytes: %v", n, err)
	}
	stored := getUint32LE(block[8:])
	putUint32LE(block[8:], 0)
	if computed := walb.Checksum(block, 0); computed != stored {
		return nil, NewCorruptLogError("wlog header checksum %08x != %08x", computed, stored)
	}
	putUint32LE(block[8:], stored)
	if st := getUint16LE(block[0:]); st != walb.SectorTypeWlogHeader {
		return nil, NewInvalidWlogHeaderError("bad sector type")
	}
	if v := getUint16LE(block[2:]); v != walb.WlogVersion {
		return nil, NewInvalidWlogHeaderError("unsupported version")
	}
	h := &FileHeader{
		Salt:      getUint32LE(block[12:]),
		Lbs:       getUint32LE(block[16:]),
		Pbs:       getUint32LE(block[20:]),
		BeginLsid: getUint64LE(block[40:]),
		EndLsid:   getUint64LE(block[48:]),
	}
	copy(h.UUID[:], block[24:40])
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}
