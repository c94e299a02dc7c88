package walbdiff

import (
	"encoding/binary"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

const (
	// FileHeaderSize is the on-disk size of the WDIFF file header [bytes].
	FileHeaderSize = 4096

	diffMagic   uint32 = 0x46494457 // "WDIF"
	diffVersion uint16 = 1
)

// FileHeader identifies one WDIFF archive.
type FileHeader struct {
	MaxIoBlocks uint16 // [logical block], 0 means unlimited
	UUID        uuid.UUID
}

// Marshal renders the header into its 4096-byte block.
func (h *FileHeader) Marshal() []byte {
	block := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint32(block[4:], diffMagic)
	binary.LittleEndian.PutUint16(block[8:], diffVersion)
	binary.LittleEndian.PutUint16(block[10:], h.MaxIoBlocks)
	copy(block[12:28], h.UUID[:])
	binary.LittleEndian.PutUint32(block[0:], walb.Checksum(block, 0))
	return block
}

// WriteTo writes the header block to w.
func (h *FileHeader) WriteTo(w io.Writer) error {
	_, err := w.Write(h.Marshal())
	return errors.Wrap(err, "failed to write wdiff header")
}

// ReadFileHeader reads and verifies one WDIFF file header block.
func ReadFileHeader(r io.Reader) (*FileHeader, error) {
	block := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, NewCorruptDiffError("short wdiff header: %v", err)
	}
	stored := binary.LittleEndian.Uint32(block[0:])
	binary.LittleEndian.PutUint32(block[0:], 0)
	if computed := walb.Checksum(block, 0); computed != stored {
		return nil, NewCorruptDiffError("header checksum %08x != %08x", computed, stored)
	}
	if m := binary.LittleEndian.Uint32(block[4:]); m != diffMagic {
		return nil, NewCorruptDiffError("bad magic %08x", m)
	}
	if v := binary.LittleEndian.Uint16(block[8:]); v != diffVersion {
		return nil, NewCorruptDiffError("unsupported version %d", v)
	}
	h := &FileHeader{MaxIoBlocks: binary.LittleEndian.Uint16(block[10:])}
	copy(h.UUID[:], block[12:28])
	return h, nil
}
