package walbdiff

import (
	"encoding/binary"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

const (
	// PackHeaderSize is the on-disk size of a pack index block [bytes].
	PackHeaderSize = 4096

	packFixedSize = 16

	// MaxRecordsInDiffPack bounds the record index of one pack.
	MaxRecordsInDiffPack = (PackHeaderSize - packFixedSize) / RecordSize

	// MaxPackPayloadSize bounds the payload bytes of one pack.
	MaxPackPayloadSize = 32 << 20

	packFlagEnd uint16 = 1 << 0
)

// Pack is the record index of one WDIFF pack. data_offset of each
// record is relative to the payload that immediately follows the index
// block on disk.
type Pack struct {
	Records   []Record
	TotalSize uint32 // payload bytes
	End       bool
}

// CanAdd reports whether a payload of dataSize bytes still fits.
func (p *Pack) CanAdd(dataSize uint32) bool {
	if len(p.Records) >= MaxRecordsInDiffPack {
		return false
	}
	if p.TotalSize+dataSize > MaxPackPayloadSize {
		return false
	}
	return true
}

// Add appends a record, assigning its data offset within the pack.
func (p *Pack) Add(rec Record) error {
	if !p.CanAdd(rec.DataSize) {
		return NewOverflowError("pack is full")
	}
	rec.DataOffset = p.TotalSize
	p.Records = append(p.Records, rec)
	p.TotalSize += rec.DataSize
	return nil
}

// Reset empties the pack for reuse.
func (p *Pack) Reset() {
	p.Records = p.Records[:0]
	p.TotalSize = 0
	p.End = false
}

// Marshal renders the pack index into one header block with a fresh
// checksum.
func (p *Pack) Marshal() []byte {
	block := make([]byte, PackHeaderSize)
	binary.LittleEndian.PutUint16(block[4:], uint16(len(p.Records)))
	var flags uint16
	if p.End {
		flags |= packFlagEnd
	}
	binary.LittleEndian.PutUint16(block[6:], flags)
	binary.LittleEndian.PutUint32(block[8:], p.TotalSize)
	for i := range p.Records {
		p.Records[i].marshal(block[packFixedSize+i*RecordSize:])
	}
	binary.LittleEndian.PutUint32(block[0:], walb.Checksum(block, 0))
	return block
}

// ParsePack verifies and decodes one pack index block.
func ParsePack(block []byte) (*Pack, error) {
	if len(block) != PackHeaderSize {
		return nil, NewCorruptDiffError("pack header size %d", len(block))
	}
	stored := binary.LittleEndian.Uint32(block[0:])
	binary.LittleEndian.PutUint32(block[0:], 0)
	computed := walb.Checksum(block, 0)
	binary.LittleEndian.PutUint32(block[0:], stored)
	if stored != computed {
		return nil, NewCorruptDiffError("pack checksum %08x != %08x", computed, stored)
	}
	nRecords := int(binary.LittleEndian.Uint16(block[4:]))
	if nRecords > MaxRecordsInDiffPack {
		return nil, NewCorruptDiffError("pack with %d records", nRecords)
	}
	p := &Pack{
		TotalSize: binary.LittleEndian.Uint32(block[8:]),
		End:       binary.LittleEndian.Uint16(block[6:])&packFlagEnd != 0,
	}
	var offset uint32
	for i := 0; i < nRecords; i++ {
		var rec Record
		rec.unmarshal(block[packFixedSize+i*RecordSize:])
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if rec.DataOffset != offset {
			return nil, NewCorruptDiffError("record %d data offset %d != %d", i, rec.DataOffset, offset)
		}
		offset += rec.DataSize
		p.Records = append(p.Records, rec)
	}
	if offset != p.TotalSize {
		return nil, NewCorruptDiffError("pack payload size %d != %d", offset, p.TotalSize)
	}
	return p, nil
}
