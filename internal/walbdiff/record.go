package walbdiff

import (
	"encoding/binary"
	"fmt"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

// RecordSize is the fixed on-disk size of a diff record [bytes].
const RecordSize = 32

// Diff record flag bits.
const (
	DiffRecordExist uint32 = 1 << iota
	DiffRecordAllZero
	DiffRecordDiscard
)

// Record is one entry of a WDIFF pack index. All fields little-endian.
type Record struct {
	IoAddress       uint64 // [logical block]
	IoBlocks        uint16 // [logical block]
	CompressionType uint8
	DataOffset      uint32 // [bytes], relative to the pack payload base
	DataSize        uint32 // [bytes]
	Checksum        uint32 // over the stored payload bytes, salt 0
	Flags           uint32
}

// NewRecord returns an existing record covering [addr, addr+blocks).
func NewRecord(addr uint64, blocks uint16) Record {
	return Record{IoAddress: addr, IoBlocks: blocks, Flags: DiffRecordExist}
}

func (rec *Record) EndIoAddress() uint64 { return rec.IoAddress + uint64(rec.IoBlocks) }

func (rec *Record) Exists() bool    { return rec.Flags&DiffRecordExist != 0 }
func (rec *Record) IsAllZero() bool { return rec.Flags&DiffRecordAllZero != 0 }
func (rec *Record) IsDiscard() bool { return rec.Flags&DiffRecordDiscard != 0 }
func (rec *Record) IsNormal() bool  { return !rec.IsAllZero() && !rec.IsDiscard() }

func (rec *Record) IsCompressed() bool { return rec.CompressionType != walb.CmprNone }

func (rec *Record) SetAllZero() {
	rec.Flags |= DiffRecordAllZero
	rec.Flags &^= DiffRecordDiscard
}

func (rec *Record) SetDiscard() {
	rec.Flags |= DiffRecordDiscard
	rec.Flags &^= DiffRecordAllZero
}

// Validate checks the record invariants.
func (rec *Record) Validate() error {
	if !rec.Exists() {
		return NewInvalidDiffRecordError("record does not exist")
	}
	if !rec.IsNormal() {
		if rec.IsAllZero() && rec.IsDiscard() {
			return NewInvalidDiffRecordError("allzero and discard are exclusive")
		}
		if rec.DataSize != 0 {
			return NewInvalidDiffRecordError("zero/discard record with data size %d", rec.DataSize)
		}
		return nil
	}
	if rec.CompressionType >= walb.CmprMax {
		return NewInvalidDiffRecordError("compression type %d", rec.CompressionType)
	}
	if rec.IoBlocks == 0 {
		return NewInvalidDiffRecordError("zero-sized normal record")
	}
	if !rec.IsCompressed() && rec.DataSize != uint32(rec.IoBlocks)*walb.LogicalBlockSize {
		return NewInvalidDiffRecordError("data size %d != %d blocks", rec.DataSize, rec.IoBlocks)
	}
	return nil
}

// Split cuts the record in two at blocks0. Compressed records can not be
// split; callers must decompress first. Checksums of the parts are left
// stale on purpose.
func (rec *Record) Split(blocks0 uint16) (Record, Record, error) {
	if blocks0 == 0 || blocks0 >= rec.IoBlocks {
		return Record{}, Record{}, NewInvalidDiffRecordError("split point %d out of range", blocks0)
	}
	if rec.IsCompressed() {
		return Record{}, Record{}, NewInvalidDiffRecordError("can not split a compressed record")
	}
	r0, r1 := *rec, *rec
	r0.IoBlocks = blocks0
	r1.IoBlocks = rec.IoBlocks - blocks0
	r1.IoAddress = rec.IoAddress + uint64(blocks0)
	if rec.IsNormal() {
		r0.DataSize = uint32(r0.IoBlocks) * walb.LogicalBlockSize
		r1.DataSize = uint32(r1.IoBlocks) * walb.LogicalBlockSize
	}
	return r0, r1, nil
}

func (rec *Record) String() string {
	return fmt.Sprintf("wdiff_rec %d %d cmpr %d off %d size %d csum %08x flags %d",
		rec.IoAddress, rec.IoBlocks, rec.CompressionType,
		rec.DataOffset, rec.DataSize, rec.Checksum, rec.Flags)
}

func (rec *Record) marshal(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], rec.IoAddress)
	binary.LittleEndian.PutUint16(buf[8:], rec.IoBlocks)
	buf[10] = rec.CompressionType
	buf[11] = 0
	binary.LittleEndian.PutUint32(buf[12:], rec.DataOffset)
	binary.LittleEndian.PutUint32(buf[16:], rec.DataSize)
	binary.LittleEndian.PutUint32(buf[20:], rec.Checksum)
	binary.LittleEndian.PutUint32(buf[24:], rec.Flags)
}

func (rec *Record) unmarshal(buf []byte) {
	rec.IoAddress = binary.LittleEndian.Uint64(buf[0:])
	rec.IoBlocks = binary.LittleEndian.Uint16(buf[8:])
	rec.CompressionType = buf[10]
	rec.DataOffset = binary.LittleEndian.Uint32(buf[12:])
	rec.DataSize = binary.LittleEndian.Uint32(buf[16:])
	rec.Checksum = binary.LittleEndian.Uint32(buf[20:])
	rec.Flags = binary.LittleEndian.Uint32(buf[24:])
}
