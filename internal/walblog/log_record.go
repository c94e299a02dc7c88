package walblog

import (
	"encoding/binary"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

// LogRecordSize is the fixed on-disk size of a log record [bytes].
const LogRecordSize = 32

// Log record flag bits.
const (
	LogRecordExist uint32 = 1 << iota
	LogRecordPadding
	LogRecordDiscard
)

// LogRecord is one IO entry of a logpack header. All fields are stored
// little-endian.
type LogRecord struct {
	Checksum  uint32
	Lsid      uint64
	LsidLocal uint32
	Flags     uint32
	Offset    uint64 // [logical block]
	IoSize    uint32 // [logical block]
}

func (rec *LogRecord) PackLsid() uint64 { return rec.Lsid - uint64(rec.LsidLocal) }

func (rec *LogRecord) IsExist() bool   { return rec.Flags&LogRecordExist != 0 }
func (rec *LogRecord) IsPadding() bool { return rec.Flags&LogRecordPadding != 0 }
func (rec *LogRecord) IsDiscard() bool { return rec.Flags&LogRecordDiscard != 0 }

// HasData reports whether the record is followed by payload blocks in
// the stream.
func (rec *LogRecord) HasData() bool {
	return rec.IsExist() && !rec.IsDiscard()
}

// HasDataForChecksum reports whether the record's checksum field covers
// payload bytes.
func (rec *LogRecord) HasDataForChecksum() bool {
	return rec.IsExist() && !rec.IsDiscard() && !rec.IsPadding()
}

func (rec *LogRecord) SetExist()   { rec.Flags |= LogRecordExist }
func (rec *LogRecord) SetPadding() { rec.Flags |= LogRecordPadding }
func (rec *LogRecord) SetDiscard() { rec.Flags |= LogRecordDiscard }

// IoSizeLb returns the IO size in logical blocks.
func (rec *LogRecord) IoSizeLb() uint32 { return rec.IoSize }

// IoSizePb returns the number of physical blocks occupied by the payload.
func (rec *LogRecord) IoSizePb(pbs uint32) uint32 {
	return walb.CapacityPb(pbs, rec.IoSize)
}

// Validate checks the record's flag invariants.
func (rec *LogRecord) Validate() error {
	if !rec.IsExist() {
		return NewInvalidLogPackError("record without EXIST flag")
	}
	if rec.IsPadding() && rec.Checksum != 0 {
		return NewInvalidLogPackError("padding record with checksum")
	}
	if rec.IsDiscard() && rec.Checksum != 0 {
		return NewInvalidLogPackError("discard record with checksum")
	}
	if !rec.IsPadding() && rec.IoSize == 0 {
		return NewInvalidLogPackError("zero-sized non-padding record")
	}
	return nil
}

func (rec *LogRecord) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], rec.Checksum)
	binary.LittleEndian.PutUint64(buf[4:], rec.Lsid)
	binary.LittleEndian.PutUint32(buf[12:], rec.LsidLocal)
	binary.LittleEndian.PutUint32(buf[16:], rec.Flags)
	binary.LittleEndian.PutUint64(buf[20:], rec.Offset)
	binary.LittleEndian.PutUint32(buf[28:], rec.IoSize)
}

func (rec *LogRecord) unmarshal(buf []byte) {
	rec.Checksum = binary.LittleEndian.Uint32(buf[0:])
	rec.Lsid = binary.LittleEndian.Uint64(buf[4:])
	rec.LsidLocal = binary.LittleEndian.Uint32(buf[12:])
	rec.Flags = binary.LittleEndian.Uint32(buf[16:])
	rec.Offset = binary.LittleEndian.Uint64(buf[20:])
	rec.IoSize = binary.LittleEndian.Uint32(buf[28:])
}
