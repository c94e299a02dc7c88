package walblog

import (
	"fmt"
	"io"
	"math"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
	"github.com/wal-g/tracelog"
)

const (
	packHeaderFixedSize = 24

	// MaxTotalIoSize bounds total_io_size of one logpack [physical block].
	MaxTotalIoSize = math.MaxUint16
)

// MaxRecordsInPack returns the record capacity of one pbs-sized logpack
// header block.
func MaxRecordsInPack(pbs uint32) int {
	return int((pbs - packHeaderFixedSize) / LogRecordSize)
}

// PackHeader is one logpack header block: a fixed header plus a record
// array, occupying exactly one physical block on disk.
type PackHeader struct {
	pbs  uint32
	salt uint32

	TotalIoSize uint16 // [physical block], excluding discards
	LogpackLsid uint64
	NPadding    uint16
	Records     []LogRecord
}

// NewPackHeader creates an empty pack header for the given lsid.
func NewPackHeader(pbs, salt uint32, lsid uint64) *PackHeader {
	return &PackHeader{pbs: pbs, salt: salt, LogpackLsid: lsid}
}

func (h *PackHeader) Pbs() uint32    { return h.pbs }
func (h *PackHeader) NRecords() int  { return len(h.Records) }
func (h *PackHeader) Record(i int) *LogRecord {
	return &h.Records[i]
}

// IsEnd reports whether h is the stream terminator pack.
func (h *PackHeader) IsEnd() bool {
	return len(h.Records) == 0 && h.LogpackLsid == math.MaxUint64
}

// NextLogpackLsid returns the lsid of the pack following this one.
func (h *PackHeader) NextLogpackLsid() uint64 {
	if len(h.Records) > 0 {
		return h.LogpackLsid + 1 + uint64(h.TotalIoSize)
	}
	return h.LogpackLsid
}

// TotalPaddingPb returns the physical blocks consumed by padding records.
func (h *PackHeader) TotalPaddingPb() uint64 {
	if h.NPadding == 0 {
		return 0
	}
	var t uint64
	for i := range h.Records {
		if h.Records[i].IsPadding() {
			t += uint64(walb.CapacityPb(h.pbs, h.Records[i].IoSize))
		}
	}
	return t
}

// AddNormalIo appends a normal write record. It returns false when the
// pack is full and a new header must be started.
func (h *PackHeader) AddNormalIo(offset uint64, size uint32) bool {
	if len(h.Records) >= MaxRecordsInPack(h.pbs) {
		return false
	}
	sizePb := walb.CapacityPb(h.pbs, size)
	if uint32(h.TotalIoSize)+sizePb > MaxTotalIoSize {
		return false
	}
	if size == 0 {
		return false
	}
	rec := LogRecord{
		Flags:     LogRecordExist,
		Offset:    offset,
		IoSize:    size,
		LsidLocal: uint32(h.TotalIoSize) + 1,
	}
	rec.Lsid = h.LogpackLsid + uint64(rec.LsidLocal)
	h.Records = append(h.Records, rec)
	h.TotalIoSize += uint16(sizePb)
	return true
}

// AddDiscardIo appends a discard record. Discards carry no payload and
// do not contribute to total_io_size.
func (h *PackHeader) AddDiscardIo(offset uint64, size uint32) bool {
	if len(h.Records) >= MaxRecordsInPack(h.pbs) || size == 0 {
		return false
	}
	rec := LogRecord{
		Flags:     LogRecordExist | LogRecordDiscard,
		Offset:    offset,
		IoSize:    size,
		LsidLocal: uint32(h.TotalIoSize) + 1,
	}
	rec.Lsid = h.LogpackLsid + uint64(rec.LsidLocal)
	h.Records = append(h.Records, rec)
	return true
}

// AddPadding appends a padding record. At most one padding record may
// exist per pack and its size must be pbs-aligned.
func (h *PackHeader) AddPadding(size uint32) bool {
	if len(h.Records) >= MaxRecordsInPack(h.pbs) || h.NPadding > 0 {
		return false
	}
	sizePb := walb.CapacityPb(h.pbs, size)
	if uint32(h.TotalIoSize)+sizePb > MaxTotalIoSize {
		return false
	}
	if size%walb.NLbInPb(h.pbs) != 0 {
		return false
	}
	rec := LogRecord{
		Flags:     LogRecordExist | LogRecordPadding,
		IoSize:    size,
		LsidLocal: uint32(h.TotalIoSize) + 1,
	}
	rec.Lsid = h.LogpackLsid + uint64(rec.LsidLocal)
	h.Records = append(h.Records, rec)
	h.TotalIoSize += uint16(sizePb)
	h.NPadding++
	return true
}

// UpdateLsid rebases the pack and all records onto a new logpack lsid.
func (h *PackHeader) UpdateLsid(newLsid uint64) {
	if newLsid == math.MaxUint64 || newLsid == h.LogpackLsid {
		return
	}
	h.LogpackLsid = newLsid
	for i := range h.Records {
		h.Records[i].Lsid = newLsid + uint64(h.Records[i].LsidLocal)
	}
}

// Shrink drops records from index n to the end and recomputes the
// derived fields.
func (h *PackHeader) Shrink(n int) {
	h.Records = h.Records[:n]
	h.TotalIoSize = 0
	h.NPadding = 0
	for i := range h.Records {
		rec := &h.Records[i]
		if !rec.IsDiscard() {
			h.TotalIoSize += uint16(walb.CapacityPb(h.pbs, rec.IoSize))
		}
		if rec.IsPadding() {
			h.NPadding++
		}
	}
}

// Validate checks structural consistency of the pack header.
func (h *PackHeader) Validate() error {
	if len(h.Records) > MaxRecordsInPack(h.pbs) {
		return NewInvalidLogPackError("too many records: %d", len(h.Records))
	}
	var total uint32
	var nPadding uint16
	for i := range h.Records {
		rec := &h.Records[i]
		if err := rec.Validate(); err != nil {
			return err
		}
		if rec.PackLsid() != h.LogpackLsid {
			return NewInvalidLogPackError("record %d lsid %d does not belong to pack %d",
				i, rec.Lsid, h.LogpackLsid)
		}
		if !rec.IsDiscard() {
			total += walb.CapacityPb(h.pbs, rec.IoSize)
		}
		if rec.IsPadding() {
			nPadding++
		}
	}
	if total > MaxTotalIoSize || uint16(total) != h.TotalIoSize {
		return NewInvalidLogPackError("total_io_size mismatch: %d != %d", total, h.TotalIoSize)
	}
	if nPadding != h.NPadding || nPadding > 1 {
		return NewInvalidLogPackError("n_padding mismatch: %d != %d", nPadding, h.NPadding)
	}
	return nil
}

// MarshalBlock renders the pack header into one pbs-sized block with a
// fresh checksum.
func (h *PackHeader) MarshalBlock() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	block := make([]byte, h.pbs)
	putUint16LE(block[4:], walb.SectorTypeLogpack)
	putUint16LE(block[6:], h.TotalIoSize)
	putUint64LE(block[8:], h.LogpackLsid)
	putUint16LE(block[16:], uint16(len(h.Records)))
	putUint16LE(block[18:], h.NPadding)
	for i := range h.Records {
		h.Records[i].marshal(block[packHeaderFixedSize+i*LogRecordSize:])
	}
	putUint32LE(block[0:], walb.Checksum(block, h.salt))
	return block, nil
}

// ParsePackHeader verifies and decodes one pbs-sized pack header block.
func ParsePackHeader(block []byte, pbs, salt uint32) (*PackHeader, error) {
	if len(block) != int(pbs) {
		return nil, NewInvalidLogPackError("block size %d != pbs %d", len(block), pbs)
	}
	stored := getUint32LE(block[0:])
	putUint32LE(block[0:], 0)
	computed := walb.Checksum(block, salt)
	putUint32LE(block[0:], stored)
	if stored != computed {
		return nil, NewCorruptLogError("pack header checksum %08x != %08x", computed, stored)
	}
	if st := getUint16LE(block[4:]); st != walb.SectorTypeLogpack {
		return nil, NewInvalidLogPackError("sector type %d", st)
	}
	h := &PackHeader{
		pbs:         pbs,
		salt:        salt,
		TotalIoSize: getUint16LE(block[6:]),
		LogpackLsid: getUint64LE(block[8:]),
		NPadding:    getUint16LE(block[18:]),
	}
	nRecords := int(getUint16LE(block[16:]))
	if nRecords > MaxRecordsInPack(pbs) {
		return nil, NewInvalidLogPackError("n_records %d exceeds capacity", nRecords)
	}
	h.Records = make([]LogRecord, nRecords)
	for i := 0; i < nRecords; i++ {
		h.Records[i].unmarshal(block[packHeaderFixedSize+i*LogRecordSize:])
	}
	if h.IsEnd() {
		return h, nil
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// PrintShort logs one line per record, wlog-cat style.
func (h *PackHeader) PrintShort() {
	for i := range h.Records {
		rec := &h.Records[i]
		mode := 'W'
		if rec.IsDiscard() {
			mode = 'D'
		}
		if rec.IsPadding() {
			mode = 'P'
		}
		tracelog.DebugLogger.Printf("%d\t%c\t%d\t%d", h.LogpackLsid, mode, rec.Offset, rec.IoSize)
	}
}

func (h *PackHeader) String() string {
	return fmt.Sprintf("logpack lsid %d records %d padding %d totalIoSize %d",
		h.LogpackLsid, len(h.Records), h.NPadding, h.TotalIoSize)
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}
