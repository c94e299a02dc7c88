package convert

import (
	"bufio"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/wal-g/tracelog"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
	"github.com/walb-linux/walb-tools-pkg/internal/walbdiff"
	"github.com/walb-linux/walb-tools-pkg/internal/walblog"
)

// convertLogToDiff turns one log record into a diff record with its
// payload. Padding records produce nothing. All-zero payloads collapse
// into an ALL_ZERO record with no data.
func convertLogToDiff(rec *walblog.LogRecord, bs *walblog.BlockShared) (walbdiff.Record, walbdiff.IoData, bool, error) {
	if rec.IsPadding() {
		return walbdiff.Record{}, walbdiff.IoData{}, false, nil
	}
	if rec.IoSize > math.MaxUint16 {
		return walbdiff.Record{}, walbdiff.IoData{}, false,
			walbdiff.NewOverflowError("log record io size %d exceeds the diff limit", rec.IoSize)
	}
	dRec := walbdiff.NewRecord(rec.Offset, uint16(rec.IoSize))

	if rec.IsDiscard() {
		dRec.SetDiscard()
		return dRec, walbdiff.IoData{}, true, nil
	}
	if bs.CalcIsAllZero(rec.IoSize) {
		dRec.SetAllZero()
		return dRec, walbdiff.IoData{}, true, nil
	}
	data := make([]byte, int(rec.IoSize)*walb.LogicalBlockSize)
	bs.CopyTo(data, rec.IoSize)
	dRec.DataSize = uint32(len(data))
	dRec.Checksum = walb.Checksum(data, 0)
	io0 := walbdiff.IoData{IoBlocks: uint16(rec.IoSize), CompressionType: walb.CmprNone, Data: data}
	return dRec, io0, true, nil
}

// Converter merges one or more consecutive WLOG streams into a single
// WDIFF, reordering the temporal log into address order with
// last-writer-wins deduplication.
type Converter struct {
	mem         *walbdiff.Memory
	maxIoBlocks uint16
	uuid        uuid.UUID
	hasWlog     bool
	beginLsid   uint64
	endLsid     uint64
}

// NewConverter creates a converter. maxIoBlocks bounds stored entry
// sizes (0 is unbounded) and is recorded in the output header.
func NewConverter(maxIoBlocks uint16) *Converter {
	return &Converter{mem: walbdiff.NewMemory(maxIoBlocks), maxIoBlocks: maxIoBlocks}
}

// Convert reads every WLOG stream concatenated in r and writes the
// resulting WDIFF to w, compressing payloads with cmprType.
func (c *Converter) Convert(r io.Reader, w io.Writer, cmprType uint8) error {
	src := bufio.NewReader(r)
	for {
		ok, err := c.addWlog(src)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	if !c.hasWlog {
		return walblog.NewInvalidWlogHeaderError("no wlog input")
	}
	return c.writeTo(w, cmprType)
}

// addWlog consumes one WLOG stream from src. It returns false on a
// clean end of input before a header.
func (c *Converter) addWlog(src *bufio.Reader) (bool, error) {
	reader := walblog.NewReader(src, nil)
	h, err := reader.ReadHeader()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !c.hasWlog {
		c.uuid = h.UUID
		c.beginLsid = h.BeginLsid
		c.hasWlog = true
	} else {
		if h.UUID != c.uuid {
			return false, walbdiff.NewUuidMismatchError(c.uuid.String(), h.UUID.String())
		}
		if h.BeginLsid != c.endLsid {
			return false, NewLsidGapError(c.endLsid, h.BeginLsid)
		}
	}

	for {
		packIo, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}
		dRec, io0, ok, err := convertLogToDiff(&packIo.Record, packIo.Block)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if err := c.mem.Add(dRec, io0); err != nil {
			return false, err
		}
	}
	c.endLsid = reader.EndLsid()
	tracelog.DebugLogger.Printf("converted wlog [%d, %d)", h.BeginLsid, c.endLsid)
	return true, nil
}

func (c *Converter) writeTo(w io.Writer, cmprType uint8) error {
	header := &walbdiff.FileHeader{UUID: c.uuid, MaxIoBlocks: c.maxIoBlocks}
	writer, err := walbdiff.NewWriter(w, header)
	if err != nil {
		return err
	}
	if err := c.mem.WriteTo(writer, cmprType); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	tracelog.InfoLogger.Printf("lsid range [%d, %d): %s", c.beginLsid, c.endLsid, writer.Stat())
	return nil
}
