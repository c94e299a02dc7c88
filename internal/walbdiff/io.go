package walbdiff

import (
	"github.com/golang/snappy"
	"github.com/walb-linux/walb-tools-pkg/internal/walb"
	"github.com/walb-linux/walb-tools-pkg/utility"
)

// IoData is the payload of one diff record.
type IoData struct {
	IoBlocks        uint16
	CompressionType uint8
	Data            []byte
}

func (io *IoData) Empty() bool        { return io.IoBlocks == 0 }
func (io *IoData) IsCompressed() bool { return io.CompressionType != walb.CmprNone }

// CalcChecksum computes the unsalted checksum of the payload bytes.
func (io *IoData) CalcChecksum() uint32 {
	if len(io.Data) == 0 {
		return 0
	}
	return walb.Checksum(io.Data, 0)
}

// CalcIsAllZero reports whether the uncompressed payload is all zero.
func (io *IoData) CalcIsAllZero() bool {
	if io.IsCompressed() || len(io.Data) == 0 {
		return false
	}
	return utility.AllZero(io.Data)
}

// Validate checks payload/size consistency against the carried fields.
func (io *IoData) Validate() error {
	if io.Empty() {
		if len(io.Data) != 0 {
			return NewInvalidDiffRecordError("empty io with %d data bytes", len(io.Data))
		}
		return nil
	}
	if io.IsCompressed() {
		if len(io.Data) == 0 {
			return NewInvalidDiffRecordError("compressed io without data")
		}
		return nil
	}
	if len(io.Data) != int(io.IoBlocks)*walb.LogicalBlockSize {
		return NewInvalidDiffRecordError("io size %d != %d blocks", len(io.Data), io.IoBlocks)
	}
	return nil
}

// Compress returns a snappy-compressed copy of an uncompressed payload.
func (io *IoData) Compress(cmprType uint8) (IoData, error) {
	if io.IsCompressed() {
		return IoData{}, NewInvalidDiffRecordError("payload is already compressed")
	}
	if cmprType != walb.CmprSnappy {
		return IoData{}, NewInvalidDiffRecordError("unsupported compression type %d", cmprType)
	}
	if io.Empty() {
		return IoData{}, nil
	}
	return IoData{
		IoBlocks:        io.IoBlocks,
		CompressionType: walb.CmprSnappy,
		Data:            snappy.Encode(nil, io.Data),
	}, nil
}

// Uncompress expands a compressed payload and verifies that the result
// is exactly io_blocks logical blocks long.
func (io *IoData) Uncompress() (IoData, error) {
	if !io.IsCompressed() {
		return IoData{}, NewInvalidDiffRecordError("payload is not compressed")
	}
	if io.CompressionType != walb.CmprSnappy {
		return IoData{}, NewInvalidDiffRecordError("unsupported compression type %d", io.CompressionType)
	}
	data, err := snappy.Decode(nil, io.Data)
	if err != nil {
		return IoData{}, NewCorruptDiffError("snappy decode: %v", err)
	}
	want := int(io.IoBlocks) * walb.LogicalBlockSize
	if len(data) != want {
		return IoData{}, NewCorruptDiffError("decompressed size %d != %d", len(data), want)
	}
	return IoData{IoBlocks: io.IoBlocks, Data: data}, nil
}

// Slice returns the uncompressed payload bytes for blocks
// [off, off+blocks) relative to the payload start.
func (io *IoData) Slice(off, blocks uint16) IoData {
	lo := int(off) * walb.LogicalBlockSize
	hi := lo + int(blocks)*walb.LogicalBlockSize
	return IoData{IoBlocks: blocks, Data: io.Data[lo:hi]}
}
