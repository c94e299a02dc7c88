package walbdiff

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

// Writer streams a WDIFF archive: file header, then packs, then an
// empty end pack. Records must be pushed in ascending address order by
// the caller.
type Writer struct {
	dst     io.Writer
	pack    Pack
	payload bytes.Buffer
	stat    Statistics
	closed  bool
}

// NewWriter writes the file header and returns a pack writer.
func NewWriter(w io.Writer, header *FileHeader) (*Writer, error) {
	if err := header.WriteTo(w); err != nil {
		return nil, err
	}
	return &Writer{dst: w}, nil
}

// Stat returns the statistics of everything written so far.
func (w *Writer) Stat() Statistics { return w.stat }

// WriteDiff stores one record with its payload verbatim. The record's
// checksum and data size are recomputed over the given bytes.
func (w *Writer) WriteDiff(rec Record, data []byte) error {
	if rec.IsNormal() {
		rec.DataSize = uint32(len(data))
		rec.Checksum = walb.Checksum(data, 0)
	} else {
		rec.DataSize = 0
		rec.Checksum = 0
		data = nil
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if !w.pack.CanAdd(rec.DataSize) {
		if err := w.flushPack(false); err != nil {
			return err
		}
	}
	if err := w.pack.Add(rec); err != nil {
		return err
	}
	w.payload.Write(data)
	w.stat.Update(&rec)
	return nil
}

// CompressAndWriteDiff compresses an uncompressed payload with cmprType
// before storing it. Compressed input is passed through verbatim.
func (w *Writer) CompressAndWriteDiff(rec Record, io0 IoData, cmprType uint8) error {
	if !rec.IsNormal() || cmprType == walb.CmprNone || io0.IsCompressed() {
		rec.CompressionType = io0.CompressionType
		return w.WriteDiff(rec, io0.Data)
	}
	io1, err := io0.Compress(cmprType)
	if err != nil {
		return err
	}
	rec.CompressionType = cmprType
	return w.WriteDiff(rec, io1.Data)
}

// Close flushes the last pack and writes the end marker.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if len(w.pack.Records) > 0 {
		if err := w.flushPack(false); err != nil {
			return err
		}
	}
	if err := w.flushPack(true); err != nil {
		return err
	}
	w.closed = true
	return nil
}

func (w *Writer) flushPack(end bool) error {
	w.pack.End = end
	if _, err := w.dst.Write(w.pack.Marshal()); err != nil {
		return errors.Wrap(err, "failed to write pack header")
	}
	if _, err := w.dst.Write(w.payload.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write pack payload")
	}
	w.pack.Reset()
	w.payload.Reset()
	return nil
}
