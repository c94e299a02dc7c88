package walblog

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// Writer produces a WLOG stream: file header, then logpacks, then the
// terminator pack. Used by wlog generation and as the counterpart of
// Reader in tests.
type Writer struct {
	dst    io.Writer
	header *FileHeader
	lsid   uint64
}

// NewWriter writes the file header to w and returns a writer positioned
// at the stream's begin lsid.
func NewWriter(w io.Writer, header *FileHeader) (*Writer, error) {
	if err := header.WriteTo(w); err != nil {
		return nil, err
	}
	return &Writer{dst: w, header: header, lsid: header.BeginLsid}, nil
}

// Lsid returns the lsid the next pack will start at.
func (w *Writer) Lsid() uint64 { return w.lsid }

// NewPack starts an empty pack at the current lsid.
func (w *Writer) NewPack() *PackHeader {
	return NewPackHeader(w.header.Pbs, w.header.Salt, w.lsid)
}

// WritePack writes one pack header block followed by the payloads.
// payloads[i] corresponds to records[i]; entries for discard and
// padding records must be nil. Record checksums are filled in here.
func (w *Writer) WritePack(pack *PackHeader, payloads []*BlockShared) error {
	if len(payloads) != pack.NRecords() {
		return errors.Errorf("payload count %d != record count %d", len(payloads), pack.NRecords())
	}
	for i := range pack.Records {
		rec := pack.Record(i)
		if !rec.HasDataForChecksum() {
			continue
		}
		if payloads[i] == nil {
			return errors.Errorf("record %d requires a payload", i)
		}
		rec.Checksum = payloads[i].CalcChecksum(rec.IoSize, w.header.Salt)
	}
	block, err := pack.MarshalBlock()
	if err != nil {
		return err
	}
	if _, err := w.dst.Write(block); err != nil {
		return errors.Wrap(err, "failed to write pack header")
	}
	for i := range pack.Records {
		if !pack.Record(i).HasData() {
			continue
		}
		if err := payloads[i].WriteTo(w.dst); err != nil {
			return errors.Wrap(err, "failed to write pack payload")
		}
	}
	w.lsid = pack.NextLogpackLsid()
	return nil
}

// Close writes the terminator pack. The underlying writer is left open.
func (w *Writer) Close() error {
	end := NewPackHeader(w.header.Pbs, w.header.Salt, math.MaxUint64)
	block, err := end.MarshalBlock()
	if err != nil {
		return err
	}
	_, err = w.dst.Write(block)
	return errors.Wrap(err, "failed to write terminator pack")
}
