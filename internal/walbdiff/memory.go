package walbdiff

import (
	"github.com/google/btree"
	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

// RecIo couples a diff record with its payload.
type RecIo struct {
	Rec Record
	Io  IoData
}

// Validate checks record/payload consistency.
func (ri *RecIo) Validate() error {
	if err := ri.Rec.Validate(); err != nil {
		return err
	}
	if err := ri.Io.Validate(); err != nil {
		return err
	}
	if ri.Rec.IsNormal() {
		if ri.Rec.DataSize != uint32(len(ri.Io.Data)) {
			return NewInvalidDiffRecordError("record data size %d != payload %d",
				ri.Rec.DataSize, len(ri.Io.Data))
		}
	} else if len(ri.Io.Data) != 0 {
		return NewInvalidDiffRecordError("zero/discard record with payload")
	}
	return nil
}

func (ri *RecIo) uncompress() (*RecIo, error) {
	io1, err := ri.Io.Uncompress()
	if err != nil {
		return nil, err
	}
	rec := ri.Rec
	rec.CompressionType = walb.CmprNone
	rec.DataSize = uint32(len(io1.Data))
	rec.Checksum = io1.CalcChecksum()
	return &RecIo{Rec: rec, Io: io1}, nil
}

// slice returns the sub-range [addr, addr+blocks) of an uncompressed
// normal RecIo, or the trivially adjusted record for allzero/discard.
func (ri *RecIo) slice(addr uint64, blocks uint16) *RecIo {
	rec := ri.Rec
	rec.IoAddress = addr
	rec.IoBlocks = blocks
	if !rec.IsNormal() {
		return &RecIo{Rec: rec}
	}
	io1 := ri.Io.Slice(uint16(addr-ri.Rec.IoAddress), blocks)
	rec.DataSize = uint32(len(io1.Data))
	rec.Checksum = io1.CalcChecksum()
	return &RecIo{Rec: rec, Io: io1}
}

func lessRecIo(a, b *RecIo) bool {
	return a.Rec.IoAddress < b.Rec.IoAddress
}

// Memory is the address-ordered in-memory diff model. Stored ranges
// never overlap; additions win over whatever they cover (last writer
// wins), trimming or splitting older entries as needed.
type Memory struct {
	tree        *btree.BTreeG[*RecIo]
	maxIoBlocks uint16
	nIos        uint64
	nBlocks     uint64
}

// NewMemory creates an empty model. maxIoBlocks bounds the block count
// of stored entries; 0 means unbounded.
func NewMemory(maxIoBlocks uint16) *Memory {
	return &Memory{tree: btree.NewG(8, lessRecIo), maxIoBlocks: maxIoBlocks}
}

func (m *Memory) Len() int        { return m.tree.Len() }
func (m *Memory) Empty() bool     { return m.tree.Len() == 0 }
func (m *Memory) NIos() uint64    { return m.nIos }
func (m *Memory) NBlocks() uint64 { return m.nBlocks }

// Add inserts one RecIo, overwriting any overlapped parts of existing
// entries. The input is split on maxIoBlocks boundaries first;
// compressed input that must be split is decompressed.
func (m *Memory) Add(rec Record, io IoData) error {
	ri := &RecIo{Rec: rec, Io: io}
	if err := ri.Validate(); err != nil {
		return err
	}
	chunks := []*RecIo{ri}
	if m.maxIoBlocks > 0 && rec.IoBlocks > m.maxIoBlocks {
		var err error
		if chunks, err = ri.splitAll(m.maxIoBlocks); err != nil {
			return err
		}
	}
	for _, c := range chunks {
		if err := m.addOne(c); err != nil {
			return err
		}
	}
	m.nIos++
	m.nBlocks += uint64(rec.IoBlocks)
	return nil
}

// splitAll cuts ri into pieces of at most blocks0 blocks each.
func (ri *RecIo) splitAll(blocks0 uint16) ([]*RecIo, error) {
	if ri.Rec.IsCompressed() {
		var err error
		if ri, err = ri.uncompress(); err != nil {
			return nil, err
		}
	}
	var out []*RecIo
	addr := ri.Rec.IoAddress
	remaining := ri.Rec.IoBlocks
	for remaining > 0 {
		blks := remaining
		if blks > blocks0 {
			blks = blocks0
		}
		out = append(out, ri.slice(addr, blks))
		addr += uint64(blks)
		remaining -= blks
	}
	return out, nil
}

func (m *Memory) addOne(ri *RecIo) error {
	start, end := ri.Rec.IoAddress, ri.Rec.EndIoAddress()

	var overlapped []*RecIo
	m.tree.DescendLessOrEqual(&RecIo{Rec: Record{IoAddress: start}}, func(e *RecIo) bool {
		if e.Rec.EndIoAddress() > start {
			overlapped = append(overlapped, e)
		}
		return false
	})
	m.tree.AscendGreaterOrEqual(&RecIo{Rec: Record{IoAddress: start + 1}}, func(e *RecIo) bool {
		if e.Rec.IoAddress >= end {
			return false
		}
		overlapped = append(overlapped, e)
		return true
	})

	for _, e := range overlapped {
		m.tree.Delete(e)
		survivors, err := e.minus(start, end)
		if err != nil {
			return err
		}
		for _, s := range survivors {
			m.tree.ReplaceOrInsert(s)
		}
	}
	m.tree.ReplaceOrInsert(ri)
	return nil
}

// minus returns the parts of ri that survive being overwritten by the
// range [start, end). Compressed entries that get cut are decompressed
// first, since a compressed payload can not be sliced.
func (ri *RecIo) minus(start, end uint64) ([]*RecIo, error) {
	s, e := ri.Rec.IoAddress, ri.Rec.EndIoAddress()
	if start <= s && e <= end {
		return nil, nil
	}
	if ri.Rec.IsNormal() && ri.Rec.IsCompressed() {
		var err error
		if ri, err = ri.uncompress(); err != nil {
			return nil, err
		}
	}
	var out []*RecIo
	if s < start {
		out = append(out, ri.slice(s, uint16(start-s)))
	}
	if end < e {
		out = append(out, ri.slice(end, uint16(e-end)))
	}
	return out, nil
}

// PopFlushable removes and returns, in address order, all entries whose
// end address does not exceed doneAddr.
func (m *Memory) PopFlushable(doneAddr uint64) []*RecIo {
	var out []*RecIo
	m.tree.Ascend(func(e *RecIo) bool {
		if e.Rec.IoAddress >= doneAddr {
			return false
		}
		if e.Rec.EndIoAddress() <= doneAddr {
			out = append(out, e)
		}
		return true
	})
	for _, e := range out {
		m.tree.Delete(e)
	}
	return out
}

// CheckNoOverlappedAndSorted verifies the model invariant. Debug aid.
func (m *Memory) CheckNoOverlappedAndSorted() error {
	var prev *RecIo
	var err error
	m.tree.Ascend(func(e *RecIo) bool {
		if prev != nil {
			if prev.Rec.EndIoAddress() > e.Rec.IoAddress {
				err = NewInvalidDiffRecordError("overlap between %d+%d and %d",
					prev.Rec.IoAddress, prev.Rec.IoBlocks, e.Rec.IoAddress)
				return false
			}
		}
		prev = e
		return true
	})
	return err
}

// WriteTo emits the whole model in address order through a pack writer,
// compressing uncompressed payloads when cmprType requests it.
func (m *Memory) WriteTo(w *Writer, cmprType uint8) error {
	var err error
	m.tree.Ascend(func(e *RecIo) bool {
		err = w.CompressAndWriteDiff(e.Rec, e.Io, cmprType)
		return err == nil
	})
	return err
}

// Ascend visits every entry in address order while fn returns true.
func (m *Memory) Ascend(fn func(*RecIo) bool) {
	m.tree.Ascend(fn)
}
