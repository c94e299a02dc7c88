package walblog

import (
	"io"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
	"github.com/walb-linux/walb-tools-pkg/utility"
)

// BlockShared holds the payload of one log record as a run of pbs-sized
// blocks drawn from a block allocator.
type BlockShared struct {
	pbs    uint32
	blocks []walb.Block
}

// NewBlockShared creates an empty payload holder.
func NewBlockShared(pbs uint32) *BlockShared {
	return &BlockShared{pbs: pbs}
}

// NewBlockSharedFromBytes copies data into freshly allocated blocks,
// zero-padding the physical-block tail.
func NewBlockSharedFromBytes(pbs uint32, data []byte) *BlockShared {
	nBlocks := int(walb.CapacityPb(pbs, uint32((len(data)+walb.LogicalBlockSize-1)/walb.LogicalBlockSize)))
	alloc := walb.NewBlockAllocator(int(pbs), utility.Max(nBlocks, 1))
	bs := NewBlockShared(pbs)
	off := 0
	for i := 0; i < nBlocks; i++ {
		b := alloc.Alloc()
		off += copy(b.Data(), data[off:])
		bs.AddBlock(b)
	}
	return bs
}

func (bs *BlockShared) Pbs() uint32     { return bs.pbs }
func (bs *BlockShared) NBlocks() int    { return len(bs.blocks) }
func (bs *BlockShared) Block(i int) walb.Block { return bs.blocks[i] }

// Get returns the bytes of block i.
func (bs *BlockShared) Get(i int) []byte { return bs.blocks[i].Data() }

// AddBlock appends an already-filled block.
func (bs *BlockShared) AddBlock(b walb.Block) {
	bs.blocks = append(bs.blocks, b)
}

// ReadFrom fills the holder with nBlocks blocks read from r, allocated
// from alloc. Blocks allocated consecutively stay physically contiguous.
func (bs *BlockShared) ReadFrom(r io.Reader, nBlocks int, alloc *walb.BlockAllocator) error {
	bs.blocks = bs.blocks[:0]
	for i := 0; i < nBlocks; i++ {
		b := alloc.Alloc()
		if err := readFull(r, b.Data()); err != nil {
			return NewCorruptLogError("short payload read at block %d/%d: %v", i, nBlocks, err)
		}
		bs.blocks = append(bs.blocks, b)
	}
	return nil
}

// WriteTo writes all blocks to w.
func (bs *BlockShared) WriteTo(w io.Writer) error {
	for i := range bs.blocks {
		if _, err := w.Write(bs.blocks[i].Data()); err != nil {
			return err
		}
	}
	return nil
}

// CalcChecksum computes the salted checksum over exactly ioSizeLb
// logical blocks of payload, never over the physical-block tail padding.
func (bs *BlockShared) CalcChecksum(ioSizeLb uint32, salt uint32) uint32 {
	remaining := int(ioSizeLb) * walb.LogicalBlockSize
	sum := salt
	for i := 0; remaining > 0; i++ {
		s := int(bs.pbs)
		if remaining < s {
			s = remaining
		}
		sum = walb.ChecksumPartial(sum, bs.Get(i)[:s])
		remaining -= s
	}
	return walb.ChecksumFinish(sum)
}

// CalcIsAllZero reports whether the first ioSizeLb logical blocks of the
// payload consist only of zero bytes.
func (bs *BlockShared) CalcIsAllZero(ioSizeLb uint32) bool {
	remaining := int(ioSizeLb) * walb.LogicalBlockSize
	for i := 0; remaining > 0; i++ {
		s := int(bs.pbs)
		if remaining < s {
			s = remaining
		}
		if !utility.AllZero(bs.Get(i)[:s]) {
			return false
		}
		remaining -= s
	}
	return true
}

// CopyTo copies ioSizeLb logical blocks of payload into dst.
func (bs *BlockShared) CopyTo(dst []byte, ioSizeLb uint32) {
	remaining := int(ioSizeLb) * walb.LogicalBlockSize
	off := 0
	for i := 0; remaining > 0; i++ {
		s := int(bs.pbs)
		if remaining < s {
			s = remaining
		}
		copy(dst[off:off+s], bs.Get(i))
		off += s
		remaining -= s
	}
}
