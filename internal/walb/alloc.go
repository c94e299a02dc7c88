package walb

import "unsafe"

// Block is a pbs-sized buffer carved out of an allocator chunk. Blocks
// allocated back to back from the same chunk are physically contiguous,
// which lets the redo engine coalesce adjacent writes into a single
// device submission.
type Block struct {
	chunk []byte
	off   int
	size  int
}

// Data returns the block's byte range.
func (b Block) Data() []byte {
	return b.chunk[b.off : b.off+b.size]
}

// Size returns the block size in bytes.
func (b Block) Size() int {
	return b.size
}

// IsZero reports whether b is the zero Block.
func (b Block) IsZero() bool {
	return b.chunk == nil
}

// FollowedBy reports whether c starts exactly where b ends inside the
// same chunk.
func (b Block) FollowedBy(c Block) bool {
	if b.chunk == nil || c.chunk == nil {
		return false
	}
	return &b.chunk[0] == &c.chunk[0] && b.off+b.size == c.off
}

// Extended returns b grown by n bytes. The caller must have verified
// contiguity beforehand.
func (b Block) Extended(n int) Block {
	return Block{chunk: b.chunk, off: b.off, size: b.size + n}
}

// Truncated returns b shrunk to n bytes.
func (b Block) Truncated(n int) Block {
	return Block{chunk: b.chunk, off: b.off, size: n}
}

// BlockAllocator hands out aligned fixed-size blocks from large chunks.
// Allocation is sequential within a chunk; exhausted chunks are released
// to the garbage collector once no Block references them.
type BlockAllocator struct {
	blockSize int
	chunkSize int
	chunk     []byte
	off       int
}

// NewBlockAllocator creates an allocator of blockSize-sized blocks with
// chunks holding nBlocks each. Chunk starts are aligned to blockSize so
// the buffers are usable for direct IO.
func NewBlockAllocator(blockSize, nBlocks int) *BlockAllocator {
	return &BlockAllocator{
		blockSize: blockSize,
		chunkSize: blockSize * nBlocks,
	}
}

// BlockSize returns the size of allocated blocks in bytes.
func (a *BlockAllocator) BlockSize() int {
	return a.blockSize
}

// Alloc returns a zero-filled aligned block.
func (a *BlockAllocator) Alloc() Block {
	if a.chunk == nil || a.off+a.blockSize > len(a.chunk) {
		a.chunk = allocAligned(a.chunkSize, a.blockSize)
		a.off = 0
	}
	b := Block{chunk: a.chunk, off: a.off, size: a.blockSize}
	a.off += a.blockSize
	return b
}

func allocAligned(size, align int) []byte {
	buf := make([]byte, size+align)
	shift := 0
	if rem := int(uintptr(unsafe.Pointer(&buf[0])) % uintptr(align)); rem != 0 {
		shift = align - rem
	}
	return buf[shift : shift+size : shift+size]
}
