package redo

import (
	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

// DefaultMaxIoSize limits the size a merged write may grow to.
const DefaultMaxIoSize = 1 << 20

// Io is a single write destined for the block device. Adjacent Ios whose
// payload blocks are physically contiguous can be merged before submission.
type Io struct {
	offset int64
	size   int
	block  walb.Block

	seq         uint64
	aioKey      uint32
	nOverlapped int
	submitted   bool
	completed   bool
	overwritten bool
}

func newIo(offset int64, size int, block walb.Block) *Io {
	return &Io{offset: offset, size: size, block: block}
}

func (io *Io) endOffset() int64 {
	return io.offset + int64(io.size)
}

func (io *Io) buf() []byte {
	return io.block.Data()
}

// covers reports whether rhs lies entirely inside io's address range.
func (io *Io) covers(rhs *Io) bool {
	return io.offset <= rhs.offset && rhs.endOffset() <= io.endOffset()
}

// overlaps reports whether the address ranges of io and rhs intersect.
func (io *Io) overlaps(rhs *Io) bool {
	return io.offset < rhs.endOffset() && rhs.offset < io.endOffset()
}

// tryMerge grows io by absorbing rhs. It succeeds only when rhs starts
// exactly where io ends, the payload blocks are contiguous in memory, and
// the merged size stays within maxIoSize.
func (io *Io) tryMerge(rhs *Io, maxIoSize int) bool {
	if io.size+rhs.size > maxIoSize {
		return false
	}
	if io.endOffset() != rhs.offset {
		return false
	}
	if !io.block.FollowedBy(rhs.block) {
		return false
	}
	io.block = io.block.Extended(rhs.size)
	io.size += rhs.size
	return true
}

// markOverwritten drops the payload of an elided write so the arena chunk
// can be collected once its neighbors complete.
func (io *Io) markOverwritten() {
	io.overwritten = true
	io.block = walb.Block{}
}

// IoQueue accumulates the sub-writes of one log record, merging each
// appended Io into the tail when possible.
type IoQueue struct {
	ioQ       []*Io
	maxIoSize int
}

func NewIoQueue(maxIoSize int) *IoQueue {
	if maxIoSize <= 0 {
		maxIoSize = DefaultMaxIoSize
	}
	return &IoQueue{maxIoSize: maxIoSize}
}

func (q *IoQueue) Add(io *Io) {
	if n := len(q.ioQ); n > 0 && q.ioQ[n-1].tryMerge(io, q.maxIoSize) {
		return
	}
	q.ioQ = append(q.ioQ, io)
}

func (q *IoQueue) Pop() *Io {
	io := q.ioQ[0]
	q.ioQ = q.ioQ[1:]
	return io
}

func (q *IoQueue) Empty() bool {
	return len(q.ioQ) == 0
}
