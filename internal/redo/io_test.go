package redo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

func TestIoQueue_MergesContiguousAdjacentWrites(t *testing.T) {
	a := walb.NewBlockAllocator(4096, 8)
	q := NewIoQueue(DefaultMaxIoSize)
	for i := 0; i < 4; i++ {
		q.Add(newIo(int64(i)*4096, 4096, a.Alloc()))
	}
	io0 := q.Pop()
	assert.True(t, q.Empty())
	assert.Equal(t, int64(0), io0.offset)
	assert.Equal(t, 4*4096, io0.size)
	assert.Len(t, io0.buf(), 4*4096)
}

func TestIoQueue_NoMergeAcrossAddressGap(t *testing.T) {
	a := walb.NewBlockAllocator(4096, 8)
	q := NewIoQueue(DefaultMaxIoSize)
	q.Add(newIo(0, 4096, a.Alloc()))
	q.Add(newIo(8192, 4096, a.Alloc())) // contiguous memory, gap on disk
	assert.Equal(t, 4096, q.Pop().size)
	assert.Equal(t, 4096, q.Pop().size)
}

func TestIoQueue_NoMergeAcrossChunks(t *testing.T) {
	a := walb.NewBlockAllocator(4096, 1) // every block in its own chunk
	q := NewIoQueue(DefaultMaxIoSize)
	q.Add(newIo(0, 4096, a.Alloc()))
	q.Add(newIo(4096, 4096, a.Alloc()))
	assert.Equal(t, 4096, q.Pop().size)
	assert.False(t, q.Empty())
}

func TestIoQueue_MergeRespectsSizeCap(t *testing.T) {
	a := walb.NewBlockAllocator(4096, 8)
	q := NewIoQueue(8192)
	for i := 0; i < 3; i++ {
		q.Add(newIo(int64(i)*4096, 4096, a.Alloc()))
	}
	assert.Equal(t, 8192, q.Pop().size)
	assert.Equal(t, 4096, q.Pop().size)
}

func TestOverlapTracker_CountsAndReleasesOverlaps(t *testing.T) {
	a := walb.NewBlockAllocator(512, 16)
	tr := NewOverlapTracker()

	first := newIo(0, 1024, a.Alloc().Extended(512))
	second := newIo(512, 1024, a.Alloc().Extended(512))
	third := newIo(4096, 512, a.Alloc())

	tr.Insert(first)
	assert.Equal(t, 0, first.nOverlapped)
	tr.Insert(second)
	assert.Equal(t, 1, second.nOverlapped)
	tr.Insert(third)
	assert.Equal(t, 0, third.nOverlapped)

	ready := tr.Remove(first)
	require.Len(t, ready, 1)
	assert.Same(t, second, ready[0])

	tr.Remove(second)
	tr.Remove(third)
	assert.True(t, tr.Empty())
}

func TestOverlapTracker_ElidesCoveredUnsubmittedWrite(t *testing.T) {
	a := walb.NewBlockAllocator(512, 16)
	tr := NewOverlapTracker()

	small := newIo(512, 512, a.Alloc())
	big := newIo(0, 2048, a.Alloc().Extended(3*512))
	tr.Insert(small)
	tr.Insert(big)

	assert.True(t, small.overwritten)
	assert.True(t, small.block.IsZero())
	assert.Equal(t, 1, big.nOverlapped)
}

func TestOverlapTracker_DoesNotElideSubmittedWrite(t *testing.T) {
	a := walb.NewBlockAllocator(512, 16)
	tr := NewOverlapTracker()

	small := newIo(512, 512, a.Alloc())
	small.submitted = true
	big := newIo(0, 2048, a.Alloc().Extended(3*512))
	tr.Insert(small)
	tr.Insert(big)

	assert.False(t, small.overwritten)
	assert.Equal(t, 1, big.nOverlapped)
}

func TestOverlapTracker_SameOffsetKeepsArrivalOrder(t *testing.T) {
	a := walb.NewBlockAllocator(512, 16)
	tr := NewOverlapTracker()

	ios := make([]*Io, 3)
	for i := range ios {
		ios[i] = newIo(0, 512, a.Alloc())
		ios[i].seq = uint64(i + 1)
		ios[i].submitted = true // keep all three alive
		tr.Insert(ios[i])
	}
	assert.Equal(t, 0, ios[0].nOverlapped)
	assert.Equal(t, 1, ios[1].nOverlapped)
	assert.Equal(t, 2, ios[2].nOverlapped)

	ready := tr.Remove(ios[0])
	require.Len(t, ready, 1)
	assert.Same(t, ios[1], ready[0])
}

func TestOverlapTracker_ResetsSearchWindowWhenEmptied(t *testing.T) {
	a := walb.NewBlockAllocator(512, 16)
	tr := NewOverlapTracker()

	big := newIo(8192, 2048, a.Alloc().Extended(3*512))
	tr.Insert(big)
	assert.Equal(t, 2048, tr.maxSize)

	tr.Remove(big)
	require.True(t, tr.Empty())
	assert.Equal(t, 0, tr.maxSize)
}

func TestSearchWindowStart(t *testing.T) {
	assert.Equal(t, int64(0), searchWindowStart(100, 200))
	assert.Equal(t, int64(50), searchWindowStart(100, 50))
	assert.Equal(t, int64(100), searchWindowStart(100, 0))
}
