package redo

import (
	"github.com/google/btree"
)

// lessIo orders pending writes by (offset, seq). The sequence number breaks
// ties so that several writes to the same offset keep their arrival order.
func lessIo(a, b *Io) bool {
	if a.offset != b.offset {
		return a.offset < b.offset
	}
	return a.seq < b.seq
}

// searchWindowStart returns the lowest offset that can still overlap a
// write beginning at offset, given the largest write size seen so far.
func searchWindowStart(offset int64, maxSize int) int64 {
	if int64(maxSize) > offset {
		return 0
	}
	return offset - int64(maxSize)
}

// OverlapTracker holds all in-flight writes ordered by (offset, seq) and
// serializes overlapping ones. A write may be submitted only when its
// nOverlapped counter is zero; completing a write decrements the counters
// of every overlapping successor.
type OverlapTracker struct {
	tree    *btree.BTreeG[*Io]
	maxSize int
}

func NewOverlapTracker() *OverlapTracker {
	return &OverlapTracker{tree: btree.NewG(8, lessIo)}
}

// Insert registers io, counting overlaps with already tracked writes and
// eliding tracked writes that io fully covers before they were submitted.
func (t *OverlapTracker) Insert(io *Io) {
	io.nOverlapped = 0
	pivot := &Io{offset: searchWindowStart(io.offset, t.maxSize)}
	t.tree.AscendGreaterOrEqual(pivot, func(p *Io) bool {
		if p.offset >= io.endOffset() {
			return false
		}
		if !p.overlaps(io) {
			return true
		}
		io.nOverlapped++
		if !p.submitted && !p.overwritten && io.covers(p) {
			p.markOverwritten()
		}
		return true
	})
	if io.size > t.maxSize {
		t.maxSize = io.size
	}
	t.tree.ReplaceOrInsert(io)
}

// Remove deletes io and returns the tracked writes that became ready to
// submit, in (offset, seq) order.
func (t *OverlapTracker) Remove(io *Io) []*Io {
	if _, ok := t.tree.Delete(io); !ok {
		panic("redo: removing an untracked io")
	}
	var ready []*Io
	pivot := &Io{offset: searchWindowStart(io.offset, t.maxSize)}
	t.tree.AscendGreaterOrEqual(pivot, func(p *Io) bool {
		if p.offset >= io.endOffset() {
			return false
		}
		if !p.overlaps(io) {
			return true
		}
		if p.nOverlapped <= 0 {
			panic("redo: overlap counter underflow")
		}
		p.nOverlapped--
		if p.nOverlapped == 0 {
			ready = append(ready, p)
		}
		return true
	})
	if t.tree.Len() == 0 {
		t.maxSize = 0
	}
	return ready
}

func (t *OverlapTracker) Empty() bool {
	return t.tree.Len() == 0
}
