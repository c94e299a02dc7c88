package redo

import (
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"

	"github.com/walb-linux/walb-tools-pkg/internal/blockdev"
	"github.com/walb-linux/walb-tools-pkg/internal/walb"
	"github.com/walb-linux/walb-tools-pkg/internal/walblog"
	"github.com/walb-linux/walb-tools-pkg/utility"
)

// DiscardMode selects how discard log records are applied.
type DiscardMode int

const (
	// DiscardNone skips discard records entirely.
	DiscardNone DiscardMode = iota
	// DiscardIssue forwards them to the device as real discards.
	DiscardIssue
	// DiscardZero rewrites the discarded range with zero blocks.
	DiscardZero
)

func (m DiscardMode) String() string {
	switch m {
	case DiscardNone:
		return "none"
	case DiscardIssue:
		return "issue"
	case DiscardZero:
		return "zero"
	}
	return "unknown"
}

// Config tunes the redo engine.
type Config struct {
	DiscardMode DiscardMode
	BufferSize  int // in-flight write budget [bytes]
	MaxIoSize   int // merged write cap [bytes]
	Verbose     bool
}

// DefaultBufferSize bounds the in-flight write volume.
const DefaultBufferSize = 4 << 20

// Report summarizes one redo run.
type Report struct {
	BeginLsid    uint64
	EndLsid      uint64
	NWritten     uint64
	NOverwritten uint64
	NClipped     uint64
	NDiscard     uint64
	NPadding     uint64
}

// Applyer replays a WLOG stream onto a block device. Writes are kept in
// arrival order through an overlap tracker so that overlapping ranges are
// serialized while disjoint ones fly in parallel.
type Applyer struct {
	cfg       Config
	bdev      *blockdev.BlockDevice
	blockSize uint32 // device physical block size
	queueSize int    // in-flight budget [device physical blocks]
	aio       *blockdev.AsyncWriter

	pbs       uint32 // wlog physical block size
	zeroAlloc *walb.BlockAllocator

	ioQ       []*Io // arrival order, head completes first
	readyIoQ  []*Io // zero overlaps, waiting for submission
	submitIoQ []*Io // sorted by offset, next bulk submission
	tracker   *OverlapTracker

	nPendingBlocks int
	nextSeq        uint64
	stats          Report
}

// NewApplyer creates a redo engine writing to bdev.
func NewApplyer(bdev *blockdev.BlockDevice, cfg Config) (*Applyer, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.MaxIoSize <= 0 {
		cfg.MaxIoSize = DefaultMaxIoSize
	}
	blockSize := bdev.PhysicalBlockSize()
	if cfg.BufferSize <= int(blockSize) {
		return nil, blockdev.NewInvalidConfigError(
			"buffer size %d must exceed the device block size %d", cfg.BufferSize, blockSize)
	}
	queueSize := cfg.BufferSize / int(blockSize)
	aio, err := blockdev.NewAsyncWriter(bdev.Fd(), queueSize)
	if err != nil {
		return nil, err
	}
	return &Applyer{
		cfg:       cfg,
		bdev:      bdev,
		blockSize: blockSize,
		queueSize: queueSize,
		aio:       aio,
		tracker:   NewOverlapTracker(),
	}, nil
}

// ReadAndApply replays the WLOG stream from r onto the device and flushes
// it. On error already-submitted writes are drained but the device state
// is undefined.
func (a *Applyer) ReadAndApply(r io.Reader) (Report, error) {
	rep, err := a.readAndApply(r)
	if err != nil {
		a.aio.Drain()
	}
	return rep, err
}

func (a *Applyer) readAndApply(r io.Reader) (Report, error) {
	reader := walblog.NewReader(r, nil)
	h, err := reader.ReadHeader()
	if err != nil {
		return a.stats, err
	}
	if err := a.setLogParams(h); err != nil {
		return a.stats, err
	}
	a.stats.BeginLsid = h.BeginLsid

	for {
		packIo, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return a.stats, err
		}
		if err := a.redoPack(&packIo.Record, packIo.Block); err != nil {
			return a.stats, err
		}
	}
	if err := a.submitIos(); err != nil {
		return a.stats, err
	}
	if err := a.waitForAllPendingIos(); err != nil {
		return a.stats, err
	}
	if err := a.bdev.Fdatasync(); err != nil {
		return a.stats, err
	}
	a.stats.EndLsid = reader.EndLsid()
	tracelog.InfoLogger.Printf(
		"applied lsid range [%d, %d): written %d overwritten %d clipped %d discard %d padding %d [pb]",
		a.stats.BeginLsid, a.stats.EndLsid,
		a.stats.NWritten, a.stats.NOverwritten, a.stats.NClipped,
		a.stats.NDiscard, a.stats.NPadding)
	return a.stats, nil
}

func (a *Applyer) setLogParams(h *walblog.FileHeader) error {
	if h.Pbs < a.blockSize || h.Pbs%a.blockSize != 0 {
		return blockdev.NewInvalidConfigError(
			"wlog pbs %d is not a multiple of the device block size %d", h.Pbs, a.blockSize)
	}
	a.pbs = h.Pbs
	a.zeroAlloc = walb.NewBlockAllocator(int(h.Pbs), utility.Max(a.queueSize, 1))
	return nil
}

func (a *Applyer) redoPack(rec *walblog.LogRecord, bs *walblog.BlockShared) error {
	if rec.IsPadding() {
		a.stats.NPadding += uint64(rec.IoSizePb(a.pbs))
		return nil
	}
	if rec.IsDiscard() {
		switch a.cfg.DiscardMode {
		case DiscardNone:
			a.stats.NDiscard += uint64(rec.IoSizePb(a.pbs))
			return nil
		case DiscardIssue:
			return a.redoDiscard(rec)
		case DiscardZero:
			// fall through to a normal write of zero blocks.
		}
	}
	return a.redoNormalIo(rec, bs)
}

// redoDiscard forwards a discard record to the device. All pending writes
// must land first to keep ordering with respect to the discarded range.
func (a *Applyer) redoDiscard(rec *walblog.LogRecord) error {
	if err := a.submitIos(); err != nil {
		return err
	}
	if err := a.waitForAllPendingIos(); err != nil {
		return err
	}
	off := rec.Offset * walb.LogicalBlockSize
	length := uint64(rec.IoSizeLb()) * walb.LogicalBlockSize
	if int64(off+length) > a.bdev.Size() {
		if int64(off) >= a.bdev.Size() {
			a.stats.NClipped += uint64(rec.IoSizePb(a.pbs))
			return nil
		}
		length = uint64(a.bdev.Size()) - off
	}
	if err := a.bdev.Discard(off, length); err != nil {
		return err
	}
	a.stats.NDiscard += uint64(rec.IoSizePb(a.pbs))
	if a.cfg.Verbose {
		tracelog.DebugLogger.Printf("discard %d +%d", off, length)
	}
	return nil
}

// redoNormalIo splits a record payload into per-block writes, merging
// adjacent contiguous ones, and feeds them into the pipeline.
func (a *Applyer) redoNormalIo(rec *walblog.LogRecord, bs *walblog.BlockShared) error {
	tmpQ := NewIoQueue(a.cfg.MaxIoSize)
	remaining := int(rec.IoSizeLb()) * walb.LogicalBlockSize
	off := int64(rec.Offset) * walb.LogicalBlockSize
	nBlocks := 0
	ioSizePb := int(rec.IoSizePb(a.pbs))
	isZero := rec.IsDiscard()

	for i := 0; i < ioSizePb; i++ {
		var block walb.Block
		if isZero {
			block = a.zeroAlloc.Alloc()
		} else {
			block = bs.Block(i)
		}
		size := utility.Min(int(a.pbs), remaining)
		io0 := newIo(off, size, block.Truncated(size))
		off += int64(size)
		remaining -= size

		if io0.endOffset() <= a.bdev.Size() {
			tmpQ.Add(io0)
			// The budget is kept in device blocks, matching the
			// decrement on completion.
			nBlocks += a.bytesToPb(size)
			if isZero {
				a.stats.NDiscard++
			}
		} else {
			a.stats.NClipped++
		}

		if a.queueSize/2 <= nBlocks {
			if err := a.prepareIos(tmpQ, &nBlocks); err != nil {
				return err
			}
			if err := a.scheduleIos(); err != nil {
				return err
			}
		}
	}
	if err := a.prepareIos(tmpQ, &nBlocks); err != nil {
		return err
	}
	return a.scheduleIos()
}

// prepareIos moves the accumulated sub-writes into the pipeline, waiting
// for completions until the pending budget has room for them.
func (a *Applyer) prepareIos(q *IoQueue, nBlocks *int) error {
	for len(a.ioQ) > 0 && a.queueSize < a.nPendingBlocks+*nBlocks {
		if err := a.waitForAnIoCompletion(); err != nil {
			return err
		}
	}
	a.nPendingBlocks += *nBlocks
	if a.nPendingBlocks > a.queueSize {
		return errors.Errorf("pending blocks %d exceed the queue size %d", a.nPendingBlocks, a.queueSize)
	}
	*nBlocks = 0

	for !q.Empty() {
		io0 := q.Pop()
		a.nextSeq++
		io0.seq = a.nextSeq
		a.tracker.Insert(io0)
		if io0.nOverlapped == 0 {
			a.readyIoQ = append(a.readyIoQ, io0)
		} else if a.cfg.Verbose {
			tracelog.DebugLogger.Printf("overlapped io %d +%d (%d)", io0.offset, io0.size, io0.nOverlapped)
		}
		a.ioQ = append(a.ioQ, io0)
	}
	return nil
}

// scheduleIos moves ready writes into the sorted submission queue,
// flushing it whenever it reaches the queue size.
func (a *Applyer) scheduleIos() error {
	for len(a.readyIoQ) > 0 {
		io0 := a.readyIoQ[0]
		a.readyIoQ = a.readyIoQ[1:]
		if io0.overwritten {
			continue
		}
		i := sort.Search(len(a.submitIoQ), func(i int) bool {
			return a.submitIoQ[i].offset > io0.offset
		})
		a.submitIoQ = append(a.submitIoQ, nil)
		copy(a.submitIoQ[i+1:], a.submitIoQ[i:])
		a.submitIoQ[i] = io0
		if len(a.submitIoQ) >= a.queueSize {
			if err := a.submitIos(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Applyer) submitIos() error {
	nBulk := 0
	for _, io0 := range a.submitIoQ {
		if io0.overwritten {
			continue
		}
		io0.aioKey = a.aio.PrepareWrite(io0.offset, io0.buf())
		io0.submitted = true
		nBulk++
		if a.cfg.Verbose {
			tracelog.DebugLogger.Printf("submit %d +%d", io0.offset, io0.size)
		}
	}
	a.submitIoQ = a.submitIoQ[:0]
	if nBulk == 0 {
		return nil
	}
	return a.aio.Submit()
}

// waitForAnIoCompletion retires the oldest pipeline entry. Entries that
// were elided by a later covering write complete without touching the
// device. Followers freed of their last overlap go to the front of the
// ready queue so the freed range lands before unrelated younger writes.
func (a *Applyer) waitForAnIoCompletion() error {
	io0 := a.ioQ[0]
	a.ioQ = a.ioQ[1:]

	if !io0.submitted && !io0.overwritten {
		// The oldest entry is still queued. Force a submission cycle.
		if err := a.scheduleIos(); err != nil {
			return err
		}
		if err := a.submitIos(); err != nil {
			return err
		}
	}
	if io0.submitted {
		if err := a.aio.WaitFor(io0.aioKey); err != nil {
			return err
		}
		io0.completed = true
		a.stats.NWritten++
	} else {
		a.stats.NOverwritten++
	}
	a.nPendingBlocks -= a.bytesToPb(io0.size)

	for _, p := range a.tracker.Remove(io0) {
		if p.overwritten {
			continue
		}
		a.readyIoQ = append([]*Io{p}, a.readyIoQ...)
	}
	io0.block = walb.Block{}
	return nil
}

func (a *Applyer) waitForAllPendingIos() error {
	for len(a.ioQ) > 0 {
		if err := a.waitForAnIoCompletion(); err != nil {
			return err
		}
	}
	if !a.tracker.Empty() {
		return errors.New("overlap tracker is not empty after drain")
	}
	a.nPendingBlocks = 0
	return nil
}

func (a *Applyer) bytesToPb(n int) int {
	return (n + int(a.blockSize) - 1) / int(a.blockSize)
}
