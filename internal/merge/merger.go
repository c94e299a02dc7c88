package merge

import (
	"io"
	"math"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"

	"github.com/walb-linux/walb-tools-pkg/internal/walbdiff"
	"github.com/walb-linux/walb-tools-pkg/utility"
)

// DefaultSearchLen is the initial merge window [logical blocks].
const DefaultSearchLen = 1024

// wdiffInput is one input stream with single-record lookahead.
type wdiffInput struct {
	name   string
	closer io.Closer
	reader *walbdiff.Reader
	header *walbdiff.FileHeader

	rec    walbdiff.Record
	io     walbdiff.IoData
	filled bool
	end    bool
}

func (w *wdiffInput) fill() error {
	if w.filled || w.end {
		return nil
	}
	rec, io0, err := w.reader.Next()
	if err == io.EOF {
		w.end = true
		return nil
	}
	if err != nil {
		return err
	}
	w.rec, w.io = rec, io0
	w.filled = true
	return nil
}

func (w *wdiffInput) isEnd() (bool, error) {
	if err := w.fill(); err != nil {
		return false, err
	}
	return w.end, nil
}

// currentAddress returns the io address of the lookahead record, or
// MaxUint64 when the stream is exhausted.
func (w *wdiffInput) currentAddress() (uint64, error) {
	endV, err := w.isEnd()
	if err != nil {
		return 0, err
	}
	if endV {
		return math.MaxUint64, nil
	}
	return w.rec.IoAddress, nil
}

// pop hands out the lookahead record. Compressed payloads pass through
// untouched; the diff model decompresses one only when an overlap
// forces a split.
func (w *wdiffInput) pop() (walbdiff.Record, walbdiff.IoData) {
	rec, io0 := w.rec, w.io
	w.filled = false
	return rec, io0
}

func (w *wdiffInput) close() {
	if w.closer != nil {
		utility.LoggedClose(w.closer, "failed to close wdiff input")
		w.closer = nil
	}
}

// Merger combines wdiff streams, newer ones overriding older ones, into
// one address-ordered output stream.
//
// Records are pulled from the inputs into an in-memory diff model where
// overlapped parts are resolved, and leave it once doneAddr guarantees
// no input can still produce an overlapping record. searchLen is the
// merge window [logical blocks]; it grows when stacked overlaps exceed
// it.
type Merger struct {
	validateUuid bool
	maxIoBlocks  uint16

	inputs    []*wdiffInput // oldest first
	nInputs   int
	mem       *walbdiff.Memory
	mergedQ   []*walbdiff.RecIo
	doneAddr  uint64
	searchLen uint64

	header   *walbdiff.FileHeader
	prepared bool
	statIn   walbdiff.Statistics
}

// NewMerger creates a merger with the given initial merge window.
// searchLen 0 selects the default.
func NewMerger(searchLen uint64) *Merger {
	if searchLen == 0 {
		searchLen = DefaultSearchLen
	}
	return &Merger{searchLen: searchLen}
}

// SetMaxIoBlocks bounds the block count of output records. 0 means no
// limit.
func (m *Merger) SetMaxIoBlocks(maxIoBlocks uint16) { m.maxIoBlocks = maxIoBlocks }

// SetShouldValidateUuid makes Prepare reject inputs whose uuid differs
// from the newest input's.
func (m *Merger) SetShouldValidateUuid(v bool) { m.validateUuid = v }

// AddWdiff appends one input stream. Newer wdiffs must be added later.
func (m *Merger) AddWdiff(name string, r io.Reader) error {
	reader := walbdiff.NewReader(r)
	h, err := reader.ReadHeader()
	if err != nil {
		return errors.Wrapf(err, "failed to read wdiff header of %s", name)
	}
	closer, _ := r.(io.Closer)
	m.inputs = append(m.inputs, &wdiffInput{name: name, closer: closer, reader: reader, header: h})
	m.nInputs++
	return nil
}

// AddWdiffFile opens path and appends it as an input stream.
func (m *Merger) AddWdiffFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open wdiff %s", path)
	}
	if err := m.AddWdiff(path, f); err != nil {
		utility.LoggedClose(f, "")
		return err
	}
	return nil
}

// Prepare fixes the output header and drops already-empty inputs. It
// is called implicitly by MergeTo.
func (m *Merger) Prepare() error {
	if m.prepared {
		return nil
	}
	if len(m.inputs) == 0 {
		return errors.New("no wdiff inputs")
	}
	newest := m.inputs[len(m.inputs)-1]
	if m.validateUuid {
		if err := m.verifyUuid(newest.header.UUID); err != nil {
			return err
		}
	}
	maxIo := m.maxIoBlocks
	if maxIo == 0 {
		for _, in := range m.inputs {
			maxIo = utility.MaxUint16(maxIo, in.header.MaxIoBlocks)
		}
	}
	m.header = &walbdiff.FileHeader{UUID: newest.header.UUID, MaxIoBlocks: maxIo}
	m.mem = walbdiff.NewMemory(m.maxIoBlocks)
	if err := m.removeEndedInputs(); err != nil {
		return err
	}
	addr, err := m.minimumAddr()
	if err != nil {
		return err
	}
	m.doneAddr = addr
	m.prepared = true
	return nil
}

// Header returns the output header fixed by Prepare.
func (m *Merger) Header() *walbdiff.FileHeader { return m.header }

// MergeTo writes the whole merged stream to w, compressing payloads
// with cmprType.
func (m *Merger) MergeTo(w io.Writer, cmprType uint8) error {
	if err := m.Prepare(); err != nil {
		return err
	}
	writer, err := walbdiff.NewWriter(w, m.header)
	if err != nil {
		return err
	}
	for {
		recIo, ok, err := m.GetAndRemove()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := writer.CompressAndWriteDiff(recIo.Rec, recIo.Io, cmprType); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}
	tracelog.InfoLogger.Printf("merged %d wdiffs: in %s out %s",
		m.nInputs, m.statIn.String(), writer.Stat().String())
	return nil
}

// GetAndRemove yields the next merged record in address order. ok is
// false once everything has been emitted.
func (m *Merger) GetAndRemove() (*walbdiff.RecIo, bool, error) {
	if !m.prepared {
		return nil, false, errors.New("merger is not prepared")
	}
	for {
		if len(m.mergedQ) > 0 {
			recIo := m.mergedQ[0]
			m.mergedQ = m.mergedQ[1:]
			return recIo, true, nil
		}
		if len(m.inputs) == 0 {
			// No producer is left; the model can drain completely.
			m.doneAddr = math.MaxUint64
			if m.mem.Empty() {
				return nil, false, nil
			}
			m.mergedQ = m.mem.PopFlushable(m.doneAddr)
			continue
		}
		if err := m.moveToDiffMemory(); err != nil {
			return nil, false, err
		}
		m.mergedQ = m.mem.PopFlushable(m.doneAddr)
	}
}

// moveToDiffMemory pulls records into the model, doubling the merge
// window until at least one record fits through it.
func (m *Merger) moveToDiffMemory() error {
	for {
		nr, err := m.tryMoveToDiffMemory()
		if err != nil {
			return err
		}
		if nr > 0 || len(m.inputs) == 0 {
			return nil
		}
		m.searchLen *= 2
		tracelog.DebugLogger.Printf("merge window grown to %d blocks", m.searchLen)
	}
}

// tryMoveToDiffMemory scans the inputs from oldest to newest. A record
// may enter the model only while it starts inside the merge window and
// ends at or before the unread frontier of every older input, so older
// data is always in the model before newer data overrides it.
func (m *Merger) tryMoveToDiffMemory() (int, error) {
	nr := 0
	minAddr := uint64(math.MaxUint64)
	i := 0
	for i < len(m.inputs) {
		in := m.inputs[i]
		endV, err := in.isEnd()
		if err != nil {
			return nr, err
		}
		for !endV && m.shouldMerge(&in.rec, minAddr) {
			rec, io0 := in.pop()
			if err := m.mem.Add(rec, io0); err != nil {
				return nr, err
			}
			nr++
			if endV, err = in.isEnd(); err != nil {
				return nr, err
			}
		}
		if endV {
			m.statIn.Merge(in.reader.Stat())
			in.close()
			m.inputs = append(m.inputs[:i], m.inputs[i+1:]...)
			continue
		}
		addr, err := in.currentAddress()
		if err != nil {
			return nr, err
		}
		minAddr = utility.MinUint64(minAddr, addr)
		i++
	}
	if len(m.inputs) > 0 {
		addr, err := m.minimumAddr()
		if err != nil {
			return nr, err
		}
		m.doneAddr = addr
	}
	return nr, nil
}

func (m *Merger) shouldMerge(rec *walbdiff.Record, minAddr uint64) bool {
	return rec.IoAddress < m.doneAddr+m.searchLen && rec.EndIoAddress() <= minAddr
}

// minimumAddr returns the smallest unread address over all inputs.
func (m *Merger) minimumAddr() (uint64, error) {
	minAddr := uint64(math.MaxUint64)
	for _, in := range m.inputs {
		addr, err := in.currentAddress()
		if err != nil {
			return 0, err
		}
		minAddr = utility.MinUint64(minAddr, addr)
	}
	return minAddr, nil
}

func (m *Merger) removeEndedInputs() error {
	kept := m.inputs[:0]
	for _, in := range m.inputs {
		endV, err := in.isEnd()
		if err != nil {
			return err
		}
		if endV {
			m.statIn.Merge(in.reader.Stat())
			in.close()
			continue
		}
		kept = append(kept, in)
	}
	m.inputs = kept
	return nil
}

func (m *Merger) verifyUuid(expected uuid.UUID) error {
	for _, in := range m.inputs {
		if in.header.UUID != expected {
			return walbdiff.NewUuidMismatchError(expected.String(), in.header.UUID.String())
		}
	}
	return nil
}
