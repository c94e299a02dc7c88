package merge

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
	"github.com/walb-linux/walb-tools-pkg/internal/walbdiff"
)

func testUuid(id byte) uuid.UUID {
	u := uuid.UUID{}
	u[15] = id
	return u
}

type diffEntry struct {
	addr     uint64
	blocks   uint16
	seed     byte
	allZero  bool
	discard  bool
	compress bool
}

func buildWdiff(t *testing.T, id byte, entries []diffEntry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w, err := walbdiff.NewWriter(&buf, &walbdiff.FileHeader{UUID: testUuid(id)})
	require.NoError(t, err)
	for _, e := range entries {
		rec := walbdiff.NewRecord(e.addr, e.blocks)
		switch {
		case e.allZero:
			rec.SetAllZero()
			require.NoError(t, w.WriteDiff(rec, nil))
		case e.discard:
			rec.SetDiscard()
			require.NoError(t, w.WriteDiff(rec, nil))
		default:
			data := make([]byte, int(e.blocks)*walb.LogicalBlockSize)
			for i := range data {
				data[i] = e.seed
			}
			if e.compress {
				io0 := walbdiff.IoData{IoBlocks: e.blocks, Data: data}
				require.NoError(t, w.CompressAndWriteDiff(rec, io0, walb.CmprSnappy))
			} else {
				require.NoError(t, w.WriteDiff(rec, data))
			}
		}
	}
	require.NoError(t, w.Close())
	return &buf
}

func mergeAll(t *testing.T, m *Merger) (*walbdiff.FileHeader, []walbdiff.Record, [][]byte) {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, m.MergeTo(&out, walb.CmprNone))

	r := walbdiff.NewReader(&out)
	h, err := r.ReadHeader()
	require.NoError(t, err)
	var recs []walbdiff.Record
	var datas [][]byte
	for {
		rec, io0, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if rec.IsNormal() && io0.IsCompressed() {
			plain, err := io0.Uncompress()
			require.NoError(t, err)
			io0 = plain
		}
		recs = append(recs, rec)
		datas = append(datas, io0.Data)
	}
	return h, recs, datas
}

func TestMerger_SingleInputPassesThrough(t *testing.T) {
	in := buildWdiff(t, 1, []diffEntry{
		{addr: 0, blocks: 8, seed: 0x01},
		{addr: 100, blocks: 4, seed: 0x02},
	})
	m := NewMerger(0)
	require.NoError(t, m.AddWdiff("in0", in))

	h, recs, datas := mergeAll(t, m)
	assert.Equal(t, testUuid(1), h.UUID)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(0), recs[0].IoAddress)
	assert.Equal(t, uint64(100), recs[1].IoAddress)
	assert.Equal(t, byte(0x02), datas[1][0])
}

func TestMerger_NewerInputWins(t *testing.T) {
	older := buildWdiff(t, 1, []diffEntry{{addr: 0, blocks: 16, seed: 0x0a}})
	newer := buildWdiff(t, 2, []diffEntry{{addr: 4, blocks: 4, seed: 0x0b}})
	m := NewMerger(0)
	require.NoError(t, m.AddWdiff("older", older))
	require.NoError(t, m.AddWdiff("newer", newer))

	h, recs, datas := mergeAll(t, m)
	// The output carries the newest input's uuid.
	assert.Equal(t, testUuid(2), h.UUID)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(0), recs[0].IoAddress)
	assert.Equal(t, uint16(4), recs[0].IoBlocks)
	assert.Equal(t, byte(0x0a), datas[0][0])
	assert.Equal(t, uint64(4), recs[1].IoAddress)
	assert.Equal(t, byte(0x0b), datas[1][0])
	assert.Equal(t, uint64(8), recs[2].IoAddress)
	assert.Equal(t, uint16(8), recs[2].IoBlocks)
	assert.Equal(t, byte(0x0a), datas[2][0])
}

func TestMerger_SplitsCompressedInputsOnOverlap(t *testing.T) {
	// Compressed payloads stay compressed until an overlap cuts one.
	older := buildWdiff(t, 1, []diffEntry{{addr: 0, blocks: 16, seed: 0x0a, compress: true}})
	newer := buildWdiff(t, 2, []diffEntry{{addr: 4, blocks: 4, seed: 0x0b, compress: true}})
	m := NewMerger(0)
	require.NoError(t, m.AddWdiff("older", older))
	require.NoError(t, m.AddWdiff("newer", newer))

	_, recs, datas := mergeAll(t, m)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(0), recs[0].IoAddress)
	assert.Equal(t, uint16(4), recs[0].IoBlocks)
	assert.Equal(t, byte(0x0a), datas[0][0])
	assert.Equal(t, uint64(4), recs[1].IoAddress)
	assert.Equal(t, byte(0x0b), datas[1][0])
	assert.Equal(t, uint64(8), recs[2].IoAddress)
	assert.Equal(t, uint16(8), recs[2].IoBlocks)
	assert.Equal(t, byte(0x0a), datas[2][0])
	assert.Len(t, datas[2], 8*walb.LogicalBlockSize)
}

func TestMerger_DisjointInputsInterleaveByAddress(t *testing.T) {
	a := buildWdiff(t, 1, []diffEntry{{addr: 0, blocks: 4, seed: 1}, {addr: 200, blocks: 4, seed: 2}})
	b := buildWdiff(t, 2, []diffEntry{{addr: 100, blocks: 4, seed: 3}})
	m := NewMerger(0)
	require.NoError(t, m.AddWdiff("a", a))
	require.NoError(t, m.AddWdiff("b", b))

	_, recs, _ := mergeAll(t, m)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(0), recs[0].IoAddress)
	assert.Equal(t, uint64(100), recs[1].IoAddress)
	assert.Equal(t, uint64(200), recs[2].IoAddress)
}

func TestMerger_StackedOverlapsGrowTheWindow(t *testing.T) {
	// Three staggered overlapping writes, newest partially covering both
	// older ones, with a tiny initial window.
	d0 := buildWdiff(t, 1, []diffEntry{{addr: 8, blocks: 8, seed: 1}})
	d1 := buildWdiff(t, 2, []diffEntry{{addr: 4, blocks: 8, seed: 2}})
	d2 := buildWdiff(t, 3, []diffEntry{{addr: 0, blocks: 8, seed: 3}})
	m := NewMerger(1)
	require.NoError(t, m.AddWdiff("d0", d0))
	require.NoError(t, m.AddWdiff("d1", d1))
	require.NoError(t, m.AddWdiff("d2", d2))

	_, recs, datas := mergeAll(t, m)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(0), recs[0].IoAddress)
	assert.Equal(t, uint16(8), recs[0].IoBlocks)
	assert.Equal(t, byte(3), datas[0][0])
	assert.Equal(t, uint64(8), recs[1].IoAddress)
	assert.Equal(t, uint16(4), recs[1].IoBlocks)
	assert.Equal(t, byte(2), datas[1][0])
	assert.Equal(t, uint64(12), recs[2].IoAddress)
	assert.Equal(t, uint16(4), recs[2].IoBlocks)
	assert.Equal(t, byte(1), datas[2][0])
}

func TestMerger_AllZeroAndDiscardOverride(t *testing.T) {
	older := buildWdiff(t, 1, []diffEntry{{addr: 0, blocks: 8, seed: 5}, {addr: 20, blocks: 8, seed: 6}})
	newer := buildWdiff(t, 2, []diffEntry{
		{addr: 0, blocks: 8, allZero: true},
		{addr: 20, blocks: 8, discard: true},
	})
	m := NewMerger(0)
	require.NoError(t, m.AddWdiff("older", older))
	require.NoError(t, m.AddWdiff("newer", newer))

	_, recs, _ := mergeAll(t, m)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].IsAllZero())
	assert.True(t, recs[1].IsDiscard())
}

func TestMerger_ValidateUuidRejectsMixedInputs(t *testing.T) {
	a := buildWdiff(t, 1, []diffEntry{{addr: 0, blocks: 4, seed: 1}})
	b := buildWdiff(t, 2, []diffEntry{{addr: 8, blocks: 4, seed: 2}})
	m := NewMerger(0)
	m.SetShouldValidateUuid(true)
	require.NoError(t, m.AddWdiff("a", a))
	require.NoError(t, m.AddWdiff("b", b))

	err := m.Prepare()
	require.Error(t, err)
	assert.IsType(t, walbdiff.UuidMismatchError{}, err)
}

func TestMerger_RequiresAtLeastOneInput(t *testing.T) {
	m := NewMerger(0)
	assert.Error(t, m.Prepare())
}

func TestMerger_EmptyInputsAreDropped(t *testing.T) {
	empty := buildWdiff(t, 1, nil)
	full := buildWdiff(t, 2, []diffEntry{{addr: 0, blocks: 4, seed: 9}})
	m := NewMerger(0)
	require.NoError(t, m.AddWdiff("empty", empty))
	require.NoError(t, m.AddWdiff("full", full))

	_, recs, _ := mergeAll(t, m)
	assert.Len(t, recs, 1)
}
