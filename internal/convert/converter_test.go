package convert

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
	"github.com/walb-linux/walb-tools-pkg/internal/walbdiff"
	"github.com/walb-linux/walb-tools-pkg/internal/walblog"
)

const testPbs = uint32(4096)

func testWlogHeader(id byte, beginLsid uint64) *walblog.FileHeader {
	u := uuid.UUID{}
	u[0] = id
	return &walblog.FileHeader{
		Salt:      77,
		Lbs:       walb.LogicalBlockSize,
		Pbs:       testPbs,
		UUID:      u,
		BeginLsid: beginLsid,
		EndLsid:   beginLsid,
	}
}

func patternData(sizeLb uint32, seed byte) []byte {
	data := make([]byte, int(sizeLb)*walb.LogicalBlockSize)
	for i := range data {
		data[i] = seed ^ byte(i%101)
	}
	return data
}

func writeNormalPack(t *testing.T, w *walblog.Writer, offset uint64, data []byte) {
	t.Helper()
	pack := w.NewPack()
	require.True(t, pack.AddNormalIo(offset, uint32(len(data)/walb.LogicalBlockSize)))
	require.NoError(t, w.WritePack(pack,
		[]*walblog.BlockShared{walblog.NewBlockSharedFromBytes(testPbs, data)}))
}

func readAllDiffs(t *testing.T, buf *bytes.Buffer) (*walbdiff.FileHeader, []walbdiff.Record, [][]byte) {
	t.Helper()
	r := walbdiff.NewReader(buf)
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

func TestConverter_ProducesAddressOrderedDedupedDiff(t *testing.T) {
	var wlog bytes.Buffer
	w, err := walblog.NewWriter(&wlog, testWlogHeader(7, 0))
	require.NoError(t, err)
	writeNormalPack(t, w, 100, patternData(8, 0x01))
	writeNormalPack(t, w, 0, patternData(8, 0x02))
	newer := patternData(8, 0x03)
	writeNormalPack(t, w, 100, newer) // overwrites the first write
	require.NoError(t, w.Close())

	var wdiff bytes.Buffer
	c := NewConverter(0)
	require.NoError(t, c.Convert(&wlog, &wdiff, walb.CmprSnappy))

	h, recs, datas := readAllDiffs(t, &wdiff)
	assert.Equal(t, byte(7), h.UUID[0])
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(0), recs[0].IoAddress)
	assert.Equal(t, uint64(100), recs[1].IoAddress)
	assert.Equal(t, newer, datas[1])
}

func TestConverter_MapsDiscardAndAllZeroRecords(t *testing.T) {
	var wlog bytes.Buffer
	w, err := walblog.NewWriter(&wlog, testWlogHeader(7, 0))
	require.NoError(t, err)

	pack := w.NewPack()
	require.True(t, pack.AddDiscardIo(200, 16))
	require.NoError(t, w.WritePack(pack, []*walblog.BlockShared{nil}))
	writeNormalPack(t, w, 0, make([]byte, 8*walb.LogicalBlockSize)) // all zero payload
	require.NoError(t, w.Close())

	var wdiff bytes.Buffer
	require.NoError(t, NewConverter(0).Convert(&wlog, &wdiff, walb.CmprSnappy))

	_, recs, _ := readAllDiffs(t, &wdiff)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].IsAllZero())
	assert.Equal(t, uint64(0), recs[0].IoAddress)
	assert.True(t, recs[1].IsDiscard())
	assert.Equal(t, uint64(200), recs[1].IoAddress)
	assert.Equal(t, uint16(16), recs[1].IoBlocks)
}

func TestConverter_RecordsMaxIoBlocksInHeader(t *testing.T) {
	var wlog bytes.Buffer
	w, err := walblog.NewWriter(&wlog, testWlogHeader(7, 0))
	require.NoError(t, err)
	writeNormalPack(t, w, 0, patternData(24, 0x05))
	require.NoError(t, w.Close())

	var wdiff bytes.Buffer
	require.NoError(t, NewConverter(8).Convert(&wlog, &wdiff, walb.CmprNone))

	h, recs, _ := readAllDiffs(t, &wdiff)
	assert.Equal(t, uint16(8), h.MaxIoBlocks)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.LessOrEqual(t, rec.IoBlocks, uint16(8))
	}
}

func TestConverter_SkipsPadding(t *testing.T) {
	var wlog bytes.Buffer
	w, err := walblog.NewWriter(&wlog, testWlogHeader(7, 0))
	require.NoError(t, err)
	pack := w.NewPack()
	require.True(t, pack.AddNormalIo(0, 8))
	require.True(t, pack.AddPadding(walb.NLbInPb(testPbs)))
	require.NoError(t, w.WritePack(pack, []*walblog.BlockShared{
		walblog.NewBlockSharedFromBytes(testPbs, patternData(8, 1)),
		walblog.NewBlockSharedFromBytes(testPbs, make([]byte, testPbs)),
	}))
	require.NoError(t, w.Close())

	var wdiff bytes.Buffer
	require.NoError(t, NewConverter(0).Convert(&wlog, &wdiff, walb.CmprSnappy))
	_, recs, _ := readAllDiffs(t, &wdiff)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(0), recs[0].IoAddress)
}

func TestConverter_AcceptsConsecutiveWlogs(t *testing.T) {
	var wlog bytes.Buffer

	w1, err := walblog.NewWriter(&wlog, testWlogHeader(7, 0))
	require.NoError(t, err)
	writeNormalPack(t, w1, 0, patternData(8, 0x01))
	require.NoError(t, w1.Close())
	endLsid := w1.Lsid()

	w2, err := walblog.NewWriter(&wlog, testWlogHeader(7, endLsid))
	require.NoError(t, err)
	writeNormalPack(t, w2, 64, patternData(8, 0x02))
	require.NoError(t, w2.Close())

	var wdiff bytes.Buffer
	require.NoError(t, NewConverter(0).Convert(&wlog, &wdiff, walb.CmprSnappy))
	_, recs, _ := readAllDiffs(t, &wdiff)
	assert.Len(t, recs, 2)
}

func TestConverter_RejectsLsidGap(t *testing.T) {
	var wlog bytes.Buffer
	w1, err := walblog.NewWriter(&wlog, testWlogHeader(7, 0))
	require.NoError(t, err)
	writeNormalPack(t, w1, 0, patternData(8, 0x01))
	require.NoError(t, w1.Close())

	w2, err := walblog.NewWriter(&wlog, testWlogHeader(7, w1.Lsid()+10))
	require.NoError(t, err)
	writeNormalPack(t, w2, 64, patternData(8, 0x02))
	require.NoError(t, w2.Close())

	err = NewConverter(0).Convert(&wlog, &bytes.Buffer{}, walb.CmprSnappy)
	require.Error(t, err)
	assert.IsType(t, LsidGapError{}, err)
}

func TestConverter_RejectsUuidMismatch(t *testing.T) {
	var wlog bytes.Buffer
	w1, err := walblog.NewWriter(&wlog, testWlogHeader(7, 0))
	require.NoError(t, err)
	writeNormalPack(t, w1, 0, patternData(8, 0x01))
	require.NoError(t, w1.Close())

	w2, err := walblog.NewWriter(&wlog, testWlogHeader(9, w1.Lsid()))
	require.NoError(t, err)
	writeNormalPack(t, w2, 64, patternData(8, 0x02))
	require.NoError(t, w2.Close())

	err = NewConverter(0).Convert(&wlog, &bytes.Buffer{}, walb.CmprSnappy)
	require.Error(t, err)
	assert.IsType(t, walbdiff.UuidMismatchError{}, err)
}

func TestConverter_RejectsEmptyInput(t *testing.T) {
	err := NewConverter(0).Convert(&bytes.Buffer{}, &bytes.Buffer{}, walb.CmprSnappy)
	require.Error(t, err)
}
