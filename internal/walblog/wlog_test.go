package walblog

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walb-linux/walb-tools-pkg/internal/walb"
)

const testPbs = 4096

func testHeader(beginLsid uint64) *FileHeader {
	return &FileHeader{
		Salt:      0xabcd1234,
		Lbs:       walb.LogicalBlockSize,
		Pbs:       testPbs,
		UUID:      uuid.MustParse("01234567-89ab-cdef-0123-456789abcdef"),
		BeginLsid: beginLsid,
		EndLsid:   beginLsid,
	}
}

func testPayload(sizeLb uint32, seed byte) *BlockShared {
	data := make([]byte, int(sizeLb)*walb.LogicalBlockSize)
	for i := range data {
		data[i] = seed + byte(i%251)
	}
	return NewBlockSharedFromBytes(testPbs, data)
}

func TestFileHeader_RoundTrip(t *testing.T) {
	h := testHeader(1000)
	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))
	require.Equal(t, WlogHeaderSize, buf.Len())

	got, err := ReadFileHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h.Salt, got.Salt)
	assert.Equal(t, h.Pbs, got.Pbs)
	assert.Equal(t, h.UUID, got.UUID)
	assert.Equal(t, h.BeginLsid, got.BeginLsid)
}

func TestReadFileHeader_RejectsCorruption(t *testing.T) {
	h := testHeader(0)
	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))
	raw := buf.Bytes()
	raw[20] ^= 0xff

	_, err := ReadFileHeader(bytes.NewReader(raw))
	require.Error(t, err)
	assert.IsType(t, CorruptLogError{}, err)
}

func TestPackHeader_AddAndValidate(t *testing.T) {
	h := NewPackHeader(testPbs, 42, 100)
	require.True(t, h.AddNormalIo(0, 16))
	require.True(t, h.AddDiscardIo(64, 32))
	require.True(t, h.AddPadding(walb.NLbInPb(testPbs)))
	require.NoError(t, h.Validate())

	// 16 lb -> 2 pb, padding 1 pb, discard contributes nothing.
	assert.Equal(t, uint16(3), h.TotalIoSize)
	assert.Equal(t, uint64(104), h.NextLogpackLsid())
	assert.False(t, h.AddPadding(walb.NLbInPb(testPbs)))
}

func TestPackHeader_MarshalParse(t *testing.T) {
	h := NewPackHeader(testPbs, 42, 100)
	require.True(t, h.AddNormalIo(8, 16))
	require.True(t, h.AddDiscardIo(64, 8))
	block, err := h.MarshalBlock()
	require.NoError(t, err)
	require.Len(t, block, testPbs)

	got, err := ParsePackHeader(block, testPbs, 42)
	require.NoError(t, err)
	assert.Equal(t, h.LogpackLsid, got.LogpackLsid)
	assert.Equal(t, h.TotalIoSize, got.TotalIoSize)
	require.Equal(t, 2, got.NRecords())
	assert.Equal(t, uint64(8), got.Record(0).Offset)
	assert.True(t, got.Record(1).IsDiscard())

	block[100] ^= 1
	_, err = ParsePackHeader(block, testPbs, 42)
	assert.IsType(t, CorruptLogError{}, err)
}

func TestWriterReader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader(500))
	require.NoError(t, err)

	pack := w.NewPack()
	require.True(t, pack.AddNormalIo(0, 16))
	require.True(t, pack.AddDiscardIo(1000, 24))
	payload := testPayload(16, 3)
	require.NoError(t, w.WritePack(pack, []*BlockShared{payload, nil}))

	pack2 := w.NewPack()
	require.True(t, pack2.AddNormalIo(8, 8))
	payload2 := testPayload(8, 9)
	require.NoError(t, w.WritePack(pack2, []*BlockShared{payload2}))
	require.NoError(t, w.Close())

	r := NewReader(&buf, nil)
	h, err := r.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, uint64(500), h.BeginLsid)

	io0, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), io0.Record.Offset)
	assert.Equal(t, uint32(16), io0.Record.IoSize)
	want := make([]byte, 16*walb.LogicalBlockSize)
	payload.CopyTo(want, 16)
	got := make([]byte, 16*walb.LogicalBlockSize)
	io0.Block.CopyTo(got, 16)
	assert.Equal(t, want, got)

	io1, err := r.Next()
	require.NoError(t, err)
	assert.True(t, io1.Record.IsDiscard())
	assert.Equal(t, uint64(1000), io1.Record.Offset)

	io2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), io2.Record.Offset)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, h.BeginLsid+1+2+1+1, r.EndLsid())
}

func TestReader_DetectsPayloadCorruption(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader(0))
	require.NoError(t, err)
	pack := w.NewPack()
	require.True(t, pack.AddNormalIo(0, 8))
	require.NoError(t, w.WritePack(pack, []*BlockShared{testPayload(8, 1)}))
	require.NoError(t, w.Close())

	raw := buf.Bytes()
	raw[WlogHeaderSize+testPbs+17] ^= 0xff // inside the payload

	r := NewReader(bytes.NewReader(raw), nil)
	_, err = r.ReadHeader()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.IsType(t, CorruptLogError{}, err)
}

func TestReader_CleanEofWithoutTerminator(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader(0))
	require.NoError(t, err)
	pack := w.NewPack()
	require.True(t, pack.AddNormalIo(0, 8))
	require.NoError(t, w.WritePack(pack, []*BlockShared{testPayload(8, 1)}))
	// No terminator: the stream simply ends at a pack boundary.

	r := NewReader(&buf, nil)
	_, err = r.ReadHeader()
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestLogRecord_MarshalUnmarshal(t *testing.T) {
	rec := LogRecord{
		Checksum:  0x11223344,
		Lsid:      12345,
		LsidLocal: 3,
		Flags:     LogRecordExist | LogRecordDiscard,
		Offset:    0xfedcba98,
		IoSize:    77,
	}
	buf := make([]byte, LogRecordSize)
	rec.marshal(buf)
	var got LogRecord
	got.unmarshal(buf)
	assert.Equal(t, rec, got)
}
