package walb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum_IsDeterministic(t *testing.T) {
	data := []byte("walb checksum test data, longer than one word")
	assert.Equal(t, Checksum(data, 0), Checksum(data, 0))
	assert.NotEqual(t, Checksum(data, 0), Checksum(data, 1))
}

func TestChecksum_PartialChainingMatchesOneShot(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i * 7)
	}
	salt := uint32(0xdeadbeef)
	sum := ChecksumPartial(salt, data[:1024])
	sum = ChecksumPartial(sum, data[1024:3000])
	sum = ChecksumPartial(sum, data[3000:])
	assert.Equal(t, Checksum(data, salt), ChecksumFinish(sum))
}

func TestChecksum_AppendedChecksumYieldsZeroSum(t *testing.T) {
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i)
	}
	csum := Checksum(data, 0)
	buf := make([]byte, len(data)+4)
	copy(buf, data)
	binary.LittleEndian.PutUint32(buf[len(data):], csum)
	assert.Equal(t, uint32(0), Checksum(buf, 0))
}

func TestChecksum_ShortTailIsZeroPadded(t *testing.T) {
	// A trailing partial word behaves as if padded with zero bytes.
	a := []byte{1, 2, 3}
	b := []byte{1, 2, 3, 0}
	assert.Equal(t, Checksum(b, 5), Checksum(a, 5))
}

func TestCapacityPb(t *testing.T) {
	assert.Equal(t, uint32(0), CapacityPb(4096, 0))
	assert.Equal(t, uint32(1), CapacityPb(4096, 1))
	assert.Equal(t, uint32(1), CapacityPb(4096, 8))
	assert.Equal(t, uint32(2), CapacityPb(4096, 9))
	assert.Equal(t, uint32(3), CapacityPb(512, 3))
}
