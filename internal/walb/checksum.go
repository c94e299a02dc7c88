package walb

import "encoding/binary"

// The WalB on-disk checksum is a salted additive sum over little-endian
// 32-bit words, finished by two's complement negation. It must match the
// driver's definition bit for bit, so it is implemented here rather than
// delegated to a hash library.

// ChecksumPartial folds data into a running sum. Data whose length is
// not a multiple of 4 is padded with zero bytes at the tail.
func ChecksumPartial(sum uint32, data []byte) uint32 {
	n := len(data) &^ 3
	for i := 0; i < n; i += 4 {
		sum += binary.LittleEndian.Uint32(data[i:])
	}
	if n < len(data) {
		var tail [4]byte
		copy(tail[:], data[n:])
		sum += binary.LittleEndian.Uint32(tail[:])
	}
	return sum
}

// ChecksumFinish finalizes a running sum.
func ChecksumFinish(sum uint32) uint32 {
	return ^sum + 1
}

// Checksum computes the salted checksum of data in one step.
func Checksum(data []byte, salt uint32) uint32 {
	return ChecksumFinish(ChecksumPartial(salt, data))
}
