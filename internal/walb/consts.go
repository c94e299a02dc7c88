package walb

// LogicalBlockSize is the fixed unit of IO addressing [bytes].
// Physical block size (pbs) is a per-stream constant and a multiple of it.
const LogicalBlockSize = 512

// Sector types stored in on-disk header blocks.
const (
	SectorTypeLogpack    uint16 = 3
	SectorTypeWlogHeader uint16 = 4
)

// WlogVersion is the on-disk WLOG format version this package speaks.
const WlogVersion uint16 = 1

// Compression type ids of WDIFF payloads.
const (
	CmprNone   uint8 = 0
	CmprSnappy uint8 = 1
	CmprGzip   uint8 = 2
	CmprLzma   uint8 = 3
	CmprMax    uint8 = 4
)

// CapacityPb returns the number of physical blocks required to hold
// sizeLb logical blocks.
func CapacityPb(pbs uint32, sizeLb uint32) uint32 {
	return uint32((uint64(sizeLb)*LogicalBlockSize + uint64(pbs) - 1) / uint64(pbs))
}

// CapacityLb returns the number of logical blocks held by nPb physical blocks.
func CapacityLb(pbs uint32, nPb uint32) uint32 {
	return nPb * (pbs / LogicalBlockSize)
}

// NLbInPb returns the number of logical blocks per physical block.
func NLbInPb(pbs uint32) uint32 {
	return pbs / LogicalBlockSize
}

// IsValidPbs reports whether pbs is a positive multiple of the logical
// block size.
func IsValidPbs(pbs uint32) bool {
	return pbs >= LogicalBlockSize && pbs%LogicalBlockSize == 0
}
