package walbdiff

import "fmt"

// Statistics accumulates per-stream record counts.
type Statistics struct {
	NRecords  uint64
	NNormal   uint64
	NAllZero  uint64
	NDiscard  uint64
	DataSize  uint64 // stored payload bytes
}

// Update accounts one record.
func (s *Statistics) Update(rec *Record) {
	s.NRecords++
	switch {
	case rec.IsAllZero():
		s.NAllZero++
	case rec.IsDiscard():
		s.NDiscard++
	default:
		s.NNormal++
		s.DataSize += uint64(rec.DataSize)
	}
}

// Merge folds another statistics value into s.
func (s *Statistics) Merge(o Statistics) {
	s.NRecords += o.NRecords
	s.NNormal += o.NNormal
	s.NAllZero += o.NAllZero
	s.NDiscard += o.NDiscard
	s.DataSize += o.DataSize
}

func (s Statistics) String() string {
	return fmt.Sprintf("records %d (normal %d allzero %d discard %d) dataSize %d",
		s.NRecords, s.NNormal, s.NAllZero, s.NDiscard, s.DataSize)
}
