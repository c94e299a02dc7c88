package convert

import (
	"fmt"

	"github.com/wal-g/tracelog"
)

type LsidGapError struct {
	error
}

func NewLsidGapError(expected, actual uint64) LsidGapError {
	return LsidGapError{fmt.Errorf("lsid gap between wlogs: expected begin %d, got %d", expected, actual)}
}

func (err LsidGapError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}
