package walbdiff

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

type CorruptDiffError struct {
	error
}

func NewCorruptDiffError(format string, args ...interface{}) CorruptDiffError {
	return CorruptDiffError{errors.Errorf("corrupt wdiff: "+format, args...)}
}

func (err CorruptDiffError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

type InvalidDiffRecordError struct {
	error
}

func NewInvalidDiffRecordError(format string, args ...interface{}) InvalidDiffRecordError {
	return InvalidDiffRecordError{errors.Errorf("invalid diff record: "+format, args...)}
}

func (err InvalidDiffRecordError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

type UuidMismatchError struct {
	error
}

func NewUuidMismatchError(expected, actual string) UuidMismatchError {
	return UuidMismatchError{errors.Errorf("uuid mismatch: expected %s, got %s", expected, actual)}
}

func (err UuidMismatchError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

type OverflowError struct {
	error
}

func NewOverflowError(format string, args ...interface{}) OverflowError {
	return OverflowError{errors.Errorf("overflow: "+format, args...)}
}

func (err OverflowError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}
