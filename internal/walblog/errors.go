package walblog

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

type CorruptLogError struct {
	error
}

func NewCorruptLogError(format string, args ...interface{}) CorruptLogError {
	return CorruptLogError{errors.Errorf("corrupt wlog: "+format, args...)}
}

func (err CorruptLogError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

type InvalidLogPackError struct {
	error
}

func NewInvalidLogPackError(format string, args ...interface{}) InvalidLogPackError {
	return InvalidLogPackError{errors.Errorf("invalid logpack: "+format, args...)}
}

func (err InvalidLogPackError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

type InvalidWlogHeaderError struct {
	error
}

func NewInvalidWlogHeaderError(reason string) InvalidWlogHeaderError {
	return InvalidWlogHeaderError{errors.Errorf("invalid wlog file header: %s", reason)}
}

func (err InvalidWlogHeaderError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}
