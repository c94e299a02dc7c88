package blockdev

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

type IoError struct {
	error
}

func NewIoError(format string, args ...interface{}) IoError {
	return IoError{errors.Errorf("io error: "+format, args...)}
}

func (err IoError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

type InvalidConfigError struct {
	error
}

func NewInvalidConfigError(format string, args ...interface{}) InvalidConfigError {
	return InvalidConfigError{errors.Errorf("invalid config: "+format, args...)}
}

func (err InvalidConfigError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}
