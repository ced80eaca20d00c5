package vl53l1

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTimeout is returned when the device does not signal completion
	// within the configured timeout
	ErrTimeout = errors.New("timeout waiting for device")

	// ErrParam is returned for invalid arguments before any register access
	ErrParam = errors.New("invalid parameter")

	// ErrNotRunning is returned when a ranging loop is used after End()
	ErrNotRunning = errors.New("ranging loop is not running")

	// ErrBusy is returned when ranging or a calibration is requested while a
	// ranging loop is active
	ErrBusy = errors.New("ranging loop already active")

	// ErrNotInitialised is returned when the device is used before Init
	ErrNotInitialised = errors.New("device not initialised")
)

// CommError records a failed register transfer on the transport.
type CommError struct {
	Op    string
	Index uint16
	Len   int
	Err   error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("%s register 0x%04X (%d bytes): %v", e.Op, e.Index, e.Len, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// RangeError is returned when the device reports a hard fault that makes
// further sampling meaningless.
type RangeError struct {
	Status DeviceStatus
	Cycle  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("device fault on cycle %d: %s", e.Cycle, e.Status)
}

// paramError wraps ErrParam with a description of the rejected argument.
func paramError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrParam, format, args...)
}
