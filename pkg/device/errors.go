package device

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalState means an operation was attempted from a state that
	// does not allow it.
	ErrIllegalState = errors.New("illegal device state")

	// ErrNotImplemented is returned by Latch on a device that was never
	// started.
	ErrNotImplemented = errors.New("not implemented for this device")

	ErrAborted      = errors.New("run aborted")
	ErrTimeout      = errors.New("timed out")
	ErrUnsupported  = errors.New("capability not supported")
	ErrNotFound     = errors.New("device not found")
	ErrOutOfRange   = errors.New("out of range")
	ErrInvalidModel = errors.New("invalid device model")
)

// ScanningError reports a failed device operation.
type ScanningError struct {
	Device string
	Op     string

	// State is the state the device was in when Op was attempted.
	State State

	// Required describes the states Op needs, for illegal state errors.
	Required string

	Err error
}

func (e *ScanningError) Error() string {
	msg := fmt.Sprintf("device %q: %s in state %s", e.Device, e.Op, e.State)
	if e.Required != "" {
		msg += " (requires " + e.Required + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *ScanningError) Unwrap() error {
	return e.Err
}

func illegalState(device, op string, state State, required string) *ScanningError {
	return &ScanningError{Device: device, Op: op, State: state, Required: required, Err: ErrIllegalState}
}
