package tof

import (
	"errors"
	"fmt"
)

// Error kinds. Callers wrap these with fmt.Errorf("%w: ...") and test them
// with errors.Is.
var (
	// ErrValue marks a bad caller-supplied parameter. Never touches device state.
	ErrValue = errors.New("invalid value")
	// ErrDeviceCommunication marks any failure reaching or using the device.
	ErrDeviceCommunication = errors.New("device communication error")
	// ErrDeviceDisconnected is the fatal, session-ending loss of the device.
	ErrDeviceDisconnected = errors.New("device reports not connected")
	// ErrTimeoutExceeded is raised after too many consecutive grab timeouts.
	ErrTimeoutExceeded = errors.New("grab timeout threshold exceeded")
	// ErrInvariantViolation marks a broken collaborator contract, such as
	// wrongly tagged buffer parts.
	ErrInvariantViolation = errors.New("configuration invariant violation")
)

// Fault is a session-ending failure latched by the acquisition loop.
// Message is the human-readable diagnostic forwarded to operators.
type Fault struct {
	Kind    error
	Message string
}

func (f Fault) Error() string {
	if f.Message == "" {
		return f.Kind.Error()
	}
	return f.Message
}

func (f Fault) Unwrap() error { return f.Kind }

// NewFault builds a Fault of the given kind with a formatted message.
func NewFault(kind error, format string, args ...interface{}) Fault {
	return Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
