// Package status defines the closed error-code taxonomy shared by every
// component of the service core. Synchronous calls return a Code (or an
// *Error wrapping one); nothing in the core panics for a recoverable
// condition.
package status

import (
	"errors"
	"fmt"
)

// Code is a closed enum of outcome kinds. Zero value is OK.
type Code int

const (
	OK Code = iota
	Fail
	NotReady
	NoMemory
	Busy
	Done
	NoSupport
	ParamInvalid
	RemoteDeviceDown
	AuthRequired
	RemoteAlreadyConnected
	NotConnected
	NoResources
	Timeout
	DeviceNotFound
	NotFound
	InProgress
	AuthFailed
	Unsupported
)

var names = map[Code]string{
	OK:                     "ok",
	Fail:                   "fail",
	NotReady:               "not_ready",
	NoMemory:               "no_memory",
	Busy:                   "busy",
	Done:                   "done",
	NoSupport:              "not_supported",
	ParamInvalid:           "param_invalid",
	RemoteDeviceDown:       "remote_device_down",
	AuthRequired:           "auth_required",
	RemoteAlreadyConnected: "remote_already_connected",
	NotConnected:           "not_connected",
	NoResources:            "no_resources",
	Timeout:                "timeout",
	DeviceNotFound:         "device_not_found",
	NotFound:               "not_found",
	InProgress:             "in_progress",
	AuthFailed:             "auth_failed",
	Unsupported:            "unsupported",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("status(%d)", int(c))
}

// Error wraps a Code with an optional underlying cause, for idiomatic
// errors.Is/errors.As use while still carrying the taxonomy the rest of
// the core switches on.
type Error struct {
	Code  Code
	Cause error
}

func New(c Code) error {
	if c == OK {
		return nil
	}
	return &Error{Code: c}
}

func Wrap(c Code, cause error) error {
	if c == OK && cause == nil {
		return nil
	}
	return &Error{Code: c, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// From extracts the Code from err, returning Fail for any non-status error
// and OK for a nil error.
func From(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return Fail
}
