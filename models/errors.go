package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing component boundaries.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindDeviceUnavailable: device not connected, command not attempted.
	KindDeviceUnavailable
	KindCommandTimeout
	KindCommandFailed
	KindCaptureFailure
	// KindElementNotFound is informational; detectors fall back to coordinates.
	KindElementNotFound
	KindLowConfidenceResponse
	KindEngineFault
	KindTaskTimeout
)

var errorKindNames = [...]string{
	"unknown",
	"device_unavailable",
	"command_timeout",
	"command_failed",
	"capture_failure",
	"element_not_found",
	"low_confidence_response",
	"engine_fault",
	"task_timeout",
}

func (k ErrorKind) String() string {
	if int(k) < 0 || int(k) >= len(errorKindNames) {
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
	return errorKindNames[k]
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ErrorKind) UnmarshalText(b []byte) error {
	for i, n := range errorKindNames {
		if n == string(b) {
			*k = ErrorKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", b)
}

// AutomationError is the error type shared by the channel, locator and engine.
type AutomationError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *AutomationError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return e.Kind.String()
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind ErrorKind, op string, err error) error {
	return &AutomationError{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) error {
	return &AutomationError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost classification found in err's chain.
func KindOf(err error) ErrorKind {
	var ae *AutomationError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsKind reports whether any AutomationError in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var ae *AutomationError
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Kind == kind {
			return true
		}
		err = ae.Err
	}
	return false
}
