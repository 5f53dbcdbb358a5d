package models

import (
	"strings"
	"time"
)

// DeviceCommand is one device-bridge invocation: `adb -s <DeviceID> <Args...>`.
// Treat it as immutable once issued; Reissue produces the retry copy.
type DeviceCommand struct {
	Args       []string      `json:"args"`
	DeviceID   string        `json:"device_id"`
	Priority   int           `json:"priority"`
	Timeout    time.Duration `json:"timeout"`
	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`
}

// CommandText is the human readable command line after the device selector.
func (c DeviceCommand) CommandText() string {
	return strings.Join(c.Args, " ")
}

// CanRetry reports whether another attempt fits in the retry budget.
func (c DeviceCommand) CanRetry() bool {
	return c.RetryCount < c.MaxRetries
}

// Reissue returns a copy for the next attempt.
func (c DeviceCommand) Reissue() DeviceCommand {
	next := c
	next.Args = append([]string(nil), c.Args...)
	next.RetryCount++
	return next
}

// DeviceCommandResult is produced exactly once per execution attempt.
type DeviceCommandResult struct {
	Success     bool          `json:"success"`
	Output      string        `json:"output"`
	Stdout      []byte        `json:"-"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
	CommandText string        `json:"command_text"`
	DeviceID    string        `json:"device_id"`
}

// Err converts a failed result into a classified error, nil on success.
func (r DeviceCommandResult) Err() error {
	if r.Success {
		return nil
	}
	kind := r.ErrorKind
	if kind == KindUnknown {
		kind = KindCommandFailed
	}
	return Errorf(kind, r.CommandText, "%s", r.Error)
}
