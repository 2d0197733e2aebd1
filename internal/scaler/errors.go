package scaler

import (
	"errors"
	"fmt"
)

// Error is a scheduler error carrying a stable code.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Error codes.
const (
	ErrCodeOutOfBuffers    = "OUT_OF_BUFFERS"
	ErrCodeInvalidGeometry = "INVALID_GEOMETRY"
	ErrCodeResourceBusy    = "RESOURCE_BUSY"
	ErrCodeHardware        = "HARDWARE_ERROR"
	ErrCodeFlushTimeout    = "FLUSH_TIMEOUT"
	ErrCodeChannelClosed   = "CHANNEL_CLOSED"
	ErrCodeChannelNotFound = "CHANNEL_NOT_FOUND"
	ErrCodeChannelExists   = "CHANNEL_EXISTS"
)

// Sentinels for errors.Is.
var (
	ErrOutOfBuffers    = &Error{Code: ErrCodeOutOfBuffers, Message: "frame pool exhausted"}
	ErrInvalidGeometry = &Error{Code: ErrCodeInvalidGeometry, Message: "invalid frame geometry"}
	ErrResourceBusy    = &Error{Code: ErrCodeResourceBusy, Message: "scaling engine busy"}
	ErrHardware        = &Error{Code: ErrCodeHardware, Message: "hardware configuration failed"}
	ErrFlushTimeout    = &Error{Code: ErrCodeFlushTimeout, Message: "completion interrupt not observed"}
	ErrChannelClosed   = &Error{Code: ErrCodeChannelClosed, Message: "channel closed"}
	ErrChannelNotFound = &Error{Code: ErrCodeChannelNotFound, Message: "channel not found"}
	ErrChannelExists   = &Error{Code: ErrCodeChannelExists, Message: "channel already open"}
)

// NewError creates a scheduler error.
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of a scheduler error, or "" for any other error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
