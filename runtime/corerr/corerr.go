// Package corerr defines the stable error codes and the CoreError type shared
// by every runtime subsystem. It generalizes toolerrors.ToolError with the
// closed Code enum, so callers across process boundaries (HTTP, journal
// payloads, plugin hook results) can match on a stable string instead of an
// error message.
package corerr

import (
	"errors"
	"fmt"
)

// Code is a closed set of stable error identifiers. Names are normative:
// callers may match on them across process and serialization boundaries.
type Code string

const (
	BadInput           Code = "BAD_INPUT"
	PermissionDenied   Code = "PERMISSION_DENIED"
	PolicyViolation    Code = "POLICY_VIOLATION"
	Timeout            Code = "TIMEOUT"
	TooManySessions    Code = "TOO_MANY_SESSIONS"
	IOError            Code = "IO_ERROR"
	PluginFailed       Code = "PLUGIN_FAILED"
	PeerUnreachable    Code = "PEER_UNREACHABLE"
	AttestationInvalid Code = "ATTESTATION_INVALID"
	NonceReplay        Code = "NONCE_REPLAY"
	DelegationDepth    Code = "DELEGATION_DEPTH"
	Unknown            Code = "UNKNOWN"
)

// CoreError is a structured failure carrying a stable Code alongside a
// human-readable message and optional structured data and cause. Tool
// Runtime and the Kernel convert every internal error into a CoreError
// before it crosses a step, session, or HTTP boundary; they never let a bare
// error or panic escape.
type CoreError struct {
	Code    Code
	Message string
	Data    map[string]any
	Cause   error
}

// New constructs a CoreError with no cause.
func New(code Code, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// Newf formats message and constructs a CoreError with no cause.
func Newf(code Code, format string, args ...any) *CoreError {
	return &CoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a CoreError with the given code that wraps cause.
func Wrap(code Code, message string, cause error) *CoreError {
	return &CoreError{Code: code, Message: message, Cause: cause}
}

// WithData attaches structured diagnostic data and returns the same error for
// chaining at the call site.
func (e *CoreError) WithData(data map[string]any) *CoreError {
	e.Data = data
	return e
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *CoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// CodeOf extracts the Code of err if it is (or wraps) a *CoreError, and
// Unknown otherwise. Anything unmatched is logged with a stack by the caller
// and mapped to a generic failure at the outermost boundary.
func CodeOf(err error) Code {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Unknown
}

// Is reports whether err is a *CoreError with the given code, matching
// through wrapped causes.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
