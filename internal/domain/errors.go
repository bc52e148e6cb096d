package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Common domain errors
var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnsupportedScheme      = errors.New("only http and https URLs are supported")
	ErrInsufficientSpace      = errors.New("insufficient disk space")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrClosed                 = errors.New("engine is closed")
)

// MaxRedirects bounds every redirect chain
const MaxRedirects = 10

// ResolutionError wraps a metadata lookup failure.
// Callers treat it as non-fatal and proceed with defaults.
type ResolutionError struct {
	URL string
	Err error
}

// Error returns the error message
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// TransportError is a connection, reset or idle-timeout failure
type TransportError struct {
	Op  string
	Err error
}

// Error returns the error message
func (e *TransportError) Error() string {
	if e.Op == "" {
		return "transport: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is an unexpected HTTP status
type ProtocolError struct {
	StatusCode int
	Message    string
}

// Error returns the error message
func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Permanent reports whether retrying cannot change the outcome.
// Client errors are permanent except timeouts and rate limiting.
func (e *ProtocolError) Permanent() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

// RedirectLoopError is returned once a redirect chain exceeds MaxRedirects
type RedirectLoopError struct {
	URL  string
	Hops int
}

// Error returns the error message
func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("too many redirects (%d) starting at %s", e.Hops, e.URL)
}

// FilesystemError is a local I/O failure
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

// Error returns the error message
func (e *FilesystemError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// MergeError is a failure while concatenating scratch files
type MergeError struct {
	Segment int
	Err     error
}

// Error returns the error message
func (e *MergeError) Error() string {
	return fmt.Sprintf("merge segment %d: %v", e.Segment, e.Err)
}

// Unwrap returns the underlying error
func (e *MergeError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a ProtocolError from a status code
func NewProtocolError(statusCode int) *ProtocolError {
	return &ProtocolError{StatusCode: statusCode, Message: http.StatusText(statusCode)}
}

// IsRetryable returns true if a transfer attempt that failed with err should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		rl *RedirectLoopError
		fe *FilesystemError
		me *MergeError
		pe *ProtocolError
		te *TransportError
	)
	switch {
	case errors.As(err, &rl), errors.As(err, &fe), errors.As(err, &me):
		return false
	case errors.As(err, &pe):
		return !pe.Permanent()
	case errors.As(err, &te):
		return true
	}
	return false
}

// IsRedirectLoop returns true if err is a RedirectLoopError
func IsRedirectLoop(err error) bool {
	var rl *RedirectLoopError
	return errors.As(err, &rl)
}
