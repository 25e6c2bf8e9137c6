package exchange

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies exchange errors by how they are handled
type ErrorKind string

const (
	// KindProtocol is a wrong mode order, missing session or bad credentials
	KindProtocol ErrorKind = "protocol"
	// KindValidation is a missing directory, malformed XML or oversized file
	KindValidation ErrorKind = "validation"
	// KindTransient is lock contention or a lost database connection
	KindTransient ErrorKind = "transient"
	// KindDataIntegrity is a unique-constraint collision the processor could not reconcile
	KindDataIntegrity ErrorKind = "data_integrity"
)

// ExchangeError is the error type raised by the exchange pipeline
type ExchangeError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a protocol violation error
func NewProtocolError(code, message string) *ExchangeError {
	return &ExchangeError{Kind: KindProtocol, Code: code, Message: message}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *ExchangeError {
	return &ExchangeError{Kind: KindValidation, Code: code, Message: message}
}

// NewTransientError wraps an error that is expected to go away on retry
func NewTransientError(code, message string, err error) *ExchangeError {
	return &ExchangeError{Kind: KindTransient, Code: code, Message: message, Err: err}
}

// NewDataIntegrityError wraps a constraint violation
func NewDataIntegrityError(code, message string, err error) *ExchangeError {
	return &ExchangeError{Kind: KindDataIntegrity, Code: code, Message: message, Err: err}
}

// Common exchange errors
var (
	ErrImportInProgress = NewProtocolError("IMPORT_IN_PROGRESS", "Import already in progress")
	ErrNoSession        = NewProtocolError("NO_SESSION", "No session")
	ErrSessionMismatch  = NewProtocolError("SESSION_MISMATCH", "Session id mismatch")
	ErrLockNotAcquired  = NewTransientError("LOCK_NOT_ACQUIRED", "Import lock is held by another worker", nil)
)

// KindOf returns the kind of the first ExchangeError in the chain, or "" if there is none
func KindOf(err error) ErrorKind {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Kind
	}
	return ""
}

// FailureCategory is recorded on failed sessions
type FailureCategory string

const (
	FailureValidation FailureCategory = "validation"
	FailureTimeout    FailureCategory = "timeout"
	FailureTransient  FailureCategory = "transient"
	FailureUnexpected FailureCategory = "unexpected"
)

// CategoryOf maps an error to the failure category stored on the session
func CategoryOf(err error) FailureCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	switch KindOf(err) {
	case KindValidation, KindProtocol:
		return FailureValidation
	case KindTransient:
		return FailureTransient
	default:
		return FailureUnexpected
	}
}

// IsRetryable reports whether a failed run may be retried. Only transient and timeout failures are.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case FailureTransient, FailureTimeout:
		return true
	}
	return false
}
