package pool

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers.
var (
	ErrNotInitialized    = errors.New("backend adapter not initialized")
	ErrBackendNotEnabled = errors.New("backend not enabled")
	ErrManagerClosed     = errors.New("pool manager is closed")
)

// Error codes
const (
	CodeConfiguration       = "CONFIGURATION"
	CodeConnectionTimeout   = "CONNECTION_TIMEOUT"
	CodeDriver              = "DRIVER"
	CodeTransactionRollback = "TRANSACTION_ROLLBACK"
)

// Error represents a pool error
type Error struct {
	Code    string  // Error code
	Op      string  // Operation that failed
	Backend Backend // Backend involved, if any
	Message string  // Error message, credential-sanitized
	Err     error   // Original error if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new pool error
func NewError(code, op string, backend Backend, message string, err error) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Backend: backend,
		Message: message,
		Err:     err,
	}
}

// newConfigurationError reports an invalid or unusable configuration.
func newConfigurationError(op, message string, err error) *Error {
	return NewError(CodeConfiguration, op, "", message, err)
}

// newConnectionTimeoutError reports that connection acquisition exceeded its budget.
func newConnectionTimeoutError(op string, backend Backend, err error) *Error {
	return NewError(CodeConnectionTimeout, op, backend, "connection acquisition timed out", err)
}

// newDriverError wraps a backend driver failure. The wrapped message shown to
// callers is sanitized so embedded credentials never leak into logs or metrics.
func newDriverError(op string, backend Backend, err error) *Error {
	return NewError(CodeDriver, op, backend, sanitizeText(err.Error()), err)
}

// newRollbackError reports a rollback failure. The original execution error
// stays on the chain so errors.Is/As still see the root cause.
func newRollbackError(op string, backend Backend, rollbackErr, original error) *Error {
	return NewError(CodeTransactionRollback, op, backend,
		fmt.Sprintf("rollback failed: %s", sanitizeText(rollbackErr.Error())), original)
}

// errCode extracts the pool error code, if any.
func errCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsConnectionTimeout reports whether err is a connection acquisition timeout.
func IsConnectionTimeout(err error) bool {
	return errCode(err) == CodeConnectionTimeout
}

// IsConfigurationError reports whether err is a configuration error.
func IsConfigurationError(err error) bool {
	return errCode(err) == CodeConfiguration
}
