// Package errors provides a structured error system for dateshift with error codes, categories, and retry classification.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for dateshift operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// Connection errors
	ErrCodeConnectFailed  ErrorCode = "CONNECT_FAILED"
	ErrCodeConnectTimeout ErrorCode = "CONNECT_TIMEOUT"
	ErrCodePoolExhausted  ErrorCode = "POOL_EXHAUSTED"
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"

	// Remote store errors
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeRemoteError    ErrorCode = "REMOTE_ERROR"
	ErrCodePartialReplace ErrorCode = "PARTIAL_REPLACE"

	// Local filesystem errors
	ErrCodeLocalFileOperation ErrorCode = "LOCAL_FILE_OPERATION"
	ErrCodeBackupFailed       ErrorCode = "BACKUP_FAILED"
	ErrCodeRollbackFailed     ErrorCode = "ROLLBACK_FAILED"
	ErrCodeInvalidDocument    ErrorCode = "INVALID_DOCUMENT"

	// Task and operation errors
	ErrCodeTaskTimeout    ErrorCode = "TASK_TIMEOUT"
	ErrCodeTaskCancelled  ErrorCode = "TASK_CANCELLED"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeShutdown       ErrorCode = "SHUTDOWN_IN_PROGRESS"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryRemote        ErrorCategory = "remote"
	CategoryLocal         ErrorCategory = "local"
	CategoryTask          ErrorCategory = "task"
	CategoryInternal      ErrorCategory = "internal"
)

// Error is a structured error with a code, category, and contextual metadata.
type Error struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Retryable marks transient conditions the executor may retry.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error-wrapping compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on error code (for errors.Is compatibility).
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *Error) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("Error{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New creates a structured error with category and retryability derived from
// the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a structured error with the given cause attached.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return New(code, message).WithCause(cause)
}

// GetCategory determines the category from the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeMissingConfig:
		return CategoryConfiguration
	case ErrCodeConnectFailed, ErrCodeConnectTimeout, ErrCodePoolExhausted, ErrCodeNetworkError:
		return CategoryConnection
	case ErrCodeAccessDenied, ErrCodeObjectNotFound, ErrCodeRemoteError, ErrCodePartialReplace:
		return CategoryRemote
	case ErrCodeLocalFileOperation, ErrCodeBackupFailed, ErrCodeRollbackFailed, ErrCodeInvalidDocument:
		return CategoryLocal
	case ErrCodeTaskTimeout, ErrCodeTaskCancelled, ErrCodeRetryExhausted, ErrCodeShutdown:
		return CategoryTask
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether a code names a transient condition.
// ACCESS_DENIED and OBJECT_NOT_FOUND are fatal: retrying cannot help, so the
// executor surfaces them on the first attempt. POOL_EXHAUSTED is surfaced
// immediately as well; the caller may resubmit.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeNetworkError, ErrCodeConnectTimeout, ErrCodeConnectFailed,
		ErrCodeRemoteError, ErrCodePartialReplace:
		return true
	default:
		return false
	}
}

// WithContext adds contextual information to an error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the originating component.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation during which the error occurred.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retry classification.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}
