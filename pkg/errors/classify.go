package errors

import (
	stderr "errors"
	"os"
	"strings"
)

// IsFatal reports whether an error must never be retried. Permission-denied
// and object-not-found conditions are fatal regardless of how deeply they are
// wrapped; everything else is treated as transient.
func IsFatal(err error) bool {
	var dsErr *Error
	if stderr.As(err, &dsErr) {
		switch dsErr.Code {
		case ErrCodeAccessDenied, ErrCodeObjectNotFound:
			return true
		}
		return false
	}

	if stderr.Is(err, os.ErrPermission) || stderr.Is(err, os.ErrNotExist) {
		return true
	}

	// SMB servers report NT status strings through the driver's error text.
	msg := err.Error()
	return strings.Contains(msg, "STATUS_ACCESS_DENIED") ||
		strings.Contains(msg, "STATUS_OBJECT_NAME_NOT_FOUND")
}

// IsTransient reports whether an error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var dsErr *Error
	if stderr.As(err, &dsErr) {
		// Pool exhaustion is surfaced immediately; the submitter decides
		// whether to resubmit.
		if dsErr.Code == ErrCodePoolExhausted {
			return false
		}
		if dsErr.Code == ErrCodeAccessDenied || dsErr.Code == ErrCodeObjectNotFound {
			return false
		}
		return dsErr.Retryable || IsRetryableByDefault(dsErr.Code)
	}
	return !IsFatal(err)
}

// GetCode returns the structured code of err, or INTERNAL_ERROR when err is
// not structured.
func GetCode(err error) ErrorCode {
	var dsErr *Error
	if stderr.As(err, &dsErr) {
		return dsErr.Code
	}
	return ErrCodeInternalError
}

// Classify wraps an arbitrary error from a remote operation into a structured
// error with the right code. Already-structured errors pass through.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var dsErr *Error
	if stderr.As(err, &dsErr) {
		return dsErr
	}
	if IsFatal(err) {
		msg := err.Error()
		if strings.Contains(msg, "STATUS_OBJECT_NAME_NOT_FOUND") || stderr.Is(err, os.ErrNotExist) {
			return Wrap(ErrCodeObjectNotFound, "remote object not found", err)
		}
		return Wrap(ErrCodeAccessDenied, "access denied by remote store", err)
	}
	return Wrap(ErrCodeRemoteError, err.Error(), err)
}
