package errors

import (
	stderr "errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageFormat(t *testing.T) {
	err := New(ErrCodeConnectFailed, "dial failed")
	assert.Equal(t, "CONNECT_FAILED: dial failed", err.Error())

	err = err.WithComponent("pool")
	assert.Equal(t, "[pool] CONNECT_FAILED: dial failed", err.Error())

	err = err.WithOperation("connect")
	assert.Equal(t, "[pool:connect] CONNECT_FAILED: dial failed", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderr.New("underlying")
	err := Wrap(ErrCodeNetworkError, "read failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestIsMatchesOnCode(t *testing.T) {
	err := Wrap(ErrCodeRetryExhausted, "gave up",
		New(ErrCodeNetworkError, "connection reset"))

	assert.True(t, stderr.Is(err, New(ErrCodeRetryExhausted, "")))
	assert.True(t, stderr.Is(err, New(ErrCodeNetworkError, "")))
	assert.False(t, stderr.Is(err, New(ErrCodeAccessDenied, "")))
}

func TestCategories(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		category ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodePoolExhausted, CategoryConnection},
		{ErrCodeObjectNotFound, CategoryRemote},
		{ErrCodeRollbackFailed, CategoryLocal},
		{ErrCodeTaskTimeout, CategoryTask},
		{ErrCodeInternalError, CategoryInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.category, GetCategory(tt.code), string(tt.code))
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeAccessDenied, "no")))
	assert.True(t, IsFatal(New(ErrCodeObjectNotFound, "gone")))
	assert.True(t, IsFatal(os.ErrPermission))
	assert.True(t, IsFatal(stderr.New("response error: STATUS_ACCESS_DENIED")))

	assert.False(t, IsFatal(New(ErrCodeNetworkError, "reset")))
	assert.False(t, IsFatal(stderr.New("connection reset by peer")))
}

func TestIsFatalSeesThroughWrapping(t *testing.T) {
	err := Wrap(ErrCodeRemoteError, "delete failed",
		New(ErrCodeAccessDenied, "read-only share"))
	// The outer code wins for structured errors; only the outermost
	// classification matters to the executor.
	assert.False(t, IsFatal(err))

	inner := New(ErrCodeObjectNotFound, "missing")
	assert.True(t, IsFatal(inner))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(New(ErrCodeNetworkError, "reset")))
	assert.True(t, IsTransient(New(ErrCodeConnectFailed, "refused")))
	assert.True(t, IsTransient(New(ErrCodePartialReplace, "upload failed")))
	assert.True(t, IsTransient(stderr.New("broken pipe")))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(New(ErrCodePoolExhausted, "busy")))
	assert.False(t, IsTransient(New(ErrCodeAccessDenied, "no")))
	assert.False(t, IsTransient(New(ErrCodeObjectNotFound, "gone")))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	structured := New(ErrCodeBackupFailed, "disk full")
	assert.Same(t, structured, Classify(structured))

	notFound := Classify(stderr.New("open: STATUS_OBJECT_NAME_NOT_FOUND"))
	assert.Equal(t, ErrCodeObjectNotFound, notFound.Code)

	denied := Classify(stderr.New("write: STATUS_ACCESS_DENIED"))
	assert.Equal(t, ErrCodeAccessDenied, denied.Code)

	generic := Classify(stderr.New("i/o timeout"))
	assert.Equal(t, ErrCodeRemoteError, generic.Code)
	assert.True(t, generic.Retryable)
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodePoolExhausted, GetCode(New(ErrCodePoolExhausted, "busy")))
	assert.Equal(t, ErrCodeInternalError, GetCode(stderr.New("plain")))
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeLocalFileOperation, "rename failed").
		WithContext("path", "/tmp/a.pdf").
		WithContext("step", "commit")
	assert.Equal(t, "/tmp/a.pdf", err.Context["path"])
	assert.Equal(t, "commit", err.Context["step"])
}
