package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dateshift/dateshift/internal/localfile"
	"github.com/dateshift/dateshift/internal/pdf"
	"github.com/dateshift/dateshift/internal/pool"
	"github.com/dateshift/dateshift/internal/store/storetest"
	dserrors "github.com/dateshift/dateshift/pkg/errors"
	"github.com/dateshift/dateshift/pkg/retry"
)

func pdfBytes(t *testing.T, stamp time.Time) []byte {
	t.Helper()
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetCreationDate(stamp)
	doc.SetModificationDate(stamp)
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Cell(40, 10, "scanned invoice")

	path := filepath.Join(t.TempDir(), "fixture.pdf")
	require.NoError(t, doc.OutputFileAndClose(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func newTestRewrite(t *testing.T, server *storetest.Server, maxRetries int) (*TimestampRewrite, string) {
	rewrite, workDir, _ := newTestRewriteWithBackups(t, server, maxRetries)
	return rewrite, workDir
}

func newTestRewriteWithBackups(t *testing.T, server *storetest.Server, maxRetries int) (*TimestampRewrite, string, *localfile.BackupManager) {
	t.Helper()

	p := pool.New(server.Factory(), pool.Config{
		Size:              2,
		AcquireWaitBudget: 2 * time.Second,
		MaxIdleTime:       time.Minute,
		KeepaliveInterval: time.Hour,
		Retry:             retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond},
	}, nil)
	t.Cleanup(p.CloseAll)

	executor := pool.NewExecutor(p, pool.ExecutorConfig{
		MaxRetries: maxRetries,
		Delay:      time.Millisecond,
		Backoff:    2.0,
	}, nil)

	backups, err := localfile.NewBackupManager(filepath.Join(t.TempDir(), "backups"), nil)
	require.NoError(t, err)

	workDir := filepath.Join(t.TempDir(), "work")
	rewrite := NewTimestampRewrite(executor, pdf.NewProcessor(nil),
		localfile.NewAtomicOperation(backups, nil), localfile.SystemClock{},
		workDir, nil)
	return rewrite, workDir, backups
}

func TestExecuteRewritesRemoteTimestamp(t *testing.T) {
	original := time.Date(2024, 2, 20, 14, 0, 0, 0, time.Local)
	target := time.Date(2019, 6, 15, 10, 30, 0, 0, time.Local)

	server := storetest.NewServer()
	server.PutObject("/docs/invoice.pdf", pdfBytes(t, original), original)

	rewrite, _, backups := newTestRewriteWithBackups(t, server, 2)
	result, err := rewrite.Execute(context.Background(), "/docs/invoice.pdf", target, RewriteOptions{})
	require.NoError(t, err)
	assert.True(t, result.LogicalUpdated)

	// The metadata rewrite took a backup and deleted it on commit.
	backupEntries, err := os.ReadDir(backups.Dir())
	require.NoError(t, err)
	assert.Empty(t, backupEntries)

	data, modified, ok := server.Object("/docs/invoice.pdf")
	require.True(t, ok, "remote file must exist after the rewrite")
	assert.True(t, modified.Equal(target), "remote mtime: got %s want %s", modified, target)

	// The in-document date moved too.
	local := filepath.Join(t.TempDir(), "check.pdf")
	require.NoError(t, os.WriteFile(local, data, 0o600))
	meta, err := pdf.NewProcessor(nil).ReadMetadata(local)
	require.NoError(t, err)
	assert.True(t, meta.ModDate.Equal(target), "document ModDate: got %s", meta.ModDate)

	assert.Equal(t, 1, server.Downloads)
	assert.Equal(t, 1, server.Deletes)
	assert.Equal(t, 1, server.Uploads)
}

func TestExecuteHandlesNonPDFContent(t *testing.T) {
	target := time.Date(2021, 1, 1, 0, 0, 0, 0, time.Local)
	server := storetest.NewServer()
	server.PutObject("/docs/notes.txt", []byte("plain text"), time.Now())

	rewrite, _ := newTestRewrite(t, server, 2)
	result, err := rewrite.Execute(context.Background(), "/docs/notes.txt", target, RewriteOptions{})
	require.NoError(t, err)
	assert.False(t, result.LogicalUpdated)

	data, modified, ok := server.Object("/docs/notes.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("plain text"), data)
	assert.True(t, modified.Equal(target))
}

func TestExecuteSkipLogicalOption(t *testing.T) {
	original := time.Date(2024, 2, 20, 14, 0, 0, 0, time.Local)
	target := time.Date(2019, 6, 15, 10, 30, 0, 0, time.Local)
	server := storetest.NewServer()
	server.PutObject("/docs/invoice.pdf", pdfBytes(t, original), original)

	rewrite, _ := newTestRewrite(t, server, 2)
	result, err := rewrite.Execute(context.Background(), "/docs/invoice.pdf", target,
		RewriteOptions{SkipLogical: true})
	require.NoError(t, err)
	assert.False(t, result.LogicalUpdated)

	data, _, _ := server.Object("/docs/invoice.pdf")
	local := filepath.Join(t.TempDir(), "check.pdf")
	require.NoError(t, os.WriteFile(local, data, 0o600))
	meta, err := pdf.NewProcessor(nil).ReadMetadata(local)
	require.NoError(t, err)
	assert.True(t, meta.ModDate.Equal(original), "document dates must be untouched")
}

func TestExecuteMissingRemoteFileIsFatal(t *testing.T) {
	server := storetest.NewServer()
	rewrite, _ := newTestRewrite(t, server, 3)

	_, err := rewrite.Execute(context.Background(), "/docs/absent.pdf", time.Now(), RewriteOptions{})
	require.Error(t, err)
	assert.Equal(t, dserrors.ErrCodeObjectNotFound, dserrors.GetCode(err))
	assert.Equal(t, 1, server.Downloads, "fatal errors must not be retried")
}

func TestExecuteRecoversFromPartialReplace(t *testing.T) {
	original := time.Now().Add(-time.Hour)
	target := time.Date(2019, 6, 15, 10, 30, 0, 0, time.Local)
	server := storetest.NewServer()
	server.PutObject("/docs/invoice.pdf", pdfBytes(t, original), original)

	// First upload dies after the delete already succeeded.
	failures := 1
	server.UploadHook = func(remotePath string) error {
		if failures > 0 {
			failures--
			return dserrors.New(dserrors.ErrCodeNetworkError, "connection reset mid-upload")
		}
		return nil
	}

	rewrite, _ := newTestRewrite(t, server, 2)
	_, err := rewrite.Execute(context.Background(), "/docs/invoice.pdf", target, RewriteOptions{})
	require.NoError(t, err)

	_, modified, ok := server.Object("/docs/invoice.pdf")
	require.True(t, ok, "retry must restore the remote file")
	assert.True(t, modified.Equal(target))
	assert.Equal(t, 2, server.Uploads)
	assert.Equal(t, 2, server.Deletes, "retry re-attempts the delete and tolerates the missing file")
}

func TestExecuteReportsPartialReplaceWhenExhausted(t *testing.T) {
	server := storetest.NewServer()
	server.PutObject("/docs/invoice.pdf", pdfBytes(t, time.Now()), time.Now())
	server.UploadHook = func(remotePath string) error {
		return dserrors.New(dserrors.ErrCodeNetworkError, "reset")
	}

	rewrite, _ := newTestRewrite(t, server, 1)
	_, err := rewrite.Execute(context.Background(), "/docs/invoice.pdf", time.Now(), RewriteOptions{})
	require.Error(t, err)
	assert.Equal(t, dserrors.ErrCodePartialReplace, dserrors.GetCode(err))

	_, _, ok := server.Object("/docs/invoice.pdf")
	assert.False(t, ok, "the partial-replace error means the remote copy is gone")
}

func TestExecuteCleansUpWorkingCopies(t *testing.T) {
	server := storetest.NewServer()
	server.PutObject("/docs/invoice.pdf", pdfBytes(t, time.Now()), time.Now())

	rewrite, workDir := newTestRewrite(t, server, 2)
	_, err := rewrite.Execute(context.Background(), "/docs/invoice.pdf",
		time.Date(2020, 5, 5, 0, 0, 0, 0, time.Local), RewriteOptions{})
	require.NoError(t, err)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteToleratesDeleteFailure(t *testing.T) {
	target := time.Date(2019, 6, 15, 10, 30, 0, 0, time.Local)
	server := storetest.NewServer()
	server.PutObject("/docs/invoice.pdf", pdfBytes(t, time.Now()), time.Now())
	server.DeleteHook = func(remotePath string) error {
		return dserrors.New(dserrors.ErrCodeRemoteError, "delete not supported")
	}

	rewrite, _ := newTestRewrite(t, server, 2)
	_, err := rewrite.Execute(context.Background(), "/docs/invoice.pdf", target, RewriteOptions{})
	require.NoError(t, err, "a failed delete must not abort the replace; the upload overwrites")

	_, modified, ok := server.Object("/docs/invoice.pdf")
	require.True(t, ok)
	assert.True(t, modified.Equal(target))
	assert.Equal(t, 1, server.Uploads)
}

func TestExecuteCleansUpOnFailure(t *testing.T) {
	server := storetest.NewServer()
	server.PutObject("/docs/invoice.pdf", pdfBytes(t, time.Now()), time.Now())
	server.UploadHook = func(remotePath string) error {
		return dserrors.New(dserrors.ErrCodeAccessDenied, "read-only share")
	}

	rewrite, workDir := newTestRewrite(t, server, 2)
	_, err := rewrite.Execute(context.Background(), "/docs/invoice.pdf", time.Now(), RewriteOptions{})
	require.Error(t, err)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
