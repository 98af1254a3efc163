// Package workflow composes the pool, retry executor, local file safety
// layer, and document processor into the end-to-end timestamp rewrite.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dateshift/dateshift/internal/localfile"
	"github.com/dateshift/dateshift/internal/pdf"
	"github.com/dateshift/dateshift/internal/pool"
	"github.com/dateshift/dateshift/internal/store"
	dserrors "github.com/dateshift/dateshift/pkg/errors"
	"github.com/dateshift/dateshift/pkg/utils"
)

// RewriteOptions tunes a single timestamp rewrite.
type RewriteOptions struct {
	// UpdateCreationDate also rewrites the document's CreationDate entry.
	UpdateCreationDate bool

	// SkipLogical skips the in-document metadata rewrite and changes only
	// the filesystem timestamp.
	SkipLogical bool
}

// RewriteResult reports what a completed rewrite actually did.
type RewriteResult struct {
	RemotePath     string
	Target         time.Time
	LogicalUpdated bool
	VerifyWarning  string
	Duration       time.Duration
}

// TimestampRewrite changes a remote file's modification timestamp by
// downloading it, mutating the local copy, and replacing the remote copy.
// The share is assumed to preserve the local modification time on upload.
type TimestampRewrite struct {
	executor  *pool.Executor
	processor *pdf.Processor
	atomic    *localfile.AtomicOperation
	clock     localfile.Clock
	workDir   string
	logger    *utils.StructuredLogger
}

// NewTimestampRewrite wires the rewrite over its collaborators. workDir
// holds in-flight local copies; it is created on demand.
func NewTimestampRewrite(
	executor *pool.Executor,
	processor *pdf.Processor,
	atomicOp *localfile.AtomicOperation,
	clock localfile.Clock,
	workDir string,
	logger *utils.StructuredLogger,
) *TimestampRewrite {
	if clock == nil {
		clock = localfile.SystemClock{}
	}
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "dateshift_work")
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &TimestampRewrite{
		executor:  executor,
		processor: processor,
		atomic:    atomicOp,
		clock:     clock,
		workDir:   workDir,
		logger:    logger.WithComponent("workflow"),
	}
}

// Execute rewrites the modification timestamp of the remote file to target.
//
// Phases:
//
//  1. download the remote file to a local working copy (retried),
//  2. rewrite the in-document timestamps, best effort,
//  3. set the local filesystem timestamp and verify it stuck,
//  4. delete the remote original and upload the mutated copy (retried as
//     one unit; the delete tolerates an already-missing remote, so a retry
//     after a partial replace resumes at the upload).
//
// The working copy is always removed, whatever the outcome.
func (r *TimestampRewrite) Execute(ctx context.Context, remotePath string, target time.Time, opts RewriteOptions) (*RewriteResult, error) {
	start := time.Now()
	result := &RewriteResult{RemotePath: remotePath, Target: target}

	if err := os.MkdirAll(r.workDir, 0o700); err != nil {
		return nil, dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to create work directory", err).WithContext("dir", r.workDir)
	}

	localPath := filepath.Join(r.workDir,
		fmt.Sprintf("%s_%s", uuid.New().String()[:8], filepath.Base(remotePath)))
	defer func() {
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			r.logger.Warnf("failed to remove working copy %s: %v", localPath, err)
		}
	}()

	if err := r.download(ctx, remotePath, localPath); err != nil {
		return nil, err
	}

	if !opts.SkipLogical {
		result.LogicalUpdated = r.updateLogical(localPath, target, opts)
	}

	if err := r.stamp(localPath, target, result); err != nil {
		return nil, err
	}

	if err := r.replace(ctx, localPath, remotePath); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	r.logger.Infof("rewrote %s to %s in %s", remotePath,
		target.Format(time.RFC3339), result.Duration.Round(time.Millisecond))
	return result, nil
}

func (r *TimestampRewrite) download(ctx context.Context, remotePath, localPath string) error {
	return r.executor.ExecuteWithRetry(ctx, "download",
		func(ctx context.Context, remote store.RemoteStore) error {
			return remote.Download(ctx, remotePath, localPath)
		})
}

// updateLogical rewrites the in-document dates under backup protection.
// Failure never aborts the rewrite; documents without a metadata dictionary
// still get their filesystem timestamp changed.
func (r *TimestampRewrite) updateLogical(localPath string, target time.Time, opts RewriteOptions) bool {
	if err := localfile.VerifyPDF(localPath); err != nil {
		r.logger.Warnf("skipping logical timestamp update for %s: %v",
			filepath.Base(localPath), err)
		return false
	}
	err := r.atomic.Run(localPath, func(tmpPath string) error {
		return r.processor.UpdateLogicalTimestamp(tmpPath, target, opts.UpdateCreationDate)
	})
	if err != nil {
		r.logger.Warnf("logical timestamp update failed for %s, continuing with filesystem timestamp only: %v",
			filepath.Base(localPath), err)
		return false
	}
	return true
}

// stamp sets the local modification time, which the share preserves on
// upload, and verifies the filesystem accepted it.
func (r *TimestampRewrite) stamp(localPath string, target time.Time, result *RewriteResult) error {
	if err := r.clock.SetModTime(localPath, target); err != nil {
		return err
	}
	if err := localfile.VerifyModTime(localPath, target); err != nil {
		// Coarse filesystem clocks make this advisory, not fatal.
		result.VerifyWarning = err.Error()
		r.logger.Warnf("timestamp verification: %v", err)
	}
	return nil
}

// replace deletes the remote original and uploads the mutated copy. Both
// run in one retried unit: if the upload fails after the delete succeeded,
// the retry's delete sees the file already gone and moves straight to the
// upload, closing the partial-replace window.
//
// The delete itself is best effort. An absent object or a failed delete
// never aborts the attempt; the upload overwrites whatever is there.
func (r *TimestampRewrite) replace(ctx context.Context, localPath, remotePath string) error {
	deleted := false
	err := r.executor.ExecuteWithRetry(ctx, "replace",
		func(ctx context.Context, remote store.RemoteStore) error {
			if err := remote.Delete(ctx, remotePath); err != nil {
				if dserrors.GetCode(err) == dserrors.ErrCodeObjectNotFound {
					// Already gone, either never existed or a prior
					// attempt removed it.
					r.logger.Debugf("remote %s already absent before upload", remotePath)
				} else {
					r.logger.Warnf("delete of %s failed, uploading over it: %v", remotePath, err)
				}
			} else {
				deleted = true
			}
			return remote.Upload(ctx, localPath, remotePath)
		})
	if err != nil && deleted {
		return dserrors.Wrap(dserrors.ErrCodePartialReplace,
			"remote file was deleted but the replacement upload failed", err).
			WithContext("remote_path", remotePath).
			WithContext("local_copy", localPath)
	}
	return err
}
