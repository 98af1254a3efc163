package localfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	dserrors "github.com/dateshift/dateshift/pkg/errors"
	"github.com/dateshift/dateshift/pkg/utils"
)

// MutateFunc mutates the working copy at tmpPath. The working copy is
// seeded with the target's current bytes before the function runs, or is
// empty when the target does not exist yet.
type MutateFunc func(tmpPath string) error

// AtomicOperation performs backup-protected in-place file mutation. The
// target is only replaced after the mutation succeeds; any failure restores
// the original bytes from backup.
type AtomicOperation struct {
	backups *BackupManager
	logger  *utils.StructuredLogger
}

// NewAtomicOperation creates an atomic operation helper backed by the given
// backup manager.
func NewAtomicOperation(backups *BackupManager, logger *utils.StructuredLogger) *AtomicOperation {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &AtomicOperation{
		backups: backups,
		logger:  logger.WithComponent("atomic"),
	}
}

// Run mutates the file at target atomically:
//
//  1. back up the target if it exists,
//  2. copy it to a same-directory temp file (empty when the target is new),
//  3. invoke mutate against the temp file,
//  4. replace the target with the temp file.
//
// On any failure the original is restored from backup. A rollback failure
// is returned as ROLLBACK_FAILED; the backup file is kept in that case so
// the bytes are never lost.
func (a *AtomicOperation) Run(target string, mutate MutateFunc) (err error) {
	exists := true
	if _, statErr := os.Stat(target); statErr != nil {
		if !os.IsNotExist(statErr) {
			return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
				"failed to stat target", statErr).WithContext("target", target)
		}
		exists = false
	}

	var backup *Backup
	if exists {
		if backup, err = a.backups.Create(target); err != nil {
			return err
		}
	}

	tmpPath := filepath.Join(filepath.Dir(target),
		fmt.Sprintf(".%s.%s.tmp", filepath.Base(target), uuid.New().String()[:8]))

	defer func() {
		// The temp file must never outlive the operation.
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			a.logger.Warnf("failed to remove temp file %s: %v", tmpPath, removeErr)
		}
		if err == nil && backup != nil {
			if delErr := a.backups.Delete(backup); delErr != nil {
				a.logger.Warnf("failed to delete backup after success: %v", delErr)
			}
		}
	}()

	if exists {
		if _, err = copyFile(target, tmpPath); err != nil {
			return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
				"failed to create working copy", err).WithContext("target", target)
		}
	} else {
		var f *os.File
		if f, err = os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600); err != nil {
			return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
				"failed to create working copy", err).WithContext("target", target)
		}
		_ = f.Close()
	}

	if err = mutate(tmpPath); err != nil {
		return a.rollback(backup, dserrors.Classify(err).WithOperation("mutate"))
	}

	// Remove-then-rename keeps the replacement window as small as the
	// filesystem allows.
	if err = os.Remove(target); err != nil && !os.IsNotExist(err) {
		return a.rollback(backup, dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to remove target before replace", err).WithContext("target", target))
	}
	if err = os.Rename(tmpPath, target); err != nil {
		return a.rollback(backup, dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to move working copy into place", err).WithContext("target", target))
	}

	a.logger.Debugf("atomically replaced %s", target)
	return nil
}

// rollback restores the original bytes. If the restore itself fails the
// returned error carries ROLLBACK_FAILED and the backup path so an operator
// can recover the file by hand. A nil backup means the target never
// existed, so there is nothing to restore.
func (a *AtomicOperation) rollback(backup *Backup, cause error) error {
	if backup == nil {
		return cause
	}
	if restoreErr := a.backups.Restore(backup); restoreErr != nil {
		a.logger.Errorf("rollback failed for %s, backup preserved at %s: %v",
			backup.Source, backup.Path, restoreErr)
		return dserrors.Wrap(dserrors.ErrCodeRollbackFailed,
			"mutation failed and rollback also failed", cause).
			WithContext("backup_path", backup.Path).
			WithContext("rollback_error", restoreErr.Error())
	}
	if delErr := a.backups.Delete(backup); delErr != nil {
		a.logger.Warnf("failed to delete backup after rollback: %v", delErr)
	}
	a.logger.Warnf("mutation of %s failed, original restored: %v", backup.Source, cause)
	return cause
}
