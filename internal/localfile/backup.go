// Package localfile provides safe local file mutation: checksummed backups,
// an atomic modify-in-place operation with rollback, timestamp control, and
// basic document validation.
package localfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	dserrors "github.com/dateshift/dateshift/pkg/errors"
	"github.com/dateshift/dateshift/pkg/utils"
)

// Backup describes one backup copy managed by the BackupManager.
type Backup struct {
	ID       string
	Source   string
	Path     string
	Checksum string
	Created  time.Time
}

// BackupManager keeps timestamped copies of files in a dedicated directory
// so that failed mutations can be rolled back byte for byte.
type BackupManager struct {
	dir    string
	logger *utils.StructuredLogger

	mu      sync.Mutex
	backups map[string]*Backup
}

// NewBackupManager creates the backup directory if needed.
func NewBackupManager(dir string, logger *utils.StructuredLogger) (*BackupManager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "dateshift_backups")
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, dserrors.Wrap(dserrors.ErrCodeBackupFailed,
			"failed to create backup directory", err).WithContext("dir", dir)
	}
	return &BackupManager{
		dir:     dir,
		logger:  logger.WithComponent("backup"),
		backups: make(map[string]*Backup),
	}, nil
}

// Dir returns the backup directory.
func (m *BackupManager) Dir() string {
	return m.dir
}

// Create copies source into the backup directory under a unique name and
// returns a handle for later restore or deletion.
func (m *BackupManager) Create(source string) (*Backup, error) {
	id := uuid.New().String()
	name := fmt.Sprintf("%s_%s%s", strings.TrimSuffix(filepath.Base(source),
		filepath.Ext(source)), id, filepath.Ext(source))
	path := filepath.Join(m.dir, name)

	checksum, err := copyFile(source, path)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.ErrCodeBackupFailed,
			"failed to create backup", err).WithContext("source", source)
	}

	b := &Backup{
		ID:       id,
		Source:   source,
		Path:     path,
		Checksum: checksum,
		Created:  time.Now(),
	}

	m.mu.Lock()
	m.backups[id] = b
	m.mu.Unlock()

	m.logger.Debugf("created backup %s for %s", id, source)
	return b, nil
}

// Restore copies the backup bytes back over the original source path and
// verifies the restored content against the recorded checksum.
func (m *BackupManager) Restore(b *Backup) error {
	checksum, err := copyFile(b.Path, b.Source)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeRollbackFailed,
			"failed to restore backup", err).
			WithContext("backup", b.Path).
			WithContext("source", b.Source)
	}
	if checksum != b.Checksum {
		return dserrors.New(dserrors.ErrCodeRollbackFailed,
			"restored file checksum mismatch").
			WithContext("expected", b.Checksum).
			WithContext("actual", checksum)
	}
	m.logger.Infof("restored %s from backup %s", b.Source, b.ID)
	return nil
}

// Delete removes the backup copy and forgets the handle.
func (m *BackupManager) Delete(b *Backup) error {
	m.mu.Lock()
	delete(m.backups, b.ID)
	m.mu.Unlock()

	if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to delete backup", err).WithContext("backup", b.Path)
	}
	return nil
}

// CleanupOld removes backup files older than the retention period and
// returns how many were deleted. Files that fail to delete are logged and
// skipped.
func (m *BackupManager) CleanupOld(retention time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to read backup directory", err).WithContext("dir", m.dir)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			m.logger.Warnf("failed to remove expired backup %s: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Infof("removed %d expired backups", removed)
	}
	return removed, nil
}

// copyFile copies src to dst and returns the hex SHA-256 of the copied
// bytes. The destination is truncated if it exists.
func copyFile(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hash), in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
