package localfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackupManager(t *testing.T) *BackupManager {
	t.Helper()
	m, err := NewBackupManager(filepath.Join(t.TempDir(), "backups"), nil)
	require.NoError(t, err)
	return m
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestBackupCreateCopiesBytes(t *testing.T) {
	m := newTestBackupManager(t)
	source := writeFile(t, t.TempDir(), "doc.pdf", []byte("original content"))

	b, err := m.Create(source)
	require.NoError(t, err)

	copied, err := os.ReadFile(b.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("original content"), copied)
	assert.NotEmpty(t, b.Checksum)
	assert.Equal(t, source, b.Source)
}

func TestBackupCreateMissingSource(t *testing.T) {
	m := newTestBackupManager(t)
	_, err := m.Create(filepath.Join(t.TempDir(), "absent.pdf"))
	assert.Error(t, err)
}

func TestBackupRestore(t *testing.T) {
	m := newTestBackupManager(t)
	source := writeFile(t, t.TempDir(), "doc.pdf", []byte("original content"))

	b, err := m.Create(source)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(source, []byte("corrupted"), 0o600))
	require.NoError(t, m.Restore(b))

	restored, err := os.ReadFile(source)
	require.NoError(t, err)
	assert.Equal(t, []byte("original content"), restored)
}

func TestBackupRestoreDetectsCorruptBackup(t *testing.T) {
	m := newTestBackupManager(t)
	source := writeFile(t, t.TempDir(), "doc.pdf", []byte("original content"))

	b, err := m.Create(source)
	require.NoError(t, err)

	// Damage the backup copy itself.
	require.NoError(t, os.WriteFile(b.Path, []byte("tampered"), 0o600))
	assert.Error(t, m.Restore(b))
}

func TestBackupDelete(t *testing.T) {
	m := newTestBackupManager(t)
	source := writeFile(t, t.TempDir(), "doc.pdf", []byte("x"))

	b, err := m.Create(source)
	require.NoError(t, err)
	require.NoError(t, m.Delete(b))

	_, err = os.Stat(b.Path)
	assert.True(t, os.IsNotExist(err))

	// Deleting again is harmless.
	assert.NoError(t, m.Delete(b))
}

func TestCleanupOldRemovesExpiredBackups(t *testing.T) {
	m := newTestBackupManager(t)
	dir := t.TempDir()

	old, err := m.Create(writeFile(t, dir, "old.pdf", []byte("a")))
	require.NoError(t, err)
	fresh, err := m.Create(writeFile(t, dir, "fresh.pdf", []byte("b")))
	require.NoError(t, err)

	expired := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path, expired, expired))

	removed, err := m.CleanupOld(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Path)
	assert.NoError(t, err)
}

func TestChecksum(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.pdf", []byte("content"))
	sum1, err := Checksum(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o600))
	sum2, err := Checksum(path)
	require.NoError(t, err)

	assert.NotEqual(t, sum1, sum2)
}
