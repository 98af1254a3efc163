package localfile

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemClockSetModTime(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.pdf", []byte("x"))
	target := time.Date(2019, 6, 15, 10, 30, 0, 0, time.Local)

	require.NoError(t, SystemClock{}.SetModTime(path, target))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(target),
		"got %s want %s", fi.ModTime(), target)
}

func TestSystemClockMissingFile(t *testing.T) {
	err := SystemClock{}.SetModTime("/nonexistent/doc.pdf", time.Now())
	assert.Error(t, err)
}

func TestVerifyModTime(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.pdf", []byte("x"))
	target := time.Date(2020, 1, 2, 3, 4, 5, 0, time.Local)
	require.NoError(t, os.Chtimes(path, target, target))

	assert.NoError(t, VerifyModTime(path, target))
	assert.NoError(t, VerifyModTime(path, target.Add(30*time.Second)))
	assert.Error(t, VerifyModTime(path, target.Add(5*time.Minute)))
}
