package localfile

import (
	"os"
	"time"

	dserrors "github.com/dateshift/dateshift/pkg/errors"
)

// Clock applies filesystem timestamps. Implementations other than the
// system one exist only for tests.
type Clock interface {
	// SetModTime sets the modification (and access) time of the file at
	// path.
	SetModTime(path string, t time.Time) error

	// Now returns the current time.
	Now() time.Time
}

// SystemClock is the real filesystem clock.
type SystemClock struct{}

// SetModTime sets both atime and mtime via the OS.
func (SystemClock) SetModTime(path string, t time.Time) error {
	if err := os.Chtimes(path, t, t); err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to set file modification time", err).WithContext("path", path)
	}
	return nil
}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// modTimeTolerance is how far the on-disk mtime may drift from the target
// before verification reports a mismatch. Network filesystems commonly
// round or coarsen timestamps.
const modTimeTolerance = 60 * time.Second

// VerifyModTime checks that the file's modification time is within the
// accepted tolerance of want. A mismatch is reported as an error so callers
// can decide whether to warn or fail.
func VerifyModTime(path string, want time.Time) error {
	fi, err := os.Stat(path)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to stat file for timestamp verification", err).WithContext("path", path)
	}
	diff := fi.ModTime().Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > modTimeTolerance {
		return dserrors.Newf(dserrors.ErrCodeLocalFileOperation,
			"modification time %s differs from target %s by %s",
			fi.ModTime().Format(time.RFC3339), want.Format(time.RFC3339), diff).
			WithContext("path", path)
	}
	return nil
}
