package localfile

import (
	"bytes"
	"io"
	"os"

	dserrors "github.com/dateshift/dateshift/pkg/errors"
)

var (
	pdfHeader  = []byte("%PDF-")
	pdfTrailer = []byte("%%EOF")
)

// VerifyPDF checks that the file at path looks like a PDF: a %PDF- header
// at the start and a %%EOF marker near the end. It does not parse the
// document.
func VerifyPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to open file for validation", err).WithContext("path", path)
	}
	defer f.Close()

	header := make([]byte, len(pdfHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return dserrors.Wrap(dserrors.ErrCodeInvalidDocument,
			"file too short to be a PDF", err).WithContext("path", path)
	}
	if !bytes.Equal(header, pdfHeader) {
		return dserrors.New(dserrors.ErrCodeInvalidDocument,
			"missing %PDF- header").WithContext("path", path)
	}

	fi, err := f.Stat()
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to stat file for validation", err).WithContext("path", path)
	}

	// Readers tolerate trailing junk after %%EOF, so scan the last 1 KiB.
	tailSize := int64(1024)
	if fi.Size() < tailSize {
		tailSize = fi.Size()
	}
	tail := make([]byte, tailSize)
	if _, err := f.ReadAt(tail, fi.Size()-tailSize); err != nil && err != io.EOF {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to read file tail for validation", err).WithContext("path", path)
	}
	if !bytes.Contains(tail, pdfTrailer) {
		return dserrors.New(dserrors.ErrCodeInvalidDocument,
			"missing %%EOF trailer").WithContext("path", path)
	}
	return nil
}
