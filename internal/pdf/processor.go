// Package pdf rewrites the logical timestamps stored inside PDF document
// metadata. The rewrite is byte-preserving: cross-reference offsets stay
// valid because replacements never change the file length.
package pdf

import (
	"fmt"
	"os"
	"regexp"
	"time"

	dserrors "github.com/dateshift/dateshift/pkg/errors"
	"github.com/dateshift/dateshift/pkg/utils"
)

var (
	modDateRe      = regexp.MustCompile(`/ModDate\s*\(([^)]*)\)`)
	creationDateRe = regexp.MustCompile(`/CreationDate\s*\(([^)]*)\)`)
)

// Metadata holds the logical timestamps read from a document's Info
// dictionary. Zero times mean the entry was absent or unparseable.
type Metadata struct {
	ModDate      time.Time
	CreationDate time.Time
}

// Processor updates logical timestamps inside PDF files.
type Processor struct {
	logger *utils.StructuredLogger
}

// NewProcessor creates a document processor.
func NewProcessor(logger *utils.StructuredLogger) *Processor {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Processor{logger: logger.WithComponent("pdf")}
}

// FormatDate renders t in PDF date syntax, D:YYYYMMDDHHmmSS.
func FormatDate(t time.Time) string {
	return "D:" + t.Format("20060102150405")
}

// ParseDate parses a PDF date string. Timezone suffixes (Z, +HH'mm',
// -HH'mm') are tolerated and ignored; the date parts are taken as local
// time, matching how the dates are written.
func ParseDate(s string) (time.Time, error) {
	if len(s) >= 2 && s[:2] == "D:" {
		s = s[2:]
	}
	if len(s) > 14 {
		s = s[:14]
	}
	for len(s) < 14 {
		// Short dates omit trailing components, which default to
		// 01/01 for month/day and 00 for time parts.
		switch len(s) {
		case 4, 6:
			s += "01"
		default:
			s += "0"
		}
	}
	t, err := time.ParseInLocation("20060102150405", s, time.Local)
	if err != nil {
		return time.Time{}, dserrors.Wrap(dserrors.ErrCodeInvalidDocument,
			"unparseable PDF date", err).WithContext("value", s)
	}
	return t, nil
}

// ReadMetadata extracts ModDate and CreationDate from the document at path.
func (p *Processor) ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to read document", err).WithContext("path", path)
	}

	var meta Metadata
	if m := modDateRe.FindSubmatch(data); m != nil {
		if t, err := ParseDate(string(m[1])); err == nil {
			meta.ModDate = t
		}
	}
	if m := creationDateRe.FindSubmatch(data); m != nil {
		if t, err := ParseDate(string(m[1])); err == nil {
			meta.CreationDate = t
		}
	}
	return meta, nil
}

// UpdateLogicalTimestamp rewrites the ModDate entry (and, when updateCreation
// is set, the CreationDate entry) of the document at path to t.
//
// Replacements must not change the file length, since any shift would break
// the cross-reference table. Shorter replacement values are padded with
// whitespace after the closing parenthesis; a value longer than the existing
// one cannot be written and is reported as an error. Callers treat failures
// here as best-effort and carry on with physical timestamps only.
func (p *Processor) UpdateLogicalTimestamp(path string, t time.Time, updateCreation bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to read document", err).WithContext("path", path)
	}

	date := FormatDate(t)
	updated, err := replaceDate(data, modDateRe, "/ModDate", date)
	if err != nil {
		return err
	}
	if updateCreation {
		updated, err = replaceDate(updated, creationDateRe, "/CreationDate", date)
		if err != nil {
			return err
		}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to stat document", err).WithContext("path", path)
	}
	if err := os.WriteFile(path, updated, fi.Mode()); err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			"failed to write document", err).WithContext("path", path)
	}
	p.logger.Debugf("updated logical timestamps in %s to %s", path, date)
	return nil
}

// replaceDate swaps the first occurrence of a date entry for key with value,
// padding with spaces so the total length is unchanged.
func replaceDate(data []byte, re *regexp.Regexp, key, value string) ([]byte, error) {
	loc := re.FindSubmatchIndex(data)
	if loc == nil {
		return nil, dserrors.Newf(dserrors.ErrCodeInvalidDocument,
			"document has no %s entry", key)
	}

	oldLen := loc[1] - loc[0]
	// Some writers put no whitespace between the key and the opening
	// parenthesis; matching their spacing keeps a same-length value from
	// overflowing the span.
	sep := " "
	if loc[0]+len(key) == loc[2]-1 {
		sep = ""
	}
	replacement := fmt.Sprintf("%s%s(%s)", key, sep, value)
	if len(replacement) > oldLen {
		return nil, dserrors.Newf(dserrors.ErrCodeInvalidDocument,
			"%s entry too short to hold new value in place", key)
	}
	for len(replacement) < oldLen {
		replacement += " "
	}

	out := make([]byte, len(data))
	copy(out, data)
	copy(out[loc[0]:loc[1]], replacement)
	return out, nil
}
