package extract

import (
	"errors"
	"fmt"
)

// ErrPasswordRequired is returned for password-protected archives; there is
// no interactive prompting.
var ErrPasswordRequired = errors.New("archive is password protected")

// ErrUnsupportedFormat is returned when no registered format recognizes the
// input.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// PathTraversalError marks an archive entry whose resolved path escapes the
// destination root. The whole extraction fails; entries are never skipped.
type PathTraversalError struct {
	Entry string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("entry escapes destination root: %s", e.Entry)
}
