package extract

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const copyBufferSize = 256 * 1024

// ProgressFunc receives extraction progress: bytes (or entries, when entry
// sizes are unknown) done against a baseline total, plus a status token.
type ProgressFunc func(done, total int64, status string)

// Format is one archive codec. Detection is by signature, not filename, so
// mis-named downloads still unpack. New formats register by joining the
// slice below; dispatch order is the priority order.
type Format interface {
	Name() string
	Sniff(header []byte) bool
	Extract(path, dest string, report ProgressFunc) error
}

var formats = []Format{
	&sevenZipFormat{},
	&zipFormat{},
	&tarFormat{},
}

// Detect sniffs the first bytes of the file against each registered format.
// Zip is also tried as a generic fallback because its central directory
// lives at the end of the file and self-extracting variants don't start
// with the zip local-header signature.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 512)
	n, _ := io.ReadFull(f, header)
	f.Close()
	header = header[:n]

	for _, format := range formats {
		if format.Sniff(header) {
			return format, nil
		}
	}
	if r, err := zip.OpenReader(path); err == nil {
		r.Close()
		return &zipFormat{}, nil
	}
	return nil, ErrUnsupportedFormat
}

// safeTarget resolves an entry name against the destination root and rejects
// absolute paths and any path that escapes the root.
func safeTarget(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || strings.HasPrefix(filepath.ToSlash(clean), "../") || clean == ".." {
		return "", &PathTraversalError{Entry: name}
	}
	target := filepath.Join(root, clean)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(filepath.ToSlash(rel), "../") {
		return "", &PathTraversalError{Entry: name}
	}
	return target, nil
}

func mkdirEntry(target string, mode os.FileMode) error {
	perm := mode.Perm()
	if perm == 0 {
		perm = 0755
	}
	return os.MkdirAll(target, perm)
}

// writeEntry streams src into target in bounded chunks, then applies the
// mode and modification time the format reported, when present.
func writeEntry(target string, src io.Reader, mode os.FileMode, modified time.Time) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	if perm := mode.Perm(); perm != 0 {
		os.Chmod(target, perm)
	}
	if !modified.IsZero() {
		os.Chtimes(target, modified, modified)
	}
	return nil
}
