package extract

import (
	"bytes"
	"strings"

	"github.com/bodgit/sevenzip"
)

var sevenZipSignature = []byte{0x37, 0x7a, 0xbc, 0xaf, 0x27, 0x1c}

type sevenZipFormat struct{}

func (s *sevenZipFormat) Name() string { return "7z" }

func (s *sevenZipFormat) Sniff(header []byte) bool {
	return bytes.HasPrefix(header, sevenZipSignature)
}

func (s *sevenZipFormat) Extract(path, dest string, report ProgressFunc) error {
	if report == nil {
		report = func(int64, int64, string) {}
	}
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return passwordOr(err)
	}
	defer r.Close()

	var total int64
	var fileCount int64
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		fileCount++
		total += int64(f.UncompressedSize)
	}
	if total <= 0 {
		total = max(fileCount, 1)
	}

	var done int64
	report(done, total, "Preparing extraction")
	for _, f := range r.File {
		target, err := safeTarget(dest, f.Name)
		if err != nil {
			return err
		}
		info := f.FileInfo()
		if info.IsDir() {
			if err := mkdirEntry(target, info.Mode()); err != nil {
				return err
			}
			continue
		}
		src, err := f.Open()
		if err != nil {
			return passwordOr(err)
		}
		err = writeEntry(target, src, info.Mode(), f.Modified)
		src.Close()
		if err != nil {
			return err
		}
		done += int64(f.UncompressedSize)
		report(done, total, "Extracting")
	}
	report(total, total, "Extracting")
	return nil
}

// passwordOr maps the library's encrypted-stream failures onto the package
// sentinel so callers don't string-match.
func passwordOr(err error) error {
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "password") {
		return ErrPasswordRequired
	}
	return err
}
