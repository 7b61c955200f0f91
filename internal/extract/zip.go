package extract

import (
	"archive/zip"
	"bytes"
)

var zipSignatures = [][]byte{
	{'P', 'K', 0x03, 0x04},
	{'P', 'K', 0x05, 0x06}, // empty archive
	{'P', 'K', 0x07, 0x08}, // spanned archive
}

type zipFormat struct{}

func (z *zipFormat) Name() string { return "zip" }

func (z *zipFormat) Sniff(header []byte) bool {
	for _, sig := range zipSignatures {
		if bytes.HasPrefix(header, sig) {
			return true
		}
	}
	return false
}

func (z *zipFormat) Extract(path, dest string, report ProgressFunc) error {
	if report == nil {
		report = func(int64, int64, string) {}
	}
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var total int64
	var fileCount int64
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		fileCount++
		total += int64(f.UncompressedSize64)
	}
	if total <= 0 {
		total = max(fileCount, 1)
	}

	var done int64
	report(done, total, "Preparing extraction")
	for _, f := range r.File {
		// Bit 0 of the general purpose flags marks traditional zip encryption.
		if f.Flags&0x1 != 0 {
			return ErrPasswordRequired
		}
		target, err := safeTarget(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := mkdirEntry(target, f.Mode()); err != nil {
				return err
			}
			continue
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		err = writeEntry(target, src, f.Mode(), f.Modified)
		src.Close()
		if err != nil {
			return err
		}
		done += int64(f.UncompressedSize64)
		report(done, total, "Extracting")
	}
	report(total, total, "Extracting")
	return nil
}
