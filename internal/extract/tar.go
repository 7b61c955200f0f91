package extract

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"io"
	"os"

	"github.com/ulikunitz/xz"
)

var (
	gzipSignature  = []byte{0x1f, 0x8b}
	bzip2Signature = []byte("BZh")
	xzSignature    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	tarMagic       = []byte("ustar")
)

const tarMagicOffset = 257

// tarFormat handles plain tar plus gzip-, bzip2- and xz-compressed tarballs,
// selecting the decompressor by signature.
type tarFormat struct{}

func (t *tarFormat) Name() string { return "tar" }

func (t *tarFormat) Sniff(header []byte) bool {
	if bytes.HasPrefix(header, gzipSignature) ||
		bytes.HasPrefix(header, bzip2Signature) ||
		bytes.HasPrefix(header, xzSignature) {
		return true
	}
	return len(header) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(header[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic)
}

func (t *tarFormat) Extract(path, dest string, report ProgressFunc) error {
	if report == nil {
		report = func(int64, int64, string) {}
	}
	// Tar carries no index, so one pass computes the byte baseline and a
	// second one extracts.
	var total int64
	var fileCount int64
	err := t.walk(path, func(hdr *tar.Header, _ io.Reader) error {
		if hdr.Typeflag == tar.TypeReg {
			fileCount++
			total += hdr.Size
		}
		return nil
	})
	if err != nil {
		return err
	}
	if total <= 0 {
		total = max(fileCount, 1)
	}

	var done int64
	report(done, total, "Preparing extraction")
	err = t.walk(path, func(hdr *tar.Header, src io.Reader) error {
		target, err := safeTarget(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			return mkdirEntry(target, hdr.FileInfo().Mode())
		case tar.TypeReg:
			if err := writeEntry(target, src, hdr.FileInfo().Mode(), hdr.ModTime); err != nil {
				return err
			}
			done += hdr.Size
			report(done, total, "Extracting")
			return nil
		case tar.TypeSymlink:
			// Links are validated like any other entry path; link targets
			// outside the root are rejected as traversal.
			if _, err := safeTarget(dest, hdr.Linkname); err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(hdr.Linkname, target)
		default:
			return nil
		}
	})
	if err != nil {
		return err
	}
	report(total, total, "Extracting")
	return nil
}

func (t *tarFormat) walk(path string, fn func(hdr *tar.Header, src io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, len(xzSignature))
	if _, err := io.ReadFull(f, header); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var src io.Reader = f
	switch {
	case bytes.HasPrefix(header, gzipSignature):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		src = gz
	case bytes.HasPrefix(header, bzip2Signature):
		src = bzip2.NewReader(f)
	case bytes.HasPrefix(header, xzSignature):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return err
		}
		src = xzr
	}

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}
