package download

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"
)

// hashForExpected picks the digest algorithm from the expected value's
// length: 32 hex chars is MD5, 40 is SHA-1, anything else is treated as
// SHA-256.
func hashForExpected(expected string) (string, hash.Hash) {
	switch len(expected) {
	case 32:
		return "md5", md5.New()
	case 40:
		return "sha1", sha1.New()
	default:
		return "sha256", sha256.New()
	}
}

func fileDigest(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile computes the digest of path with the algorithm implied by
// expected and compares case-insensitively.
func VerifyFile(path string, expected string) (bool, error) {
	_, h := hashForExpected(expected)
	digest, err := fileDigest(path, h)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(digest, expected), nil
}
