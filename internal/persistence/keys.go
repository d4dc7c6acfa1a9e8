package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	maxBucketLength = 222
	maxNameLength   = 1024
)

// Key addresses one stored object.
type Key struct {
	Bucket string
	Name   string
}

func (k Key) String() string {
	return k.Bucket + "/" + k.Name
}

func validateBucket(bucket string) error {
	if bucket == "" || bucket == "." || bucket == ".." {
		return fmt.Errorf("bucket %q: %w", bucket, ErrInvalidKey)
	}
	if len(bucket) > maxBucketLength {
		return fmt.Errorf("bucket name exceeds %d bytes: %w", maxBucketLength, ErrInvalidKey)
	}
	for i, r := range bucket {
		if !isBucketChar(r) {
			return fmt.Errorf("invalid character %q at position %d in bucket: %w", r, i, ErrInvalidKey)
		}
	}
	return nil
}

func validateKey(key Key) error {
	if err := validateBucket(key.Bucket); err != nil {
		return err
	}
	switch {
	case key.Name == "", key.Name == ".", key.Name == "..":
		return fmt.Errorf("object name %q: %w", key.Name, ErrInvalidKey)
	case len(key.Name) > maxNameLength:
		return fmt.Errorf("object name exceeds %d bytes: %w", maxNameLength, ErrInvalidKey)
	case !utf8.ValidString(key.Name):
		return fmt.Errorf("object name is not valid UTF-8: %w", ErrInvalidKey)
	case strings.ContainsAny(key.Name, "\x00\r\n"):
		return fmt.Errorf("object name contains control characters: %w", ErrInvalidKey)
	}
	return nil
}

func isBucketChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '-' || r == '_' || r == '.'
}

// shardPath spreads objects of a bucket over a two-level directory tree keyed
// by the SHA-256 of the object name: "a3/f2/a3f29d4e8c...".
func shardPath(name string) (string, [sha256.Size]byte) {
	sum := sha256.Sum256([]byte(name))
	hexHash := hex.EncodeToString(sum[:])
	return filepath.Join(hexHash[:2], hexHash[2:4], hexHash), sum
}
