// Package storage provides the blob persistence used for mapping documents
// and template PDFs: a filesystem store with atomic replace, an optional
// Postgres store and a read-through LRU cache.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by LoadBytes for a missing key
var ErrNotFound = errors.New("storage: not found")

// ErrUnsafeKey is returned for keys that could escape the store root
var ErrUnsafeKey = errors.New("storage: unsafe key")

// BlobStore reads and writes whole blobs by slash-separated key. SaveBytes
// replaces atomically: readers see either the old or the new content.
type BlobStore interface {
	LoadBytes(ctx context.Context, key string) ([]byte, error)
	SaveBytes(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ValidateKey checks that key is a clean relative slash path: no empty,
// "." or ".." segments, no leading slash, no backslashes and no NUL bytes.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrUnsafeKey)
	}
	if strings.ContainsAny(key, "\x00\\") {
		return fmt.Errorf("%w: %q contains forbidden characters", ErrUnsafeKey, key)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q is absolute", ErrUnsafeKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q has an invalid segment", ErrUnsafeKey, key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q is not clean", ErrUnsafeKey, key)
	}
	return nil
}

// JoinKey joins segments into a key and validates the result
func JoinKey(segments ...string) (string, error) {
	key := strings.Join(segments, "/")
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}
