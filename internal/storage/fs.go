package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Directory and file permissions for stored blobs
const (
	DirPerm  = 0o750
	FilePerm = 0o640
)

// FileStore keeps blobs as files under a root directory
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: root directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve root: %w", err)
	}
	return &FileStore{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute root directory
func (s *FileStore) Root() string {
	return s.root
}

// Path resolves key to a filesystem path inside the root. Symlinks that
// point outside the root are rejected.
func (s *FileStore) Path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	p := filepath.Join(s.root, filepath.FromSlash(key))
	within, err := s.isWithinRoot(p)
	if err != nil {
		return "", err
	}
	if !within {
		return "", fmt.Errorf("%w: %q resolves outside the store", ErrUnsafeKey, key)
	}
	return p, nil
}

func (s *FileStore) isWithinRoot(p string) (bool, error) {
	realRoot := s.root
	if resolved, err := filepath.EvalSymlinks(s.root); err == nil {
		realRoot = resolved
	}

	realPath := p
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		realPath = resolved
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("storage: failed to resolve path: %w", err)
	}

	return hasDirPrefix(p, s.root) &&
		(hasDirPrefix(realPath, realRoot) || hasDirPrefix(realPath, s.root)), nil
}

func hasDirPrefix(p, dir string) bool {
	if p == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(p, dir)
}

// LoadBytes reads the blob at key
func (s *FileStore) LoadBytes(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to read %s: %w", key, err)
	}
	return data, nil
}

// SaveBytes writes data to a temporary file in the target directory and
// renames it over key, so a concurrent reader never sees a partial file.
func (s *FileStore) SaveBytes(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.Path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("storage: failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: failed to close %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, FilePerm); err != nil {
		return fmt.Errorf("storage: failed to set permissions on %s: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("storage: failed to replace %s: %w", key, err)
	}
	committed = true
	return nil
}

// List returns the keys under prefix in lexical order. Temporary files from
// in-flight writes are skipped.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := s.root
	if prefix != "" {
		p, err := s.Path(strings.TrimSuffix(prefix, "/"))
		if err != nil {
			return nil, err
		}
		start = p
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list %q: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}
