// Package storage stores uploaded sources, narration audio and generated
// artifacts on the local filesystem under slash-separated keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
)

// FileStore manages blob filesystem operations.
// Thread-safe for concurrent operations.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

// New creates a FileStore rooted at {basePath}/blobs.
func New(basePath string) (*FileStore, error) {
	return NewWithSubdir(basePath, "blobs")
}

// NewWithSubdir creates a FileStore rooted at {basePath}/{subdir}.
func NewWithSubdir(basePath, subdir string) (*FileStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if subdir == "" {
		return nil, fmt.Errorf("subdirectory cannot be empty")
	}

	root := filepath.Join(basePath, subdir)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", subdir, err)
	}
	return &FileStore{root: root}, nil
}

// NewKey returns a fresh key of the form {prefix}/{uuid}.{ext}.
func (s *FileStore) NewKey(prefix, ext string) string {
	name := uuid.NewString()
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	if prefix == "" {
		return name
	}
	return strings.Trim(prefix, "/") + "/" + name
}

// LocalPath resolves key to a path inside the root.
// Keys that are empty, absolute, or escape the root are rejected.
func (s *FileStore) LocalPath(key string) (string, error) {
	if key == "" {
		return "", domainerrors.Validation("storage key cannot be empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", domainerrors.Validationf("invalid storage key %q", key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", domainerrors.Validationf("storage key %q escapes the store", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes r under key, replacing any existing blob atomically.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.LocalPath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

// Get opens the blob stored under key.
func (s *FileStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.LocalPath(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domainerrors.NotFoundf("blob %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// ReadAll returns the full contents of the blob under key.
func (s *FileStore) ReadAll(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Exists reports whether a blob is stored under key.
func (s *FileStore) Exists(key string) bool {
	p, err := s.LocalPath(key)
	if err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// Size returns the byte size of the blob under key.
func (s *FileStore) Size(key string) (int64, error) {
	p, err := s.LocalPath(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, domainerrors.NotFoundf("blob %s not found", key)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes the blob under key. Missing blobs are ignored.
func (s *FileStore) Delete(key string) error {
	p, err := s.LocalPath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
