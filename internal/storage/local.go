package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage implements Storage on the local filesystem. s3:// URIs are
// mapped to <basePath>/<bucket>/<key>, so fixtures written for one
// backend read back identically on the other.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a filesystem-backed object store rooted at
// basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", basePath, err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Get retrieves the object at the given URI.
func (s *LocalStorage) Get(ctx context.Context, uri string) ([]byte, error) {
	path, err := s.uriToPath(uri)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", uri, err)
	}
	return content, nil
}

// Put stores content at the given URI.
func (s *LocalStorage) Put(ctx context.Context, uri string, content []byte, contentType string) error {
	path, err := s.uriToPath(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", uri, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", uri, err)
	}
	return nil
}

// PresignGet returns a file:// URL for the object. Local objects need no
// access grant, so expiry is ignored.
func (s *LocalStorage) PresignGet(ctx context.Context, uri string, expiry time.Duration) (string, error) {
	path, err := s.uriToPath(uri)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return "file://" + filepath.ToSlash(path), nil
}

func (s *LocalStorage) uriToPath(uri string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	// Clean to keep keys from escaping the base directory.
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.basePath, bucket, clean), nil
}
