// Package storage is the object store for source images and crops.
// Objects are addressed by s3://bucket/key URIs; the local backend maps
// the same URIs onto a directory tree for development and tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no object exists at the given URI.
var ErrNotFound = errors.New("object not found")

// Storage defines the object store operations the service needs.
// Implementations can be local filesystem or S3. Retry policy, if any,
// belongs to the implementation; callers treat failures as fatal to the
// current request.
type Storage interface {
	// Get retrieves the object at the given URI.
	Get(ctx context.Context, uri string) ([]byte, error)

	// Put stores content at the given URI, replacing any existing object.
	Put(ctx context.Context, uri string, content []byte, contentType string) error

	// PresignGet returns a URL granting temporary read access to the
	// object at the given URI.
	PresignGet(ctx context.Context, uri string, expiry time.Duration) (string, error)
}

// StorageType selects the storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// ParseURI splits an s3://bucket/key URI into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	trimmed, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %q", uri)
	}
	bucket, key, ok = strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 URI: %q", uri)
	}
	return bucket, key, nil
}

// BaseName returns the final path element of a URI without its extension,
// used to derive crop filenames from their source image.
func BaseName(uri string) string {
	base := uri
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}
