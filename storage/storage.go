// Package storage provides the object-storage sink for video chunks.
package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// ObjectStorage is the chunk sink contract: upload a local file, hand out
// public or signed URLs, delete objects. The R2 implementation is the
// production backend; tests substitute an in-memory fake.
type ObjectStorage interface {
	// Upload stores a local file under the remote key. With upsert set,
	// an already existing object is treated as success.
	Upload(ctx context.Context, localPath, remotePath, contentType string, upsert bool) error

	// CreateSignedURL returns a time-limited URL for the object.
	CreateSignedURL(remotePath string, ttl time.Duration) (string, error)

	// GetPublicURL returns the public URL for the object.
	GetPublicURL(remotePath string) string

	// DeleteObject removes the object.
	DeleteObject(ctx context.Context, remotePath string) error
}

// EnsurePath creates the directory structure if it doesn't exist.
func EnsurePath(basePath string, subDirs ...string) (string, error) {
	fullPath := filepath.Join(append([]string{basePath}, subDirs...)...)
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return "", err
	}
	return fullPath, nil
}
