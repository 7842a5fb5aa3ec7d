// Package driver defines the StorageDriver contract the backup engine
// requires of any backend: a flat, path-addressed byte store with
// atomic publish semantics. It is the backup engine's analogue of the
// registry's storagedriver.StorageDriver interface.
package driver

import (
	"context"
	"fmt"
	"io"
)

// StorageDriver is the interface every backend (local filesystem,
// object store) must implement. All paths are absolute, slash-separated
// keys; backends are free to map them onto their own namespace.
type StorageDriver interface {
	// Name identifies the driver, matching the "type" key under a backup
	// set's protocol configuration.
	Name() string

	// GetContent retrieves the content stored at path in full. Intended
	// for small objects only (manifests, not blobs).
	GetContent(ctx context.Context, path string) ([]byte, error)

	// PutContent atomically publishes content at path: a concurrent or
	// later Stat/GetContent on path observes either nothing or the
	// complete content, never a partial write.
	PutContent(ctx context.Context, path string, content []byte) error

	// Reader returns a stream of the content stored at path, starting at
	// offset.
	Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error)

	// Writer atomically publishes the bytes read from r as the content
	// of path.
	Writer(ctx context.Context, path string, r io.Reader) error

	// Stat reports metadata for path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the direct children of path.
	List(ctx context.Context, path string) ([]string, error)

	// Move atomically relocates the object at sourcePath to destPath,
	// removing sourcePath.
	Move(ctx context.Context, sourcePath, destPath string) error

	// Delete removes path and any children.
	Delete(ctx context.Context, path string) error
}

// FileInfo is the subset of file metadata the engine needs back from a
// backend: enough to support the blob-store's exists/list bookkeeping.
type FileInfo struct {
	Path    string
	Size    int64
	IsDir   bool
	ModTime int64 // unix nanoseconds
}

// PathNotFoundError is returned when operating on a path the backend
// does not have.
type PathNotFoundError struct {
	Path string
}

func (e PathNotFoundError) Error() string {
	return fmt.Sprintf("path not found: %s", e.Path)
}

// InvalidOffsetError is returned for a Reader offset the backend cannot
// seek to; base.Base returns it for any negative offset.
type InvalidOffsetError struct {
	Path   string
	Offset int64
}

func (e InvalidOffsetError) Error() string {
	return fmt.Sprintf("invalid offset %d for path: %s", e.Offset, e.Path)
}
