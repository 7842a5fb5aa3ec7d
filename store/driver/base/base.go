// Package base wraps a driver.StorageDriver with common path validation
// and duration logging, the same role the registry's storage driver base
// package plays for its backends. Concrete backends embed Base through a
// private baseEmbed struct so Driver satisfies driver.StorageDriver
// without exporting the embed.
package base

import (
	"context"
	"io"
	"regexp"
	"time"

	"github.com/vaultkeeper/backup/internal/logctx"
	"github.com/vaultkeeper/backup/store/driver"
)

// PathRegexp matches the absolute, slash-separated paths the engine
// writes blobs and manifests under.
var PathRegexp = regexp.MustCompile(`^(/[A-Za-z0-9._-]+)+$`)

// InvalidPathError reports a path that fails PathRegexp.
type InvalidPathError struct {
	Path string
}

func (e InvalidPathError) Error() string {
	return "invalid path: " + e.Path
}

// Base wraps an underlying driver.StorageDriver with path validation and
// per-call duration logging.
type Base struct {
	driver.StorageDriver
}

func durationDebugLog(ctx context.Context, method string) func() {
	started := time.Now()
	return func() {
		logctx.From(ctx).WithField("duration", time.Since(started)).Debug("driver." + method)
	}
}

func (b *Base) GetContent(ctx context.Context, path string) ([]byte, error) {
	if !PathRegexp.MatchString(path) {
		return nil, InvalidPathError{Path: path}
	}
	defer durationDebugLog(ctx, "GetContent")()
	return b.StorageDriver.GetContent(ctx, path)
}

func (b *Base) PutContent(ctx context.Context, path string, content []byte) error {
	if !PathRegexp.MatchString(path) {
		return InvalidPathError{Path: path}
	}
	defer durationDebugLog(ctx, "PutContent")()
	return b.StorageDriver.PutContent(ctx, path, content)
}

func (b *Base) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, driver.InvalidOffsetError{Path: path, Offset: offset}
	}
	if !PathRegexp.MatchString(path) {
		return nil, InvalidPathError{Path: path}
	}
	defer durationDebugLog(ctx, "Reader")()
	return b.StorageDriver.Reader(ctx, path, offset)
}

func (b *Base) Writer(ctx context.Context, path string, r io.Reader) error {
	if !PathRegexp.MatchString(path) {
		return InvalidPathError{Path: path}
	}
	defer durationDebugLog(ctx, "Writer")()
	return b.StorageDriver.Writer(ctx, path, r)
}

func (b *Base) Stat(ctx context.Context, path string) (driver.FileInfo, error) {
	if !PathRegexp.MatchString(path) {
		return driver.FileInfo{}, InvalidPathError{Path: path}
	}
	defer durationDebugLog(ctx, "Stat")()
	return b.StorageDriver.Stat(ctx, path)
}

func (b *Base) List(ctx context.Context, path string) ([]string, error) {
	if !PathRegexp.MatchString(path) && path != "/" {
		return nil, InvalidPathError{Path: path}
	}
	defer durationDebugLog(ctx, "List")()
	return b.StorageDriver.List(ctx, path)
}

func (b *Base) Move(ctx context.Context, sourcePath, destPath string) error {
	if !PathRegexp.MatchString(sourcePath) {
		return InvalidPathError{Path: sourcePath}
	}
	if !PathRegexp.MatchString(destPath) {
		return InvalidPathError{Path: destPath}
	}
	defer durationDebugLog(ctx, "Move")()
	return b.StorageDriver.Move(ctx, sourcePath, destPath)
}

func (b *Base) Delete(ctx context.Context, path string) error {
	if !PathRegexp.MatchString(path) {
		return InvalidPathError{Path: path}
	}
	defer durationDebugLog(ctx, "Delete")()
	return b.StorageDriver.Delete(ctx, path)
}
