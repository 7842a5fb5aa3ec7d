// Package filesystem implements a local-disk StorageDriver. All writes
// stage to a uuid-suffixed temporary name and are moved into place with
// os.Rename, giving the atomic-publish guarantee the blob store requires,
// following the registry filesystem driver's stage-then-rename idiom.
package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/vaultkeeper/backup/store/driver"
	"github.com/vaultkeeper/backup/store/driver/base"
	"github.com/vaultkeeper/backup/store/driver/factory"
)

const driverName = "filesystem"

func init() {
	factory.Register(driverName, &filesystemFactory{})
}

type filesystemFactory struct{}

func (filesystemFactory) Create(parameters map[string]interface{}) (driver.StorageDriver, error) {
	root, _ := parameters["rootdirectory"].(string)
	if root == "" {
		return nil, fmt.Errorf("filesystem driver: rootdirectory is required")
	}
	return New(root), nil
}

// baseEmbed shields the base.Base embed from other packages, exactly as
// the registry's own filesystem driver does.
type baseEmbed struct {
	base.Base
}

// Driver is a driver.StorageDriver backed by a local directory tree. It
// proxies through base.Base for path validation before reaching driverImpl.
type Driver struct {
	baseEmbed
}

// New constructs a Driver rooted at root.
func New(root string) *Driver {
	return &Driver{baseEmbed{base.Base{StorageDriver: &driverImpl{root: root}}}}
}

// driverImpl does the actual filesystem work; Driver reaches it only
// through base.Base's validation wrapper.
type driverImpl struct {
	root string
}

func (d *driverImpl) Name() string { return driverName }

func (d *driverImpl) fullPath(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(p))
}

func (d *driverImpl) GetContent(ctx context.Context, path string) ([]byte, error) {
	rc, err := d.Reader(ctx, path, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (d *driverImpl) PutContent(ctx context.Context, path string, content []byte) error {
	return d.Writer(ctx, path, bytes.NewReader(content))
}

func (d *driverImpl) Writer(ctx context.Context, path string, r io.Reader) error {
	full := d.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.%s.tmp", full, uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (d *driverImpl) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	full := d.fullPath(path)
	f, err := os.OpenFile(full, os.O_RDONLY, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, driver.PathNotFoundError{Path: path}
		}
		return nil, err
	}

	if offset > 0 {
		pos, err := f.Seek(offset, io.SeekStart)
		if err != nil {
			f.Close()
			return nil, err
		}
		if pos < offset {
			f.Close()
			return nil, driver.InvalidOffsetError{Path: path, Offset: offset}
		}
	}
	return f, nil
}

func (d *driverImpl) Stat(ctx context.Context, path string) (driver.FileInfo, error) {
	full := d.fullPath(path)
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return driver.FileInfo{}, driver.PathNotFoundError{Path: path}
		}
		return driver.FileInfo{}, err
	}
	return driver.FileInfo{
		Path:    path,
		Size:    fi.Size(),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime().UnixNano(),
	}, nil
}

func (d *driverImpl) List(ctx context.Context, path string) ([]string, error) {
	full := d.fullPath(path)
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, driver.PathNotFoundError{Path: path}
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, filepath.ToSlash(filepath.Join(path, e.Name())))
	}
	sort.Strings(out)
	return out, nil
}

func (d *driverImpl) Move(ctx context.Context, sourcePath, destPath string) error {
	source := d.fullPath(sourcePath)
	dest := d.fullPath(destPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o777); err != nil {
		return err
	}
	if err := os.Rename(source, dest); err != nil {
		if os.IsNotExist(err) {
			return driver.PathNotFoundError{Path: sourcePath}
		}
		return err
	}
	return nil
}

func (d *driverImpl) Delete(ctx context.Context, path string) error {
	full := d.fullPath(path)
	err := os.RemoveAll(full)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
