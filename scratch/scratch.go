// Package scratch manages the per-run temporary working area the engine
// uses to stage intermediate plaintext and ciphertext before a blob is
// durably published, the backup engine's analogue of the registry's
// upload staging directory.
package scratch

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Area is a private directory tied to a single run. It must be released
// with Close on every exit path.
type Area struct {
	dir string
}

// Open creates a fresh scratch directory under baseDir (os.TempDir() if
// empty).
func Open(baseDir string) (*Area, error) {
	pattern := "backupctl-*"
	dir, err := os.MkdirTemp(baseDir, pattern)
	if err != nil {
		return nil, err
	}
	return &Area{dir: dir}, nil
}

// NewFile allocates a fresh, empty scratch file for staging a single
// blob's intermediate bytes.
func (a *Area) NewFile() (*os.File, error) {
	return os.OpenFile(filepath.Join(a.dir, uuid.NewString()), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
}

// Close removes the entire scratch directory and everything staged in it.
func (a *Area) Close() error {
	return os.RemoveAll(a.dir)
}
