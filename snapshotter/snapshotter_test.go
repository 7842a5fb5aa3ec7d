package snapshotter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/backup/backupstore"
	"github.com/vaultkeeper/backup/blobstore"
	"github.com/vaultkeeper/backup/config"
	"github.com/vaultkeeper/backup/manifest"
	"github.com/vaultkeeper/backup/scratch"
	"github.com/vaultkeeper/backup/store/driver/filesystem"
)

func newHarness(t *testing.T) (*backupstore.Store, *manifest.DB) {
	t.Helper()
	area, err := scratch.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { area.Close() })

	blobs := blobstore.New(filesystem.New(t.TempDir()))
	store := backupstore.New(blobs, area)

	sess, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	return store, sess
}

func TestClassifyNewAndUnchanged(t *testing.T) {
	require.Equal(t, New, classify(nil, nil, "sha256:x"))

	f := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	stat, err := os.Lstat(f)
	require.NoError(t, err)
	prior := &manifest.Entry{SHA: "sha256:x", Mode: uint32(stat.Mode()), ModTime: stat.ModTime().UnixNano()}
	require.Equal(t, Unchanged, classify(prior, stat, "sha256:x"))
}

func TestRunSavesNewFilesAndDetectsUnchanged(t *testing.T) {
	store, sess := newHarness(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.6}

	report, err := Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Saved)

	report2, err := Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, report2.Saved)
	require.Equal(t, 1, report2.Unchanged)
}

func TestRunTombstonesDeletedFiles(t *testing.T) {
	store, sess := newHarness(t)
	root := t.TempDir()
	filePath := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("temporary"), 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.6}
	_, err := Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filePath))
	report, err := Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Tombstoned)
}

func TestRunSavesDiffForChangedFile(t *testing.T) {
	store, sess := newHarness(t)
	root := t.TempDir()
	filePath := filepath.Join(root, "grows.txt")
	base := make([]byte, 0, 8192)
	for i := 0; i < 200; i++ {
		base = append(base, []byte("repeating filler content block ")...)
	}
	require.NoError(t, os.WriteFile(filePath, base, 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.9}
	_, err := Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	grown := append(append([]byte{}, base...), []byte(" a small appended tail")...)
	require.NoError(t, os.WriteFile(filePath, grown, 0o644))

	report, err := Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Saved)

	hist, err := sess.History(filePath)
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestRunInvokesCheckpointEveryFile(t *testing.T) {
	store, sess := newHarness(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("c"), 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.6, CheckpointEveryFiles: 1, CheckpointInterval: time.Hour}

	calls := 0
	checkpoint := func(ctx context.Context, db *manifest.DB) error {
		calls++
		return nil
	}

	report, err := Run(context.Background(), set, sess, store, nil, checkpoint)
	require.NoError(t, err)
	require.Equal(t, 3, report.Saved)
	require.GreaterOrEqual(t, calls, 3)
}

func TestRunSkipsCheckpointWhenNil(t *testing.T) {
	store, sess := newHarness(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.6, CheckpointEveryFiles: 1}

	_, err := Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)
}
