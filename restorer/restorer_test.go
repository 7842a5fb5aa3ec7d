package restorer

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/backup/backupstore"
	"github.com/vaultkeeper/backup/blobstore"
	"github.com/vaultkeeper/backup/config"
	"github.com/vaultkeeper/backup/manifest"
	"github.com/vaultkeeper/backup/scratch"
	"github.com/vaultkeeper/backup/snapshotter"
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

func TestRestoreWritesBaseFileContent(t *testing.T) {
	store, sess := newHarness(t)
	root := t.TempDir()
	srcPath := filepath.Join(root, "note.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("original content"), 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.6}
	_, err := snapshotter.Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	destDir := t.TempDir()
	report, err := Restore(context.Background(), sess, store, regexp.MustCompile(".*"), 1<<62, destDir, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Restored)
	require.Empty(t, report.Failures)

	got, err := os.ReadFile(filepath.Join(destDir, srcPath))
	require.NoError(t, err)
	require.Equal(t, "original content", string(got))
}

func TestRestoreResolvesDiffChain(t *testing.T) {
	store, sess := newHarness(t)
	root := t.TempDir()
	srcPath := filepath.Join(root, "grows.txt")
	base := make([]byte, 0, 8192)
	for i := 0; i < 200; i++ {
		base = append(base, []byte("repeating filler content block ")...)
	}
	require.NoError(t, os.WriteFile(srcPath, base, 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.9}
	_, err := snapshotter.Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	grown := append(append([]byte{}, base...), []byte(" a small appended tail")...)
	require.NoError(t, os.WriteFile(srcPath, grown, 0o644))
	_, err = snapshotter.Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	destDir := t.TempDir()
	report, err := Restore(context.Background(), sess, store, regexp.MustCompile(".*"), 1<<62, destDir, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Restored)

	got, err := os.ReadFile(filepath.Join(destDir, srcPath))
	require.NoError(t, err)
	require.Equal(t, string(grown), string(got))
}

func TestRestoreDetectsCorruptReconstructedContent(t *testing.T) {
	store, sess := newHarness(t)
	root := t.TempDir()
	srcPath := filepath.Join(root, "note.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("original content"), 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.6}
	_, err := snapshotter.Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	entries, err := sess.Search(regexp.MustCompile(".*"), 1<<62)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	tampered := entries[0]
	tampered.SHA = "sha256:0000000000000000000000000000000000000000000000000000000000000000"
	tampered.CommitTime++
	require.NoError(t, sess.Insert(tampered))

	destDir := t.TempDir()
	report, err := Restore(context.Background(), sess, store, regexp.MustCompile(".*"), 1<<62, destDir, nil)
	require.NoError(t, err)
	require.Equal(t, 0, report.Restored)
	require.Len(t, report.Failures, 1)
	require.Contains(t, report.Failures[0].Reason, "corrupt")
}

func TestRestoreSkipsTombstonedFiles(t *testing.T) {
	store, sess := newHarness(t)
	root := t.TempDir()
	srcPath := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("temporary"), 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.6}
	_, err := snapshotter.Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(srcPath))
	_, err = snapshotter.Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	destDir := t.TempDir()
	report, err := Restore(context.Background(), sess, store, regexp.MustCompile(".*"), 1<<62, destDir, nil)
	require.NoError(t, err)
	require.Equal(t, 0, report.Restored)

	_, statErr := os.Stat(filepath.Join(destDir, srcPath))
	require.True(t, os.IsNotExist(statErr))
}
