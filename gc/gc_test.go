package gc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
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

func newHarness(t *testing.T) (*backupstore.Store, *manifest.DB, blobstore.Store) {
	t.Helper()
	area, err := scratch.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { area.Close() })

	blobs := blobstore.New(filesystem.New(t.TempDir()))
	store := backupstore.New(blobs, area)

	sess, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	return store, sess, blobs
}

func orphanDigest() string {
	return "sha256:" + strings.Repeat("a", 64)
}

func TestRunKeepsLiveBlobAndSweepsOrphan(t *testing.T) {
	store, sess, blobs := newHarness(t)
	root := t.TempDir()
	filePath := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("kept content"), 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.6}
	_, err := snapshotter.Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	orphan := orphanDigest()
	require.NoError(t, blobs.Put(context.Background(), orphan, strings.NewReader("orphan bytes")))

	stats, err := Run(context.Background(), sess, blobs, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.BlobsDeleted)
	require.Contains(t, stats.DeletedDigests, orphan)

	exists, err := blobs.Exists(context.Background(), orphan)
	require.NoError(t, err)
	require.False(t, exists)

	history, err := sess.History(filePath)
	require.NoError(t, err)
	require.Len(t, history, 1)
	liveExists, err := blobs.Exists(context.Background(), history[0].BlobSHA)
	require.NoError(t, err)
	require.True(t, liveExists)
}

func TestRunKeepsTombstonedPathsHistoricalBlobs(t *testing.T) {
	store, sess, blobs := newHarness(t)
	root := t.TempDir()
	filePath := filepath.Join(root, "deleted-later.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("pre-deletion content"), 0o644))

	set := config.BackupSet{Roots: []string{root}, MaxRaceRetries: 2, DiffSizeMargin: 0.6}
	_, err := snapshotter.Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	history, err := sess.History(filePath)
	require.NoError(t, err)
	require.Len(t, history, 1)
	preDeletionBlob := history[0].BlobSHA

	require.NoError(t, os.Remove(filePath))
	_, err = snapshotter.Run(context.Background(), set, sess, store, nil, nil)
	require.NoError(t, err)

	stats, err := Run(context.Background(), sess, blobs, Options{})
	require.NoError(t, err)
	require.Zero(t, stats.BlobsDeleted, "gc must not sweep a tombstoned path's pre-deletion history")

	exists, err := blobs.Exists(context.Background(), preDeletionBlob)
	require.NoError(t, err)
	require.True(t, exists, "pre-deletion blob must survive so prior-timestamp restores still work")
}

func TestRunDryRunDoesNotDelete(t *testing.T) {
	_, sess, blobs := newHarness(t)
	orphan := orphanDigest()
	require.NoError(t, blobs.Put(context.Background(), orphan, strings.NewReader("orphan bytes")))

	stats, err := Run(context.Background(), sess, blobs, Options{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 0, stats.BlobsDeleted)
	require.Contains(t, stats.DeletedDigests, orphan)

	exists, err := blobs.Exists(context.Background(), orphan)
	require.NoError(t, err)
	require.True(t, exists)
}
