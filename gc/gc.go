// Package gc implements mark-and-sweep garbage collection over a backup
// set's blob store: every blob reachable from the manifest is marked,
// everything else is swept, following the same two-phase shape the
// teacher's registry/storage garbage collector uses for layer content.
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultkeeper/backup/blobstore"
	"github.com/vaultkeeper/backup/internal/logctx"
	"github.com/vaultkeeper/backup/manifest"
)

const hexDigits = "0123456789abcdef"

// Options controls a single Run.
type Options struct {
	// DryRun reports what would be deleted without deleting it.
	DryRun bool
}

// Stats summarizes one Run.
type Stats struct {
	BlobsMarked    int
	BlobsTotal     int
	BlobsDeleted   int
	Duration       time.Duration
	DeletedDigests []string
}

// Run marks every blob reachable from sess's manifest (every generation
// of every path, not just the latest, since an older generation may
// still be a live parent_sha in a diff chain) and sweeps any blob in
// blobs that was not marked.
func Run(ctx context.Context, sess *manifest.DB, blobs blobstore.Store, opts Options) (Stats, error) {
	logger := logctx.From(ctx)
	start := time.Now()
	var stats Stats

	marked, err := markReferenced(sess)
	if err != nil {
		return stats, fmt.Errorf("gc: mark phase: %w", err)
	}
	stats.BlobsMarked = len(marked)

	all, err := enumerateAllBlobs(ctx, blobs)
	if err != nil {
		return stats, fmt.Errorf("gc: enumerate blobs: %w", err)
	}
	stats.BlobsTotal = len(all)

	for _, sha := range all {
		if _, ok := marked[sha]; ok {
			continue
		}
		if opts.DryRun {
			stats.DeletedDigests = append(stats.DeletedDigests, sha)
			continue
		}
		if err := blobs.Delete(ctx, sha); err != nil {
			logger.WithField("sha", sha).WithField("err", err).Warn("failed to delete unreferenced blob")
			continue
		}
		stats.BlobsDeleted++
		stats.DeletedDigests = append(stats.DeletedDigests, sha)
	}

	stats.Duration = time.Since(start)
	logger.WithField("marked", stats.BlobsMarked).
		WithField("total", stats.BlobsTotal).
		WithField("deleted", stats.BlobsDeleted).
		WithField("dry_run", opts.DryRun).
		Info("garbage collection complete")
	return stats, nil
}

// markReferenced walks every generation of every path ever recorded
// (not just the latest) and marks the blob address each one was stored
// under. Every non-tombstone generation is marked, whether or not a
// later diff chains to it.
func markReferenced(sess *manifest.DB) (map[string]struct{}, error) {
	marked := make(map[string]struct{})
	paths, err := allPaths(sess)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		history, err := sess.History(path)
		if err != nil {
			return nil, fmt.Errorf("history for %s: %w", path, err)
		}
		for _, e := range history {
			if e.IsTombstone() {
				continue
			}
			marked[e.BlobSHA] = struct{}{}
		}
	}
	return marked, nil
}

// allPaths returns every distinct path ever recorded, live or deleted.
// manifest.DB.Search excludes tombstoned paths from its results (it
// answers "what exists as of this time", not "what ever existed"), so
// the mark phase uses manifest.DB.AllPaths instead: a tombstoned path's
// pre-deletion history still chains blobs a diff further down that
// path's own History() may depend on, and those must stay marked.
func allPaths(sess *manifest.DB) ([]string, error) {
	return sess.AllPaths()
}

// enumerateAllBlobs lists every stored blob by walking all 256
// two-hex-digit shard directories, since blobstore.List requires a
// prefix rather than offering a flat enumeration.
func enumerateAllBlobs(ctx context.Context, blobs blobstore.Store) ([]string, error) {
	var out []string
	for _, hi := range hexDigits {
		for _, lo := range hexDigits {
			shard := string(hi) + string(lo)
			names, err := blobs.List(ctx, shard)
			if err != nil {
				return nil, err
			}
			out = append(out, names...)
		}
	}
	return out, nil
}
