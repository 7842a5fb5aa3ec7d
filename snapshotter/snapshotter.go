// Package snapshotter implements the engine's backup loop: a
// depth-first walk of a backup set's roots, classification of each path
// against the manifest, and encode+commit of whatever changed.
package snapshotter

import (
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/vaultkeeper/backup/backupstore"
	"github.com/vaultkeeper/backup/config"
	"github.com/vaultkeeper/backup/cryptopipe"
	"github.com/vaultkeeper/backup/diffcodec"
	"github.com/vaultkeeper/backup/digest"
	"github.com/vaultkeeper/backup/internal/engineerr"
	"github.com/vaultkeeper/backup/internal/logctx"
	"github.com/vaultkeeper/backup/manifest"
)

// Classification is the tagged-variant result of comparing a walked
// file's current content/metadata against its prior manifest entry.
type Classification int

const (
	New Classification = iota
	Unchanged
	MetadataOnly
	Changed
)

// classify is a pure function of the three pieces of state the decision
// actually depends on.
func classify(prior *manifest.Entry, stat fs.FileInfo, contentSHA string) Classification {
	if prior == nil || prior.IsTombstone() {
		return New
	}
	if prior.SHA == contentSHA {
		if prior.Mode != uint32(stat.Mode()) || prior.ModTime != stat.ModTime().UnixNano() {
			return MetadataOnly
		}
		return Unchanged
	}
	return Changed
}

// Report tallies the outcome of one Run.
type Report struct {
	Saved        int
	Unchanged    int
	MetadataOnly int
	Tombstoned   int
	Skipped      int
	Failures     []FileFailure
}

// FileFailure records a single per-file error that did not abort the run.
type FileFailure struct {
	Path   string
	Reason string
}

// CheckpointFunc publishes the current state of sess mid-run, without
// requiring the caller to close it first. Run invokes it every
// CheckpointEveryFiles processed files and every CheckpointInterval of
// wall-clock time, whichever comes first.
type CheckpointFunc func(ctx context.Context, sess *manifest.DB) error

// Run walks set's roots and updates sess to reflect the current state of
// the filesystem, saving changed content through store. checkpoint may
// be nil, in which case no mid-run publish happens and the caller is
// responsible for publishing sess itself once Run returns.
func Run(ctx context.Context, set config.BackupSet, sess *manifest.DB, store *backupstore.Store, pub *rsa.PublicKey, checkpoint CheckpointFunc) (Report, error) {
	logger := logctx.From(ctx)
	var report Report
	seen := make(map[string]struct{})
	now := time.Now().UnixNano()

	opts := backupstore.Options{Compress: set.UseCompression, Encrypt: set.UseEncryption}

	filesSinceCheckpoint := 0
	lastCheckpoint := time.Now()

	for _, root := range set.Roots {
		if err := walkRoot(ctx, root, set, func(path string, stat fs.FileInfo) error {
			select {
			case <-ctx.Done():
				return engineerr.CancelRequested{}
			default:
			}

			for _, re := range set.Exclusions() {
				if re.MatchString(path) {
					return nil
				}
			}
			seen[path] = struct{}{}

			if err := processPath(ctx, path, stat, sess, store, opts, pub, set, now, &report); err != nil {
				report.Skipped++
				report.Failures = append(report.Failures, FileFailure{Path: path, Reason: err.Error()})
				logger.WithField("path", path).WithField("err", err).Warn("skipping file")
			}
			if !stat.IsDir() {
				filesSinceCheckpoint++
			}

			if checkpoint != nil && set.CheckpointEveryFiles > 0 &&
				(filesSinceCheckpoint >= set.CheckpointEveryFiles || time.Since(lastCheckpoint) >= set.CheckpointInterval) {
				if err := checkpoint(ctx, sess); err != nil {
					logger.WithField("err", err).Warn("checkpoint publish failed, continuing")
				}
				filesSinceCheckpoint = 0
				lastCheckpoint = time.Now()
			}
			return nil
		}); err != nil {
			return report, err
		}
	}

	if err := tombstoneUnseen(sess, seen, now); err != nil {
		return report, fmt.Errorf("snapshotter: tombstone pass: %w", err)
	}
	report.Tombstoned = countTombstones(sess, seen, now)

	if checkpoint != nil {
		if err := checkpoint(ctx, sess); err != nil {
			logger.WithField("err", err).Warn("final checkpoint publish failed")
		}
	}

	return report, nil
}

func processPath(ctx context.Context, path string, stat fs.FileInfo, sess *manifest.DB, store *backupstore.Store, opts backupstore.Options, pub *rsa.PublicKey, set config.BackupSet, now int64, report *Report) error {
	if stat.IsDir() {
		return nil
	}

	prior, hasPrior, err := sess.GetEntry(path, now)
	if err != nil {
		return fmt.Errorf("lookup prior entry: %w", err)
	}
	var priorPtr *manifest.Entry
	if hasPrior {
		priorPtr = &prior
	}

	sha, err := hashWithRaceCheck(path, stat, set.MaxRaceRetries)
	if err != nil {
		return err
	}

	cls := classify(priorPtr, stat, sha)

	switch cls {
	case Unchanged:
		report.Unchanged++
		return nil
	case MetadataOnly:
		ts, err := sess.NextCommitTime()
		if err != nil {
			return err
		}
		entry := *priorPtr
		entry.CommitTime = ts
		entry.Mode = uint32(stat.Mode())
		entry.ModTime = stat.ModTime().UnixNano()
		if err := sess.Insert(entry); err != nil {
			return err
		}
		report.MetadataOnly++
		return nil
	case New:
		return saveNew(ctx, path, stat, sess, store, opts, pub, report)
	case Changed:
		return saveChanged(ctx, path, stat, priorPtr, sha, sess, store, opts, pub, set, report)
	}
	return nil
}

func saveNew(ctx context.Context, path string, stat fs.FileInfo, sess *manifest.DB, store *backupstore.Store, opts backupstore.Options, pub *rsa.PublicKey, report *Report) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	sha, sk, err := store.Save(ctx, f, opts, pub)
	if err != nil {
		return fmt.Errorf("save blob: %w", err)
	}

	ts, err := sess.NextCommitTime()
	if err != nil {
		return err
	}
	err = sess.Insert(manifest.Entry{
		Path:       path,
		CommitTime: ts,
		SHA:        sha,
		BlobSHA:    sha,
		Kind:       manifest.KindBase,
		Size:       stat.Size(),
		Mode:       uint32(stat.Mode()),
		ModTime:    stat.ModTime().UnixNano(),
		WrappedKey: sk.WrappedKey,
		Nonce:      sk.Nonce,
		Compressed: opts.Compress,
	})
	if err != nil {
		return err
	}
	report.Saved++
	return nil
}

func saveChanged(ctx context.Context, path string, stat fs.FileInfo, prior *manifest.Entry, currentSHA string, sess *manifest.DB, store *backupstore.Store, opts backupstore.Options, pub *rsa.PublicKey, set config.BackupSet, report *Report) error {
	current, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	kind := manifest.KindBase
	parentSHA := ""
	var payload []byte

	// Only a base prior's blob holds the prior plaintext (a diff prior's
	// blob holds patch bytes), so a patch is computed only against a base
	// prior; a file whose latest entry is a diff is saved as a new base.
	// The prior is loaded without a private key, so an encrypted prior
	// also leads to a base save.
	if prior.Kind == manifest.KindBase {
		priorSK := cryptopipe.SealedKey{WrappedKey: prior.WrappedKey, Nonce: prior.Nonce}
		if priorRC, err := store.Load(ctx, prior.BlobSHA, priorSK, prior.Compressed, nil); err == nil {
			priorPlain, readErr := io.ReadAll(priorRC)
			priorRC.Close()
			if readErr == nil {
				patch := diffcodec.Diff(priorPlain, current)
				if diffcodec.IsWorthwhile(len(patch), len(current), set.DiffSizeMargin) {
					kind = manifest.KindDiff
					parentSHA = prior.SHA
					payload = patch
				}
			}
		}
	}
	if payload == nil {
		payload = current
	}

	sha, sk, err := store.Save(ctx, bytes.NewReader(payload), opts, pub)
	if err != nil {
		return fmt.Errorf("save blob: %w", err)
	}

	ts, err := sess.NextCommitTime()
	if err != nil {
		return err
	}

	entrySHA := sha
	if kind == manifest.KindDiff {
		// A diff entry is still identified by the SHA of the *target*
		// plaintext for dedup/resolution purposes: currentSHA identifies
		// the file content and is what later entries chain to via
		// parent_sha, while sha (kept in BlobSHA) is the address the
		// patch bytes were actually stored under.
		entrySHA = currentSHA
	}

	err = sess.Insert(manifest.Entry{
		Path:       path,
		CommitTime: ts,
		SHA:        entrySHA,
		BlobSHA:    sha,
		Kind:       kind,
		ParentSHA:  parentSHA,
		Size:       stat.Size(),
		Mode:       uint32(stat.Mode()),
		ModTime:    stat.ModTime().UnixNano(),
		WrappedKey: sk.WrappedKey,
		Nonce:      sk.Nonce,
		Compressed: opts.Compress,
	})
	if err != nil {
		return err
	}
	report.Saved++
	return nil
}

func hashWithRaceCheck(path string, stat fs.FileInfo, maxRetries int) (string, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open: %w", err)
		}
		verifier := digest.NewVerifier()
		_, err = io.Copy(verifier, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hash: %w", err)
		}

		recheck, err := os.Lstat(path)
		if err != nil {
			return "", fmt.Errorf("recheck stat: %w", err)
		}
		if recheck.Size() == stat.Size() && recheck.ModTime().Equal(stat.ModTime()) {
			return verifier.Digest().String(), nil
		}
		stat = recheck
	}
	return "", engineerr.FileRaceError{Path: path}
}

func tombstoneUnseen(sess *manifest.DB, seen map[string]struct{}, now int64) error {
	all, err := sess.Search(regexp.MustCompile(".*"), now)
	if err != nil {
		return err
	}
	for _, e := range all {
		if _, ok := seen[e.Path]; ok {
			continue
		}
		ts, err := sess.NextCommitTime()
		if err != nil {
			return err
		}
		if err := sess.Tombstone(e.Path, ts); err != nil {
			return err
		}
	}
	return nil
}

func countTombstones(sess *manifest.DB, seen map[string]struct{}, now int64) int {
	all, err := sess.Search(regexp.MustCompile(".*"), now)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range all {
		if _, ok := seen[e.Path]; !ok {
			n++
		}
	}
	return n
}

// walkRoot performs a sorted, depth-first walk of root (filepath.WalkDir
// already visits children in lexical order), calling f for every entry.
// An excluded directory is pruned entirely via the fs.SkipDir sentinel.
func walkRoot(ctx context.Context, root string, set config.BackupSet, f func(path string, stat fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // per-file isolation: unreadable entries are skipped, not fatal
		}
		if d.IsDir() && path != root {
			for _, re := range set.Exclusions() {
				if re.MatchString(path) {
					return fs.SkipDir
				}
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return f(path, info)
	})
}
