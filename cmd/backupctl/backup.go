package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultkeeper/backup/backupstore"
	"github.com/vaultkeeper/backup/manifest"
	"github.com/vaultkeeper/backup/snapshotter"
)

var backupName string

func init() {
	BackupCmd.Flags().StringVarP(&backupName, "name", "n", "", "backup set name (required)")
	BackupCmd.MarkFlagRequired("name")
}

// BackupCmd runs a single backup pass over a configured set.
var BackupCmd = &cobra.Command{
	Use:   "backup --name <set>",
	Short: "`backup` walks a configured set's roots and saves what changed",
	Long:  "`backup` walks a configured set's roots, saves changed or new content, and commits the manifest.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig()
		if err != nil {
			fatalf("configuration error: %v", err)
		}
		set, err := resolveSet(cfg, backupName)
		if err != nil {
			fatalf("%v", err)
		}

		ctx := configureLogging(context.Background(), backupName, set.LogLevel)

		sess, err := openSession(ctx, backupName, set)
		if err != nil {
			fatalf("%v", err)
		}
		defer sess.Close()

		manifestOpts := backupstore.ManifestOptions{
			Compress:            set.UseCompression,
			Encrypt:             set.UseEncryption,
			MaxManifestVersions: set.MaxManifestVersions,
		}
		checkpoint := func(ctx context.Context, db *manifest.DB) error {
			_, err := sess.store.SaveManifestSnapshot(ctx, backupName, db, manifestOpts, sess.pub)
			return err
		}

		report, err := snapshotter.Run(ctx, set, sess.sess, sess.store, sess.pub, checkpoint)
		if err != nil {
			fatalf("backup failed: %v", err)
		}

		// SaveManifestDB reads the bbolt file directly off disk, so the
		// database must be closed (flushing its last transaction) before
		// publishing the final generation. dbPath is wherever the session
		// actually opened the manifest from (the recovered generation's
		// scratch file, or set.ManifestPath on a set's first run), not
		// necessarily set.ManifestPath itself.
		dbPath := sess.sess.Path()
		if err := sess.sess.Close(); err != nil {
			fatalf("failed to close manifest before publish: %v", err)
		}
		if _, err := sess.store.SaveManifestDB(ctx, backupName, dbPath, manifestOpts, sess.pub); err != nil {
			fatalf("failed to publish manifest: %v", err)
		}

		fmt.Fprintf(os.Stdout, "saved=%d unchanged=%d metadata_only=%d tombstoned=%d skipped=%d\n",
			report.Saved, report.Unchanged, report.MetadataOnly, report.Tombstoned, report.Skipped)
		for _, f := range report.Failures {
			fmt.Fprintf(os.Stderr, "skipped %s: %s\n", f.Path, f.Reason)
		}
	},
}
