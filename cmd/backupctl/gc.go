package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultkeeper/backup/gc"
)

var (
	gcName   string
	gcDryRun bool
)

func init() {
	GCCmd.Flags().StringVarP(&gcName, "name", "n", "", "backup set name (required)")
	GCCmd.Flags().BoolVarP(&gcDryRun, "dry-run", "d", false, "report what would be deleted without deleting it")
	GCCmd.MarkFlagRequired("name")
}

// GCCmd sweeps blobs no longer referenced by any live or historical
// manifest entry.
var GCCmd = &cobra.Command{
	Use:   "gc --name <set> [--dry-run]",
	Short: "`gc` deletes blobs not referenced by any manifest entry",
	Long:  "`gc` marks every blob reachable from a set's manifest history and sweeps everything else from the blob store.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig()
		if err != nil {
			fatalf("configuration error: %v", err)
		}
		set, err := resolveSet(cfg, gcName)
		if err != nil {
			fatalf("%v", err)
		}

		ctx := configureLogging(context.Background(), gcName, set.LogLevel)

		sess, err := openSession(ctx, gcName, set)
		if err != nil {
			fatalf("%v", err)
		}
		defer sess.Close()

		stats, err := gc.Run(ctx, sess.sess, sess.blobs, gc.Options{DryRun: gcDryRun})
		if err != nil {
			fatalf("gc failed: %v", err)
		}

		fmt.Fprintf(os.Stdout, "marked=%d total=%d deleted=%d dry_run=%t duration=%s\n",
			stats.BlobsMarked, stats.BlobsTotal, stats.BlobsDeleted, gcDryRun, stats.Duration)
	},
}
