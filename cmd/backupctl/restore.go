package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vaultkeeper/backup/restorer"
)

const restoreConfirmText = "This will overwrite existing files under --dest. Proceed? [y/n]: "

var (
	restoreName   string
	restoreDest   string
	restoreBefore string
	restoreYes    bool
)

func init() {
	RestoreCmd.Flags().StringVarP(&restoreName, "name", "n", "", "backup set name (required)")
	RestoreCmd.Flags().StringVarP(&restoreDest, "dest", "d", "", "directory to restore into (required)")
	RestoreCmd.Flags().StringVar(&restoreBefore, "before", "", "restore as of this RFC3339 time (default: now)")
	RestoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "skip the overwrite confirmation prompt")
	RestoreCmd.MarkFlagRequired("name")
	RestoreCmd.MarkFlagRequired("dest")
}

// RestoreCmd reconstructs matching files as of a point in time.
var RestoreCmd = &cobra.Command{
	Use:   "restore --name <set> --dest <dir> [--before <time>] [--yes] <pattern>",
	Short: "`restore` writes files matching pattern back to disk",
	Long:  "`restore` resolves every path matching pattern as of --before (or the latest commit) and writes its content under --dest.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig()
		if err != nil {
			fatalf("configuration error: %v", err)
		}
		set, err := resolveSet(cfg, restoreName)
		if err != nil {
			fatalf("%v", err)
		}

		pattern, err := regexp.Compile(args[0])
		if err != nil {
			fatalf("invalid pattern: %v", err)
		}

		before := int64(1 << 62)
		if restoreBefore != "" {
			before, err = parseTimeFlag(restoreBefore)
			if err != nil {
				fatalf("%v", err)
			}
		}

		if !restoreYes && !confirmRestore(os.Stdin, os.Stdout) {
			fmt.Fprintln(os.Stdout, "restore aborted")
			return
		}

		ctx := configureLogging(context.Background(), restoreName, set.LogLevel)

		sess, err := openSession(ctx, restoreName, set)
		if err != nil {
			fatalf("%v", err)
		}
		defer sess.Close()

		report, err := restorer.Restore(ctx, sess.sess, sess.store, pattern, before, restoreDest, sess.priv)
		if err != nil {
			fatalf("restore failed: %v", err)
		}

		fmt.Fprintf(os.Stdout, "restored=%d skipped=%d\n", report.Restored, report.Skipped)
		for _, f := range report.Failures {
			fmt.Fprintf(os.Stderr, "failed %s: %s\n", f.Path, f.Reason)
		}
	},
}

// confirmRestore prompts for an explicit y/n answer before writing
// anything under --dest, mirroring the prune command's own confirmation
// idiom for a destructive, hard-to-undo operation.
func confirmRestore(in io.Reader, out io.Writer) bool {
	answer := ""
	for answer != "n" && answer != "y" {
		fmt.Fprint(out, restoreConfirmText)
		answer = strings.ToLower(strings.TrimSpace(readRestoreInput(in, out)))
	}
	return answer == "y"
}

func readRestoreInput(in io.Reader, out io.Writer) string {
	reader := bufio.NewReader(in)
	line, _, err := reader.ReadLine()
	if err != nil {
		fmt.Fprintln(out, err.Error())
		os.Exit(1)
	}
	return string(line)
}
