package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
)

var (
	listName   string
	listSHA    string
	listBefore string
	listAfter  string
)

func init() {
	ListCmd.Flags().StringVarP(&listName, "name", "n", "", "backup set name (required)")
	ListCmd.Flags().StringVar(&listSHA, "sha", "", "only list entries whose content SHA starts with this prefix")
	ListCmd.Flags().StringVar(&listBefore, "before", "", "list as of this RFC3339 time (default: now)")
	ListCmd.Flags().StringVar(&listAfter, "after", "", "only list entries committed at or after this RFC3339 time")
	ListCmd.MarkFlagRequired("name")
}

// ListCmd prints every live path matching a pattern as of a point in time.
var ListCmd = &cobra.Command{
	Use:   "list --name <set> [--sha <prefix>] [--before <time>] [--after <time>] [pattern]",
	Short: "`list` prints paths known to a set's manifest",
	Long:  "`list` prints every live path matching pattern (default: everything) as of --before (or the latest commit), optionally filtered by --sha prefix and --after.",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig()
		if err != nil {
			fatalf("configuration error: %v", err)
		}
		set, err := resolveSet(cfg, listName)
		if err != nil {
			fatalf("%v", err)
		}

		patternStr := ".*"
		if len(args) == 1 {
			patternStr = args[0]
		}
		pattern, err := regexp.Compile(patternStr)
		if err != nil {
			fatalf("invalid pattern: %v", err)
		}

		before := int64(1 << 62)
		if listBefore != "" {
			before, err = parseTimeFlag(listBefore)
			if err != nil {
				fatalf("%v", err)
			}
		}
		var after int64
		if listAfter != "" {
			after, err = parseTimeFlag(listAfter)
			if err != nil {
				fatalf("%v", err)
			}
		}

		ctx := configureLogging(context.Background(), listName, set.LogLevel)

		sess, err := openSession(ctx, listName, set)
		if err != nil {
			fatalf("%v", err)
		}
		defer sess.Close()

		entries, err := sess.sess.Search(pattern, before)
		if err != nil {
			fatalf("list failed: %v", err)
		}

		for _, e := range entries {
			if e.CommitTime < after {
				continue
			}
			if listSHA != "" && !strings.HasPrefix(trimSHAPrefix(e.SHA), listSHA) {
				continue
			}
			fmt.Fprintf(os.Stdout, "%s\t%d\t%s\n", e.Path, e.Size, e.SHA)
		}
	},
}

// trimSHAPrefix strips a leading "sha256:" so --sha can be matched
// against the bare hex digest the same way a user would copy it from
// list's own output.
func trimSHAPrefix(sha string) string {
	for i := 0; i < len(sha); i++ {
		if sha[i] == ':' {
			return sha[i+1:]
		}
	}
	return sha
}
