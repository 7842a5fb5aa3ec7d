package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultkeeper/backup/config"
	"github.com/vaultkeeper/backup/internal/logctx"
	"github.com/vaultkeeper/backup/version"
)

var configPath string

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to backupctl YAML configuration")
	RootCmd.MarkPersistentFlagRequired("config")

	RootCmd.AddCommand(BackupCmd)
	RootCmd.AddCommand(RestoreCmd)
	RootCmd.AddCommand(ListCmd)
	RootCmd.AddCommand(GCCmd)
	RootCmd.AddCommand(KeygenCmd)
}

// RootCmd is the main command for the backupctl binary.
var RootCmd = &cobra.Command{
	Use:   "backupctl",
	Short: "`backupctl` takes versioned, deduplicated backups of a filesystem",
	Long:  "`backupctl` takes versioned, deduplicated, optionally encrypted and compressed backups of a filesystem.",
	Run: func(cmd *cobra.Command, args []string) {
		version.Print()
	},
}

func resolveConfig() (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("configuration path unspecified; pass --config")
	}
	return config.Load(configPath)
}

func resolveSet(cfg *config.Config, name string) (config.BackupSet, error) {
	set, ok := cfg.Backups[name]
	if !ok {
		return config.BackupSet{}, fmt.Errorf("backup set %q is not defined in configuration", name)
	}
	return set, nil
}

// configureLogging prepares the context with a logger named after setName
// at the given level.
func configureLogging(ctx context.Context, setName, level string) context.Context {
	logger, err := logctx.New(setName, level)
	if err != nil {
		logger, _ = logctx.New(setName, "info")
	}
	return logctx.WithLogger(ctx, logger)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// parseTimeFlag parses a --before/--after value as RFC3339 wall-clock
// time and returns its Unix nanosecond value, matching the nanosecond
// commit_time stored in the manifest.
func parseTimeFlag(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want RFC3339, e.g. 2006-01-02T15:04:05Z): %w", s, err)
	}
	return t.UnixNano(), nil
}
