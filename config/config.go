// Package config loads the backup engine's YAML configuration: a
// top-level map of named backup sets, each describing its roots,
// storage protocol, and key material, in the same yaml.v2-driven,
// struct-tagged style used across this codebase.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vaultkeeper/backup/internal/engineerr"
)

// Config is the root of a loaded configuration file.
type Config struct {
	Backups map[string]BackupSet `yaml:"backups"`
}

// BackupSet describes one independently-scheduled backup job.
type BackupSet struct {
	// Roots lists the absolute filesystem paths this set walks.
	Roots []string `yaml:"roots"`

	// Exclusions are regexes matched against each absolute path; a match
	// skips the path without marking it seen.
	Exclusions []string `yaml:"exclusions,omitempty"`

	// Protocol names the store/driver backend and its parameters.
	Protocol Protocol `yaml:"protocol"`

	// ManifestPath is the local bbolt file backing this set's manifest
	// database. A run first tries to load the set's last published
	// manifest generation from the storage backend (see
	// backupstore.Store.LoadManifestDB); ManifestPath is only used as a
	// fallback for a set's very first run, before anything has been
	// published yet.
	ManifestPath string `yaml:"manifest_path"`

	UseCompression bool `yaml:"use_compression,omitempty"`
	UseEncryption  bool `yaml:"use_encryption,omitempty"`

	// PublicKeyPath/PrivateKeyPath locate the RSA key material used for
	// envelope encryption. PrivateKeyPath may be omitted on a
	// backup-only host.
	PublicKeyPath  string `yaml:"public_key_path,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`

	MaxManifestVersions int `yaml:"max_manifest_versions,omitempty"`

	CheckpointEveryFiles int           `yaml:"checkpoint_every_files,omitempty"`
	CheckpointInterval   time.Duration `yaml:"checkpoint_interval,omitempty"`
	MaxRaceRetries       int           `yaml:"max_race_retries,omitempty"`

	// DiffSizeMargin bounds when a diff blob is worth keeping over a
	// fresh base blob (see diffcodec.IsWorthwhile).
	DiffSizeMargin float64 `yaml:"diff_size_margin,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`

	compiledExclusions []*regexp.Regexp
}

// Protocol names a store/driver backend by the factory.Register name and
// carries its backend-specific parameters verbatim.
type Protocol struct {
	Type       string                 `yaml:"type"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty"`
}

const (
	defaultMaxManifestVersions  = 10
	defaultCheckpointEveryFiles = 500
	defaultCheckpointInterval   = 2 * time.Minute
	defaultMaxRaceRetries       = 2
	defaultDiffSizeMargin       = 0.6
)

// Load reads and parses the YAML file at path, applying defaults and
// validating every backup set.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	for name, set := range cfg.Backups {
		applyDefaults(&set)
		if err := validate(name, &set); err != nil {
			return nil, err
		}
		for _, pattern := range set.Exclusions {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, engineerr.ConfigError{Set: name, Reason: fmt.Sprintf("invalid exclusion regex %q: %v", pattern, err)}
			}
			set.compiledExclusions = append(set.compiledExclusions, re)
		}
		cfg.Backups[name] = set
	}
	return &cfg, nil
}

func applyDefaults(set *BackupSet) {
	if set.MaxManifestVersions == 0 {
		set.MaxManifestVersions = defaultMaxManifestVersions
	}
	if set.CheckpointEveryFiles == 0 {
		set.CheckpointEveryFiles = defaultCheckpointEveryFiles
	}
	if set.CheckpointInterval == 0 {
		set.CheckpointInterval = defaultCheckpointInterval
	}
	if set.MaxRaceRetries == 0 {
		set.MaxRaceRetries = defaultMaxRaceRetries
	}
	if set.DiffSizeMargin == 0 {
		set.DiffSizeMargin = defaultDiffSizeMargin
	}
	if set.LogLevel == "" {
		set.LogLevel = "info"
	}
}

func validate(name string, set *BackupSet) error {
	if len(set.Roots) == 0 {
		return engineerr.ConfigError{Set: name, Reason: "at least one root is required"}
	}
	if set.Protocol.Type == "" {
		return engineerr.ConfigError{Set: name, Reason: "protocol.type is required"}
	}
	if set.ManifestPath == "" {
		return engineerr.ConfigError{Set: name, Reason: "manifest_path is required"}
	}
	if set.UseEncryption && set.PublicKeyPath == "" {
		return engineerr.ConfigError{Set: name, Reason: "use_encryption requires public_key_path"}
	}
	return nil
}

// Exclusions returns the set's compiled exclusion patterns. Load must
// have been called to populate these.
func (s BackupSet) Exclusions() []*regexp.Regexp {
	return s.compiledExclusions
}
