package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
backups:
  nightly:
    roots:
      - /home/alice/projects
    exclusions:
      - '\.cache/'
    protocol:
      type: filesystem
      parameters:
        rootdirectory: /mnt/backup
    manifest_path: /var/lib/backupctl/nightly/manifest.db
    use_compression: true
    use_encryption: true
    public_key_path: /etc/backupctl/nightly.pub
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backupctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	set, ok := cfg.Backups["nightly"]
	require.True(t, ok)
	require.Equal(t, defaultMaxManifestVersions, set.MaxManifestVersions)
	require.Equal(t, defaultCheckpointEveryFiles, set.CheckpointEveryFiles)
	require.Len(t, set.Exclusions(), 1)
}

func TestLoadRejectsMissingRoots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backups:\n  broken:\n    protocol:\n      type: filesystem\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEncryptionWithoutKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backups:\n  broken:\n    roots: [/tmp]\n    protocol:\n      type: filesystem\n    manifest_path: /tmp/m.db\n    use_encryption: true\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "use_encryption requires public_key_path")
}
