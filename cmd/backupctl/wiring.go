package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/vaultkeeper/backup/backupstore"
	"github.com/vaultkeeper/backup/blobstore"
	"github.com/vaultkeeper/backup/config"
	"github.com/vaultkeeper/backup/internal/engineerr"
	"github.com/vaultkeeper/backup/keymaterial"
	"github.com/vaultkeeper/backup/manifest"
	"github.com/vaultkeeper/backup/scratch"
	"github.com/vaultkeeper/backup/store/driver/factory"

	_ "github.com/vaultkeeper/backup/store/driver/filesystem"
	_ "github.com/vaultkeeper/backup/store/driver/s3"
)

// session bundles everything a subcommand needs to operate on one
// backup set: the blob store facade, the open manifest database, and
// the scratch area backing both (closed together by Close).
type session struct {
	store *backupstore.Store
	blobs blobstore.Store
	sess  *manifest.DB
	area  *scratch.Area
	pub   *rsa.PublicKey
	priv  *rsa.PrivateKey
	set   config.BackupSet
}

// openSession wires a session for setName: it loads the set's last
// published manifest generation from the configured storage backend, so
// a fresh host or a second machine can recover it without a pre-existing
// local bbolt file. Only when the backend has never published a
// generation for this set (a brand new set's very first run) does it
// fall back to opening set.ManifestPath directly, creating it if absent.
func openSession(ctx context.Context, setName string, set config.BackupSet) (*session, error) {
	drv, err := factory.Create(set.Protocol.Type, set.Protocol.Parameters)
	if err != nil {
		return nil, fmt.Errorf("construct %s driver: %w", set.Protocol.Type, err)
	}
	blobs := blobstore.New(drv)

	area, err := scratch.Open(os.TempDir())
	if err != nil {
		return nil, fmt.Errorf("open scratch area: %w", err)
	}

	store := backupstore.New(blobs, area)

	s := &session{store: store, blobs: blobs, area: area, set: set}

	if set.PublicKeyPath != "" {
		pub, err := loadPublicKey(set.PublicKeyPath)
		if err != nil {
			area.Close()
			return nil, err
		}
		s.pub = pub
	}
	if set.PrivateKeyPath != "" {
		priv, err := loadPrivateKey(set.PrivateKeyPath)
		if err != nil {
			area.Close()
			return nil, err
		}
		s.priv = priv
	}

	manifestOpts := backupstore.ManifestOptions{
		Compress:            set.UseCompression,
		Encrypt:             set.UseEncryption,
		MaxManifestVersions: set.MaxManifestVersions,
	}
	sess, err := store.LoadManifestDB(ctx, setName, manifestOpts, s.priv)
	if err != nil {
		var notFound engineerr.NotFoundError
		if !errors.As(err, &notFound) {
			area.Close()
			return nil, fmt.Errorf("load published manifest: %w", err)
		}
		sess, err = manifest.Open(set.ManifestPath)
		if err != nil {
			area.Close()
			return nil, fmt.Errorf("open manifest: %w", err)
		}
	}
	s.sess = sess

	return s, nil
}

func (s *session) Close() {
	s.sess.Close()
	s.area.Close()
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	pub, err := keymaterial.LoadPublicKey(path)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	return pub, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	priv, err := keymaterial.LoadPrivateKey(path)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return priv, nil
}
