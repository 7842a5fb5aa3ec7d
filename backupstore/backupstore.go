// Package backupstore composes the blob store, crypto pipeline, and
// compression pipeline into the single Save/Load surface the
// snapshotter and restorer use, plus manifest-database persistence
// through the same blob store. It plays the facade role the registry's
// storage package plays over its blobstore + manifest service.
package backupstore

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/vaultkeeper/backup/blobstore"
	"github.com/vaultkeeper/backup/compresspipe"
	"github.com/vaultkeeper/backup/cryptopipe"
	"github.com/vaultkeeper/backup/digest"
	"github.com/vaultkeeper/backup/internal/engineerr"
	"github.com/vaultkeeper/backup/manifest"
	"github.com/vaultkeeper/backup/scratch"
)

// BlobKind is advisory metadata about how a payload was produced; it
// does not change how bytes are addressed or stored.
type BlobKind = manifest.BlobKind

const (
	KindBase = manifest.KindBase
	KindDiff = manifest.KindDiff
)

// Options controls which pipeline stages Save/Load apply.
type Options struct {
	Compress bool
	Encrypt  bool
}

// Store is the facade over blobstore.Store + cryptopipe + compresspipe.
type Store struct {
	blobs   blobstore.Store
	crypto  cryptopipe.Pipeline
	zstd    compresspipe.Pipeline
	scratch *scratch.Area
}

// New wraps blobs with the crypto/compression pipelines, staging
// intermediates in area.
func New(blobs blobstore.Store, area *scratch.Area) *Store {
	return &Store{blobs: blobs, crypto: cryptopipe.Pipeline{}, zstd: compresspipe.Pipeline{}, scratch: area}
}

// Save streams r through compression (if opts.Compress) then encryption
// (if opts.Encrypt and pub != nil), computing the SHA-256 of the
// original plaintext bytes, and publishes the result under that SHA.
// Saving the same plaintext twice is a cheap no-op on the second call
// (blobstore.Put is idempotent for an identical digest).
func (s *Store) Save(ctx context.Context, r io.Reader, opts Options, pub *rsa.PublicKey) (sha string, sk cryptopipe.SealedKey, err error) {
	verifier := digest.NewVerifier()
	tee := io.TeeReader(r, verifier)

	staged, err := s.scratch.NewFile()
	if err != nil {
		return "", cryptopipe.SealedKey{}, fmt.Errorf("backupstore: stage file: %w", err)
	}
	defer os.Remove(staged.Name())
	defer staged.Close()

	if opts.Compress {
		enc, err := s.zstd.NewEncoder(staged)
		if err != nil {
			return "", cryptopipe.SealedKey{}, fmt.Errorf("backupstore: %w", err)
		}
		if _, err := io.Copy(enc, tee); err != nil {
			return "", cryptopipe.SealedKey{}, fmt.Errorf("backupstore: compress: %w", err)
		}
		if err := enc.Close(); err != nil {
			return "", cryptopipe.SealedKey{}, fmt.Errorf("backupstore: %w", err)
		}
	} else {
		if _, err := io.Copy(staged, tee); err != nil {
			return "", cryptopipe.SealedKey{}, fmt.Errorf("backupstore: stage copy: %w", err)
		}
	}

	sha = verifier.Digest().String()

	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return "", cryptopipe.SealedKey{}, err
	}

	var toStore io.Reader = staged
	if opts.Encrypt && pub != nil {
		sealed, key, err := s.crypto.Seal(staged, pub)
		if err != nil {
			return "", cryptopipe.SealedKey{}, fmt.Errorf("backupstore: seal: %w", err)
		}
		toStore, sk = sealed, key
	}

	if err := s.blobs.Put(ctx, sha, toStore); err != nil {
		return "", cryptopipe.SealedKey{}, err
	}
	return sha, sk, nil
}

// Load retrieves the blob at sha, decrypts it (if sk carries key
// material) and decompresses it (if compressed), and verifies the
// recovered plaintext hashes to sha.
func (s *Store) Load(ctx context.Context, sha string, sk cryptopipe.SealedKey, compressed bool, priv *rsa.PrivateKey) (io.ReadCloser, error) {
	rc, err := s.blobs.Get(ctx, sha)
	if err != nil {
		return nil, err
	}

	plain, err := s.crypto.Open(rc, sk, priv)
	if err != nil {
		rc.Close()
		return nil, err
	}

	var reader io.Reader = plain
	var dec *zstd.Decoder
	if compressed {
		zr, err := s.zstd.NewDecoder(plain)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("backupstore: %w", err)
		}
		dec = zr
		reader = zr
	}

	verifier := digest.NewVerifier()
	tee := io.TeeReader(reader, verifier)

	staged, err := s.scratch.NewFile()
	if err != nil {
		rc.Close()
		return nil, err
	}
	if _, err := io.Copy(staged, tee); err != nil {
		staged.Close()
		os.Remove(staged.Name())
		rc.Close()
		return nil, fmt.Errorf("backupstore: read blob: %w", err)
	}
	rc.Close()
	if dec != nil {
		dec.Close()
	}

	if !verifier.Matches(trimAlgoPrefix(sha)) {
		staged.Close()
		os.Remove(staged.Name())
		return nil, engineerr.CorruptError{Resource: sha, Reason: "recovered plaintext SHA mismatch"}
	}

	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		staged.Close()
		return nil, err
	}
	return &removeOnCloseFile{File: staged}, nil
}

// ManifestOptions controls encryption/compression of the manifest
// database itself, independent of per-blob Options (a set may choose to
// leave its manifest unencrypted for recovery even if blob content is
// encrypted, or vice versa), plus how many old generations PutManifest
// retains.
type ManifestOptions struct {
	Compress            bool
	Encrypt             bool
	MaxManifestVersions int
}

// LoadManifestDB fetches the named set's current manifest generation
// from the blob store, decrypts/decompresses it into a scratch file, and
// opens it as a manifest.DB. The generation's wrapped key travels with
// it (see keyHeaderReader), so a fresh host needs only the storage
// backend and, for an encrypted generation, the private key priv; no
// wrapped key is stored elsewhere. Callers must Close the returned DB.
func (s *Store) LoadManifestDB(ctx context.Context, setName string, opts ManifestOptions, priv *rsa.PrivateKey) (*manifest.DB, error) {
	rc, err := s.blobs.GetManifest(ctx, setName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sk, body, err := readKeyHeader(rc)
	if err != nil {
		return nil, err
	}

	plain, err := s.crypto.Open(body, sk, priv)
	if err != nil {
		return nil, err
	}
	if opts.Compress {
		zr, err := s.zstd.NewDecoder(plain)
		if err != nil {
			return nil, fmt.Errorf("backupstore: %w", err)
		}
		defer zr.Close()
		plain = zr
	}

	staged, err := s.scratch.NewFile()
	if err != nil {
		return nil, err
	}
	path := staged.Name()
	if _, err := io.Copy(staged, plain); err != nil {
		staged.Close()
		return nil, fmt.Errorf("backupstore: stage manifest: %w", err)
	}
	if err := staged.Close(); err != nil {
		return nil, err
	}

	return manifest.Open(path)
}

// SaveManifestDB serializes db's backing file, compresses/encrypts it
// per opts, and publishes it as the next manifest generation for
// setName. Callers must durably Put every blob referenced by entries
// inserted since the last SaveManifestDB before calling this, and must
// close the manifest database first so its last transaction is flushed
// to dbPath before this function reads it.
func (s *Store) SaveManifestDB(ctx context.Context, setName string, dbPath string, opts ManifestOptions, pub *rsa.PublicKey) (cryptopipe.SealedKey, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return cryptopipe.SealedKey{}, fmt.Errorf("backupstore: open manifest file: %w", err)
	}
	defer f.Close()
	return s.publishManifestReader(ctx, setName, f, opts, pub)
}

// SaveManifestSnapshot publishes a consistent point-in-time copy of an
// open manifest database, via its Snapshot method, without requiring
// the caller to close it. Used for mid-run checkpoint publishes.
func (s *Store) SaveManifestSnapshot(ctx context.Context, setName string, sess *manifest.DB, opts ManifestOptions, pub *rsa.PublicKey) (cryptopipe.SealedKey, error) {
	staged, err := s.scratch.NewFile()
	if err != nil {
		return cryptopipe.SealedKey{}, err
	}
	defer os.Remove(staged.Name())
	defer staged.Close()

	if err := sess.Snapshot(staged); err != nil {
		return cryptopipe.SealedKey{}, fmt.Errorf("backupstore: snapshot manifest: %w", err)
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return cryptopipe.SealedKey{}, err
	}

	return s.publishManifestReader(ctx, setName, staged, opts, pub)
}

func (s *Store) publishManifestReader(ctx context.Context, setName string, r io.Reader, opts ManifestOptions, pub *rsa.PublicKey) (cryptopipe.SealedKey, error) {
	staged, err := s.scratch.NewFile()
	if err != nil {
		return cryptopipe.SealedKey{}, err
	}
	defer os.Remove(staged.Name())
	defer staged.Close()

	if opts.Compress {
		enc, err := s.zstd.NewEncoder(staged)
		if err != nil {
			return cryptopipe.SealedKey{}, fmt.Errorf("backupstore: %w", err)
		}
		if _, err := io.Copy(enc, r); err != nil {
			return cryptopipe.SealedKey{}, fmt.Errorf("backupstore: compress manifest: %w", err)
		}
		if err := enc.Close(); err != nil {
			return cryptopipe.SealedKey{}, fmt.Errorf("backupstore: %w", err)
		}
	} else {
		if _, err := io.Copy(staged, r); err != nil {
			return cryptopipe.SealedKey{}, fmt.Errorf("backupstore: stage manifest: %w", err)
		}
	}

	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return cryptopipe.SealedKey{}, err
	}

	var toStore io.Reader = staged
	var sk cryptopipe.SealedKey
	if opts.Encrypt && pub != nil {
		sealed, key, err := s.crypto.Seal(staged, pub)
		if err != nil {
			return cryptopipe.SealedKey{}, fmt.Errorf("backupstore: seal manifest: %w", err)
		}
		toStore, sk = sealed, key
	}

	// A manifest generation carries its own wrapped key, the same way
	// every manifest Entry already carries WrappedKey/Nonce alongside
	// its blob address: the wrapped key is RSA-OAEP ciphertext, safe to
	// store next to the payload it unlocks, so a fresh host can recover
	// a set's manifest from the backend alone instead of needing the
	// key out-of-band.
	framed := io.MultiReader(keyHeaderReader(sk), toStore)

	if err := s.blobs.PutManifest(ctx, setName, framed, opts.MaxManifestVersions); err != nil {
		return cryptopipe.SealedKey{}, err
	}
	return sk, nil
}

// keyHeaderReader encodes sk as a small fixed-format header: two
// big-endian uint32 lengths followed by WrappedKey then Nonce. An
// unencrypted generation (sk is zero) still writes the header, with
// both lengths zero, so LoadManifestDB never has to guess the format
// from out-of-band configuration.
func keyHeaderReader(sk cryptopipe.SealedKey) io.Reader {
	var lens [8]byte
	binary.BigEndian.PutUint32(lens[0:4], uint32(len(sk.WrappedKey)))
	binary.BigEndian.PutUint32(lens[4:8], uint32(len(sk.Nonce)))
	return io.MultiReader(bytes.NewReader(lens[:]), bytes.NewReader(sk.WrappedKey), bytes.NewReader(sk.Nonce))
}

// readKeyHeader is the inverse of keyHeaderReader: it consumes the
// leading header from r and returns the SealedKey it describes plus the
// remaining reader positioned at the start of the actual payload.
func readKeyHeader(r io.Reader) (cryptopipe.SealedKey, io.Reader, error) {
	var lens [8]byte
	if _, err := io.ReadFull(r, lens[:]); err != nil {
		return cryptopipe.SealedKey{}, nil, fmt.Errorf("backupstore: read manifest key header: %w", err)
	}
	wrappedLen := binary.BigEndian.Uint32(lens[0:4])
	nonceLen := binary.BigEndian.Uint32(lens[4:8])

	var sk cryptopipe.SealedKey
	if wrappedLen > 0 {
		sk.WrappedKey = make([]byte, wrappedLen)
		if _, err := io.ReadFull(r, sk.WrappedKey); err != nil {
			return cryptopipe.SealedKey{}, nil, fmt.Errorf("backupstore: read manifest wrapped key: %w", err)
		}
	}
	if nonceLen > 0 {
		sk.Nonce = make([]byte, nonceLen)
		if _, err := io.ReadFull(r, sk.Nonce); err != nil {
			return cryptopipe.SealedKey{}, nil, fmt.Errorf("backupstore: read manifest nonce: %w", err)
		}
	}
	return sk, r, nil
}

func trimAlgoPrefix(sha string) string {
	for i := 0; i < len(sha); i++ {
		if sha[i] == ':' {
			return sha[i+1:]
		}
	}
	return sha
}

type removeOnCloseFile struct {
	*os.File
}

func (f *removeOnCloseFile) Close() error {
	name := f.File.Name()
	err := f.File.Close()
	os.Remove(name)
	return err
}
