// Package cryptopipe implements the engine's hybrid encryption scheme: a
// fresh AES-256-GCM key per blob, wrapped under the backup set's RSA
// public key with OAEP. Key material itself is handled by the
// keymaterial package (backed by docker/libtrust); this package only
// ever touches already-parsed *rsa.PublicKey / *rsa.PrivateKey values.
package cryptopipe

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/vaultkeeper/backup/internal/engineerr"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // GCM standard nonce
)

// Pipeline seals and opens blob payloads.
type Pipeline struct{}

// SealedKey carries the per-blob key material a manifest entry needs to
// later call Open. WrappedKey is nil when encryption is disabled.
type SealedKey struct {
	WrappedKey []byte
	Nonce      []byte
}

// Seal reads all of plaintext, encrypts it with a fresh AES-256-GCM key,
// and wraps that key under pub with RSA-OAEP/SHA-256. If pub is nil,
// encryption is bypassed and Seal returns the plaintext unchanged with a
// zero SealedKey, matching a backup set's use_encryption=false.
func (Pipeline) Seal(plaintext io.Reader, pub *rsa.PublicKey) (io.Reader, SealedKey, error) {
	if pub == nil {
		return plaintext, SealedKey{}, nil
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, SealedKey{}, fmt.Errorf("cryptopipe: generate key: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, SealedKey{}, fmt.Errorf("cryptopipe: generate nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, SealedKey{}, fmt.Errorf("cryptopipe: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, SealedKey{}, fmt.Errorf("cryptopipe: %w", err)
	}

	raw, err := io.ReadAll(plaintext)
	if err != nil {
		return nil, SealedKey{}, fmt.Errorf("cryptopipe: read plaintext: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, raw, nil)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, SealedKey{}, fmt.Errorf("cryptopipe: wrap key: %w", err)
	}

	return bytes.NewReader(ciphertext), SealedKey{WrappedKey: wrapped, Nonce: nonce}, nil
}

// Open is the inverse of Seal. If sk.WrappedKey is nil, ciphertext is
// returned unchanged (encryption was disabled when it was saved).
func (Pipeline) Open(ciphertext io.Reader, sk SealedKey, priv *rsa.PrivateKey) (io.Reader, error) {
	if sk.WrappedKey == nil {
		return ciphertext, nil
	}
	if priv == nil {
		return nil, engineerr.CryptoAuthError{Resource: "missing private key"}
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, sk.WrappedKey, nil)
	if err != nil {
		return nil, engineerr.CryptoAuthError{Resource: "key unwrap"}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptopipe: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptopipe: %w", err)
	}

	raw, err := io.ReadAll(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("cryptopipe: read ciphertext: %w", err)
	}
	plaintext, err := gcm.Open(nil, sk.Nonce, raw, nil)
	if err != nil {
		return nil, engineerr.CryptoAuthError{Resource: "blob payload"}
	}

	return bytes.NewReader(plaintext), nil
}
