// Package keymaterial loads and generates the RSA key pairs backup sets
// use for envelope encryption, via github.com/docker/libtrust for RSA
// key generation and PEM persistence, exposing the keys as stdlib
// crypto/rsa types for cryptopipe to consume directly.
package keymaterial

import (
	"crypto/rsa"
	"fmt"

	"github.com/docker/libtrust"
)

// GenerateRSA4096 creates a fresh 4096-bit RSA key pair for use as a
// backup set's envelope-encryption root key.
func GenerateRSA4096() (*rsa.PrivateKey, error) {
	pk, err := libtrust.GenerateRSA4096PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("keymaterial: generate key: %w", err)
	}
	priv, ok := pk.CryptoPrivateKey().(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keymaterial: unexpected key type %T", pk.CryptoPrivateKey())
	}
	return priv, nil
}

// SavePrivateKey persists priv to path in the PEM-ish JWK format libtrust
// uses for its key files.
func SavePrivateKey(path string, priv *rsa.PrivateKey) error {
	pk, err := libtrust.FromCryptoPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("keymaterial: wrap private key: %w", err)
	}
	if err := libtrust.SaveKey(path, pk); err != nil {
		return fmt.Errorf("keymaterial: save private key: %w", err)
	}
	return nil
}

// SavePublicKey persists pub to path, for
// distribution to machines that should be able to back up but not
// restore.
func SavePublicKey(path string, pub *rsa.PublicKey) error {
	pk, err := libtrust.FromCryptoPublicKey(pub)
	if err != nil {
		return fmt.Errorf("keymaterial: wrap public key: %w", err)
	}
	if err := libtrust.SavePublicKey(path, pk); err != nil {
		return fmt.Errorf("keymaterial: save public key: %w", err)
	}
	return nil
}

// LoadPrivateKey reads an RSA private key previously written by
// SavePrivateKey.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	pk, err := libtrust.LoadKeyFile(path)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: load private key: %w", err)
	}
	priv, ok := pk.CryptoPrivateKey().(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keymaterial: key at %s is not RSA", path)
	}
	return priv, nil
}

// LoadPublicKey reads an RSA public key previously written by
// SavePublicKey.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	pk, err := libtrust.LoadPublicKeyFile(path)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: load public key: %w", err)
	}
	pub, ok := pk.CryptoPublicKey().(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keymaterial: key at %s is not RSA", path)
	}
	return pub, nil
}
