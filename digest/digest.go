// Package digest provides the content-addressing primitive used to name
// blobs in the backup store: the hex SHA-256 of a blob's plaintext,
// uncompressed, unencrypted bytes.
package digest

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"strings"
)

// Digest is a validated hex-encoded SHA-256 checksum string.
type Digest string

var (
	// ErrDigestInvalidFormat is returned when a digest string is malformed.
	ErrDigestInvalidFormat = fmt.Errorf("invalid checksum digest format")
)

// NewDigest builds a Digest from an already-summed hash.
func NewDigest(h hash.Hash) Digest {
	return Digest(fmt.Sprintf("sha256:%x", h.Sum(nil)))
}

// Parse validates s and returns the Digest it names.
func Parse(s string) (Digest, error) {
	i := strings.Index(s, ":")
	if i < 0 || i+1 == len(s) {
		return "", ErrDigestInvalidFormat
	}
	if s[:i] != "sha256" {
		return "", ErrDigestInvalidFormat
	}
	return Digest(s), nil
}

// FromReader consumes rd entirely and returns the SHA-256 Digest of its bytes.
func FromReader(rd io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, rd); err != nil {
		return "", err
	}
	return NewDigest(h), nil
}

// FromBytes digests p directly.
func FromBytes(p []byte) Digest {
	h := sha256.New()
	h.Write(p)
	return NewDigest(h)
}

// Algorithm returns the algorithm portion of the digest ("sha256").
func (d Digest) Algorithm() string {
	return string(d[:d.sepIndex()])
}

// Hex returns the hex checksum portion of the digest, without the
// "sha256:" prefix. Manifest entries and blob store addresses carry the
// full prefixed form returned by String.
func (d Digest) Hex() string {
	return string(d[d.sepIndex()+1:])
}

func (d Digest) String() string {
	return string(d)
}

// Validate reports whether d is well-formed.
func (d Digest) Validate() error {
	_, err := Parse(string(d))
	return err
}

func (d Digest) sepIndex() int {
	i := strings.Index(string(d), ":")
	if i < 0 {
		panic("invalid digest: " + string(d))
	}
	return i
}

// Verifier wraps a writer that accumulates a running SHA-256 sum so a
// caller can stream plaintext through it (e.g. into a scratch file) and
// recover the digest without a second read pass.
type Verifier struct {
	h hash.Hash
}

// NewVerifier returns a fresh streaming digest accumulator.
func NewVerifier() *Verifier {
	return &Verifier{h: sha256.New()}
}

// Write implements io.Writer.
func (v *Verifier) Write(p []byte) (int, error) {
	return v.h.Write(p)
}

// Digest returns the Digest of everything written so far.
func (v *Verifier) Digest() Digest {
	return NewDigest(v.h)
}

// Matches reports whether the accumulated digest's hex equals want.
func (v *Verifier) Matches(want string) bool {
	return v.Digest().Hex() == want
}
