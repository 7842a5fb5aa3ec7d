package cryptopipe

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := Pipeline{}
	ciphertext, sk, err := p.Seal(bytes.NewReader([]byte("top secret payload")), &priv.PublicKey)
	require.NoError(t, err)
	require.NotNil(t, sk.WrappedKey)

	plain, err := p.Open(ciphertext, sk, priv)
	require.NoError(t, err)
	got, err := io.ReadAll(plain)
	require.NoError(t, err)
	require.Equal(t, "top secret payload", string(got))
}

func TestSealBypassedWhenNoPublicKey(t *testing.T) {
	p := Pipeline{}
	r, sk, err := p.Seal(bytes.NewReader([]byte("plain")), nil)
	require.NoError(t, err)
	require.Nil(t, sk.WrappedKey)
	got, _ := io.ReadAll(r)
	require.Equal(t, "plain", string(got))
}

func TestOpenRejectsWrongKey(t *testing.T) {
	priv1, _ := rsa.GenerateKey(rand.Reader, 2048)
	priv2, _ := rsa.GenerateKey(rand.Reader, 2048)

	p := Pipeline{}
	ciphertext, sk, err := p.Seal(bytes.NewReader([]byte("data")), &priv1.PublicKey)
	require.NoError(t, err)

	_, err = p.Open(ciphertext, sk, priv2)
	require.Error(t, err)
}
