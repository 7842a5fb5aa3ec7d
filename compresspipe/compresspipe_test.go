package compresspipe

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	p := Pipeline{}
	var buf bytes.Buffer

	enc, err := p.NewEncoder(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	dec, err := p.NewDecoder(&buf)
	require.NoError(t, err)
	defer dec.Close()
	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	require.Equal(t, "the quick brown fox jumps over the lazy dog, repeatedly, repeatedly", string(got))
}

func TestDeterministicOutput(t *testing.T) {
	p := Pipeline{}
	payload := []byte("deterministic payload for addressing stability")

	compressOnce := func() []byte {
		var buf bytes.Buffer
		enc, err := p.NewEncoder(&buf)
		require.NoError(t, err)
		_, err = enc.Write(payload)
		require.NoError(t, err)
		require.NoError(t, enc.Close())
		return buf.Bytes()
	}

	require.Equal(t, compressOnce(), compressOnce())
}
