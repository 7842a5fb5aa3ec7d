package digest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromBytesMatchesFromReader(t *testing.T) {
	p := []byte("hello")
	want := FromBytes(p)

	got, err := FromReader(bytes.NewReader(p))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestFromBytesKnownVector(t *testing.T) {
	d := FromBytes([]byte("hello"))
	require.Equal(t, "sha256", d.Algorithm())
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", d.Hex())
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{"", "nocolon", "sha256:", "md5:abcd"}
	for _, c := range cases {
		_, err := Parse(c)
		require.Error(t, err, c)
	}
}

func TestVerifierStreaming(t *testing.T) {
	v := NewVerifier()
	_, err := v.Write([]byte("hel"))
	require.NoError(t, err)
	_, err = v.Write([]byte("lo"))
	require.NoError(t, err)

	want := FromBytes([]byte("hello"))
	require.Equal(t, want, v.Digest())
	require.True(t, v.Matches(want.Hex()))
	require.False(t, v.Matches("deadbeef"))
}
