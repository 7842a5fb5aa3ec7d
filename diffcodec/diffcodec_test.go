package diffcodec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatchReconstructsIdenticalInput(t *testing.T) {
	old := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 50)
	got, err := Patch(old, Diff(old, old))
	require.NoError(t, err)
	require.True(t, bytes.Equal(old, got))
}

func TestPatchReconstructsAppendedSuffix(t *testing.T) {
	old := bytes.Repeat([]byte("alpha beta gamma delta "), 40)
	new := append(append([]byte{}, old...), []byte("epsilon zeta eta theta")...)

	patch := Diff(old, new)
	got, err := Patch(old, patch)
	require.NoError(t, err)
	require.True(t, bytes.Equal(new, got))
	require.True(t, IsWorthwhile(len(patch), len(new), 0.6))
}

func TestPatchReconstructsUnrelatedInput(t *testing.T) {
	old := []byte("completely different starting content")
	new := []byte("a totally unrelated replacement body")

	got, err := Patch(old, Diff(old, new))
	require.NoError(t, err)
	require.True(t, bytes.Equal(new, got))
}

func TestPatchReconstructsRandomMutations(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	old := make([]byte, 4096)
	r.Read(old)

	new := append([]byte{}, old...)
	for i := 0; i < 200; i++ {
		pos := r.Intn(len(new))
		new[pos] = byte(r.Intn(256))
	}

	got, err := Patch(old, Diff(old, new))
	require.NoError(t, err)
	require.True(t, bytes.Equal(new, got))
}

func TestPatchRejectsOutOfRangeCopy(t *testing.T) {
	_, err := Patch([]byte("short"), []byte{opCopy, 0xFF, 0x01, 0x01})
	require.Error(t, err)
}
