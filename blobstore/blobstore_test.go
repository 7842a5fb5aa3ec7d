package blobstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultkeeper/backup/internal/engineerr"
	"github.com/vaultkeeper/backup/store/driver/filesystem"
)

func TestPutGetExistsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(filesystem.New(dir))
	ctx := context.Background()

	sha := "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	ok, err := s.Exists(ctx, sha)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, sha, bytes.NewReader([]byte("hello"))))

	ok, err = s.Exists(ctx, sha)
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := s.Get(ctx, sha)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestManifestAliasTracksLatest(t *testing.T) {
	dir := t.TempDir()
	s := New(filesystem.New(dir))
	ctx := context.Background()

	require.NoError(t, s.PutManifest(ctx, "nightly", bytes.NewReader([]byte("v1")), 0))
	require.NoError(t, s.PutManifest(ctx, "nightly", bytes.NewReader([]byte("v2")), 0))

	rc, err := s.GetManifest(ctx, "nightly")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "v2", string(got))

	names, err := s.ListManifests(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(names), 3) // two generations + alias
}

func TestPutManifestPrunesOldGenerations(t *testing.T) {
	dir := t.TempDir()
	s := New(filesystem.New(dir))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PutManifest(ctx, "nightly", bytes.NewReader([]byte("gen")), 2))
	}

	names, err := s.ListManifests(ctx)
	require.NoError(t, err)

	generations := 0
	for _, n := range names {
		if n != "nightly/manifest" {
			generations++
		}
	}
	require.LessOrEqual(t, generations, 2, "pruning should retain at most maxVersions generations")
}

func TestGetMissingBlobReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s := New(filesystem.New(dir))
	_, err := s.Get(context.Background(), "sha256:"+strings.Repeat("0", 64))
	var nf engineerr.NotFoundError
	require.ErrorAs(t, err, &nf)
}
