package manifest

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetEntryReturnsLatestAtOrBeforeTime(t *testing.T) {
	db := openTestDB(t)

	t1, err := db.NextCommitTime()
	require.NoError(t, err)
	require.NoError(t, db.Insert(Entry{Path: "/a/file.txt", CommitTime: t1, SHA: "sha256:one"}))

	t2, err := db.NextCommitTime()
	require.NoError(t, err)
	require.NoError(t, db.Insert(Entry{Path: "/a/file.txt", CommitTime: t2, SHA: "sha256:two"}))

	e, ok, err := db.GetEntry("/a/file.txt", t1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sha256:one", e.SHA)

	e, ok, err = db.GetEntry("/a/file.txt", t2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sha256:two", e.SHA)

	_, ok, err = db.GetEntry("/a/file.txt", t1-1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTombstoneHidesPathFromSearch(t *testing.T) {
	db := openTestDB(t)

	t1, _ := db.NextCommitTime()
	require.NoError(t, db.Insert(Entry{Path: "/a/file.txt", CommitTime: t1, SHA: "sha256:one"}))

	t2, _ := db.NextCommitTime()
	require.NoError(t, db.Tombstone("/a/file.txt", t2))

	results, err := db.Search(regexp.MustCompile(".*"), t2)
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = db.Search(regexp.MustCompile(".*"), t1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestHistoryReturnsAllGenerationsInOrder(t *testing.T) {
	db := openTestDB(t)

	var times []int64
	for i := 0; i < 3; i++ {
		ts, err := db.NextCommitTime()
		require.NoError(t, err)
		times = append(times, ts)
		require.NoError(t, db.Insert(Entry{Path: "/b/file.txt", CommitTime: ts, SHA: "sha256:gen"}))
	}

	hist, err := db.History("/b/file.txt")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	for i, e := range hist {
		require.Equal(t, times[i], e.CommitTime)
	}
}

func TestAllPathsIncludesTombstones(t *testing.T) {
	db := openTestDB(t)

	t1, _ := db.NextCommitTime()
	require.NoError(t, db.Insert(Entry{Path: "/a/file.txt", CommitTime: t1, SHA: "sha256:one"}))

	t2, _ := db.NextCommitTime()
	require.NoError(t, db.Tombstone("/a/file.txt", t2))

	t3, _ := db.NextCommitTime()
	require.NoError(t, db.Insert(Entry{Path: "/b/file.txt", CommitTime: t3, SHA: "sha256:two"}))

	searchResults, err := db.Search(regexp.MustCompile(".*"), t3)
	require.NoError(t, err)
	require.Len(t, searchResults, 1, "Search excludes the tombstoned path")

	paths, err := db.AllPaths()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/a/file.txt", "/b/file.txt"}, paths)
}

func TestSearchFiltersByPattern(t *testing.T) {
	db := openTestDB(t)

	t1, _ := db.NextCommitTime()
	require.NoError(t, db.Insert(Entry{Path: "/docs/readme.md", CommitTime: t1, SHA: "sha256:a"}))
	require.NoError(t, db.Insert(Entry{Path: "/src/main.go", CommitTime: t1, SHA: "sha256:b"}))

	results, err := db.Search(regexp.MustCompile(`\.go$`), t1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "/src/main.go", results[0].Path)
}
