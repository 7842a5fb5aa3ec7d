// Package manifest implements the engine's path-to-blob index as an
// embedded bbolt database, giving the ordered (path, commit_time) index
// the backup run needs with real ACID transactions rather than a
// hand-rolled file format, following the bbolt usage cuemby-warren's
// storage layer establishes for this pack.
package manifest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")

	metaKeyCounter = []byte("commit_time_counter")
)

// BlobKind records whether an entry's payload was stored as a full base
// blob or a diff against a parent blob.
type BlobKind int

const (
	KindBase BlobKind = iota
	KindDiff
)

// Entry is one path's state as of a single commit_time. An entry with an
// empty SHA is a tombstone: the path did not exist at this time.
type Entry struct {
	Path       string   `json:"path"`
	CommitTime int64    `json:"commit_time"`
	SHA        string   `json:"sha,omitempty"`
	Kind       BlobKind `json:"kind,omitempty"`
	ParentSHA  string   `json:"parent_sha,omitempty"`
	Size       int64    `json:"size"`
	Mode       uint32   `json:"mode"`
	ModTime    int64    `json:"mod_time"`
	WrappedKey []byte   `json:"wrapped_key,omitempty"`
	Nonce      []byte   `json:"nonce,omitempty"`
	Compressed bool     `json:"compressed,omitempty"`

	// BlobSHA is the content address the payload was actually Put under
	// in the blob store. For a base entry this always equals SHA. For a
	// diff entry, SHA identifies the target file's plaintext (used for
	// dedup and as the parent_sha other entries chain against) while
	// BlobSHA identifies the stored patch bytes, a different blob.
	BlobSHA string `json:"blob_sha,omitempty"`
}

// IsTombstone reports whether e represents a deletion.
func (e Entry) IsTombstone() bool {
	return e.SHA == ""
}

// DB is an open manifest database for one backup set.
type DB struct {
	bolt *bolt.DB
	path string
}

// Open opens (creating if necessary) the bbolt file at path.
func Open(path string) (*DB, error) {
	b, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}
	err = b.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("manifest: init buckets: %w", err)
	}
	return &DB{bolt: b, path: path}, nil
}

// Path returns the bbolt file backing d, so a caller that closes d to
// flush its last transaction (e.g. before republishing it) knows which
// file to read back, without having to separately track wherever d was
// actually opened from.
func (d *DB) Path() string {
	return d.path
}

// Close releases the underlying bbolt handle.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Snapshot writes a consistent point-in-time copy of the database to w,
// using bbolt's hot-backup transaction so the caller never has to close
// or otherwise interrupt an in-progress run to publish an interim copy.
func (d *DB) Snapshot(w io.Writer) error {
	return d.bolt.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
}

// entryKey encodes (path, commit_time) so that a bucket cursor ordered by
// key is also ordered by (path, commit_time) ascending.
func entryKey(path string, commitTime int64) []byte {
	key := make([]byte, 0, len(path)+1+8)
	key = append(key, path...)
	key = append(key, 0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(commitTime))
	return append(key, ts[:]...)
}

func splitEntryKey(key []byte) (path string, commitTime int64) {
	for i := len(key) - 9; i >= 0; i-- {
		if key[i] == 0 {
			path = string(key[:i])
			commitTime = int64(binary.BigEndian.Uint64(key[i+1:]))
			return
		}
	}
	return "", 0
}

// NextCommitTime returns time.Now().UnixNano(), bumped forward by one
// nanosecond if necessary to stay strictly greater than the last value
// this database issued. commit_time is therefore a real wall-clock
// timestamp, monotonic within the manifest, so GetEntry/Search can be
// queried with ordinary time.Now().UnixNano()-derived bounds.
func (d *DB) NextCommitTime() (int64, error) {
	var next int64
	err := d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		cur := b.Get(metaKeyCounter)
		var last int64
		if cur != nil {
			last = int64(binary.BigEndian.Uint64(cur))
		}
		now := time.Now().UnixNano()
		if now <= last {
			now = last + 1
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(now))
		next = now
		return b.Put(metaKeyCounter, buf[:])
	})
	return next, err
}

// Insert appends e, keyed by (e.Path, e.CommitTime). Callers must have
// already durably stored any blob e.SHA references.
func (d *DB) Insert(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("manifest: marshal entry: %w", err)
	}
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.Put(entryKey(e.Path, e.CommitTime), data)
	})
}

// Tombstone inserts a deletion marker for path at commitTime.
func (d *DB) Tombstone(path string, commitTime int64) error {
	return d.Insert(Entry{Path: path, CommitTime: commitTime})
}

// GetEntry returns the latest entry for path with CommitTime <= at, or
// ok=false if the path has no such entry (never seen, or only seen
// later than at).
func (d *DB) GetEntry(path string, at int64) (entry Entry, ok bool, err error) {
	err = d.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		seekKey := entryKey(path, at)
		k, v := c.Seek(seekKey)

		// Seek lands on the first key >= seekKey; if that's past our
		// target time (or a different path entirely) step back one.
		if k == nil {
			k, v = c.Last()
		} else {
			p, t := splitEntryKey(k)
			if p != path || t > at {
				k, v = c.Prev()
			}
		}
		if k == nil {
			return nil
		}
		p, t := splitEntryKey(k)
		if p != path || t > at {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return entry, ok, err
}

// History returns every entry ever recorded for path, oldest first.
func (d *DB) History(path string) ([]Entry, error) {
	var out []Entry
	err := d.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		prefix := append([]byte(path), 0)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Search returns the latest (as of at) entry for every path matching
// pattern, excluding tombstones, sorted by path.
func (d *DB) Search(pattern *regexp.Regexp, at int64) ([]Entry, error) {
	latest := make(map[string]Entry)
	err := d.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			path, t := splitEntryKey(k)
			if t > at || !pattern.MatchString(path) {
				continue
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if existing, ok := latest[path]; !ok || e.CommitTime > existing.CommitTime {
				latest[path] = e
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(latest))
	for _, e := range latest {
		if !e.IsTombstone() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// AllPaths returns every distinct path ever recorded, live or tombstoned,
// in no particular order. Unlike Search, it does not filter by pattern or
// commit_time and does not exclude deleted paths, so callers that must
// walk a path's full History() — garbage collection's mark phase, in
// particular — see paths Search would hide.
func (d *DB) AllPaths() ([]string, error) {
	seen := make(map[string]struct{})
	err := d.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			path, _ := splitEntryKey(k)
			seen[path] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
