// Package blobstore maps content-addressed blob and manifest-generation
// operations onto a store/driver.StorageDriver, playing the same role
// the registry's blobstore.go plays for layer content: addressing,
// staged atomic publish, and a thin existence/listing surface.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vaultkeeper/backup/internal/engineerr"
	"github.com/vaultkeeper/backup/store/driver"
)

// Store is the content-addressed blob and manifest-generation surface
// the rest of the engine builds on.
type Store interface {
	Exists(ctx context.Context, sha string) (bool, error)
	Put(ctx context.Context, sha string, r io.Reader) error
	Get(ctx context.Context, sha string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, sha string) error

	// PutManifest publishes a new manifest generation for name and then
	// prunes older generations, retaining at most maxVersions (0 means
	// unbounded retention).
	PutManifest(ctx context.Context, name string, r io.Reader, maxVersions int) error
	GetManifest(ctx context.Context, name string) (io.ReadCloser, error)
	ListManifests(ctx context.Context) ([]string, error)
}

type store struct {
	drv driver.StorageDriver
}

// New wraps drv as a blobstore.Store.
func New(drv driver.StorageDriver) Store {
	return &store{drv: drv}
}

func blobPath(sha string) (string, error) {
	hex := strings.TrimPrefix(sha, "sha256:")
	if len(hex) < 3 {
		return "", fmt.Errorf("blobstore: malformed sha %q", sha)
	}
	return fmt.Sprintf("/blobs/%s/%s", hex[:2], hex[2:]), nil
}

func (s *store) Exists(ctx context.Context, sha string) (bool, error) {
	p, err := blobPath(sha)
	if err != nil {
		return false, err
	}
	_, err = s.drv.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, engineerr.TransportError{Op: "stat blob", Err: err}
}

func (s *store) Put(ctx context.Context, sha string, r io.Reader) error {
	p, err := blobPath(sha)
	if err != nil {
		return err
	}
	if err := s.drv.Writer(ctx, p, r); err != nil {
		return engineerr.TransportError{Op: "put blob", Err: err}
	}
	return nil
}

func (s *store) Get(ctx context.Context, sha string) (io.ReadCloser, error) {
	p, err := blobPath(sha)
	if err != nil {
		return nil, err
	}
	rc, err := s.drv.Reader(ctx, p, 0)
	if err != nil {
		if isNotFound(err) {
			return nil, engineerr.NotFoundError{Resource: sha}
		}
		return nil, engineerr.TransportError{Op: "get blob", Err: err}
	}
	return rc, nil
}

func (s *store) List(ctx context.Context, prefix string) ([]string, error) {
	hex := strings.TrimPrefix(prefix, "sha256:")
	dir := "/blobs"
	shard := ""
	if len(hex) >= 2 {
		shard = hex[:2]
		dir = fmt.Sprintf("/blobs/%s", shard)
	}
	names, err := s.drv.List(ctx, dir)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, engineerr.TransportError{Op: "list blobs", Err: err}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		rest := strings.TrimPrefix(strings.TrimPrefix(n, dir), "/")
		sha := "sha256:" + shard + rest
		if strings.HasPrefix(sha, "sha256:"+hex) {
			out = append(out, sha)
		}
	}
	return out, nil
}

func (s *store) Delete(ctx context.Context, sha string) error {
	p, err := blobPath(sha)
	if err != nil {
		return err
	}
	if err := s.drv.Delete(ctx, p); err != nil {
		return engineerr.TransportError{Op: "delete blob", Err: err}
	}
	return nil
}

// manifestGenerationPath names a manifest generation after the unix-nano
// timestamp it was published at, so listing a backup set's manifests
// directory naturally orders its history.
func manifestGenerationPath(setName string, ts int64) string {
	return fmt.Sprintf("/manifests/%s/manifest.%d", setName, ts)
}

func manifestAliasPath(setName string) string {
	return fmt.Sprintf("/manifests/%s/manifest", setName)
}

func (s *store) PutManifest(ctx context.Context, setName string, r io.Reader, maxVersions int) error {
	ts := time.Now().UnixNano()
	gen := manifestGenerationPath(setName, ts)
	if err := s.drv.Writer(ctx, gen, r); err != nil {
		return engineerr.TransportError{Op: "put manifest generation", Err: err}
	}
	alias := manifestAliasPath(setName)
	if _, err := s.drv.Stat(ctx, alias); err == nil {
		if err := s.drv.Delete(ctx, alias); err != nil {
			return engineerr.TransportError{Op: "replace manifest alias", Err: err}
		}
	}
	content, err := s.drv.GetContent(ctx, gen)
	if err != nil {
		return engineerr.TransportError{Op: "reread manifest generation", Err: err}
	}
	if err := s.drv.PutContent(ctx, alias, content); err != nil {
		return engineerr.TransportError{Op: "put manifest alias", Err: err}
	}
	return s.pruneManifestGenerations(ctx, setName, maxVersions)
}

// pruneManifestGenerations deletes the oldest manifest generations for
// setName beyond maxVersions, keeping the alias untouched (it always
// points at the newest generation, just written above). maxVersions <= 0
// means unbounded retention; config.Load replaces an unset
// max_manifest_versions with 10 before it reaches here.
func (s *store) pruneManifestGenerations(ctx context.Context, setName string, maxVersions int) error {
	if maxVersions <= 0 {
		return nil
	}
	dir := fmt.Sprintf("/manifests/%s", setName)
	names, err := s.drv.List(ctx, dir)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return engineerr.TransportError{Op: "list manifest generations", Err: err}
	}

	type generation struct {
		path string
		ts   int64
	}
	var gens []generation
	for _, n := range names {
		base := n
		if i := strings.LastIndex(n, "/"); i >= 0 {
			base = n[i+1:]
		}
		tsStr := strings.TrimPrefix(base, "manifest.")
		if tsStr == base {
			continue // the "manifest" alias itself, not a generation
		}
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, generation{path: n, ts: ts})
	}
	if len(gens) <= maxVersions {
		return nil
	}

	sort.Slice(gens, func(i, j int) bool { return gens[i].ts > gens[j].ts })
	for _, g := range gens[maxVersions:] {
		if err := s.drv.Delete(ctx, g.path); err != nil {
			return engineerr.TransportError{Op: "prune manifest generation", Err: err}
		}
	}
	return nil
}

func (s *store) GetManifest(ctx context.Context, setName string) (io.ReadCloser, error) {
	rc, err := s.drv.Reader(ctx, manifestAliasPath(setName), 0)
	if err != nil {
		if isNotFound(err) {
			return nil, engineerr.NotFoundError{Resource: "manifest:" + setName}
		}
		return nil, engineerr.TransportError{Op: "get manifest", Err: err}
	}
	return rc, nil
}

func (s *store) ListManifests(ctx context.Context) ([]string, error) {
	sets, err := s.drv.List(ctx, "/manifests")
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, engineerr.TransportError{Op: "list manifests", Err: err}
	}
	var out []string
	for _, set := range sets {
		names, err := s.drv.List(ctx, set)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, engineerr.TransportError{Op: "list manifests", Err: err}
		}
		for _, n := range names {
			out = append(out, strings.TrimPrefix(n, "/manifests/"))
		}
	}
	return out, nil
}

func isNotFound(err error) bool {
	_, ok := err.(driver.PathNotFoundError)
	return ok
}
