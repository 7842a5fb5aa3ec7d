// Package engineerr defines the typed error kinds shared across the
// backup engine, following the same plain-struct-implementing-error idiom
// the storage driver layer uses for PathNotFoundError/InvalidPathError.
package engineerr

import "fmt"

// ConfigError reports a problem with the backup-set configuration. It is
// fatal at run start.
type ConfigError struct {
	Set    string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config error for set %q: %s", e.Set, e.Reason)
}

// TransportError wraps a failure talking to a storage backend.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

// NotFoundError reports a missing blob, manifest generation, or path.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Resource)
}

// AlreadyExistsError is benign unless the existing payload's digest
// disagrees with the one being published, in which case the caller
// should surface CorruptError instead.
type AlreadyExistsError struct {
	Resource string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("already exists: %s", e.Resource)
}

// CorruptError reports a digest mismatch, failed authentication tag, or
// any other integrity violation detected on read.
type CorruptError struct {
	Resource string
	Reason   string
}

func (e CorruptError) Error() string {
	return fmt.Sprintf("corrupt %s: %s", e.Resource, e.Reason)
}

// CryptoAuthError reports an authenticated-decryption failure. It is
// fatal at run start (key mismatch) but per-file/per-path otherwise.
type CryptoAuthError struct {
	Resource string
}

func (e CryptoAuthError) Error() string {
	return fmt.Sprintf("decryption authentication failed for %s", e.Resource)
}

// FileRaceError reports that a file's size or mtime changed while it was
// being processed, meaning the computed SHA may not reflect the bytes
// that would be stored.
type FileRaceError struct {
	Path string
}

func (e FileRaceError) Error() string {
	return fmt.Sprintf("concurrent modification detected for %s", e.Path)
}

// ExclusionSignal is an internal control-flow signal, not a failure: it
// tells the snapshotter to skip a path without recording it as seen.
type ExclusionSignal struct {
	Path string
}

func (e ExclusionSignal) Error() string {
	return fmt.Sprintf("path excluded: %s", e.Path)
}

// CancelRequested reports that the run's context was cancelled.
type CancelRequested struct{}

func (e CancelRequested) Error() string {
	return "cancellation requested"
}
