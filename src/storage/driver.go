// Package storage implements the pluggable, composable content-addressed
// blob store described in §4.2 of the spec: a small BlobStorage interface
// that every driver (memory, file, Redis, sharded, dark-launch, existence
// cache, size-split, fast/slow, digest-verifying, metered, metrics) shares,
// so drivers can be nested arbitrarily to build a storage pipeline.
package storage

import (
	"context"
	"io"

	"github.com/thought-machine/rexec/src/digest"
)

// ReadOptions controls a partial read. Offset and Limit are both
// zero-valued ("start", "to end") by default; see §4.3 for the exact
// validation rules applied at the ByteStream boundary.
type ReadOptions struct {
	Offset int64
	Limit  int64
}

// BlobStorage is the uniform capability every storage driver implements:
// read, write and existence-check over instance-scoped, digest-addressed
// blobs. It is safe for concurrent use by multiple goroutines.
type BlobStorage interface {
	// FindMissing returns the subset of digests not present in the store
	// for the given instance. The empty digest is never reported missing.
	FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error)

	// Read returns a stream of the blob's bytes, honoring opts.Offset and
	// opts.Limit. found is false if the blob does not exist, in which case
	// r is nil.
	Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (r io.ReadCloser, found bool, err error)

	// BeginWrite starts a write of d's bytes. It may fail immediately with
	// an AlreadyExists error if the driver can cheaply tell the blob is
	// already present (in which case CoalesceAlreadyExists treats that as
	// success for most callers).
	BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error)

	// EnsureInstance idempotently prepares any per-instance state (e.g. a
	// directory, a Redis keyspace prefix) the driver needs before use.
	EnsureInstance(ctx context.Context, instance string) error
}

// WriteAttempt represents one in-progress blob write. Callers must call
// Close exactly once, whether or not Commit succeeded; Close after a
// successful Commit is a no-op, and Close without a prior Commit discards
// any partial data the driver buffered or wrote to disk so that no partial
// blob is ever exposed to readers.
type WriteAttempt interface {
	// Write appends a chunk of the blob's bytes.
	Write(ctx context.Context, p []byte) error

	// Commit atomically publishes the blob. It must tolerate a concurrent
	// writer having already published the same digest, returning a
	// successful Commit (or an AlreadyExists error, at the driver's
	// discretion — both are handled identically by callers).
	Commit(ctx context.Context) error

	// Close releases any resources associated with the attempt.
	Close() error
}
