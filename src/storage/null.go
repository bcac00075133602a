package storage

import (
	"context"
	"io"

	"github.com/thought-machine/rexec/src/digest"
)

// Null is a BlobStorage that reports every blob missing and discards every
// write. Used to disable a tier of a pipeline (e.g. a fast cache in tests)
// without special-casing the pipeline wiring.
type Null struct{}

func (Null) EnsureInstance(ctx context.Context, instance string) error { return nil }

func (Null) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	out := make([]digest.Digest, 0, len(digests))
	for _, d := range digests {
		if !d.IsEmpty() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (Null) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	return nil, false, nil
}

func (Null) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	return nullWrite{}, nil
}

type nullWrite struct{}

func (nullWrite) Write(ctx context.Context, p []byte) error { return nil }
func (nullWrite) Commit(ctx context.Context) error          { return nil }
func (nullWrite) Close() error                              { return nil }

// AlwaysErrors is a BlobStorage where every operation fails with the given
// error. Useful for testing a pipeline's fallback behaviour (fast/slow,
// dark-launch) when a tier is entirely down.
type AlwaysErrors struct {
	Err error
}

func (a AlwaysErrors) EnsureInstance(ctx context.Context, instance string) error { return a.Err }

func (a AlwaysErrors) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	return nil, a.Err
}

func (a AlwaysErrors) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	return nil, false, a.Err
}

func (a AlwaysErrors) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	return nil, a.Err
}
