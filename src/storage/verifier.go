package storage

import (
	"context"
	"crypto/sha256"
	"hash"
	"io"

	"github.com/thought-machine/rexec/src/digest"
)

// WriteVerifier wraps a driver and rejects any write whose bytes don't hash
// and size to the digest it was declared under. A mismatch is never data
// loss — the bytes never made it into the backend — so IsDataLoss is always
// false here (contrast ReadVerifier).
type WriteVerifier struct {
	Inner BlobStorage
}

// NewWriteVerifier wraps inner with write-time digest verification.
func NewWriteVerifier(inner BlobStorage) *WriteVerifier {
	return &WriteVerifier{Inner: inner}
}

func (v *WriteVerifier) EnsureInstance(ctx context.Context, instance string) error {
	return v.Inner.EnsureInstance(ctx, instance)
}

func (v *WriteVerifier) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	return v.Inner.FindMissing(ctx, instance, digests)
}

func (v *WriteVerifier) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	return v.Inner.Read(ctx, instance, d, opts)
}

func (v *WriteVerifier) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	inner, err := v.Inner.BeginWrite(ctx, instance, d)
	if err != nil {
		return nil, err
	}
	return &verifyingWrite{inner: inner, want: d, h: sha256.New()}, nil
}

type verifyingWrite struct {
	inner WriteAttempt
	want  digest.Digest
	h     hash.Hash
	size  int64
}

func (w *verifyingWrite) Write(ctx context.Context, p []byte) error {
	w.h.Write(p)
	w.size += int64(len(p))
	return w.inner.Write(ctx, p)
}

func (w *verifyingWrite) Commit(ctx context.Context) error {
	if w.size != w.want.Size {
		return ErrInvalidSize(w.want.Size, w.size, false)
	}
	var sum [32]byte
	copy(sum[:], w.h.Sum(nil))
	got := digest.Digest{Hash: sum, Size: w.size}
	if got.Hex() != w.want.Hex() {
		return ErrInvalidHash(w.want.Hex(), got.Hex(), false)
	}
	return w.inner.Commit(ctx)
}

func (w *verifyingWrite) Close() error {
	return w.inner.Close()
}

// ReadVerifier wraps a driver and re-hashes bytes as they are read back,
// surfacing a DATA_LOSS-flagged error if the stored blob no longer matches
// its digest — i.e. the backend has been corrupted since it was written.
type ReadVerifier struct {
	Inner BlobStorage
}

// NewReadVerifier wraps inner with read-time digest verification.
func NewReadVerifier(inner BlobStorage) *ReadVerifier {
	return &ReadVerifier{Inner: inner}
}

func (v *ReadVerifier) EnsureInstance(ctx context.Context, instance string) error {
	return v.Inner.EnsureInstance(ctx, instance)
}

func (v *ReadVerifier) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	return v.Inner.FindMissing(ctx, instance, digests)
}

func (v *ReadVerifier) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	r, found, err := v.Inner.Read(ctx, instance, d, opts)
	if !found || err != nil {
		return r, found, err
	}
	// Verification only makes sense over the whole blob; a partial read
	// (non-zero offset or a limit) can't be checked against the full digest
	// so it passes through unverified.
	if opts.Offset != 0 || opts.Limit != 0 {
		return r, found, nil
	}
	return &verifyingRead{r: r, want: d, h: sha256.New()}, true, nil
}

func (v *ReadVerifier) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	return v.Inner.BeginWrite(ctx, instance, d)
}

type verifyingRead struct {
	r    io.ReadCloser
	want digest.Digest
	h    hash.Hash
	size int64
	done bool
}

func (r *verifyingRead) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
		r.size += int64(n)
	}
	if err == io.EOF {
		if verr := r.verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (r *verifyingRead) verify() error {
	if r.done {
		return nil
	}
	r.done = true
	if r.size != r.want.Size {
		return ErrInvalidSize(r.want.Size, r.size, true)
	}
	var sum [32]byte
	copy(sum[:], r.h.Sum(nil))
	got := digest.Digest{Hash: sum, Size: r.size}
	if got.Hex() != r.want.Hex() {
		return ErrInvalidHash(r.want.Hex(), got.Hex(), true)
	}
	return nil
}

func (r *verifyingRead) Close() error {
	return r.r.Close()
}
