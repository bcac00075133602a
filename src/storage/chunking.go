package storage

import (
	"bufio"
	"context"
	"io"

	"github.com/thought-machine/rexec/src/digest"
)

// Chunking wraps any driver and normalises the chunk sizes crossing the
// BlobStorage boundary: inbound write chunks are buffered up to
// PreferredSize before being flushed to the inner driver, and inbound read
// chunks from the inner driver are rebatched to PreferredSize before being
// handed back to the caller. This is transparent to every other semantic
// (existence, commit, errors) — only the chunk boundaries differ.
type Chunking struct {
	Inner         BlobStorage
	PreferredSize int
}

// NewChunking wraps inner with the given preferred chunk size.
func NewChunking(inner BlobStorage, preferredSize int) *Chunking {
	return &Chunking{Inner: inner, PreferredSize: preferredSize}
}

func (c *Chunking) EnsureInstance(ctx context.Context, instance string) error {
	return c.Inner.EnsureInstance(ctx, instance)
}

func (c *Chunking) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	return c.Inner.FindMissing(ctx, instance, digests)
}

func (c *Chunking) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	r, found, err := c.Inner.Read(ctx, instance, d, opts)
	if !found || err != nil {
		return r, found, err
	}
	return &rebatchedReader{r: bufio.NewReaderSize(r, c.PreferredSize), closer: r}, true, nil
}

type rebatchedReader struct {
	r      *bufio.Reader
	closer io.Closer
}

func (r *rebatchedReader) Read(p []byte) (int, error) { return r.r.Read(p) }
func (r *rebatchedReader) Close() error               { return r.closer.Close() }

func (c *Chunking) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	inner, err := c.Inner.BeginWrite(ctx, instance, d)
	if err != nil {
		return nil, err
	}
	return &chunkingWrite{inner: inner, preferredSize: c.PreferredSize}, nil
}

type chunkingWrite struct {
	inner         WriteAttempt
	preferredSize int
	buf           []byte
}

func (w *chunkingWrite) Write(ctx context.Context, p []byte) error {
	w.buf = append(w.buf, p...)
	for len(w.buf) >= w.preferredSize {
		if err := w.inner.Write(ctx, w.buf[:w.preferredSize]); err != nil {
			return err
		}
		w.buf = w.buf[w.preferredSize:]
	}
	return nil
}

func (w *chunkingWrite) Commit(ctx context.Context) error {
	if len(w.buf) > 0 {
		if err := w.inner.Write(ctx, w.buf); err != nil {
			return err
		}
		w.buf = nil
	}
	return w.inner.Commit(ctx)
}

func (w *chunkingWrite) Close() error {
	return w.inner.Close()
}
