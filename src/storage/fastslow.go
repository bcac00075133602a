package storage

import (
	"context"
	"io"

	"github.com/thought-machine/rexec/src/digest"
)

// FastSlow layers a small, quick-to-reach cache (Fast) in front of a larger,
// authoritative store (Slow). Reads check Fast first and fall through to
// Slow on a miss, populating Fast as they go; writes go to both so Fast
// never serves a blob Slow doesn't also have. FindMissing only consults
// Slow, since that's the store of record.
type FastSlow struct {
	Fast BlobStorage
	Slow BlobStorage
}

// NewFastSlow layers fast in front of slow.
func NewFastSlow(fast, slow BlobStorage) *FastSlow {
	return &FastSlow{Fast: fast, Slow: slow}
}

func (f *FastSlow) EnsureInstance(ctx context.Context, instance string) error {
	if err := f.Fast.EnsureInstance(ctx, instance); err != nil {
		return err
	}
	return f.Slow.EnsureInstance(ctx, instance)
}

func (f *FastSlow) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	return f.Slow.FindMissing(ctx, instance, digests)
}

func (f *FastSlow) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	if r, found, err := f.Fast.Read(ctx, instance, d, opts); err == nil && found {
		return r, true, nil
	}
	r, found, err := f.Slow.Read(ctx, instance, d, opts)
	if !found || err != nil {
		return r, found, err
	}
	// Only promote whole-blob reads into the fast tier; a partial read
	// shouldn't populate Fast with a truncated copy.
	if opts.Offset != 0 || opts.Limit != 0 {
		return r, true, nil
	}
	return f.promote(ctx, instance, d, r), true, nil
}

// promote tees a whole-blob read into Fast while still streaming it to the
// caller, so a single Slow read satisfies both the caller and the cache.
func (f *FastSlow) promote(ctx context.Context, instance string, d digest.Digest, r io.ReadCloser) io.ReadCloser {
	w, err := f.Fast.BeginWrite(ctx, instance, d)
	if err != nil {
		return r
	}
	return &promotingReader{ctx: ctx, r: r, w: w}
}

type promotingReader struct {
	ctx    context.Context
	r      io.ReadCloser
	w      WriteAttempt
	failed bool
}

func (p *promotingReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && !p.failed {
		if werr := p.w.Write(p.ctx, b[:n]); werr != nil {
			p.failed = true
		}
	}
	if err == io.EOF && !p.failed {
		if cerr := p.w.Commit(p.ctx); cerr != nil {
			p.failed = true
		}
	}
	return n, err
}

func (p *promotingReader) Close() error {
	p.w.Close()
	return p.r.Close()
}

func (f *FastSlow) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	slowWrite, err := f.Slow.BeginWrite(ctx, instance, d)
	if err != nil {
		return nil, err
	}
	fastWrite, err := f.Fast.BeginWrite(ctx, instance, d)
	if err != nil {
		// The slow tier is authoritative; proceed without fast-tier caching
		// rather than failing the whole write.
		return slowWrite, nil
	}
	return &fastSlowWrite{fast: fastWrite, slow: slowWrite}, nil
}

type fastSlowWrite struct {
	fast WriteAttempt
	slow WriteAttempt
}

func (w *fastSlowWrite) Write(ctx context.Context, p []byte) error {
	if err := w.slow.Write(ctx, p); err != nil {
		return err
	}
	w.fast.Write(ctx, p)
	return nil
}

func (w *fastSlowWrite) Commit(ctx context.Context) error {
	if err := w.slow.Commit(ctx); err != nil {
		return err
	}
	w.fast.Commit(ctx)
	return nil
}

func (w *fastSlowWrite) Close() error {
	w.fast.Close()
	return w.slow.Close()
}
