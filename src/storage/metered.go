package storage

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/thought-machine/rexec/src/digest"
)

// Usage is one instance's cumulative read/write byte counters since the
// meter was created; Snapshot does not reset them.
type Usage struct {
	BytesRead    int64
	BytesWritten int64
}

// Meter accumulates per-instance byte usage for metered billing export, in
// the manner of the Amberflo-style usage emitters the teacher's metrics
// package patterns after (push aggregated counters on a timer rather than
// per-call).
type Meter struct {
	mu   map[string]*instanceCounters
	mkMu chan struct{} // binary semaphore guarding mu's initialization set
}

type instanceCounters struct {
	read    int64
	written int64
}

// NewMeter constructs an empty usage meter.
func NewMeter() *Meter {
	return &Meter{mu: map[string]*instanceCounters{}, mkMu: make(chan struct{}, 1)}
}

func (m *Meter) counters(instance string) *instanceCounters {
	m.mkMu <- struct{}{}
	defer func() { <-m.mkMu }()
	c, ok := m.mu[instance]
	if !ok {
		c = &instanceCounters{}
		m.mu[instance] = c
	}
	return c
}

// Snapshot returns a point-in-time copy of every instance's usage counters.
func (m *Meter) Snapshot() map[string]Usage {
	m.mkMu <- struct{}{}
	defer func() { <-m.mkMu }()
	out := make(map[string]Usage, len(m.mu))
	for instance, c := range m.mu {
		out[instance] = Usage{
			BytesRead:    atomic.LoadInt64(&c.read),
			BytesWritten: atomic.LoadInt64(&c.written),
		}
	}
	return out
}

// Metered wraps a driver and records bytes read and written per instance on
// a Meter, for usage-based billing export. It never changes behaviour or
// errors, only observes.
type Metered struct {
	Inner BlobStorage
	Meter *Meter
}

// NewMetered wraps inner, recording usage onto meter.
func NewMetered(inner BlobStorage, meter *Meter) *Metered {
	return &Metered{Inner: inner, Meter: meter}
}

func (m *Metered) EnsureInstance(ctx context.Context, instance string) error {
	return m.Inner.EnsureInstance(ctx, instance)
}

func (m *Metered) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	return m.Inner.FindMissing(ctx, instance, digests)
}

func (m *Metered) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	r, found, err := m.Inner.Read(ctx, instance, d, opts)
	if !found || err != nil {
		return r, found, err
	}
	return &meteredReader{r: r, c: m.Meter.counters(instance)}, true, nil
}

type meteredReader struct {
	r io.ReadCloser
	c *instanceCounters
}

func (r *meteredReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		atomic.AddInt64(&r.c.read, int64(n))
	}
	return n, err
}

func (r *meteredReader) Close() error { return r.r.Close() }

func (m *Metered) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	inner, err := m.Inner.BeginWrite(ctx, instance, d)
	if err != nil {
		return nil, err
	}
	return &meteredWrite{inner: inner, c: m.Meter.counters(instance)}, nil
}

type meteredWrite struct {
	inner WriteAttempt
	c     *instanceCounters
}

func (w *meteredWrite) Write(ctx context.Context, p []byte) error {
	err := w.inner.Write(ctx, p)
	if err == nil {
		atomic.AddInt64(&w.c.written, int64(len(p)))
	}
	return err
}

func (w *meteredWrite) Commit(ctx context.Context) error { return w.inner.Commit(ctx) }
func (w *meteredWrite) Close() error                     { return w.inner.Close() }

// StartEmitter runs f on meter's snapshot every interval until ctx is
// cancelled, the pattern the teacher's metrics package uses for its
// pushgateway loop (push on a ticker rather than scrape).
func StartEmitter(ctx context.Context, meter *Meter, interval time.Duration, f func(map[string]Usage)) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				f(meter.Snapshot())
			}
		}
	}()
}
