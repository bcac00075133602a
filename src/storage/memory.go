package storage

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/thought-machine/rexec/src/digest"
)

// Memory is an in-process BlobStorage backed by a map per instance. It is
// the baseline driver used in tests and as the innermost layer of
// lightweight pipelines, grounded on the teacher's in-memory cache map
// pattern (src/cache/server/cache.go) but keyed by digest rather than path.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[digest.Digest][]byte
}

// NewMemory constructs an empty Memory driver.
func NewMemory() *Memory {
	return &Memory{data: map[string]map[digest.Digest][]byte{}}
}

func (m *Memory) instanceMap(instance string) map[digest.Digest][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	im, ok := m.data[instance]
	if !ok {
		im = map[digest.Digest][]byte{}
		m.data[instance] = im
	}
	return im
}

func (m *Memory) EnsureInstance(ctx context.Context, instance string) error {
	m.instanceMap(instance)
	return nil
}

func (m *Memory) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	im := m.data[instance]
	missing := make([]digest.Digest, 0, len(digests))
	for _, d := range digests {
		if d.IsEmpty() {
			continue
		}
		if im == nil {
			missing = append(missing, d)
			continue
		}
		if _, ok := im[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

func (m *Memory) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	m.mu.RLock()
	b, ok := m.data[instance][d]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	b, err := applyReadOptions(b, opts)
	if err != nil {
		return nil, false, err
	}
	return io.NopCloser(bytes.NewReader(b)), true, nil
}

func (m *Memory) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	return &memoryWrite{m: m, instance: instance, digest: d}, nil
}

type memoryWrite struct {
	m        *Memory
	instance string
	digest   digest.Digest
	buf      bytes.Buffer
}

func (w *memoryWrite) Write(ctx context.Context, p []byte) error {
	w.buf.Write(p)
	return nil
}

func (w *memoryWrite) Commit(ctx context.Context) error {
	im := w.m.instanceMap(w.instance)
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if _, ok := im[w.digest]; ok {
		return nil // concurrent writer already published this digest.
	}
	im[w.digest] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

func (w *memoryWrite) Close() error {
	w.buf.Reset()
	return nil
}

// applyReadOptions slices b according to opts, validating the offset/limit
// bounds exactly as specified for the ByteStream Read RPC (§4.3): offset
// must be within [0, len(b)], limit (if set) bounds the total bytes
// returned from the offset.
func applyReadOptions(b []byte, opts ReadOptions) ([]byte, error) {
	if opts.Offset < 0 || opts.Offset > int64(len(b)) {
		return nil, ErrOutOfRange("read_offset", opts.Offset)
	}
	if opts.Limit < 0 {
		return nil, ErrOutOfRange("read_limit", opts.Limit)
	}
	b = b[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < int64(len(b)) {
		b = b[:opts.Limit]
	}
	return b, nil
}
