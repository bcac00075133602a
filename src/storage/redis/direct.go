package redis

import (
	"bytes"
	"context"
	"fmt"
	"io"

	goredis "github.com/redis/go-redis/v9"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/storage"
)

// findMissingBatchSize bounds how many EXISTS checks go into a single
// pipeline, matching original_source's FIND_MISSING_BLOBS_BATCH_SIZE.
const findMissingBatchSize = 1000

// Direct stores each blob under a single key, "prefix:instance:hash:size".
// Intended for small blobs where the overhead of the chunked encoding's
// index indirection isn't worth it.
type Direct struct {
	Pool   *Pool
	Prefix string
}

// NewDirect constructs a Direct driver using pool, namespacing keys under
// prefix.
func NewDirect(pool *Pool, prefix string) *Direct {
	return &Direct{Pool: pool, Prefix: prefix}
}

func (d *Direct) key(instance string, dg digest.Digest) string {
	return fmt.Sprintf("%s:%s:%s:%d", d.Prefix, instance, dg.Hex(), dg.Size)
}

func (d *Direct) EnsureInstance(ctx context.Context, instance string) error {
	return nil // Redis keyspaces need no provisioning.
}

func (d *Direct) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	var missing []digest.Digest
	for start := 0; start < len(digests); start += findMissingBatchSize {
		end := start + findMissingBatchSize
		if end > len(digests) {
			end = len(digests)
		}
		batch := digests[start:end]
		err := d.Pool.Do(ctx, func(ctx context.Context) error {
			pipe := d.Pool.Client.Pipeline()
			cmds := make([]*goredis.IntCmd, len(batch))
			for i, dg := range batch {
				if dg.IsEmpty() {
					continue
				}
				cmds[i] = pipe.Exists(ctx, d.key(instance, dg))
			}
			if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
				return storage.ErrUnavailable("redis pipeline exec: %v", err)
			}
			for i, dg := range batch {
				if dg.IsEmpty() || cmds[i] == nil {
					continue
				}
				if cmds[i].Val() == 0 {
					missing = append(missing, dg)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func (d *Direct) Read(ctx context.Context, instance string, dg digest.Digest, opts storage.ReadOptions) (io.ReadCloser, bool, error) {
	var b []byte
	err := d.Pool.Do(ctx, func(ctx context.Context) error {
		v, err := d.Pool.Client.Get(ctx, d.key(instance, dg)).Bytes()
		if err == goredis.Nil {
			return nil
		}
		if err != nil {
			return storage.ErrUnavailable("redis get: %v", err)
		}
		b = v
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	sliced, err := applyReadOptions(b, opts)
	if err != nil {
		return nil, false, err
	}
	return io.NopCloser(bytes.NewReader(sliced)), true, nil
}

// applyReadOptions mirrors storage.applyReadOptions, duplicated here since
// it is unexported from the storage package.
func applyReadOptions(b []byte, opts storage.ReadOptions) ([]byte, error) {
	if opts.Offset < 0 || opts.Offset > int64(len(b)) {
		return nil, storage.ErrOutOfRange("read_offset", opts.Offset)
	}
	if opts.Limit < 0 {
		return nil, storage.ErrOutOfRange("read_limit", opts.Limit)
	}
	b = b[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < int64(len(b)) {
		b = b[:opts.Limit]
	}
	return b, nil
}

func (d *Direct) BeginWrite(ctx context.Context, instance string, dg digest.Digest) (storage.WriteAttempt, error) {
	return &directWrite{d: d, instance: instance, digest: dg}, nil
}

type directWrite struct {
	d        *Direct
	instance string
	digest   digest.Digest
	buf      bytes.Buffer
}

func (w *directWrite) Write(ctx context.Context, p []byte) error {
	w.buf.Write(p)
	return nil
}

func (w *directWrite) Commit(ctx context.Context) error {
	key := w.d.key(w.instance, w.digest)
	return w.d.Pool.Do(ctx, func(ctx context.Context) error {
		if err := w.d.Pool.Client.SetNX(ctx, key, w.buf.Bytes(), 0).Err(); err != nil {
			return storage.ErrUnavailable("redis setnx: %v", err)
		}
		return nil
	})
}

func (w *directWrite) Close() error {
	w.buf.Reset()
	return nil
}
