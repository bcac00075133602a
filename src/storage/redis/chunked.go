package redis

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/thought-machine/rexec/src/digest"
	"github.com/thought-machine/rexec/src/storage"
)

// Chunked stores blobs split across a Redis list keyed by a generated UUID,
// with a separate index mapping the content digest to that UUID. This
// indirection lets two concurrent uploads of the same digest race without
// corrupting each other's list: only the writer that wins the index SETNX
// is ever visible to readers.
//
//	data:  PREFIX:INSTANCE:data:UUID         (Redis list of chunks, in order)
//	index: PREFIX:INSTANCE:index:HASH:SIZE   (Redis string, value = UUID)
//
// Must be paired with storage.Chunking upstream to bound chunk sizes; see
// §4.2.
type Chunked struct {
	Pool   *Pool
	Prefix string
}

// NewChunked constructs a Chunked driver using pool, namespacing keys
// under prefix.
func NewChunked(pool *Pool, prefix string) *Chunked {
	return &Chunked{Pool: pool, Prefix: prefix}
}

func (c *Chunked) indexKey(instance string, dg digest.Digest) string {
	return fmt.Sprintf("%s:%s:index:%s:%d", c.Prefix, instance, dg.Hex(), dg.Size)
}

func (c *Chunked) dataKey(instance, id string) string {
	return fmt.Sprintf("%s:%s:data:%s", c.Prefix, instance, id)
}

func (c *Chunked) EnsureInstance(ctx context.Context, instance string) error { return nil }

func (c *Chunked) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	var missing []digest.Digest
	for start := 0; start < len(digests); start += findMissingBatchSize {
		end := start + findMissingBatchSize
		if end > len(digests) {
			end = len(digests)
		}
		batch := digests[start:end]
		err := c.Pool.Do(ctx, func(ctx context.Context) error {
			pipe := c.Pool.Client.Pipeline()
			cmds := make([]*goredis.IntCmd, len(batch))
			for i, dg := range batch {
				if dg.IsEmpty() {
					continue
				}
				cmds[i] = pipe.Exists(ctx, c.indexKey(instance, dg))
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

func (c *Chunked) Read(ctx context.Context, instance string, dg digest.Digest, opts storage.ReadOptions) (io.ReadCloser, bool, error) {
	var id string
	err := c.Pool.Do(ctx, func(ctx context.Context) error {
		v, err := c.Pool.Client.Get(ctx, c.indexKey(instance, dg)).Result()
		if err == goredis.Nil {
			return nil
		}
		if err != nil {
			return storage.ErrUnavailable("redis get index: %v", err)
		}
		id = v
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if id == "" {
		return nil, false, nil
	}
	var chunks []string
	err = c.Pool.Do(ctx, func(ctx context.Context) error {
		v, err := c.Pool.Client.LRange(ctx, c.dataKey(instance, id), 0, -1).Result()
		if err != nil {
			return storage.ErrUnavailable("redis lrange: %v", err)
		}
		chunks = v
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	var buf bytes.Buffer
	for _, chunk := range chunks {
		buf.WriteString(chunk)
	}
	sliced, err := applyReadOptions(buf.Bytes(), opts)
	if err != nil {
		return nil, false, err
	}
	return io.NopCloser(bytes.NewReader(sliced)), true, nil
}

func (c *Chunked) BeginWrite(ctx context.Context, instance string, dg digest.Digest) (storage.WriteAttempt, error) {
	return &chunkedWrite{c: c, instance: instance, digest: dg, id: uuid.NewString()}, nil
}

type chunkedWrite struct {
	c        *Chunked
	instance string
	digest   digest.Digest
	id       string
}

func (w *chunkedWrite) Write(ctx context.Context, p []byte) error {
	return w.c.Pool.Do(ctx, func(ctx context.Context) error {
		if err := w.c.Pool.Client.RPush(ctx, w.c.dataKey(w.instance, w.id), p).Err(); err != nil {
			return storage.ErrUnavailable("redis rpush: %v", err)
		}
		return nil
	})
}

func (w *chunkedWrite) Commit(ctx context.Context) error {
	return w.c.Pool.Do(ctx, func(ctx context.Context) error {
		ok, err := w.c.Pool.Client.SetNX(ctx, w.c.indexKey(w.instance, w.digest), w.id, 0).Result()
		if err != nil {
			return storage.ErrUnavailable("redis setnx index: %v", err)
		}
		if !ok {
			// A concurrent writer already published this digest; drop our
			// now-orphaned data list rather than leaking it.
			w.c.Pool.Client.Del(ctx, w.c.dataKey(w.instance, w.id))
		}
		return nil
	})
}

func (w *chunkedWrite) Close() error {
	return nil
}
