package storage

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thought-machine/rexec/src/digest"
)

// ExistenceCache wraps a driver with an in-process LRU of digests already
// known to exist, so repeated FindMissing calls for hot blobs (a build
// graph re-requesting the same headers) don't round-trip to the backend.
// A successful write or a FindMissing hit populates the cache; nothing ever
// evicts a blob from the underlying store because of this cache, it only
// ever short-circuits existence checks.
type ExistenceCache struct {
	Inner BlobStorage
	cache *lru.Cache[cacheKey, struct{}]
}

type cacheKey struct {
	instance string
	digest   digest.Digest
}

// NewExistenceCache wraps inner with an LRU existence cache of the given
// size (entry count, not bytes — entries are tiny digest keys).
func NewExistenceCache(inner BlobStorage, size int) *ExistenceCache {
	c, err := lru.New[cacheKey, struct{}](size)
	if err != nil {
		// Only returns an error for size <= 0, which is a caller bug.
		panic(err)
	}
	return &ExistenceCache{Inner: inner, cache: c}
}

func (e *ExistenceCache) EnsureInstance(ctx context.Context, instance string) error {
	return e.Inner.EnsureInstance(ctx, instance)
}

func (e *ExistenceCache) FindMissing(ctx context.Context, instance string, digests []digest.Digest) ([]digest.Digest, error) {
	toCheck := make([]digest.Digest, 0, len(digests))
	for _, d := range digests {
		if d.IsEmpty() {
			continue
		}
		if _, ok := e.cache.Get(cacheKey{instance, d}); !ok {
			toCheck = append(toCheck, d)
		}
	}
	if len(toCheck) == 0 {
		return nil, nil
	}
	missing, err := e.Inner.FindMissing(ctx, instance, toCheck)
	if err != nil {
		return nil, err
	}
	missingSet := make(map[digest.Digest]struct{}, len(missing))
	for _, d := range missing {
		missingSet[d] = struct{}{}
	}
	for _, d := range toCheck {
		if _, stillMissing := missingSet[d]; !stillMissing {
			e.cache.Add(cacheKey{instance, d}, struct{}{})
		}
	}
	return missing, nil
}

func (e *ExistenceCache) Read(ctx context.Context, instance string, d digest.Digest, opts ReadOptions) (io.ReadCloser, bool, error) {
	r, found, err := e.Inner.Read(ctx, instance, d, opts)
	if found && err == nil {
		e.cache.Add(cacheKey{instance, d}, struct{}{})
	}
	return r, found, err
}

func (e *ExistenceCache) BeginWrite(ctx context.Context, instance string, d digest.Digest) (WriteAttempt, error) {
	inner, err := e.Inner.BeginWrite(ctx, instance, d)
	if err != nil {
		if IsAlreadyExists(err) {
			e.cache.Add(cacheKey{instance, d}, struct{}{})
		}
		return nil, err
	}
	return &existenceCachingWrite{inner: inner, cache: e.cache, key: cacheKey{instance, d}}, nil
}

type existenceCachingWrite struct {
	inner WriteAttempt
	cache *lru.Cache[cacheKey, struct{}]
	key   cacheKey
}

func (w *existenceCachingWrite) Write(ctx context.Context, p []byte) error {
	return w.inner.Write(ctx, p)
}

func (w *existenceCachingWrite) Commit(ctx context.Context) error {
	if err := w.inner.Commit(ctx); err != nil {
		return err
	}
	w.cache.Add(w.key, struct{}{})
	return nil
}

func (w *existenceCachingWrite) Close() error {
	return w.inner.Close()
}
