package config

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/thought-machine/rexec/src/storage"
	"github.com/thought-machine/rexec/src/storage/redis"
)

// defaultRedisChunkSize matches the original implementation's
// DEFAULT_CHUNK_SIZE (512KiB), used when a redis_chunked config doesn't
// override write_chunk_size.
const defaultRedisChunkSize = 512 * 1024

// defaultRedisPoolWorkers matches §5's "fixed-size worker pool (default 20)".
const defaultRedisPoolWorkers = 20

// BuildRedisPools dials one *redis.Pool per entry of backends, keyed by
// the same name a RedisChunkedConfig/RedisDirectConfig's Backend field
// references. Dial failures are not checked here — go-redis connects
// lazily — but §7 calls initial Redis verification out as fatal-to-
// process, so callers should PING each pool's client immediately after
// this returns and abort startup on error.
func BuildRedisPools(backends map[string]RedisBackendConfig) map[string]*redis.Pool {
	pools := make(map[string]*redis.Pool, len(backends))
	for name, b := range backends {
		workers := b.NumConnections
		if workers <= 0 {
			workers = defaultRedisPoolWorkers
		}
		client := goredis.NewClient(&goredis.Options{Addr: b.Address})
		pools[name] = redis.NewPool(client, workers)
	}
	return pools
}

// BuildBlobStorage recursively builds a storage.BlobStorage pipeline from
// cfg, resolving redis_chunked/redis_direct nodes against pools (built
// separately by BuildRedisPools since Redis backends are shared across
// possibly multiple driver-tree positions, e.g. CAS and the action cache).
func BuildBlobStorage(cfg *BlobStorageConfig, pools map[string]*redis.Pool) (storage.BlobStorage, error) {
	switch {
	case cfg.Local != nil:
		return storage.NewFile(cfg.Local.BasePath), nil
	case cfg.Memory != nil:
		return storage.NewMemory(), nil
	case cfg.Null != nil:
		return storage.Null{}, nil
	case cfg.SizeSplit != nil:
		small, err := BuildBlobStorage(cfg.SizeSplit.Smaller, pools)
		if err != nil {
			return nil, fmt.Errorf("size_split.smaller: %w", err)
		}
		large, err := BuildBlobStorage(cfg.SizeSplit.Larger, pools)
		if err != nil {
			return nil, fmt.Errorf("size_split.larger: %w", err)
		}
		return storage.NewSizeSplit(small, large, cfg.SizeSplit.Size), nil
	case cfg.ExistenceCache != nil:
		inner, err := BuildBlobStorage(cfg.ExistenceCache.Underlying, pools)
		if err != nil {
			return nil, fmt.Errorf("existence_cache.underlying: %w", err)
		}
		return storage.NewExistenceCache(inner, cfg.ExistenceCache.MaxEntries), nil
	case cfg.ReadDigestVerifier != nil:
		inner, err := BuildBlobStorage(cfg.ReadDigestVerifier, pools)
		if err != nil {
			return nil, fmt.Errorf("read_digest_verifier: %w", err)
		}
		return storage.NewReadVerifier(inner), nil
	case cfg.Metered != nil:
		inner, err := BuildBlobStorage(cfg.Metered, pools)
		if err != nil {
			return nil, fmt.Errorf("metered: %w", err)
		}
		return storage.NewMetered(inner, storage.NewMeter()), nil
	case cfg.DarkLaunch != nil:
		primary, err := BuildBlobStorage(cfg.DarkLaunch.Storage1, pools)
		if err != nil {
			return nil, fmt.Errorf("dark_launch.storage1: %w", err)
		}
		shadow, err := BuildBlobStorage(cfg.DarkLaunch.Storage2, pools)
		if err != nil {
			return nil, fmt.Errorf("dark_launch.storage2: %w", err)
		}
		return storage.NewDarkLaunch(primary, shadow), nil
	case cfg.ReadCache != nil:
		fast, err := BuildBlobStorage(cfg.ReadCache.Fast, pools)
		if err != nil {
			return nil, fmt.Errorf("read_cache.fast: %w", err)
		}
		slow, err := BuildBlobStorage(cfg.ReadCache.Slow, pools)
		if err != nil {
			return nil, fmt.Errorf("read_cache.slow: %w", err)
		}
		return storage.NewFastSlow(fast, slow), nil
	case cfg.Sharded != nil:
		shards := make([]storage.BlobStorage, len(cfg.Sharded.Shards))
		names := make([]string, len(cfg.Sharded.Shards))
		for i, sh := range cfg.Sharded.Shards {
			s, err := BuildBlobStorage(sh.Storage, pools)
			if err != nil {
				return nil, fmt.Errorf("sharded.shards[%d]: %w", i, err)
			}
			shards[i] = s
			names[i] = sh.ShardKey
		}
		replicas := cfg.Sharded.NumReplicas
		if replicas <= 0 {
			replicas = 1
		}
		return storage.NewSharded(shards, names, replicas), nil
	case cfg.RedisChunked != nil:
		pool, ok := pools[cfg.RedisChunked.Backend]
		if !ok {
			return nil, fmt.Errorf("redis_chunked: no such redis backend %q", cfg.RedisChunked.Backend)
		}
		chunkSize := cfg.RedisChunked.WriteChunkSize
		if chunkSize <= 0 {
			chunkSize = defaultRedisChunkSize
		}
		driver := redis.NewChunked(pool, cfg.RedisChunked.Prefix)
		return storage.NewChunking(driver, chunkSize), nil
	case cfg.RedisDirect != nil:
		pool, ok := pools[cfg.RedisDirect.Backend]
		if !ok {
			return nil, fmt.Errorf("redis_direct: no such redis backend %q", cfg.RedisDirect.Backend)
		}
		return redis.NewDirect(pool, cfg.RedisDirect.Prefix), nil
	case cfg.AlwaysErrors != nil:
		return storage.AlwaysErrors{Err: fmt.Errorf("always_errors driver")}, nil
	default:
		return nil, fmt.Errorf("blob storage config names no driver variant")
	}
}
