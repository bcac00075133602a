package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// BlobStorageConfig is a tagged union over the driver tree in §4.2: each
// YAML document names exactly one of the fields below, following the
// original_source config's `serde_yaml::with::singleton_map` convention
// (a one-key map selects the variant). UnmarshalYAML enforces the
// single-key rule explicitly since yaml.v3 has no native tagged-union
// support.
type BlobStorageConfig struct {
	Local              *LocalConfig          `yaml:"local,omitempty"`
	Memory             *struct{}             `yaml:"memory,omitempty"`
	SizeSplit          *SizeSplitConfig      `yaml:"size_split,omitempty"`
	RedisChunked       *RedisChunkedConfig   `yaml:"redis_chunked,omitempty"`
	RedisDirect        *RedisDirectConfig    `yaml:"redis_direct,omitempty"`
	ExistenceCache     *ExistenceCacheConfig `yaml:"existence_cache,omitempty"`
	DarkLaunch         *DarkLaunchConfig     `yaml:"dark_launch,omitempty"`
	ReadDigestVerifier *BlobStorageConfig    `yaml:"read_digest_verifier,omitempty"`
	Metered            *BlobStorageConfig    `yaml:"metered,omitempty"`
	Sharded            *ShardedConfig        `yaml:"sharded,omitempty"`
	ReadCache          *ReadCacheConfig      `yaml:"read_cache,omitempty"`
	Null               *struct{}             `yaml:"null,omitempty"`
	AlwaysErrors       *struct{}             `yaml:"always_errors,omitempty"`
}

// LocalConfig configures the on-disk driver (§4.2, §6 file layout).
type LocalConfig struct {
	BasePath string `yaml:"base_path"`
}

// SizeSplitConfig routes blobs under Size to Smaller and the rest to Larger.
type SizeSplitConfig struct {
	Size    int64              `yaml:"size"`
	Smaller *BlobStorageConfig `yaml:"smaller"`
	Larger  *BlobStorageConfig `yaml:"larger"`
}

// ExistenceCacheConfig wraps Underlying with an LRU of known-present digests.
type ExistenceCacheConfig struct {
	MaxEntries int                `yaml:"max_entries"`
	Underlying *BlobStorageConfig `yaml:"underlying"`
}

// RedisChunkedConfig configures the chunked Redis driver (§4.2).
type RedisChunkedConfig struct {
	Backend        string `yaml:"backend"`
	WriteChunkSize int    `yaml:"write_chunk_size"`
	Prefix         string `yaml:"prefix"`
}

// RedisDirectConfig configures the single-blob-per-key Redis driver.
type RedisDirectConfig struct {
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix"`
}

// DarkLaunchConfig configures a storage.DarkLaunch: every call is served by
// Storage1, and every write, for every instance, is also mirrored into
// Storage2 without depending on its responses. BuildBlobStorage does not
// read Storage2InstanceNames or WriteToSecondary, so no instance is served
// from Storage2 and the mirroring cannot be switched off.
type DarkLaunchConfig struct {
	Storage2InstanceNames []string           `yaml:"storage2_instance_names"`
	WriteToSecondary      bool               `yaml:"write_to_secondary"`
	Storage1              *BlobStorageConfig `yaml:"storage1"`
	Storage2              *BlobStorageConfig `yaml:"storage2"`
}

// ShardConfig is one member of a ShardedConfig's consistent-hash ring.
type ShardConfig struct {
	ShardKey string             `yaml:"shard_key"`
	Storage  *BlobStorageConfig `yaml:"storage"`
}

// ShardedConfig configures the consistent-hash sharded driver (§4.2).
type ShardedConfig struct {
	Shards      []ShardConfig `yaml:"shards"`
	NumReplicas int           `yaml:"num_replicas"`
}

// ReadCacheConfig layers a small/fast driver in front of a larger/slow one.
type ReadCacheConfig struct {
	Fast *BlobStorageConfig `yaml:"fast"`
	Slow *BlobStorageConfig `yaml:"slow"`
}

// RedisBackendConfig names one Redis cluster a RedisChunked/RedisDirect
// driver can reference by Backend, per §6's redis_backends map.
type RedisBackendConfig struct {
	Address                          string `yaml:"address"`
	ReadOnlyAddress                  string `yaml:"read_only_address"`
	NumConnections                   int    `yaml:"num_connections"`
	UsePrimaryForReadOnlyProbability int    `yaml:"use_primary_for_read_only_probability"`
}

// UnmarshalYAML enforces that exactly one driver variant is set, giving a
// clearer error than a silently-all-nil struct would.
func (c *BlobStorageConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain BlobStorageConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = BlobStorageConfig(p)
	if c.countSet() != 1 {
		return fmt.Errorf("blob storage config at line %d must name exactly one driver variant, got %d", node.Line, c.countSet())
	}
	return nil
}

func (c *BlobStorageConfig) countSet() int {
	n := 0
	for _, set := range []bool{
		c.Local != nil, c.Memory != nil, c.SizeSplit != nil, c.RedisChunked != nil,
		c.RedisDirect != nil, c.ExistenceCache != nil, c.DarkLaunch != nil,
		c.ReadDigestVerifier != nil, c.Metered != nil, c.Sharded != nil,
		c.ReadCache != nil, c.Null != nil, c.AlwaysErrors != nil,
	} {
		if set {
			n++
		}
	}
	return n
}
