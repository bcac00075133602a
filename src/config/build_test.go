package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/rexec/src/storage"
	"github.com/thought-machine/rexec/src/storage/redis"
)

func TestBuildBlobStorageMemory(t *testing.T) {
	cfg := &BlobStorageConfig{Memory: &struct{}{}}
	driver, err := BuildBlobStorage(cfg, nil)
	require.NoError(t, err)
	_, ok := driver.(*storage.Memory)
	assert.True(t, ok)
}

func TestBuildBlobStorageSizeSplit(t *testing.T) {
	cfg := &BlobStorageConfig{SizeSplit: &SizeSplitConfig{
		Size:    1024,
		Smaller: &BlobStorageConfig{Memory: &struct{}{}},
		Larger:  &BlobStorageConfig{Null: &struct{}{}},
	}}
	driver, err := BuildBlobStorage(cfg, nil)
	require.NoError(t, err)
	_, ok := driver.(*storage.SizeSplit)
	assert.True(t, ok)
}

func TestBuildBlobStorageRedisChunkedRequiresKnownBackend(t *testing.T) {
	cfg := &BlobStorageConfig{RedisChunked: &RedisChunkedConfig{Backend: "missing", Prefix: "cas/"}}
	_, err := BuildBlobStorage(cfg, map[string]*redis.Pool{})
	assert.Error(t, err)
}

func TestBuildBlobStorageNoVariantErrors(t *testing.T) {
	_, err := BuildBlobStorage(&BlobStorageConfig{}, nil)
	assert.Error(t, err)
}
