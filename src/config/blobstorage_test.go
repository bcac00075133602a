package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBlobStorageConfigUnmarshalSingleVariant(t *testing.T) {
	var cfg BlobStorageConfig
	require.NoError(t, yaml.Unmarshal([]byte(`memory: {}`), &cfg))
	assert.NotNil(t, cfg.Memory)
	assert.Nil(t, cfg.Local)
}

func TestBlobStorageConfigUnmarshalNestedVariant(t *testing.T) {
	doc := `
size_split:
  size: 1048576
  smaller:
    memory: {}
  larger:
    redis_chunked:
      backend: primary
      prefix: cas/
`
	var cfg BlobStorageConfig
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	require.NotNil(t, cfg.SizeSplit)
	assert.EqualValues(t, 1048576, cfg.SizeSplit.Size)
	assert.NotNil(t, cfg.SizeSplit.Smaller.Memory)
	require.NotNil(t, cfg.SizeSplit.Larger.RedisChunked)
	assert.Equal(t, "primary", cfg.SizeSplit.Larger.RedisChunked.Backend)
}

func TestBlobStorageConfigRejectsZeroVariants(t *testing.T) {
	var cfg BlobStorageConfig
	err := yaml.Unmarshal([]byte(`{}`), &cfg)
	assert.Error(t, err)
}

func TestBlobStorageConfigRejectsMultipleVariants(t *testing.T) {
	var cfg BlobStorageConfig
	err := yaml.Unmarshal([]byte("memory: {}\n\"null\": {}\n"), &cfg)
	assert.Error(t, err)
}
