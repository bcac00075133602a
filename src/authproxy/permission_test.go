package authproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePermission(t *testing.T) {
	for aud, want := range map[string]Permission{"cache_ro": CacheRO, "cache_rw": CacheRW, "exec": Exec} {
		got, ok := ParsePermission(aud)
		assert.True(t, ok, aud)
		assert.Equal(t, want, got, aud)
	}
	_, ok := ParsePermission("bogus")
	assert.False(t, ok)
}

func TestPermissionSatisfies(t *testing.T) {
	assert.True(t, CacheRO.Satisfies(Read))
	assert.False(t, CacheRO.Satisfies(ReadWrite))
	assert.False(t, CacheRO.Satisfies(Execute))

	assert.True(t, CacheRW.Satisfies(Read))
	assert.True(t, CacheRW.Satisfies(ReadWrite))
	assert.False(t, CacheRW.Satisfies(Execute))

	assert.True(t, Exec.Satisfies(Read))
	assert.True(t, Exec.Satisfies(ReadWrite))
	assert.True(t, Exec.Satisfies(Execute))
}

func TestSatisfiesAny(t *testing.T) {
	assert.True(t, SatisfiesAny([]Permission{CacheRO, CacheRW}, ReadWrite))
	assert.False(t, SatisfiesAny([]Permission{CacheRO}, Execute))
	assert.False(t, SatisfiesAny(nil, Read))
}
