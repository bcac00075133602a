package cmap

import (
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func hashInts(k int) uint64 {
	return XXHash(strconv.Itoa(k))
}

func TestMap(t *testing.T) {
	m := New[int, int](DefaultShardCount, hashInts)
	assert.True(t, m.Add(5, 7))
	assert.True(t, m.Add(7, 5))
	assert.Equal(t, 7, m.Get(5))
	assert.Equal(t, 5, m.Get(7))
	vals := m.Values()
	sort.Ints(vals)
	assert.Equal(t, []int{5, 7}, vals)
}

func TestAddDoesNotOverwrite(t *testing.T) {
	m := New[int, int](DefaultShardCount, hashInts)
	assert.True(t, m.Add(5, 7))
	assert.False(t, m.Add(5, 8))
	assert.Equal(t, 7, m.Get(5))
}

func TestGetOrWait(t *testing.T) {
	m := New[int, int](DefaultShardCount, hashInts)
	v, ch, first := m.GetOrWait(5)
	assert.Equal(t, 0, v)
	assert.True(t, first)
	assert.NotNil(t, ch)
	go m.Set(5, 7)
	<-ch
	v, ch2, first := m.GetOrWait(5)
	assert.Nil(t, ch2)
	assert.Equal(t, 7, v)
	assert.False(t, first)
}

func TestRemove(t *testing.T) {
	m := New[int, int](DefaultShardCount, hashInts)
	m.Set(5, 7)
	m.Remove(5)
	_, ok := m.GetOK(5)
	assert.False(t, ok)
}

func TestShardCountMustBePowerOfTwo(t *testing.T) {
	New[int, int](4, hashInts)
	assert.Panics(t, func() {
		New[int, int](3, hashInts)
	})
}

func TestRange(t *testing.T) {
	m := New[int, int](DefaultShardCount, hashInts)
	for i := 0; i < 20; i++ {
		m.Set(i, i*i)
	}
	seen := map[int]int{}
	m.Range(func(k, v int) { seen[k] = v })
	assert.Len(t, seen, 20)
	assert.Equal(t, 16, seen[4])
}
