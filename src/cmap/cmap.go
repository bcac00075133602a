// Package cmap contains a thread-safe, sharded concurrent map.
//
// It is optimised for large maps in highly contended environments (for
// example the execution server's table of per-instance schedulers) and
// additionally lets callers await a key that doesn't exist yet, rather than
// having to poll the map to find out when another goroutine inserts it.
package cmap

import (
	"fmt"
	"sync"
)

// DefaultShardCount is a reasonable default shard count for large maps.
const DefaultShardCount = 1 << 8

// XXHash is re-exported for convenience of callers that want a ready-made
// string hasher without importing xxhash themselves.
func XXHash(s string) uint64 {
	return xxhashString(s)
}

// A Map is the top-level sharded map type. All methods are safe for
// concurrent use. Construct with New rather than a literal.
type Map[K comparable, V any] struct {
	shards []shard[K, V]
	hasher func(K) uint64
	mask   uint64
}

// New creates a new Map using the given hasher to place keys into shards.
// shardCount must be a power of 2; New panics otherwise.
func New[K comparable, V any](shardCount uint64, hasher func(K) uint64) *Map[K, V] {
	mask := shardCount - 1
	if shardCount == 0 || (shardCount&mask) != 0 {
		panic(fmt.Sprintf("shard count %d is not a power of 2", shardCount))
	}
	m := &Map[K, V]{
		shards: make([]shard[K, V], shardCount),
		mask:   mask,
		hasher: hasher,
	}
	for i := range m.shards {
		m.shards[i].m = map[K]awaitableValue[V]{}
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	return &m.shards[m.hasher(key)&m.mask]
}

// Set unconditionally installs val under key, overwriting any previous
// value and waking any goroutine blocked in GetOrWait for this key.
func (m *Map[K, V]) Set(key K, val V) {
	m.shardFor(key).set(key, val)
}

// Add installs val under key only if the key is not already present.
// It returns true if the value was inserted.
func (m *Map[K, V]) Add(key K, val V) bool {
	return m.shardFor(key).add(key, val)
}

// Get returns the value for key, or the zero value if absent.
func (m *Map[K, V]) Get(key K) V {
	v, _ := m.shardFor(key).get(key)
	return v
}

// GetOK returns the value for key and whether it was present.
func (m *Map[K, V]) GetOK(key K) (V, bool) {
	return m.shardFor(key).get(key)
}

// GetOrWait returns the current value for key if present. If it is not
// present, it returns a channel that closes once some goroutine calls Set
// for this key, and first=true to indicate the caller is the one who should
// populate it (only one caller per pending key receives first=true).
func (m *Map[K, V]) GetOrWait(key K) (val V, wait <-chan struct{}, first bool) {
	return m.shardFor(key).getOrWait(key)
}

// Remove deletes key from the map, if present.
func (m *Map[K, V]) Remove(key K) {
	m.shardFor(key).remove(key)
}

// Len returns the total number of populated entries across all shards.
func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		n += m.shards[i].len()
	}
	return n
}

// Values returns a snapshot slice of all currently-populated values.
// No particular consistency guarantee is made across shards.
func (m *Map[K, V]) Values() []V {
	ret := make([]V, 0, m.Len())
	for i := range m.shards {
		ret = append(ret, m.shards[i].values()...)
	}
	return ret
}

// Range calls f once for every populated key/value pair. f must not call
// back into the same Map; no consistency guarantee is made across shards.
func (m *Map[K, V]) Range(f func(key K, val V)) {
	for i := range m.shards {
		m.shards[i].rangeOver(f)
	}
}

// awaitableValue is either a populated value, or a pending wait channel for
// a key someone has already asked to await but nobody has set yet.
type awaitableValue[V any] struct {
	val     V
	wait    chan struct{}
	present bool
}

type shard[K comparable, V any] struct {
	m map[K]awaitableValue[V]
	l sync.Mutex
}

func (s *shard[K, V]) set(key K, val V) {
	s.l.Lock()
	defer s.l.Unlock()
	existing, ok := s.m[key]
	s.m[key] = awaitableValue[V]{val: val, present: true}
	if ok && existing.wait != nil {
		close(existing.wait)
	}
}

func (s *shard[K, V]) add(key K, val V) bool {
	s.l.Lock()
	defer s.l.Unlock()
	existing, ok := s.m[key]
	if ok && existing.present {
		return false
	}
	s.m[key] = awaitableValue[V]{val: val, present: true}
	if ok && existing.wait != nil {
		close(existing.wait)
	}
	return true
}

func (s *shard[K, V]) get(key K) (V, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	v := s.m[key]
	return v.val, v.present
}

func (s *shard[K, V]) getOrWait(key K) (V, <-chan struct{}, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	if v, ok := s.m[key]; ok {
		if v.present {
			return v.val, nil, false
		}
		return v.val, v.wait, false
	}
	ch := make(chan struct{})
	s.m[key] = awaitableValue[V]{wait: ch}
	var zero V
	return zero, ch, true
}

func (s *shard[K, V]) remove(key K) {
	s.l.Lock()
	defer s.l.Unlock()
	delete(s.m, key)
}

func (s *shard[K, V]) len() int {
	s.l.Lock()
	defer s.l.Unlock()
	n := 0
	for _, v := range s.m {
		if v.present {
			n++
		}
	}
	return n
}

func (s *shard[K, V]) values() []V {
	s.l.Lock()
	defer s.l.Unlock()
	ret := make([]V, 0, len(s.m))
	for _, v := range s.m {
		if v.present {
			ret = append(ret, v.val)
		}
	}
	return ret
}

func (s *shard[K, V]) rangeOver(f func(key K, val V)) {
	s.l.Lock()
	items := make(map[K]V, len(s.m))
	for k, v := range s.m {
		if v.present {
			items[k] = v.val
		}
	}
	s.l.Unlock()
	for k, v := range items {
		f(k, v)
	}
}
