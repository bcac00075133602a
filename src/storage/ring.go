package storage

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// virtualNodesPerShard is fixed at the value the spec names: 10240 virtual
// nodes spread the ring finely enough that adding or removing a shard only
// rebalances roughly 1/len(shards) of the keyspace.
const virtualNodesPerShard = 10240

// Ring is a consistent-hash ring over a fixed set of named shards. Digests
// (or any string key) map to an ordered replica list: the first entry is
// the primary, the rest are fallbacks, in ring order starting from the
// key's point on the ring.
type Ring struct {
	shardNames []string
	vnodes     []vnode
}

type vnode struct {
	hash  uint64
	shard int
}

// NewRing builds a ring over shardNames. The order of shardNames does not
// matter for placement (only vnode hashes do), but is preserved for
// indexing into the caller's driver slice.
func NewRing(shardNames []string) *Ring {
	r := &Ring{shardNames: append([]string(nil), shardNames...)}
	for i, name := range shardNames {
		for v := 0; v < virtualNodesPerShard; v++ {
			h := xxhash.Sum64String(fmt.Sprintf("%s#%d", name, v))
			r.vnodes = append(r.vnodes, vnode{hash: h, shard: i})
		}
	}
	sort.Slice(r.vnodes, func(i, j int) bool { return r.vnodes[i].hash < r.vnodes[j].hash })
	return r
}

// Replicas returns the N shard indices (into the slice NewRing was built
// from) that key maps to, in ring order, primary first. N is clamped to
// the number of distinct shards on the ring.
func (r *Ring) Replicas(key string, n int) []int {
	if len(r.shardNames) == 0 {
		return nil
	}
	if n > len(r.shardNames) {
		n = len(r.shardNames)
	}
	h := xxhash.Sum64String(key)
	start := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })

	seen := make(map[int]bool, n)
	replicas := make([]int, 0, n)
	for i := 0; len(replicas) < n && i < len(r.vnodes); i++ {
		v := r.vnodes[(start+i)%len(r.vnodes)]
		if seen[v.shard] {
			continue
		}
		seen[v.shard] = true
		replicas = append(replicas, v.shard)
	}
	return replicas
}

// ShardCount reports the number of distinct shards on the ring.
func (r *Ring) ShardCount() int { return len(r.shardNames) }
