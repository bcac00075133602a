package cmap

import "github.com/cespare/xxhash/v2"

// xxhashString hashes a string with xxhash, the same hashing library the
// sharded storage driver uses for its consistent-hash ring.
func xxhashString(s string) uint64 {
	return xxhash.Sum64String(s)
}
