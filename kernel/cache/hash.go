package cache

import "github.com/cespare/xxhash/v2"

// hashKey folds xxhash64 down to the 32-bit value the bucket index is taken
// from.
func hashKey(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}
