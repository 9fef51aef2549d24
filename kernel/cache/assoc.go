package cache

import "bytes"

// Chained hash table. Buckets hold relative pointers to chain heads; items
// chain through their hNext slot.

// assocFind walks the bucket chain for key, tracking the deepest walk ever
// observed as a diagnostic.
func (c *Cache) assocFind(key []byte) uint64 {
	depth := uint32(0)
	hv := hashKey(key)
	it := c.bucket(hv % c.nbuckets)
	for it != 0 {
		depth++
		if depth > c.maxDepth() {
			c.setMaxDepth(depth)
		}
		if c.itemNKey(it) == uint64(len(key)) && bytes.Equal(c.itemKeyBytes(it), key) {
			return it
		}
		it = c.itemHNext(it)
	}
	return 0
}

// assocInsert pushes the item at the chain head. The caller guarantees the
// key is not already present.
func (c *Cache) assocInsert(key []byte, it uint64) {
	c.setNItems(c.nitems() + 1)
	slot := hashKey(key) % c.nbuckets
	c.setItemHNext(it, c.bucket(slot))
	c.setBucket(slot, it)
}

// assocDelete removes key's item from its chain in place.
func (c *Cache) assocDelete(key []byte) {
	slot := hashKey(key) % c.nbuckets

	prev := uint64(0)
	it := c.bucket(slot)
	for it != 0 {
		if c.itemNKey(it) == uint64(len(key)) && bytes.Equal(c.itemKeyBytes(it), key) {
			c.setNItems(c.nitems() - 1)
			next := c.itemHNext(it)
			c.setItemHNext(it, 0)
			if prev == 0 {
				c.setBucket(slot, next)
			} else {
				c.setItemHNext(prev, next)
			}
			return
		}
		prev = it
		it = c.itemHNext(it)
	}
}
