package cache

import "fmt"

// Validate checks the structural invariants the region must satisfy at
// quiescence: every live item is reachable from exactly one bucket chain and
// appears exactly once in its class's LRU, free-listed chunks are reachable
// from nowhere else, the item counter and memory accounting agree, and every
// chain hashes to its own bucket.
func (c *Cache) Validate() error {
	c.RLock()
	defer c.RUnlock()

	if c.memUsed() > c.memLimit {
		return fmt.Errorf("mem_used %d exceeds mem_limit %d", c.memUsed(), c.memLimit)
	}

	// Collect LRU membership, checking list shape both ways.
	lru := make(map[uint64]uint32)
	for id := uint32(0); id < c.slabsCount; id++ {
		head := c.lruHead(id)
		tail := c.lruTail(id)
		if head != 0 && c.itemPrev(head) != 0 {
			return fmt.Errorf("class %d: head has a prev link", id)
		}
		if tail != 0 && c.itemNext(tail) != 0 {
			return fmt.Errorf("class %d: tail has a next link", id)
		}

		var forward []uint64
		for it := head; it != 0; it = c.itemNext(it) {
			if _, dup := lru[it]; dup {
				return fmt.Errorf("class %d: item %#x linked twice", id, it)
			}
			lru[it] = id
			forward = append(forward, it)
		}

		i := len(forward)
		for it := tail; it != 0; it = c.itemPrev(it) {
			i--
			if i < 0 || forward[i] != it {
				return fmt.Errorf("class %d: backward walk disagrees with forward walk", id)
			}
		}
		if i != 0 {
			return fmt.Errorf("class %d: backward walk short by %d items", id, i)
		}
	}

	// Walk every bucket chain.
	reachable := make(map[uint64]bool)
	var count uint64
	for slot := uint32(0); slot < c.nbuckets; slot++ {
		for it := c.bucket(slot); it != 0; it = c.itemHNext(it) {
			if reachable[it] {
				return fmt.Errorf("item %#x chained twice", it)
			}
			reachable[it] = true
			count++

			key := c.itemKeyBytes(it)
			if hashKey(key)%c.nbuckets != slot {
				return fmt.Errorf("item %#x hashed to the wrong bucket %d", it, slot)
			}

			id, ok := c.classOf(c.itemNKey(it), c.itemNVal(it))
			if !ok || id != c.itemClsid(it) {
				return fmt.Errorf("item %#x class %d does not match its sizes", it, c.itemClsid(it))
			}
			if lid, in := lru[it]; !in || lid != id {
				return fmt.Errorf("item %#x missing from class %d LRU", it, id)
			}
		}
	}

	if count != c.nitems() {
		return fmt.Errorf("nitems %d but %d items reachable", c.nitems(), count)
	}
	if uint64(len(lru)) != count {
		return fmt.Errorf("%d items on LRU lists but %d reachable", len(lru), count)
	}

	// Free-listed chunks must not be reachable from any chain.
	for id := uint32(0); id < c.slabsCount; id++ {
		for it := c.slabFree(id); it != 0; it = c.itemNext(it) {
			if reachable[it] {
				return fmt.Errorf("free chunk %#x still reachable from a bucket", it)
			}
		}
	}

	return nil
}
