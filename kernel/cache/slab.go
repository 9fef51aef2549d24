package cache

// Slab allocator. Each size class owns a free list of equally sized chunks
// carved out of the raw arena. A batch holds itemSizeMax/chunkSize chunks,
// so every class consumes roughly one itemSizeMax worth of arena per carve.

func (c *Cache) slabOff(id uint32) uint64 {
	return c.l.offSlabs + slabDescSize*uint64(id)
}

func (c *Cache) slabFree(id uint32) uint64       { return c.r.u64(c.slabOff(id) + slabFreeItem) }
func (c *Cache) setSlabFree(id uint32, v uint64) { c.r.putU64(c.slabOff(id)+slabFreeItem, v) }
func (c *Cache) slabSize(id uint32) uint64       { return c.r.u64(c.slabOff(id) + slabSize) }
func (c *Cache) slabCount(id uint32) uint64      { return c.r.u64(c.slabOff(id) + slabCount) }

// formatSlabs writes the descriptor table and carves the initial batch for
// every class. The arena must have room for all initial batches; a budget
// too small for its own class table is a creation error.
func (c *Cache) formatSlabs() error {
	size := itemHeaderSize + c.itemSizeMin
	for id := uint32(0); id < c.slabsCount; id++ {
		size = alignSize(size)
		c.r.putU64(c.slabOff(id)+slabSize, size)
		c.r.putU64(c.slabOff(id)+slabCount, c.itemSizeMax/size)
		c.setSlabFree(id, 0)

		if !c.carveBatch(id) {
			return NoMemory
		}

		size = uint64(float64(size) * c.itemSizeFactor)
	}
	return nil
}

// carveBatch takes one batch worth of arena for class id and threads the
// chunks onto its free list. Reports false when the budget is exhausted.
func (c *Cache) carveBatch(id uint32) bool {
	size := c.slabSize(id)
	count := c.slabCount(id)
	batch := size * count

	used := c.memUsed()
	if used+batch >= c.memLimit {
		return false
	}
	raw := c.l.offRaw + used
	c.setMemUsed(used + batch)

	for i := uint64(0); i < count; i++ {
		it := raw + i*size
		c.setItemNext(it, c.slabFree(id))
		c.setSlabFree(id, it)
	}
	return true
}

// classOf picks the smallest class whose chunk holds the item. Sizes between
// the largest class and itemSizeMax fit no class and fail the allocation.
func (c *Cache) classOf(nkey, nval uint64) (uint32, bool) {
	size := itemHeaderSize + nkey + nval
	for id := uint32(0); id < c.slabsCount; id++ {
		if size <= c.slabSize(id) {
			return id, true
		}
	}
	return 0, false
}

func (c *Cache) slabPop(id uint32) uint64 {
	it := c.slabFree(id)
	if it != 0 {
		c.setSlabFree(id, c.itemNext(it))
	}
	return it
}

// itemAlloc returns a formatted item for the request or 0 when the class is
// out of chunks and neither a fresh batch nor an eviction can supply one.
func (c *Cache) itemAlloc(nkey, nval uint64) uint64 {
	id, ok := c.classOf(nkey, nval)
	if !ok {
		return 0
	}

	if it := c.slabPop(id); it != 0 {
		return c.itemFormat(it, id, nkey, nval)
	}

	if !c.carveBatch(id) && c.evictToFree {
		// Arena exhausted: drop the least recently used item of this class.
		if tail := c.lruTail(id); tail != 0 {
			c.assocDelete(c.itemKeyBytes(tail))
			c.lruUnlink(tail)
			c.itemFree(tail)
		}
	}

	if it := c.slabPop(id); it != 0 {
		return c.itemFormat(it, id, nkey, nval)
	}
	return 0
}

// itemFree pushes the item back onto its class's free list.
func (c *Cache) itemFree(it uint64) {
	id := c.itemClsid(it)
	c.setItemNext(it, c.slabFree(id))
	c.setSlabFree(id, it)
}
