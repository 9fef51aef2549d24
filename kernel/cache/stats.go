package cache

// Snapshot is a point-in-time copy of the configured attributes and the
// engine-maintained runtime fields.
type Snapshot struct {
	MemLimit uint64
	MemUsed  uint64
	NItems   uint64

	NBuckets   uint32
	SlabsCount uint32
	MaxDepth   uint32

	ItemSizeMin    uint64
	ItemSizeMax    uint64
	ItemSizeFactor float64

	EvictToFree    bool
	DefaultCounter bool
	UseFlock       bool
}

// Stats reads the runtime fields under the shared lock.
func (c *Cache) Stats() Snapshot {
	c.RLock()
	defer c.RUnlock()

	return Snapshot{
		MemLimit:       c.memLimit,
		MemUsed:        c.memUsed(),
		NItems:         c.nitems(),
		NBuckets:       c.nbuckets,
		SlabsCount:     c.slabsCount,
		MaxDepth:       c.maxDepth(),
		ItemSizeMin:    c.itemSizeMin,
		ItemSizeMax:    c.itemSizeMax,
		ItemSizeFactor: c.itemSizeFactor,
		EvictToFree:    c.evictToFree,
		DefaultCounter: c.defaultCounter,
		UseFlock:       c.useFlock,
	}
}
