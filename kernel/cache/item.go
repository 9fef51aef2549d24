package cache

// Item accessors. An item is addressed by its relative offset inside the
// arena; 0 is nil. The next slot doubles as the free-list link while the
// item is unallocated.

func (c *Cache) itemNext(it uint64) uint64 { return c.r.u64(it + itemNext) }
func (c *Cache) setItemNext(it, v uint64)  { c.r.putU64(it+itemNext, v) }
func (c *Cache) itemPrev(it uint64) uint64 { return c.r.u64(it + itemPrev) }
func (c *Cache) setItemPrev(it, v uint64)  { c.r.putU64(it+itemPrev, v) }

func (c *Cache) itemHNext(it uint64) uint64 { return c.r.u64(it + itemHNext) }
func (c *Cache) setItemHNext(it, v uint64)  { c.r.putU64(it+itemHNext, v) }

func (c *Cache) itemClsid(it uint64) uint32 { return c.r.u32(it + itemClsid) }

func (c *Cache) itemFlags(it uint64) uint32 { return c.r.u32(it + itemFlags) }

func (c *Cache) setItemFlags(it uint64, f uint32) { c.r.putU32(it+itemFlags, f) }

func (c *Cache) itemNKey(it uint64) uint64 { return c.r.u64(it + itemNKey) }
func (c *Cache) itemNVal(it uint64) uint64 { return c.r.u64(it + itemNVal) }
func (c *Cache) setItemNVal(it, n uint64)  { c.r.putU64(it+itemNVal, n) }

func (c *Cache) itemKeyBytes(it uint64) []byte {
	return c.r.slice(c.r.u64(it+itemKey), c.r.u64(it+itemNKey))
}

func (c *Cache) itemValBytes(it uint64) []byte {
	return c.r.slice(c.r.u64(it+itemVal), c.r.u64(it+itemNVal))
}

// itemValCap returns the value bytes extended to n, for in-place growth that
// the caller has already proven to fit the item's size class.
func (c *Cache) itemValCap(it, n uint64) []byte {
	return c.r.slice(c.r.u64(it+itemVal), n)
}

// itemFormat stamps a freshly popped chunk as a live item of class id with
// room for nkey key bytes and nval value bytes.
func (c *Cache) itemFormat(it uint64, id uint32, nkey, nval uint64) uint64 {
	c.r.putU64(it+itemNext, 0)
	c.r.putU64(it+itemPrev, 0)
	c.r.putU64(it+itemHNext, 0)
	c.r.putU32(it+itemClsid, id)
	c.r.putU64(it+itemNKey, nkey)
	c.r.putU64(it+itemNVal, nval)
	c.r.putU64(it+itemKey, it+itemHeaderSize)
	c.r.putU64(it+itemVal, it+itemHeaderSize+nkey)
	return it
}

// sizeOK rejects requests that cannot fit any item chunk.
func (c *Cache) sizeOK(nkey, nval uint64) bool {
	return itemHeaderSize+nkey+nval < c.itemSizeMax
}
