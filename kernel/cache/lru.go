package cache

// Per-class LRU lists, threaded through the item next/prev slots. Every
// mutation goes through the auxiliary mutex: read-path relinks run under a
// shared primary lock and must not race each other, and writers keep the
// same discipline (primary lock first, mutex nested inside).

func (c *Cache) lruLink(it uint64) {
	c.mutexLock()
	c.lruLinkLocked(it)
	c.mutexUnlock()
}

func (c *Cache) lruUnlink(it uint64) {
	c.mutexLock()
	c.lruUnlinkLocked(it)
	c.mutexUnlock()
}

// lruRelink moves a touched item to its class head.
func (c *Cache) lruRelink(it uint64) {
	c.mutexLock()
	c.lruUnlinkLocked(it)
	c.lruLinkLocked(it)
	c.mutexUnlock()
}

func (c *Cache) lruLinkLocked(it uint64) {
	id := c.itemClsid(it)
	head := c.lruHead(id)

	c.setItemPrev(it, 0)
	c.setItemNext(it, head)
	if head != 0 {
		c.setItemPrev(head, it)
	}
	c.setLruHead(id, it)
	if c.lruTail(id) == 0 {
		c.setLruTail(id, it)
	}
}

func (c *Cache) lruUnlinkLocked(it uint64) {
	id := c.itemClsid(it)

	if c.lruHead(id) == it {
		c.setLruHead(id, c.itemNext(it))
	}
	if c.lruTail(id) == it {
		c.setLruTail(id, c.itemPrev(it))
	}

	if next := c.itemNext(it); next != 0 {
		c.setItemPrev(next, c.itemPrev(it))
	}
	if prev := c.itemPrev(it); prev != 0 {
		c.setItemNext(prev, c.itemNext(it))
	}
}
