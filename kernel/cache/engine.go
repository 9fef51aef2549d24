package cache

// Engine operations. Each public operation takes the lock its semantics
// need, does its work, and releases. The unexported *Nolock bodies assume
// the lock is held and may call each other.

// Get copies the value into a fresh buffer and reports the stored flags. A
// hit moves the item to the head of its class's LRU.
func (c *Cache) Get(key []byte) ([]byte, uint32, error) {
	c.RLock()
	defer c.RUnlock()
	return c.getNolock(key)
}

func (c *Cache) getNolock(key []byte) ([]byte, uint32, error) {
	it := c.assocFind(key)
	if it == 0 {
		return nil, 0, NotFound
	}

	c.lruRelink(it)

	val := make([]byte, c.itemNVal(it))
	copy(val, c.itemValBytes(it))
	return val, c.itemFlags(it), nil
}

// Getf copies the value into the caller's buffer; ESpace when it does not
// fit. Returns the copied length.
func (c *Cache) Getf(key, buf []byte) (int, uint32, error) {
	c.RLock()
	defer c.RUnlock()

	it := c.assocFind(key)
	if it == 0 {
		return 0, 0, NotFound
	}

	c.lruRelink(it)

	nval := c.itemNVal(it)
	if uint64(len(buf)) < nval {
		return 0, 0, ESpace
	}
	copy(buf, c.itemValBytes(it))
	return int(nval), c.itemFlags(it), nil
}

// Set stores the value unconditionally, replacing any existing entry.
func (c *Cache) Set(key, val []byte, flags uint32) error {
	c.WLock()
	defer c.WUnlock()
	return c.setNolock(key, val, flags)
}

func (c *Cache) setNolock(key, val []byte, flags uint32) error {
	if !c.sizeOK(uint64(len(key)), uint64(len(val))) {
		return ESize
	}

	// Delete first so the allocation below cannot be forced into eviction
	// by the entry it is about to replace.
	_ = c.delNolock(key)

	it := c.itemAlloc(uint64(len(key)), uint64(len(val)))
	if it == 0 {
		return NoMemory
	}

	c.assocInsert(key, it)
	c.lruLink(it)

	c.setItemFlags(it, flags)
	copy(c.itemKeyBytes(it), key)
	copy(c.itemValBytes(it), val)
	return nil
}

// Add stores only when the key is absent; Exist otherwise.
func (c *Cache) Add(key, val []byte, flags uint32) error {
	c.WLock()
	defer c.WUnlock()

	if c.assocFind(key) != 0 {
		return Exist
	}
	return c.setNolock(key, val, flags)
}

// Replace stores only when the key is present. When the new value still fits
// the item's size class the bytes are rewritten in place; otherwise the item
// migrates to a fresh chunk.
func (c *Cache) Replace(key, val []byte, flags uint32) error {
	c.WLock()
	defer c.WUnlock()

	it := c.assocFind(key)
	if it == 0 {
		return NotFound
	}

	if id, ok := c.classOf(uint64(len(key)), uint64(len(val))); ok && id == c.itemClsid(it) {
		c.lruRelink(it)
		c.setItemFlags(it, flags)
		copy(c.itemValCap(it, uint64(len(val))), val)
		c.setItemNVal(it, uint64(len(val)))
		return nil
	}

	c.assocDelete(key)
	c.lruUnlink(it)
	c.itemFree(it)

	return c.setNolock(key, val, flags)
}

// Prepend splices val in front of the existing value.
func (c *Cache) Prepend(key, val []byte, flags uint32) error {
	c.WLock()
	defer c.WUnlock()

	it := c.assocFind(key)
	if it == 0 {
		return NotFound
	}

	nkey := uint64(len(key))
	nval := uint64(len(val))
	oldN := c.itemNVal(it)

	if id, ok := c.classOf(nkey, nval+oldN); ok && id == c.itemClsid(it) {
		c.lruRelink(it)
		c.setItemFlags(it, flags)
		v := c.itemValCap(it, oldN+nval)
		copy(v[nval:], v[:oldN])
		copy(v, val)
		c.setItemNVal(it, oldN+nval)
		return nil
	}

	if !c.sizeOK(nkey, nval+oldN) {
		return ESize
	}

	// The combined size lands in a different class, so the eviction a tight
	// arena may trigger here cannot free the item being extended.
	newIt := c.itemAlloc(nkey, nval+oldN)
	if newIt == 0 {
		return NoMemory
	}

	c.assocDelete(key)
	c.lruUnlink(it)

	c.assocInsert(key, newIt)
	c.lruLink(newIt)

	c.setItemFlags(newIt, flags)
	copy(c.itemKeyBytes(newIt), key)
	nv := c.itemValBytes(newIt)
	copy(nv, val)
	copy(nv[nval:], c.itemValBytes(it))

	c.itemFree(it)
	return nil
}

// Append splices val after the existing value.
func (c *Cache) Append(key, val []byte, flags uint32) error {
	c.WLock()
	defer c.WUnlock()

	it := c.assocFind(key)
	if it == 0 {
		return NotFound
	}

	nkey := uint64(len(key))
	nval := uint64(len(val))
	oldN := c.itemNVal(it)

	if id, ok := c.classOf(nkey, nval+oldN); ok && id == c.itemClsid(it) {
		c.lruRelink(it)
		c.setItemFlags(it, flags)
		v := c.itemValCap(it, oldN+nval)
		copy(v[oldN:], val)
		c.setItemNVal(it, oldN+nval)
		return nil
	}

	if !c.sizeOK(nkey, nval+oldN) {
		return ESize
	}

	newIt := c.itemAlloc(nkey, nval+oldN)
	if newIt == 0 {
		return NoMemory
	}

	c.assocDelete(key)
	c.lruUnlink(it)

	c.assocInsert(key, newIt)
	c.lruLink(newIt)

	c.setItemFlags(newIt, flags)
	copy(c.itemKeyBytes(newIt), key)
	nv := c.itemValBytes(newIt)
	copy(nv, c.itemValBytes(it))
	copy(nv[oldN:], val)

	c.itemFree(it)
	return nil
}

// Del unlinks the entry and returns its chunk to the free list.
func (c *Cache) Del(key []byte) error {
	c.WLock()
	defer c.WUnlock()
	return c.delNolock(key)
}

func (c *Cache) delNolock(key []byte) error {
	it := c.assocFind(key)
	if it == 0 {
		return NotFound
	}

	c.assocDelete(key)
	c.lruUnlink(it)
	c.itemFree(it)
	return nil
}

// Incr adds delta to the counter stored at key. With the default-counter
// mode an absent key starts from zero.
func (c *Cache) Incr(key []byte, delta uint64) (uint64, error) {
	c.WLock()
	defer c.WUnlock()
	return c.arithNolock(key, delta, true)
}

// Decr subtracts delta, saturating at zero.
func (c *Cache) Decr(key []byte, delta uint64) (uint64, error) {
	c.WLock()
	defer c.WUnlock()
	return c.arithNolock(key, delta, false)
}
