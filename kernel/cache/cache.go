package cache

import (
	"golang.org/x/sys/unix"
)

// Cache is one attachment to a shared region. The struct carries only the
// private per-attachment state (descriptor, mapping, and the immutable
// geometry decoded from the attribute block); all mutable cache state lives
// inside the region.
type Cache struct {
	r region

	// Immutable after creation, cached out of the attribute block.
	memLimit       uint64
	itemSizeMin    uint64
	itemSizeMax    uint64
	itemSizeFactor float64
	nbuckets       uint32
	slabsCount     uint32
	evictToFree    bool
	defaultCounter bool
	useFlock       bool

	l layout
}

// Create formats a new region at token. The open is O_CREAT|O_EXCL so
// exactly one process can win the race; an existing token reports ECreate.
// On any failure the partially built file is removed again.
func Create(token string, attr Attr) (*Cache, error) {
	attr = attr.normalized()

	mask := unix.Umask(0)
	fd, err := unix.Open(token, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, attr.Mode)
	unix.Umask(mask)
	if err != nil {
		if err == unix.EEXIST {
			return nil, ECreate
		}
		return nil, sysError(err)
	}

	slabsCount := countOfSlabs(attr.ItemSizeMin, attr.ItemSizeMax, attr.ItemSizeFactor)
	l := computeLayout(attr.MemLimit, attr.NBuckets, slabsCount)

	cleanup := func(err error) (*Cache, error) {
		_ = unix.Close(fd)
		_ = unix.Unlink(token)
		return nil, err
	}

	if err := unix.Ftruncate(fd, int64(l.total)); err != nil {
		return cleanup(sysError(err))
	}

	data, err := mapFd(fd, l.total)
	if err != nil {
		return cleanup(err)
	}

	c := newCache(fd, data, token, attr, l)
	if err := c.format(attr); err != nil {
		_ = unix.Munmap(data)
		return cleanup(err)
	}
	return c, nil
}

// Attach opens an existing region. A short probe mapping is enough to check
// the version tag and read the attribute block; the full size is derived
// from it and the region remapped whole. Locks are left untouched.
func Attach(token string) (*Cache, error) {
	fd, err := unix.Open(token, unix.O_RDWR, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, EToken
		}
		return nil, sysError(err)
	}

	probe, err := mapFd(fd, offAttr+attrSize)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	r := region{fd: fd, data: probe}
	if r.u32(offVersion) != Version {
		_ = unix.Munmap(probe)
		_ = unix.Close(fd)
		return nil, EVersion
	}
	attr := decodeAttr(probe[offAttr:])
	_ = unix.Munmap(probe)

	attr = attr.normalized()
	slabsCount := countOfSlabs(attr.ItemSizeMin, attr.ItemSizeMax, attr.ItemSizeFactor)
	l := computeLayout(attr.MemLimit, attr.NBuckets, slabsCount)

	data, err := mapFd(fd, l.total)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return newCache(fd, data, token, attr, l), nil
}

func newCache(fd int, data []byte, token string, attr Attr, l layout) *Cache {
	return &Cache{
		r:              region{fd: fd, data: data, path: token},
		memLimit:       attr.MemLimit,
		itemSizeMin:    attr.ItemSizeMin,
		itemSizeMax:    attr.ItemSizeMax,
		itemSizeFactor: attr.ItemSizeFactor,
		nbuckets:       attr.NBuckets,
		slabsCount:     l.slabsCount,
		evictToFree:    attr.EvictToFree,
		defaultCounter: attr.DefaultCounter,
		useFlock:       attr.UseFlock,
		l:              l,
	}
}

// format stamps the version, copies the attribute block, clears the lock
// words, zeroes the LRU and bucket tables, and builds the initial free lists.
func (c *Cache) format(attr Attr) error {
	c.r.putU32(offVersion, Version)
	encodeAttr(c.r.slice(offAttr, attrSize), attr)
	c.r.putU32(attrOff(attrSlabsCount), c.slabsCount)

	// A fresh mapping is zero-filled; the lock words and tables are still
	// cleared explicitly.
	c.r.putU32(offLock, 0)
	c.r.putU32(offMutex, 0)
	for i := uint32(0); i < c.slabsCount; i++ {
		c.setLruHead(i, 0)
		c.setLruTail(i, 0)
	}
	for i := uint32(0); i < c.nbuckets; i++ {
		c.setBucket(i, 0)
	}

	return c.formatSlabs()
}

// Destroy flushes the mapping synchronously and releases this attachment.
// The locks stay live in the region for whoever remains attached.
func (c *Cache) Destroy() error {
	c.WLock()
	// Size is fixed at creation; the lock round-trip just orders the flush
	// after any in-flight writer.
	c.WUnlock()

	err := c.r.sync()
	c.r.close()
	return err
}

// Token returns the filesystem path backing this region.
func (c *Cache) Token() string { return c.r.path }

func attrOff(field uint64) uint64 { return offAttr + field }

// Runtime attribute accessors. These fields mutate under the engine locks.

func (c *Cache) memUsed() uint64     { return c.r.u64(attrOff(attrMemUsed)) }
func (c *Cache) setMemUsed(v uint64) { c.r.putU64(attrOff(attrMemUsed), v) }
func (c *Cache) maxDepth() uint32    { return c.r.u32(attrOff(attrMaxDepth)) }
func (c *Cache) setMaxDepth(v uint32) {
	c.r.putU32(attrOff(attrMaxDepth), v)
}
func (c *Cache) nitems() uint64     { return c.r.u64(attrOff(attrNItems)) }
func (c *Cache) setNItems(v uint64) { c.r.putU64(attrOff(attrNItems), v) }

// Table accessors.

func (c *Cache) lruHead(id uint32) uint64       { return c.r.u64(c.l.offHeads + 8*uint64(id)) }
func (c *Cache) setLruHead(id uint32, v uint64) { c.r.putU64(c.l.offHeads+8*uint64(id), v) }
func (c *Cache) lruTail(id uint32) uint64       { return c.r.u64(c.l.offTails + 8*uint64(id)) }
func (c *Cache) setLruTail(id uint32, v uint64) { c.r.putU64(c.l.offTails+8*uint64(id), v) }
func (c *Cache) bucket(slot uint32) uint64      { return c.r.u64(c.l.offBuckets + 8*uint64(slot)) }
func (c *Cache) setBucket(slot uint32, v uint64) {
	c.r.putU64(c.l.offBuckets+8*uint64(slot), v)
}
