package cache

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testAttr keeps regions small: max item 8 KiB gives six classes
// (128..4096 bytes) and an initial carve well under the 1 MiB budget.
func testAttr() Attr {
	a := DefaultAttr()
	a.MemLimit = 1 << 20
	a.NBuckets = 64
	a.ItemSizeMin = 64
	a.ItemSizeMax = 8192
	return a
}

func newTestCache(t *testing.T, attr Attr) *Cache {
	t.Helper()
	token := filepath.Join(t.TempDir(), "cache.mmap")
	c, err := Create(token, attr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache(t, testAttr())

	key := []byte("alpha")
	val := fill('v', 100)

	require.NoError(t, c.Set(key, val, 7))

	got, flags, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, val, got)
	assert.Equal(t, uint32(7), flags)

	// The copy must be private to the caller.
	got[0] = 'x'
	again, _, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, val, again)

	require.NoError(t, c.Validate())
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t, testAttr())

	_, _, err := c.Get([]byte("missing"))
	assert.Equal(t, NotFound, Result(err))
}

func TestSetOverwrites(t *testing.T) {
	c := newTestCache(t, testAttr())

	key := []byte("k")
	require.NoError(t, c.Set(key, fill('a', 32), 1))
	require.NoError(t, c.Set(key, fill('b', 48), 2))

	got, flags, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, fill('b', 48), got)
	assert.Equal(t, uint32(2), flags)

	snap := c.Stats()
	assert.Equal(t, uint64(1), snap.NItems)
	require.NoError(t, c.Validate())
}

func TestAddExistAndFresh(t *testing.T) {
	c := newTestCache(t, testAttr())

	key := []byte("k")
	require.NoError(t, c.Add(key, fill('b', 32), 0))
	assert.Equal(t, Exist, Result(c.Add(key, fill('b', 32), 0)))
	require.NoError(t, c.Validate())
}

func TestReplace(t *testing.T) {
	c := newTestCache(t, testAttr())

	key := []byte("k")
	assert.Equal(t, NotFound, Result(c.Replace(key, fill('c', 64), 0)))

	require.NoError(t, c.Add(key, fill('b', 32), 1))

	// 64+1+32 and 64+1+40 share the 128-byte class: rewritten in place.
	require.NoError(t, c.Replace(key, fill('c', 40), 2))
	got, flags, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, fill('c', 40), got)
	assert.Equal(t, uint32(2), flags)

	// A value that needs a larger class migrates the item.
	require.NoError(t, c.Replace(key, fill('d', 200), 3))
	got, flags, err = c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, fill('d', 200), got)
	assert.Equal(t, uint32(3), flags)

	snap := c.Stats()
	assert.Equal(t, uint64(1), snap.NItems)
	require.NoError(t, c.Validate())
}

func TestPrependAppend(t *testing.T) {
	c := newTestCache(t, testAttr())

	key := []byte("k")
	assert.Equal(t, NotFound, Result(c.Prepend(key, fill('a', 16), 0)))
	assert.Equal(t, NotFound, Result(c.Append(key, fill('d', 96), 0)))

	require.NoError(t, c.Set(key, fill('c', 32), 64))
	classBefore := c.itemClsid(c.assocFind(key))

	// 64+1+48 still fits the original 128-byte class: spliced in place.
	require.NoError(t, c.Prepend(key, fill('a', 16), 64))
	assert.Equal(t, classBefore, c.itemClsid(c.assocFind(key)))
	got, flags, err := c.Get(key)
	require.NoError(t, err)
	require.Len(t, got, 16+32)
	assert.Equal(t, fill('a', 16), got[:16])
	assert.Equal(t, fill('c', 32), got[16:])
	assert.Equal(t, uint32(64), flags)

	require.NoError(t, c.Append(key, fill('d', 96), 64))
	got, flags, err = c.Get(key)
	require.NoError(t, err)
	require.Len(t, got, 16+32+96)
	assert.Equal(t, fill('a', 16), got[:16])
	assert.Equal(t, fill('c', 32), got[16:48])
	assert.Equal(t, fill('d', 96), got[48:])
	assert.Equal(t, uint32(64), flags)

	classAfter := c.itemClsid(c.assocFind(key))
	assert.Greater(t, classAfter, classBefore, "combined value should land in a larger class")

	require.NoError(t, c.Validate())
}

func TestDelete(t *testing.T) {
	c := newTestCache(t, testAttr())

	key := []byte("k")
	require.NoError(t, c.Set(key, fill('a', 10), 0))
	require.NoError(t, c.Del(key))

	_, _, err := c.Get(key)
	assert.Equal(t, NotFound, Result(err))
	assert.Equal(t, NotFound, Result(c.Del(key)))

	snap := c.Stats()
	assert.Equal(t, uint64(0), snap.NItems)
	require.NoError(t, c.Validate())
}

func TestDefaultCounterArithmetic(t *testing.T) {
	attr := testAttr()
	attr.DefaultCounter = true
	c := newTestCache(t, attr)

	key := []byte("c")

	v, err := c.Incr(key, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	v, err = c.Decr(key, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	// Decrement saturates at zero.
	v, err = c.Decr(key, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	require.NoError(t, c.Validate())
}

func TestArithmeticWithoutDefaultCounter(t *testing.T) {
	c := newTestCache(t, testAttr())

	_, err := c.Incr([]byte("missing"), 1)
	assert.Equal(t, NotFound, Result(err))
	_, err = c.Decr([]byte("missing"), 1)
	assert.Equal(t, NotFound, Result(err))
}

func TestArithmeticOnStoredValue(t *testing.T) {
	c := newTestCache(t, testAttr())

	key := []byte("n")
	require.NoError(t, c.Set(key, []byte("100"), 9))

	// The stored value is not counter-sized, so the item migrates into the
	// fixed slot while keeping its flags.
	v, err := c.Incr(key, 23)
	require.NoError(t, err)
	assert.Equal(t, uint64(123), v)

	it := c.assocFind(key)
	require.NotZero(t, it)
	assert.Equal(t, uint64(counterSlotSize), c.itemNVal(it))
	assert.Equal(t, uint32(9), c.itemFlags(it))

	// Repeated arithmetic reuses the slot in place.
	v, err = c.Decr(key, 123)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)
	assert.Equal(t, it, c.assocFind(key))

	require.NoError(t, c.Validate())
}

func TestCounterEncoding(t *testing.T) {
	attr := testAttr()
	attr.DefaultCounter = true
	c := newTestCache(t, attr)

	key := []byte("c")
	_, err := c.Incr(key, 1234)
	require.NoError(t, err)

	it := c.assocFind(key)
	require.NotZero(t, it)
	slot := c.itemValBytes(it)
	require.Len(t, slot, counterSlotSize)
	assert.Equal(t, []byte("1234"), slot[:4])
	assert.Equal(t, byte(0), slot[4])
	for _, b := range slot[5:] {
		assert.Equal(t, byte(' '), b)
	}
}

func TestGetf(t *testing.T) {
	c := newTestCache(t, testAttr())

	key := []byte("k")
	require.NoError(t, c.Set(key, fill('x', 16), 3))

	small := make([]byte, 8)
	_, _, err := c.Getf(key, small)
	assert.Equal(t, ESpace, Result(err))

	buf := make([]byte, 32)
	n, flags, err := c.Getf(key, buf)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, uint32(3), flags)
	assert.Equal(t, fill('x', 16), buf[:n])

	_, _, err = c.Getf([]byte("missing"), buf)
	assert.Equal(t, NotFound, Result(err))
}

func TestSizeReject(t *testing.T) {
	c := newTestCache(t, testAttr())

	// 64 + 1 + nval >= 8192 is rejected outright.
	err := c.Set([]byte("k"), fill('x', 8191), 0)
	assert.Equal(t, ESize, Result(err))
}

func TestSizeBetweenLargestClassAndMax(t *testing.T) {
	c := newTestCache(t, testAttr())

	// Largest class is 4096; sizes up to the 8 KiB cap pass the up-front
	// check but fit no class and fail the allocation.
	err := c.Set([]byte("k"), fill('x', 6000), 0)
	assert.Equal(t, NoMemory, Result(err))
	require.NoError(t, c.Validate())
}
