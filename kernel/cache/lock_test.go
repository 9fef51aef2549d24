package cache

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLockExcludesWriters(t *testing.T) {
	token := filepath.Join(t.TempDir(), "cache.mmap")

	attr := testAttr()
	attr.DefaultCounter = true

	creator, err := Create(token, attr)
	require.NoError(t, err)
	defer creator.Destroy()

	other, err := Attach(token)
	require.NoError(t, err)
	defer other.Destroy()

	// Two attachments hammer the same counter; the exclusive lock must
	// serialise every increment.
	const perWorker = 500
	var wg sync.WaitGroup
	for _, h := range []*Cache{creator, other} {
		wg.Add(1)
		go func(c *Cache) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := c.Incr([]byte("n"), 1)
				assert.NoError(t, err)
			}
		}(h)
	}
	wg.Wait()

	v, err := creator.Incr([]byte("n"), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*perWorker), v)
	require.NoError(t, creator.Validate())
}

func TestReadersShareTheLock(t *testing.T) {
	token := filepath.Join(t.TempDir(), "cache.mmap")

	creator, err := Create(token, testAttr())
	require.NoError(t, err)
	defer creator.Destroy()

	require.NoError(t, creator.Set([]byte("k"), fill('v', 32), 0))

	other, err := Attach(token)
	require.NoError(t, err)
	defer other.Destroy()

	var wg sync.WaitGroup
	for _, h := range []*Cache{creator, other} {
		wg.Add(1)
		go func(c *Cache) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				got, _, err := c.Get([]byte("k"))
				assert.NoError(t, err)
				assert.Equal(t, fill('v', 32), got)
			}
		}(h)
	}
	wg.Wait()
	require.NoError(t, creator.Validate())
}

func TestMixedReadersAndWriters(t *testing.T) {
	token := filepath.Join(t.TempDir(), "cache.mmap")

	creator, err := Create(token, testAttr())
	require.NoError(t, err)
	defer creator.Destroy()

	other, err := Attach(token)
	require.NoError(t, err)
	defer other.Destroy()

	require.NoError(t, creator.Set([]byte("k"), fill('a', 16), 0))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			require.NoError(t, creator.Set([]byte("k"), fill(byte('a'+i%4), 16), uint32(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			got, _, err := other.Get([]byte("k"))
			if assert.NoError(t, err) {
				// Whatever version is observed, it is one complete write.
				assert.Len(t, got, 16)
				for _, b := range got[1:] {
					assert.Equal(t, got[0], b)
				}
			}
		}
	}()
	wg.Wait()
	require.NoError(t, creator.Validate())
}

func TestFlockMode(t *testing.T) {
	attr := testAttr()
	attr.UseFlock = true
	c := newTestCache(t, attr)

	require.NoError(t, c.Set([]byte("k"), fill('f', 20), 2))
	got, flags, err := c.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, fill('f', 20), got)
	assert.Equal(t, uint32(2), flags)
	require.NoError(t, c.Validate())
}
