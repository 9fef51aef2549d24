package cache

import (
	"io"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Cross-process synchronisation. Two variants behind the same four methods:
//
//   - the default reader/writer lock lives inside the mapped region as a
//     single state word driven with atomic CAS, so any process attached to
//     the file contends on the same cache line;
//   - the flock variant takes an advisory byte-range lock over the whole
//     file (F_SETLKW). Record locks are owned per process, so this mode must
//     not be shared between threads of one process.
//
// The auxiliary mutex serialises LRU relinks performed under a shared read
// lock. Locks are initialised once by the creator and never destroyed; a
// remaining attacher must always find them valid.

const (
	rwWriter     = 1 << 31
	rwPending    = 1 << 30
	rwReaderMask = rwPending - 1
)

// backoff yields the scheduler first and falls back to short sleeps, the
// usual shape for a spin wait that can cross process boundaries.
func backoff(spin int) {
	if spin < 64 {
		runtime.Gosched()
		return
	}
	d := spin - 64
	if d > 10 {
		d = 10
	}
	time.Sleep(time.Microsecond << uint(d))
}

func (c *Cache) lockWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&c.r.data[offLock]))
}

func (c *Cache) mutexWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&c.r.data[offMutex]))
}

// RLock takes the shared side of the primary lock.
func (c *Cache) RLock() {
	if c.useFlock {
		c.fcntlLock(unix.F_RDLCK)
		return
	}
	w := c.lockWord()
	for spin := 0; ; spin++ {
		s := atomic.LoadUint32(w)
		if s&(rwWriter|rwPending) == 0 {
			if atomic.CompareAndSwapUint32(w, s, s+1) {
				return
			}
			continue
		}
		backoff(spin)
	}
}

// RUnlock releases a shared hold.
func (c *Cache) RUnlock() {
	if c.useFlock {
		c.fcntlLock(unix.F_UNLCK)
		return
	}
	atomic.AddUint32(c.lockWord(), ^uint32(0))
}

// WLock takes the exclusive side of the primary lock. The pending bit keeps
// a stream of readers from starving the writer out.
func (c *Cache) WLock() {
	if c.useFlock {
		c.fcntlLock(unix.F_WRLCK)
		return
	}
	w := c.lockWord()
	for spin := 0; ; spin++ {
		s := atomic.LoadUint32(w)
		if s&(rwWriter|rwPending) == 0 {
			if atomic.CompareAndSwapUint32(w, s, s|rwPending) {
				break
			}
			continue
		}
		backoff(spin)
	}
	for spin := 0; ; spin++ {
		if atomic.CompareAndSwapUint32(w, rwPending, rwWriter) {
			return
		}
		backoff(spin)
	}
}

// WUnlock releases the exclusive hold.
func (c *Cache) WUnlock() {
	if c.useFlock {
		c.fcntlLock(unix.F_UNLCK)
		return
	}
	atomic.StoreUint32(c.lockWord(), 0)
}

func (c *Cache) fcntlLock(typ int16) {
	lk := unix.Flock_t{
		Type:   typ,
		Whence: io.SeekStart,
		Start:  0,
		Len:    0,
	}
	_ = unix.FcntlFlock(uintptr(c.r.fd), unix.F_SETLKW, &lk)
}

func (c *Cache) mutexLock() {
	w := c.mutexWord()
	for spin := 0; !atomic.CompareAndSwapUint32(w, 0, 1); spin++ {
		backoff(spin)
	}
}

func (c *Cache) mutexUnlock() {
	atomic.StoreUint32(c.mutexWord(), 0)
}
