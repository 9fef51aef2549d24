package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// Textual snapshots. One record per line, raw delimiters:
//
//	<nkey> <nval> <key> <val>\n
//
// Keys or values containing a space or newline do not round-trip; the format
// is kept as-is because existing snapshots depend on it.

// loadBufSize leaves headroom over the largest default item for the two
// length fields and delimiters.
const loadBufSize = 1024*1024 + 1024

// Dump writes every live item to path, walking each class's LRU from the
// head. The write lock is held across the file I/O; that stall is accepted.
func (c *Cache) Dump(path string) error {
	c.WLock()
	defer c.WUnlock()
	return c.dumpNolock(path)
}

func (c *Cache) dumpNolock(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return sysError(err)
	}

	w := bufio.NewWriter(f)
	for id := uint32(0); id < c.slabsCount; id++ {
		for it := c.lruHead(id); it != 0; it = c.itemNext(it) {
			_, err = fmt.Fprintf(w, "%d %d %s %s\n",
				c.itemNKey(it), c.itemNVal(it), c.itemKeyBytes(it), c.itemValBytes(it))
			if err != nil {
				_ = f.Close()
				return sysError(err)
			}
		}
	}

	if err = w.Flush(); err != nil {
		_ = f.Close()
		return sysError(err)
	}
	if err = f.Close(); err != nil {
		return sysError(err)
	}
	return nil
}

// Load replays a snapshot through Set. Records are parsed out of a bounded
// buffer; a partial trailing record is carried over into the next read, and
// a round that cannot consume a single record means the record is larger
// than the buffer.
func (c *Cache) Load(path string) error {
	c.WLock()
	defer c.WUnlock()
	return c.loadNolock(path)
}

func (c *Cache) loadNolock(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return sysError(err)
	}
	defer f.Close()

	buf := make([]byte, loadBufSize)
	rem := 0

	for {
		n, _ := io.ReadFull(f, buf[rem:])
		if n == 0 {
			break
		}
		nbuf := rem + n

		pos := 0
		for {
			consumed, key, val, ok := parseRecord(buf[pos:nbuf])
			if !ok {
				break
			}
			if err := c.setNolock(key, val, 0); err != nil {
				return err
			}
			pos += consumed
		}

		if pos == 0 {
			return ESize
		}
		rem = copy(buf, buf[pos:nbuf])
	}
	return nil
}

// parseRecord extracts one dump line from b. ok is false when the record is
// incomplete and more bytes are needed.
func parseRecord(b []byte) (consumed int, key, val []byte, ok bool) {
	sp := bytes.IndexByte(b, ' ')
	if sp < 0 || sp+1 == len(b) {
		return 0, nil, nil, false
	}
	nkey := parseDigits(b[:sp])
	rest := b[sp+1:]

	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 < 0 || sp+1+sp2+1 == len(b) {
		return 0, nil, nil, false
	}
	nval := parseDigits(rest[:sp2])

	keyStart := sp + 1 + sp2 + 1
	// key, separating space, val, trailing newline
	end := keyStart + nkey + 1 + nval + 1
	if end > len(b) {
		return 0, nil, nil, false
	}

	key = b[keyStart : keyStart+nkey]
	val = b[keyStart+nkey+1 : keyStart+nkey+1+nval]
	return end, key, val, true
}

func parseDigits(b []byte) int {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
