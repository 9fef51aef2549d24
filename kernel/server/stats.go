package server

import (
	"bytes"
	"fmt"

	"github.com/nmxmxh/netshell/kernel/cache"
)

// Stats counts commands and misses across every connection of one shell.
// The loop is single-threaded, so plain fields are enough.
type Stats struct {
	GetCnts  uint64
	SetCnts  uint64
	DelCnts  uint64
	IncrCnts uint64
	DecrCnts uint64

	GetMisses  uint64
	DelMisses  uint64
	IncrMisses uint64
	DecrMisses uint64

	ErrCnts uint64
}

// statsSize bounds the STAT block; a uint64 renders in at most 20 digits, so
// 1 KiB holds the whole sequence.
const statsSize = 1024

// render writes the STAT lines: the counters first, then the configured
// attributes and runtime figures. The last line carries no terminator; the
// response tail supplies it.
func (s *Stats) render(snap cache.Snapshot) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "STAT cmd_get %d\r\n", s.GetCnts)
	fmt.Fprintf(&b, "STAT cmd_set %d\r\n", s.SetCnts)
	fmt.Fprintf(&b, "STAT cmd_del %d\r\n", s.DelCnts)
	fmt.Fprintf(&b, "STAT cmd_incr %d\r\n", s.IncrCnts)
	fmt.Fprintf(&b, "STAT cmd_decr %d\r\n", s.DecrCnts)
	fmt.Fprintf(&b, "STAT get_misses %d\r\n", s.GetMisses)
	fmt.Fprintf(&b, "STAT del_misses %d\r\n", s.DelMisses)
	fmt.Fprintf(&b, "STAT incr_misses %d\r\n", s.IncrMisses)
	fmt.Fprintf(&b, "STAT decr_misses %d\r\n", s.DecrMisses)
	fmt.Fprintf(&b, "STAT err_cnts %d\r\n", s.ErrCnts)
	fmt.Fprintf(&b, "STAT nbuckets %d\r\n", snap.NBuckets)
	fmt.Fprintf(&b, "STAT item_min %d\r\n", snap.ItemSizeMin)
	fmt.Fprintf(&b, "STAT item_max %d\r\n", snap.ItemSizeMax)
	fmt.Fprintf(&b, "STAT item_factor %.2f\r\n", snap.ItemSizeFactor)
	fmt.Fprintf(&b, "STAT evict_free %d\r\n", boolInt(snap.EvictToFree))
	fmt.Fprintf(&b, "STAT default_counter %d\r\n", boolInt(snap.DefaultCounter))
	fmt.Fprintf(&b, "STAT use_flock %d\r\n", boolInt(snap.UseFlock))
	fmt.Fprintf(&b, "STAT bytes %d\r\n", snap.MemUsed)
	fmt.Fprintf(&b, "STAT limit_maxbytes %d\r\n", snap.MemLimit)
	fmt.Fprintf(&b, "STAT total_items %d\r\n", snap.NItems)
	fmt.Fprintf(&b, "STAT max_depth %d", snap.MaxDepth)

	out := b.Bytes()
	if len(out) > statsSize {
		out = out[:statsSize]
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
