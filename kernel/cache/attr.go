package cache

import (
	"encoding/binary"
	"math"
)

// Attr configures a region at creation time. Every field is written into the
// region's attribute block and is read-only afterwards; attachers inherit the
// creator's values.
type Attr struct {
	MemLimit uint64
	NBuckets uint32
	Mode     uint32

	ItemSizeMin    uint64
	ItemSizeMax    uint64
	ItemSizeFactor float64

	EvictToFree    bool
	DefaultCounter bool
	UseFlock       bool
}

// DefaultAttr mirrors the compiled-in defaults: a 64 MiB budget, 65536
// buckets, mode 0644, 64-byte minimum and 1 MiB maximum item, growth factor
// 2, eviction on, default-counter off, region lock rather than flock.
func DefaultAttr() Attr {
	return Attr{
		MemLimit:       64 * 1024 * 1024,
		NBuckets:       65536,
		Mode:           0o644,
		ItemSizeMin:    64,
		ItemSizeMax:    1024 * 1024,
		ItemSizeFactor: 2,
		EvictToFree:    true,
		DefaultCounter: false,
		UseFlock:       false,
	}
}

// normalized clamps the growth factor: anything below 1.5 is raised to 1.5.
func (a Attr) normalized() Attr {
	if a.ItemSizeFactor < 1.5 {
		a.ItemSizeFactor = 1.5
	}
	return a
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// encodeAttr writes the attribute block at b. Runtime fields (memUsed,
// slabsCount, maxDepth, nitems) start at zero; slabsCount is stamped by the
// creator once the slab table is formatted.
func encodeAttr(b []byte, a Attr) {
	binary.LittleEndian.PutUint64(b[attrMemLimit:], a.MemLimit)
	binary.LittleEndian.PutUint32(b[attrNBuckets:], a.NBuckets)
	binary.LittleEndian.PutUint32(b[attrMode:], a.Mode)
	binary.LittleEndian.PutUint64(b[attrItemSizeMin:], a.ItemSizeMin)
	binary.LittleEndian.PutUint64(b[attrItemSizeMax:], a.ItemSizeMax)
	binary.LittleEndian.PutUint64(b[attrItemSizeFactor:], math.Float64bits(a.ItemSizeFactor))
	binary.LittleEndian.PutUint32(b[attrEvictToFree:], boolU32(a.EvictToFree))
	binary.LittleEndian.PutUint32(b[attrDefaultCounter:], boolU32(a.DefaultCounter))
	binary.LittleEndian.PutUint32(b[attrUseFlock:], boolU32(a.UseFlock))
	binary.LittleEndian.PutUint64(b[attrMemUsed:], 0)
	binary.LittleEndian.PutUint32(b[attrSlabsCount:], 0)
	binary.LittleEndian.PutUint32(b[attrMaxDepth:], 0)
	binary.LittleEndian.PutUint64(b[attrNItems:], 0)
}

func decodeAttr(b []byte) Attr {
	return Attr{
		MemLimit:       binary.LittleEndian.Uint64(b[attrMemLimit:]),
		NBuckets:       binary.LittleEndian.Uint32(b[attrNBuckets:]),
		Mode:           binary.LittleEndian.Uint32(b[attrMode:]),
		ItemSizeMin:    binary.LittleEndian.Uint64(b[attrItemSizeMin:]),
		ItemSizeMax:    binary.LittleEndian.Uint64(b[attrItemSizeMax:]),
		ItemSizeFactor: math.Float64frombits(binary.LittleEndian.Uint64(b[attrItemSizeFactor:])),
		EvictToFree:    binary.LittleEndian.Uint32(b[attrEvictToFree:]) != 0,
		DefaultCounter: binary.LittleEndian.Uint32(b[attrDefaultCounter:]) != 0,
		UseFlock:       binary.LittleEndian.Uint32(b[attrUseFlock:]) != 0,
	}
}
