package cache

import "strconv"

// Counter values occupy a fixed slot sized for the longest uint64 rendering
// plus a terminator. The slot is pre-filled with spaces and rewritten as
// decimal digits followed by a NUL; the parser scans digits and stops at the
// first non-digit, so stale slot bytes are benign. Snapshots depend on this
// encoding, so it must not change.
const counterSlotSize = 21

// parseCounter reads a decimal prefix, bounded to the 20 digits a uint64 can
// carry.
func parseCounter(val []byte) uint64 {
	if len(val) > counterSlotSize-1 {
		val = val[:counterSlotSize-1]
	}

	var v uint64
	for _, b := range val {
		if b < '0' || b > '9' {
			break
		}
		v = v*10 + uint64(b-'0')
	}
	return v
}

func writeCounter(slot []byte, v uint64) {
	s := strconv.AppendUint(slot[:0:len(slot)], v, 10)
	slot[len(s)] = 0
}

func (c *Cache) arithNolock(key []byte, delta uint64, incr bool) (uint64, error) {
	var oldVal uint64
	var oldFlags uint32

	oldItem := c.assocFind(key)
	newItem := uint64(0)

	if oldItem != 0 {
		oldVal = parseCounter(c.itemValBytes(oldItem))
		oldFlags = c.itemFlags(oldItem)

		if c.itemNVal(oldItem) == counterSlotSize {
			newItem = oldItem
		} else {
			// The existing entry was not written as a counter; move it into
			// a counter-sized slot, keeping the old entry when the
			// allocation fails.
			newItem = c.itemAlloc(uint64(len(key)), counterSlotSize)
			if newItem != 0 {
				c.assocDelete(key)
				c.lruUnlink(oldItem)
				c.itemFree(oldItem)
			}
		}
	} else {
		if !c.defaultCounter {
			return 0, NotFound
		}
		newItem = c.itemAlloc(uint64(len(key)), counterSlotSize)
	}

	if newItem == 0 {
		return 0, NoMemory
	}

	if newItem != oldItem {
		c.assocInsert(key, newItem)
		c.lruLink(newItem)

		c.setItemFlags(newItem, oldFlags)
		copy(c.itemKeyBytes(newItem), key)
		slot := c.itemValBytes(newItem)
		for i := range slot {
			slot[i] = ' '
		}
	}

	var newVal uint64
	if incr {
		newVal = oldVal + delta
	} else if oldVal < delta {
		newVal = 0
	} else {
		newVal = oldVal - delta
	}
	writeCounter(c.itemValBytes(newItem), newVal)

	return newVal, nil
}
