// Package bitmap provides the page bitmap shared by the physical and virtual
// page allocators. Each bit tracks one page; a set bit marks the page as
// allocated.
//
// Individual words are updated with atomic read-modify-write operations so a
// reader never observes a torn word. Multi-word sequences such as "find a run
// then mark it" are not atomic as a whole and must be serialized by the
// owning allocator.
package bitmap

import (
	"math/bits"
	"sync/atomic"
)

const (
	wordShift = 5
	wordBits  = 1 << wordShift
	wordMask  = wordBits - 1

	allSet = ^uint32(0)
)

// Bitmap tracks the allocation state of a fixed number of pages using
// caller-provided storage.
type Bitmap struct {
	words []uint32
	bits  uint32
}

// Init points the bitmap at storage and limits it to bitCount bits. The
// storage contents are left untouched. bitCount is clamped to the storage
// capacity.
func (b *Bitmap) Init(storage []uint32, bitCount uint32) {
	if capacity := uint64(len(storage)) * wordBits; uint64(bitCount) > capacity {
		bitCount = uint32(capacity)
	}

	b.words = storage
	b.bits = bitCount
}

// Len returns the number of bits tracked by the bitmap.
func (b *Bitmap) Len() uint32 {
	return b.bits
}

// IsSet reports whether bit i is set.
func (b *Bitmap) IsSet(i uint32) bool {
	return atomic.LoadUint32(&b.words[i>>wordShift])&(1<<(i&wordMask)) != 0
}

// SetAll marks every tracked bit as allocated.
func (b *Bitmap) SetAll() {
	b.SetRange(0, b.bits)
}

// SetRange sets the count bits starting at start.
func (b *Bitmap) SetRange(start, count uint32) {
	b.forEachWord(start, count, func(word *uint32, mask uint32) {
		atomic.OrUint32(word, mask)
	})
}

// ClearRange clears the count bits starting at start.
func (b *Bitmap) ClearRange(start, count uint32) {
	b.forEachWord(start, count, func(word *uint32, mask uint32) {
		atomic.AndUint32(word, ^mask)
	})
}

// CountSet returns the number of set bits in [start, start+count).
func (b *Bitmap) CountSet(start, count uint32) uint32 {
	var total uint32
	b.forEachWord(start, count, func(word *uint32, mask uint32) {
		total += uint32(bits.OnesCount32(atomic.LoadUint32(word) & mask))
	})
	return total
}

// AllSet reports whether every bit in [start, start+count) is set.
func (b *Bitmap) AllSet(start, count uint32) bool {
	return b.CountSet(start, count) == count
}

// FindClear returns the index of the first run of count clear bits that lies
// entirely inside [start, end). Whole words are skipped when they cannot
// start or extend a run.
func (b *Bitmap) FindClear(start, end, count uint32) (uint32, bool) {
	if end > b.bits {
		end = b.bits
	}
	if count == 0 || start >= end || end-start < count {
		return 0, false
	}

	var runStart, runLen uint32
	for i := start; i < end; {
		if i&wordMask == 0 && end-i >= wordBits {
			switch atomic.LoadUint32(&b.words[i>>wordShift]) {
			case allSet:
				runLen = 0
				i += wordBits
				continue
			case 0:
				if runLen == 0 {
					runStart = i
				}
				runLen += wordBits
				i += wordBits
				if runLen >= count {
					return runStart, true
				}
				continue
			}
		}

		if b.IsSet(i) {
			runLen = 0
			i++
			continue
		}

		if runLen == 0 {
			runStart = i
		}
		runLen++
		i++
		if runLen == count {
			return runStart, true
		}
	}

	return 0, false
}

// forEachWord invokes fn with a pointer to each storage word overlapping
// [start, start+count) and the mask of the bits inside that range. The range
// is clamped to the bitmap length.
func (b *Bitmap) forEachWord(start, count uint32, fn func(word *uint32, mask uint32)) {
	if start >= b.bits || count == 0 {
		return
	}
	end := uint64(start) + uint64(count)
	if end > uint64(b.bits) {
		end = uint64(b.bits)
	}

	for i := uint64(start); i < end; {
		bitOffset := uint32(i & wordMask)
		n := uint64(wordBits - bitOffset)
		if n > end-i {
			n = end - i
		}

		var mask uint32
		if n == wordBits {
			mask = allSet
		} else {
			mask = ((uint32(1) << n) - 1) << bitOffset
		}

		fn(&b.words[i>>wordShift], mask)
		i += n
	}
}
