// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bitset implements the atomic occupancy bitmap backing the ring
// buffer's slot allocator.
//
// Bits are grouped into 64-bit atomix words. A set bit means the slot is
// claimed by some producer and may hold a live value. Bits are monotone
// within a slot's lifetime: a bit cannot be re-set until its clear has been
// observed, which keeps the claiming CAS immune to ABA.
package bitset

import (
	"math/bits"

	"code.hybscloud.com/atomix"
)

const wordBits = 64

// Words returns the number of 64-bit words required to track n slots.
func Words(n uint64) int {
	return int((n + wordBits - 1) / wordBits)
}

// ScanAndSet claims a free bit and returns its index.
//
// The scan walks words left to right and bits low to high. On CAS failure
// the same word is re-examined with the freshly observed value rather than
// advanced past, so a producer cannot skip a slot freed under its feet.
// Each attempt is wait-free; retries are bounded by the number of producers
// contending on the word.
//
// Returns false when no free bit exists among the first size bits.
func ScanAndSet(words []atomix.Uint64, size uint64) (uint64, bool) {
	for i := range words {
		base := uint64(i) * wordBits
		old := words[i].LoadAcquire()
		for {
			free := ^old
			if rem := size - base; rem < wordBits {
				// Bits beyond size in the final word are never allocatable.
				free &= (uint64(1) << rem) - 1
			}
			if free == 0 {
				break
			}
			bit := uint64(bits.TrailingZeros64(free))
			if words[i].CompareAndSwapAcqRel(old, old|uint64(1)<<bit) {
				return base + bit, true
			}
			old = words[i].LoadAcquire()
		}
	}
	return 0, false
}

// Clear releases the bit at index.
//
// The release ordering on the CAS makes every write to the slot performed
// before Clear visible to the producer that next claims the bit.
func Clear(words []atomix.Uint64, index uint64) {
	w := &words[index/wordBits]
	mask := uint64(1) << (index % wordBits)
	for {
		old := w.LoadRelaxed()
		if w.CompareAndSwapAcqRel(old, old&^mask) {
			return
		}
	}
}

// Test reports whether the bit at index is set.
func Test(words []atomix.Uint64, index uint64) bool {
	return words[index/wordBits].Load()&(uint64(1)<<(index%wordBits)) != 0
}
