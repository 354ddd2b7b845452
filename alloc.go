// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package irq

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/irq/internal/bitset"
)

// Allocator provides byte-granularity backing storage for ring buffers.
//
// Allocate returns a zeroed slab of at least size bytes, aligned for 64-bit
// atomic access, or nil when no memory is available. Deallocate returns a
// slab previously obtained from Allocate; it is called at most once per slab,
// from Ring.Close.
//
// Implementations must be safe to call during creation and Close only; the
// ring never allocates on an operation path.
type Allocator interface {
	Allocate(size int) []byte
	Deallocate(slab []byte)
}

// Heap is the default Allocator, backed by the Go heap.
// Deallocate is a no-op; the collector reclaims the slab.
type Heap struct{}

// Allocate returns a zeroed slab. Backing the slab with a []uint64 pins the
// alignment required for atomic access.
func (Heap) Allocate(size int) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), size)
}

// Deallocate is a no-op for heap slabs.
func (Heap) Deallocate([]byte) {}

// atomWordSize is the size and alignment of one atomic bitmap or index word.
const atomWordSize = int(unsafe.Sizeof(atomix.Uint64{}))

// roundUp rounds value up to the next multiple of multiple.
func roundUp(value, multiple int) int {
	return (value + multiple - 1) / multiple * multiple
}

// slabOffsetForIndex returns the byte offset of the index region within the
// slab. The bitmap region starts at offset zero.
func slabOffsetForIndex(capacity uint64) int {
	return roundUp(bitset.Words(capacity)*atomWordSize, atomWordSize)
}

// slabSize returns the total slab size for a ring of the given capacity:
// the occupancy bitmap followed by the publication index array, each region
// starting at its word alignment.
func slabSize(capacity uint64) int {
	return slabOffsetForIndex(capacity) + int(capacity)*atomWordSize
}
