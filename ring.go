// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package irq

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/irq/internal/bitset"
	"golang.org/x/sys/cpu"
)

// ringIndexFree is the index-entry sentinel: no element has been published
// at this position, or the element there has already been consumed.
const ringIndexFree = ^uint64(0)

// Ring is a bounded multi-producer single-consumer FIFO with wait-free,
// reentrant enqueue.
//
// Producers do not write into head-indexed slots. Each producer claims any
// free slot from an occupancy bitmap, constructs the element there, then
// claims the next FIFO position and publishes its slot index into the
// position's index entry. Slot identity is independent of FIFO position, so
// a producer that preempts another producer mid-enqueue (an interrupt
// handler, a signal context) completes without depending on the victim.
//
// Per-slot state machine:
//
//	free → claimed (bitmap set) → published (index store) →
//	consumed (index exchange) → free (bitmap clear)
//
// Enqueue is safe from any number of concurrent and nested producer
// contexts. Dequeue is single-consumer and not reentrant with itself.
// Creation and Close require exclusive access.
//
// Memory: one GC-managed slot per element plus 8 bytes of index entry per
// position and one bitmap bit per slot, the latter two packed into a single
// allocator slab.
type Ring[T any] struct {
	_        cpu.CacheLinePad
	count    atomix.Int64  // Advisory element count, admission gate for producers
	head     atomix.Uint64 // Producer publish cursor (FAA)
	_        cpu.CacheLinePad
	tail     atomix.Uint64 // Consumer cursor
	_        cpu.CacheLinePad
	slots    []T             // Element storage, addressed by bitmap index
	bitmap   []atomix.Uint64 // Slot occupancy, one bit per slot
	index    []atomix.Uint64 // FIFO position → slot index, or ringIndexFree
	slab     []byte          // Backing storage for bitmap and index
	alloc    Allocator
	capacity uint64
}

// RingOption configures ring buffer creation.
type RingOption func(*ringOptions)

type ringOptions struct {
	alloc Allocator
}

// WithAllocator directs the ring's bitmap and index storage to a. The ring
// owns the returned slab and releases it through a.Deallocate on Close.
func WithAllocator(a Allocator) RingOption {
	return func(o *ringOptions) {
		o.alloc = a
	}
}

// NewRing creates a ring buffer holding up to capacity elements.
//
// Panics if capacity <= 0. Returns ErrNoMemory if the allocator yields no
// storage.
func NewRing[T any](capacity int, opts ...RingOption) (*Ring[T], error) {
	if capacity <= 0 {
		panic("irq: capacity must be > 0")
	}

	o := ringOptions{alloc: Heap{}}
	for _, opt := range opts {
		opt(&o)
	}

	n := uint64(capacity)
	slab := o.alloc.Allocate(slabSize(n))
	if slab == nil {
		return nil, ErrNoMemory
	}

	base := unsafe.Pointer(unsafe.SliceData(slab))
	q := &Ring[T]{
		slots:    make([]T, n),
		bitmap:   unsafe.Slice((*atomix.Uint64)(base), bitset.Words(n)),
		index:    unsafe.Slice((*atomix.Uint64)(unsafe.Add(base, slabOffsetForIndex(n))), n),
		slab:     slab,
		alloc:    o.alloc,
		capacity: n,
	}

	// The allocator contract hands back zeroed storage; the bitmap relies on
	// that. Index entries start at the sentinel.
	for k := range q.index {
		q.index[k].StoreRelaxed(ringIndexFree)
	}

	return q, nil
}

// Enqueue adds an element to the queue. Wait-free and reentrant: safe from
// any producer context, including one that preempted another producer on
// the same queue.
//
// The queue stores a copy of *elem; the caller's value is untouched on
// failure. Returns ErrWouldBlock if the queue is full.
func (q *Ring[T]) Enqueue(elem *T) error {
	idx, ok := bitset.ScanAndSet(q.bitmap, q.capacity)
	if !ok {
		return ErrWouldBlock
	}

	// Optimistic admission: claim a count, roll back on overflow. The
	// rollback order matters, count first and then bit, so concurrent
	// producers never observe a free bit alongside an exhausted count.
	if prior := q.count.Add(1) - 1; uint64(prior) >= q.capacity {
		q.count.Add(-1)
		bitset.Clear(q.bitmap, idx)
		return ErrWouldBlock
	}

	q.slots[idx] = *elem

	// Claiming head fixes FIFO order; the index store publishes. Between the
	// two, the position reads as a bubble and Dequeue reports empty.
	pos := (q.head.AddAcqRel(1) - 1) % q.capacity
	q.index[pos].StoreRelease(idx)

	return nil
}

// Dequeue removes and returns the oldest published element. Single consumer
// only; reentrant with any number of producers but not with itself.
//
// Returns ErrWouldBlock if no element is visible at the consumer position:
// either the queue is empty or the producer that claimed the position has
// not yet published (see the package notes on publication bubbles).
func (q *Ring[T]) Dequeue() (T, error) {
	var zero T

	tail := q.tail.LoadRelaxed()
	entry := &q.index[tail%q.capacity]

	idx := entry.LoadAcquire()
	if idx == ringIndexFree {
		return zero, ErrWouldBlock
	}

	// Taking the entry back to the sentinel needs no atomic exchange: the
	// consumer is the entry's only writer in this direction, and no producer
	// can blind-store here until it wins head position tail+capacity, which
	// the count gate forbids before the Add(-1) below lands.
	entry.StoreRelaxed(ringIndexFree)

	elem := q.slots[idx]
	q.slots[idx] = zero // Release references before freeing the slot

	bitset.Clear(q.bitmap, idx)

	q.tail.StoreRelease(tail + 1)
	q.count.Add(-1)

	return elem, nil
}

// Len returns an estimate of the number of elements in the queue.
//
// As this is a lock-free structure the count is immediately out of date;
// treat it as a hint. At rest it lies in [0, Cap()].
func (q *Ring[T]) Len() int {
	return int(q.count.Load())
}

// Cap returns the configured capacity.
func (q *Ring[T]) Cap() int {
	return int(q.capacity)
}

// Close drops any values still in the buffer and returns the slab to the
// allocator. Close is idempotent. Not safe to call concurrently with any
// other operation; every other method has undefined behavior after Close.
func (q *Ring[T]) Close() {
	if q.slab == nil {
		return
	}

	var zero T
	for i := uint64(0); i < q.capacity; i++ {
		if bitset.Test(q.bitmap, i) {
			q.slots[i] = zero
		}
	}

	q.alloc.Deallocate(q.slab)
	q.slab = nil
	q.bitmap = nil
	q.index = nil
	q.slots = nil
	q.capacity = 0
	q.count.Store(0)
	q.head.Store(0)
	q.tail.Store(0)
}
