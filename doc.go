// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package irq provides reentrant lock-free primitives for latency-sensitive
// and interrupt-driven systems.
//
// The package offers four independent primitives:
//
//   - Ring: a bounded multi-producer single-consumer FIFO whose enqueue is
//     wait-free and reentrant, safe to call from a handler that preempted
//     another producer mid-enqueue on the same queue.
//   - Mailbox: a single-producer single-consumer latest-value channel whose
//     reader never blocks and never observes a torn value.
//   - AtMostEvery: a rate-limiting flag that activates at most once per
//     configured interval across all callers, in a single atomic word.
//   - scoped (subpackage): deferred execution helpers that run cleanup in
//     reverse registration order on every exit path, with an error-only
//     variant.
//
// # Quick Start
//
//	q, err := irq.NewRing[Event](1024)
//	if err != nil {
//	    return err
//	}
//	defer q.Close()
//
//	// Any producer context, including interrupt handlers
//	ev := Event{...}
//	if err := q.Enqueue(&ev); irq.IsWouldBlock(err) {
//	    // Queue full - drop or count
//	}
//
//	// Single consumer
//	ev, err := q.Dequeue()
//	if err == nil {
//	    process(ev)
//	}
//
// # Reentrancy
//
// Classical MPSC ring buffers reserve a head slot, write the element, then
// advance a producer tail in publication order. That design cannot be made
// reentrant: a handler that preempts a producer between reservation and
// publication can never publish its own element, because the tail cannot
// advance past the interrupted producer's slot.
//
// Ring decouples slot identity from FIFO position. A producer first claims
// any free slot from an atomic occupancy bitmap, constructs the element
// there, and only then claims the next FIFO position and publishes the slot
// index into the position's index entry. A preempting producer completes
// end-to-end without depending on the victim's progress.
//
// A consequence is the publication bubble: a producer may have claimed FIFO
// position h while its index store has not landed yet. Dequeue at that
// position reports an empty queue until the store lands; order is still
// FIFO with respect to position claims.
//
// Reentrant operations: Ring.Enqueue, Ring.Len, Ring.Cap, Mailbox.Read,
// Mailbox.Unlock, AtMostEvery.IsActive. Ring.Dequeue is single-consumer and
// not reentrant with itself. Creation and Close require exclusive access.
//
// # Mailbox
//
// Mailbox trades history for latency: the reader always observes the most
// recently published value and intermediate values may be dropped. The
// reader takes a lease with Lock/Unlock (both non-blocking; Lock is a no-op
// and exists for sync.Locker shape) and reads a stable reference inside it:
//
//	m.Lock()
//	v := m.Read() // valid until Unlock
//	use(*v)
//	m.Unlock()
//
// The writer is the only party that may spin, bounded by reader hold time.
//
// # Rate Limiting
//
//	flag := irq.NewAtMostEvery(10 * time.Millisecond)
//
//	if flag.IsActive() {
//	    // At most one caller per 10ms window gets here,
//	    // regardless of contention.
//	}
//
// Callers may parameterize over the Limiter capability instead of the
// concrete type.
//
// # Error Handling
//
// Operational outcomes are semantic errors, not failures. Enqueue on a full
// queue and Dequeue on an empty queue return [ErrWouldBlock], sourced from
// [code.hybscloud.com/iox] for ecosystem consistency:
//
//	backoff := iox.Backoff{}
//	for {
//	    err := q.Enqueue(&item)
//	    if err == nil {
//	        break
//	    }
//	    if !irq.IsWouldBlock(err) {
//	        return err
//	    }
//	    backoff.Wait()
//	}
//
// Ring creation returns [ErrNoMemory] when the allocator yields no storage.
// Precondition violations (zero capacity, a second consumer, use after
// Close) are programming errors: the first panics, the rest are undefined.
//
// # Memory Ordering
//
// Cross-producer synchronization flows through acquire-release operations on
// the occupancy bitmap and on index-entry publication. The advisory element
// count uses sequentially consistent read-modify-writes; it doubles as the
// producers' admission gate, and the proof that producers never lap the
// consumer leans on it. Counts returned by Ring.Len are hints and may be
// momentarily stale.
//
// # Element Type Requirements
//
// Ring and Mailbox store values by assignment. Element types must tolerate
// being copied and overwritten; types whose assignment has side effects must
// not be stored directly. Mailbox additionally requires a usable zero value,
// since readers before the first Write observe a default-constructed slot.
//
// # Race Detection
//
// Go's race detector cannot observe happens-before edges established through
// atomix orderings on separate variables and reports false positives on
// these algorithms. Tests incompatible with race detection are excluded via
// //go:build !race.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for atomic primitives with explicit memory
// ordering, [code.hybscloud.com/spin] for CPU pause instructions, and
// [golang.org/x/sys/cpu] for cache-line padding.
package irq
