// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package irq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"golang.org/x/sys/cpu"
)

// Mailbox state word: bit 0 selects which slot the last completed write
// left the index pointing at; readers observe the other slot. Bit 1 gates
// writers: a write sets it on publication and a reader's Unlock toggles it
// back off.
const (
	mailboxIndexBit = int32(1) << 0
	mailboxWriteBit = int32(1) << 1
)

// Mailbox is a single-producer single-consumer latest-value channel.
//
// Two slots double-buffer the value so the reader never blocks and never
// observes a torn write. The writer publishes by flipping the index bit
// after the fresh slot is fully written; it is the only party that may
// spin, and only while a read lease is outstanding.
//
// The reader takes a lease around each read:
//
//	m.Lock()
//	v := m.Read() // stable until Unlock
//	m.Unlock()
//
// Lock and Unlock satisfy sync.Locker, so the lease also works with
// lock_guard-style helpers. Intermediate values are dropped: a reader that
// leases less often than the writer publishes sees only the freshest value.
//
// Unlock toggles the writer gate, so the mailbox is a rendezvous: after each
// publication the writer waits for one Unlock before publishing again.
// Leases are meant to be taken repeatedly, as a polling reader does; a
// reader that stops leasing eventually parks the writer on its spin.
//
// T must have a usable zero value; readers before the first Write observe
// it. The zero Mailbox is ready to use.
type Mailbox[T any] struct {
	_     cpu.CacheLinePad
	state atomix.Int32
	slots [2]T
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

// Write overwrites the mailbox with v.
//
// Write stores into the slot readers are not inspecting, then publishes it
// with a single state store that flips the index bit and raises the write
// gate. It spins only while the previous publication has not been observed
// by a reader's Unlock; single producer only.
func (m *Mailbox[T]) Write(v T) {
	sw := spin.Wait{}
	var state int32
	for {
		state = m.state.LoadAcquire()
		if state&mailboxWriteBit == 0 {
			break
		}
		sw.Once()
	}

	m.slots[state&mailboxIndexBit] = v

	m.state.StoreRelease(state ^ (mailboxIndexBit | mailboxWriteBit))
}

// Lock enters a read lease. It is a no-op and exists so the lease has
// sync.Locker shape; the pairing Unlock is what writers synchronize on.
func (m *Mailbox[T]) Lock() {}

// Read returns the freshest published value. The reference is stable until
// the lease is released with Unlock; no writer mutates the slot it points
// at while the lease is held. Requires the lease.
func (m *Mailbox[T]) Read() *T {
	return &m.slots[(m.state.LoadAcquire()&mailboxIndexBit)^1]
}

// Unlock releases the read lease by toggling the write gate, letting a
// waiting writer proceed. Non-blocking: the CAS can lose at most one race
// against a concurrent publication. Reentrant with Write; safe from
// interrupt context.
func (m *Mailbox[T]) Unlock() {
	for {
		state := m.state.LoadRelaxed()
		if m.state.CompareAndSwapAcqRel(state, state^mailboxWriteBit) {
			return
		}
	}
}

// Get returns a copy of the freshest value under a short lease.
func (m *Mailbox[T]) Get() T {
	m.Lock()
	defer m.Unlock()
	return *m.Read()
}
