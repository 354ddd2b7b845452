// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package irq

import (
	"time"

	"code.hybscloud.com/atomix"
)

// Limiter is the capability of rate-limiting flags: IsActive reports
// whether the caller won the current activation window. Callers that only
// need the capability should accept a Limiter rather than a concrete type.
type Limiter interface {
	IsActive() bool
}

const (
	// flagSetBit is a parity bit that toggles on every successful
	// activation. Two contenders that compute identical timestamps still
	// produce distinct CAS targets, so at most one of them wins.
	flagSetBit   = uint64(1) << 63
	flagTimeMask = ^flagSetBit

	// flagPrecision is nanoseconds per stored tick. 100ns ticks keep the
	// timestamp inside 63 bits.
	flagPrecision = 100
)

// AtMostEvery is a rate-limiting flag that activates at most once per
// interval across all callers.
//
// The whole state is one atomic word: the low 63 bits hold the last
// activation time in 100ns ticks, the high bit holds the activation parity.
// IsActive does bounded constant work, never blocks, and is safe from
// interrupt context.
//
//	flag := irq.NewAtMostEvery(time.Second)
//	if flag.IsActive() {
//	    // at most once per second, whoever gets here first
//	}
type AtMostEvery struct {
	last     atomix.Uint64
	interval time.Duration
	clock    func() int64
}

var _ Limiter = (*AtMostEvery)(nil)

// NewAtMostEvery creates a flag with the given minimum interval between
// activations. The flag starts inactive and can activate immediately.
func NewAtMostEvery(interval time.Duration) *AtMostEvery {
	return &AtMostEvery{interval: interval, clock: nanotime}
}

func nanotime() int64 {
	return time.Now().UnixNano()
}

// IsActive attempts to activate the flag.
//
// Returns true if this call won the activation, false if a prior activation
// is still inside its dead zone or a concurrent caller won the CAS.
func (f *AtMostEvery) IsActive() bool {
	now := f.clock()

	current := uint64(now/flagPrecision) & flagTimeMask

	var threshold uint64
	if deadline := now - int64(f.interval); deadline > 0 {
		threshold = uint64(deadline / flagPrecision)
	}

	prior := f.last.LoadAcquire()
	if prior&flagTimeMask > threshold {
		return false
	}

	next := current
	if prior&flagSetBit == 0 {
		next |= flagSetBit
	}

	return f.last.CompareAndSwapAcqRel(prior, next)
}
