// Package atomic_float provides a lock-free float64 holder for values that
// are written and read far more often than they're worth guarding with a
// mutex, such as a gauge updated once per tick and polled from an HTTP
// handler on a different goroutine.
package atomic_float

import (
	"math"
	"sync/atomic"
)

// AtomicFloat64 holds a float64 that can be read and set without a lock,
// by reinterpreting its bits as a uint64 for sync/atomic. The float64
// itself is never read or written directly outside these methods, so the
// bit-reinterpretation is always consistent.
type AtomicFloat64 struct {
	bits uint64
}

// NewAtomicFloat64 returns an AtomicFloat64 initialized to val.
func NewAtomicFloat64(val float64) *AtomicFloat64 {
	return &AtomicFloat64{bits: math.Float64bits(val)}
}

// AtomicRead returns the current value.
func (af *AtomicFloat64) AtomicRead() float64 {
	return math.Float64frombits(atomic.LoadUint64(&af.bits))
}

// AtomicSet stores val, retrying the underlying compare-and-swap until it
// succeeds so a concurrent writer never causes this call to silently
// no-op.
func (af *AtomicFloat64) AtomicSet(val float64) {
	newBits := math.Float64bits(val)
	for {
		old := atomic.LoadUint64(&af.bits)
		if atomic.CompareAndSwapUint64(&af.bits, old, newBits) {
			return
		}
	}
}
