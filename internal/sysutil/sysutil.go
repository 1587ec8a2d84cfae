// Package sysutil provides the process-wide primitives every hot-path
// loop shares: a cooperative shutdown flag, monotonic timing, and
// adaptive idle backoff. Platform-specific pieces (core affinity,
// real-time scheduling priority, NUMA) live in their own files behind
// build tags, the way internal/queue/race.go and race_off.go are
// build-tag-guarded.
package sysutil

import (
	"sync/atomic"
	"time"
)

// BarrierFlag is a single process-wide cooperative-shutdown signal.
// Every hot-path loop polls IsRaised once per iteration and exits cleanly
// after finishing the current iteration; there are no per-operation
// timeouts in the hot path.
type BarrierFlag struct {
	raised atomic.Bool
}

// Raise sets the flag. Safe to call from a signal handler.
func (b *BarrierFlag) Raise() { b.raised.Store(true) }

// IsRaised reports whether Raise has been called.
func (b *BarrierFlag) IsRaised() bool { return b.raised.Load() }

var startMono = time.Now()

// NowNanos returns a monotonic nanosecond timestamp suitable for interval
// measurement. It is not wall-clock time.
func NowNanos() int64 { return int64(time.Since(startMono)) }

// DeadlineSoon returns a short wall-clock deadline, used by fallback
// receive paths that need a bounded-block read instead of a true
// nonblocking socket.
func DeadlineSoon() time.Time { return time.Now().Add(20 * time.Millisecond) }

// SpinWait busy-waits for the given number of iterations, hinting to the
// scheduler via runtime.Gosched avoidance (a true spin, not a yield).
func SpinWait(loops int) {
	for i := 0; i < loops; i++ {
		// PAUSE-equivalent busy loop; no-op body is intentional.
	}
}

// AdaptiveWait escalates from spinning to yielding to a brief sleep as
// idleIters grows, matching spec.md §5's "spin -> yield -> brief sleep"
// contract for every hot-path consumer.
func AdaptiveWait(idleIters int, baseSpins int) {
	switch {
	case idleIters < 64:
		SpinWait(baseSpins)
	case idleIters < 256:
		yieldOnce()
	default:
		d := 50 * time.Microsecond
		if d > 2*time.Millisecond {
			d = 2 * time.Millisecond
		}
		time.Sleep(d)
	}
}
