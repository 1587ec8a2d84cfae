// Package pubsub implements the publisher-side fan-out bus described in
// spec.md §4.7: a bounded ring of published frames that WebSocket and
// HTTP/3 subscribers tail independently, each disconnected with a Gap
// if it falls too far behind to catch up from the ring alone.
package pubsub

import (
	"sync"

	"code.hybscloud.com/obengine/internal/metrics"
)

// entry is one published frame, tagged with its bus-global sequence.
type entry struct {
	globalSeq uint64
	frame     []byte
}

// Bus is a mutex+condvar ring buffer of published frames. Publish is
// single-producer (the decode/publish orchestrator); Subscribe readers
// are many and each tracks its own cursor.
type Bus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ring    []entry
	next    uint64 // global sequence of the next Publish
	oldest  uint64 // lowest global sequence still retained in the ring
	filled  uint64 // how many slots have ever been written

	met *metrics.Metrics
}

// New builds a Bus whose ring holds capacity frames.
func New(capacity int, met *metrics.Metrics) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bus{ring: make([]entry, capacity), met: met}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish appends frame to the bus, assigning it the next global
// sequence, and wakes every blocked subscriber.
func (b *Bus) Publish(frame []byte) uint64 {
	b.mu.Lock()
	seq := b.next
	b.ring[seq%uint64(len(b.ring))] = entry{globalSeq: seq, frame: frame}
	b.next++
	b.filled++
	if b.filled > uint64(len(b.ring)) {
		b.oldest = b.next - uint64(len(b.ring))
	}
	b.mu.Unlock()
	b.cond.Broadcast()

	if b.met != nil {
		b.met.OutFrames.Inc()
		b.met.OutBytes.Add(float64(len(frame)))
	}
	return seq
}

// ErrGap is returned by Next when the caller's cursor has fallen behind
// the oldest frame still held in the ring; the caller must resynchronize
// via a fresh snapshot.
var ErrGap = errGap{}

type errGap struct{}

func (errGap) Error() string { return "pubsub: subscriber fell behind the ring (gap)" }

// OldestAvailable returns the lowest global sequence still in the ring.
func (b *Bus) OldestAvailable() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.oldest
}

// NextGlobalSeq returns the sequence that will be assigned to the next
// Publish call, i.e. one past the newest frame currently in the ring.
func (b *Bus) NextGlobalSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// Next blocks until cursor is available in the ring, then returns the
// frame at cursor and the following cursor. It returns ErrGap instead of
// blocking if cursor is already older than the oldest retained frame.
func (b *Bus) Next(cursor uint64, closed <-chan struct{}) ([]byte, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		select {
		case <-closed:
			return nil, cursor, errClosed{}
		default:
		}
		if cursor < b.oldest {
			return nil, cursor, ErrGap
		}
		if cursor < b.next {
			e := b.ring[cursor%uint64(len(b.ring))]
			return e.frame, cursor + 1, nil
		}
		b.cond.Wait()
	}
}

type errClosed struct{}

func (errClosed) Error() string { return "pubsub: subscription closed" }

// Shutdown wakes every subscriber blocked in Next so they can observe a
// closed channel and exit.
func (b *Bus) Shutdown() { b.cond.Broadcast() }
