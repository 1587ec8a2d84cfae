// Package pkt defines the unit of flow ownership that moves through the
// RX -> merge -> decode pipeline, and the buffer pool it is allocated from.
package pkt

import "code.hybscloud.com/obengine/internal/queue"

// Channel identifies which redundant feed (or the recovery path) a packet
// arrived on.
type Channel uint8

const (
	ChanA Channel = iota
	ChanB
	ChanRecovery
)

func (c Channel) String() string {
	switch c {
	case ChanA:
		return "A"
	case ChanB:
		return "B"
	case ChanRecovery:
		return "R"
	default:
		return "?"
	}
}

// TsKind records where a packet's receive timestamp came from.
type TsKind uint8

const (
	TsNone TsKind = iota
	TsSoftware
	TsHwSystem
	TsHwRaw
)

// MaxPacketSize bounds every buffer handed out by a Pool.
const MaxPacketSize = 65535

// Buffer is a pool-owned byte region. Len is the valid prefix; cap(Bytes)
// is always MaxPacketSize.
type Buffer struct {
	Bytes []byte
	Len   int
}

func (b *Buffer) reset() {
	b.Len = 0
}

// Pkt is the unit of flow ownership. At any moment exactly one stage owns
// a given Pkt; ownership transfers by value through the SPSC queues, never
// by shared reference.
type Pkt struct {
	Buf         *Buffer
	Len         int
	Seq         uint64
	TsNanos     int64
	Chan        Channel
	TsKind      TsKind
	MergeEmitNs int64
}

// Payload returns the valid prefix of the packet's buffer.
func (p *Pkt) Payload() []byte {
	if p.Buf == nil {
		return nil
	}
	return p.Buf.Bytes[:p.Len]
}

// Recycle returns the packet's buffer to pool and clears the packet's
// reference to it. Safe to call once per packet; calling it twice would
// double-release the same buffer.
func (p *Pkt) Recycle(pool *Pool) {
	if p.Buf == nil {
		return
	}
	pool.Put(p.Buf)
	p.Buf = nil
	p.Len = 0
}

// Pool is a fixed-capacity set of reusable byte buffers, all preallocated
// at construction. Get is called concurrently by every RX worker across
// both channels and, on the cold gap-recovery path, by the recovery
// injector; Put is called by the decode thread (via Recycle) and by RX
// workers returning buffers they did not forward — both ends are
// multi-party, so the free list is an MPMC queue rather than the simpler
// SPSC the queue package's own examples default to for a single-writer pool.
type Pool struct {
	free     *queue.MPMC[*Buffer]
	capacity int
	onCold   func()
}

// NewPool preallocates capacity buffers of MaxPacketSize bytes each and
// fills the free list to capacity. onCold, if non-nil, is invoked whenever
// Get falls through to a cold-path allocation because the pool is empty;
// callers use it to log and count the event.
func NewPool(capacity int, onCold func()) *Pool {
	p := &Pool{
		free:     queue.NewMPMC[*Buffer](capacity),
		capacity: capacity,
		onCold:   onCold,
	}
	for i := 0; i < capacity; i++ {
		buf := &Buffer{Bytes: make([]byte, MaxPacketSize)}
		_ = p.free.Enqueue(&buf)
	}
	return p
}

// Get returns a cleared buffer of at least MaxPacketSize bytes. When the
// free list is empty it allocates a fresh buffer as a safety valve and
// reports the cold path via onCold; the buffer is still returned to the
// free list on Put, so the pool self-heals back toward capacity.
func (p *Pool) Get() *Buffer {
	b, err := p.free.Dequeue()
	if err == nil {
		b.reset()
		return b
	}
	if p.onCold != nil {
		p.onCold()
	}
	return &Buffer{Bytes: make([]byte, MaxPacketSize)}
}

// Put truncates buf and returns it to the free list. If the free list is
// momentarily full (more buffers in flight than capacity after a cold
// allocation) the buffer is simply dropped for GC.
func (p *Pool) Put(buf *Buffer) {
	buf.reset()
	_ = p.free.Enqueue(&buf)
}

// Capacity returns the pool's steady-state buffer count.
func (p *Pool) Capacity() int { return p.capacity }
