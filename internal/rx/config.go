// Package rx implements the multicast receive stage: per-worker sockets,
// batched/per-packet receive with kernel timestamp extraction, sequence
// extraction, and handoff into the worker's SPSC queue.
package rx

// TimestampingMode selects which RX timestamp source a worker requests
// from the kernel, matching spec.md §4.2's off/software-ns/hw-system/
// hw-raw options.
type TimestampingMode uint8

const (
	TimestampingOff TimestampingMode = iota
	TimestampingSoftware
	TimestampingHardware
	TimestampingHardwareRaw
)

// SeqEndian selects the byte order of the in-payload sequence field.
type SeqEndian uint8

const (
	SeqBigEndian SeqEndian = iota
	SeqLittleEndian
)

// SeqConfig describes where to find the sequence number within a
// datagram's payload, per spec.md §6.
type SeqConfig struct {
	Offset int
	Length int // 4 or 8
	Endian SeqEndian
}

// SocketConfig configures one worker's multicast socket.
type SocketConfig struct {
	Group         string // multicast group IPv4 address
	Port          int
	Iface         string // interface name to join on, "" = default
	ReusePort     bool
	RecvBufBytes  int
	BusyPollUs    int
	Timestamping  TimestampingMode
}

// WorkerConfig configures one RX worker's receive loop.
type WorkerConfig struct {
	Socket        SocketConfig
	Seq           SeqConfig
	RxBatch       int // vectorized recvmmsg batch size; <=1 disables batching
	SpinLoopsPerYield int
}
