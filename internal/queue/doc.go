// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queue provides the bounded lock-free FIFOs that carry packets
// and events between this engine's pipeline stages.
//
// Three variants are provided, one per producer/consumer shape actually
// used in the pipeline:
//
//   - SPSC: Single-Producer Single-Consumer — a Lamport ring buffer with
//     cached producer/consumer indices. Used for the RX-worker-to-merge
//     and merge-to-decode handoffs, each of which has exactly one writer
//     and one reader.
//   - MPSC: Multi-Producer Single-Consumer — FAA producers draining into
//     a sequential consumer. Used where several goroutines feed a single
//     downstream consumer, such as admin-triggered snapshot requests.
//   - MPMC: Multi-Producer Multi-Consumer — an FAA/SCQ-based ring. Used
//     for the packet buffer pool and the gap-recovery queue, both of
//     which are shared across worker goroutines on both ends.
//
// # Basic Usage
//
//	q := queue.NewSPSC[pkt.Pkt](1024)
//
//	// Enqueue (non-blocking)
//	err := q.Enqueue(&p)
//	if queue.IsWouldBlock(err) {
//	    // queue is full - caller decides whether to retry or drop
//	}
//
//	// Dequeue (non-blocking)
//	p, err := q.Dequeue()
//	if queue.IsWouldBlock(err) {
//	    // queue is empty - try again later
//	}
//
// # Blocking Push
//
// [PushBlocking] wraps the non-blocking Enqueue with the bounded-backoff
// retry loop every queue-full call site in this engine needs: it spins,
// yields, then sleeps a fixed 50µs per retry (via sysutil.AdaptiveWait)
// until the push succeeds, rather than silently dropping elem. The
// optional onFull callback lets a caller log once per N retries instead
// of on every spin:
//
//	queue.PushBlocking(qOut, &p, 64, func(retries int) {
//	    log.Warn("queue still full after repeated backoff", zap.Int("retries", retries))
//	})
//
// merge.Arbiter and recovery.Injector both push onto shared queues this
// way rather than dropping packets when backpressure is sustained.
//
// # Capacity and Length
//
// Capacity rounds up to the next power of 2:
//
//	q := queue.NewMPMC[int](3)     // Actual capacity: 4
//	q := queue.NewMPMC[int](1000)  // Actual capacity: 1024
//
// Minimum capacity is 2. NewSPSC/NewMPSC/NewMPMC panic if capacity < 2.
//
// # Thread Safety
//
// All queue operations are safe only within their named access pattern:
//
//   - SPSC: one producer goroutine, one consumer goroutine.
//   - MPSC: multiple producer goroutines, one consumer goroutine.
//   - MPMC: multiple producer and consumer goroutines.
//
// Violating these constraints causes undefined behavior, not a panic.
//
// # Error Handling
//
// Queues return [ErrWouldBlock] when an operation cannot proceed without
// blocking. This error is sourced from [code.hybscloud.com/iox] for
// ecosystem consistency; use [IsWouldBlock] rather than comparing errors
// directly.
//
// # Race Detection
//
// Go's race detector cannot observe the acquire-release orderings these
// algorithms rely on and may report false positives on otherwise-correct
// lock-free code. [RaceEnabled] reports whether the detector is active;
// no test in this package currently reads it or carries a
// //go:build !race tag.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors and
// this repository's internal/sysutil for adaptive backoff waits.
package queue
