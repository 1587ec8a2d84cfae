// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue_test

import (
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/obengine/internal/queue"
)

// TestSPSCBasic exercises the single-producer single-consumer ring this
// engine uses for RX-worker-to-merge and merge-to-decode handoff.
func TestSPSCBasic(t *testing.T) {
	q := queue.NewSPSC[int](3)

	if q.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", q.Cap())
	}

	for i := range 4 {
		v := i + 100
		if err := q.Enqueue(&v); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	v := 999
	if err := q.Enqueue(&v); !errors.Is(err, queue.ErrWouldBlock) {
		t.Fatalf("Enqueue on full: got %v, want ErrWouldBlock", err)
	}

	for i := range 4 {
		val, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue(%d): %v", i, err)
		}
		if val != i+100 {
			t.Fatalf("Dequeue(%d): got %d, want %d", i, val, i+100)
		}
	}

	if _, err := q.Dequeue(); !errors.Is(err, queue.ErrWouldBlock) {
		t.Fatalf("Dequeue on empty: got %v, want ErrWouldBlock", err)
	}
}

// TestMPSCBasic exercises the admin snapshot-trigger queue's shape:
// many producers, one consumer.
func TestMPSCBasic(t *testing.T) {
	q := queue.NewMPSC[int](4)

	for i := range 4 {
		v := i
		if err := q.Enqueue(&v); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	seen := map[int]bool{}
	for range 4 {
		val, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		seen[val] = true
	}
	for i := range 4 {
		if !seen[i] {
			t.Fatalf("missing value %d", i)
		}
	}
}

// TestMPMCBasic exercises the packet-buffer-pool and recovery-queue
// shape: many producers, many consumers.
func TestMPMCBasic(t *testing.T) {
	q := queue.NewMPMC[int](4)

	for i := range 4 {
		v := i + 1
		if err := q.Enqueue(&v); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	sum := 0
	for range 4 {
		val, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		sum += val
	}
	if sum != 1+2+3+4 {
		t.Fatalf("expected sum 10, got %d", sum)
	}
}

func TestSPSCWrapAround(t *testing.T) {
	q := queue.NewSPSC[int](4)
	for round := range 10 {
		for i := range 4 {
			v := round*4 + i
			if err := q.Enqueue(&v); err != nil {
				t.Fatalf("round %d enqueue %d: %v", round, i, err)
			}
		}
		for i := range 4 {
			val, err := q.Dequeue()
			if err != nil {
				t.Fatalf("round %d dequeue %d: %v", round, i, err)
			}
			if val != round*4+i {
				t.Fatalf("round %d: got %d, want %d", round, val, round*4+i)
			}
		}
	}
}

func TestCapacityRounding(t *testing.T) {
	cases := []struct{ in, want int }{
		{2, 2}, {3, 4}, {4, 4}, {1000, 1024}, {1024, 1024},
	}
	for _, c := range cases {
		if got := queue.NewMPMC[int](c.in).Cap(); got != c.want {
			t.Fatalf("NewMPMC(%d).Cap(): got %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPanicOnSmallCapacity(t *testing.T) {
	for _, fn := range []func(){
		func() { queue.NewSPSC[int](1) },
		func() { queue.NewMPSC[int](0) },
		func() { queue.NewMPMC[int](-1) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic for capacity < 2")
				}
			}()
			fn()
		}()
	}
}

// TestPushBlockingRetriesUntilSpace locks in that PushBlocking does not
// give up when a queue is transiently full — it must keep retrying
// until a concurrent drain makes room, never silently drop elem.
func TestPushBlockingRetriesUntilSpace(t *testing.T) {
	q := queue.NewSPSC[int](2)
	one, two := 1, 2
	if err := q.Enqueue(&one); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(&two); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		three := 3
		queue.PushBlocking(q, &three, 0, nil)
		close(done)
	}()

	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("PushBlocking never returned after space freed up")
	}
}

// TestPushBlockingCallsOnFullAtWarnEvery checks the retry-count callback
// wiring merge.Arbiter and recovery.Injector rely on for their backoff
// warning logs.
func TestPushBlockingCallsOnFullAtWarnEvery(t *testing.T) {
	q := queue.NewSPSC[int](2)
	one := 1
	if err := q.Enqueue(&one); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	two := 2
	if err := q.Enqueue(&two); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls int
	done := make(chan struct{})
	go func() {
		three := 3
		queue.PushBlocking(q, &three, 2, func(retries int) { calls++ })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("PushBlocking never returned")
	}
	if calls == 0 {
		t.Fatal("expected onFull to be called at least once while queue was full")
	}
}
