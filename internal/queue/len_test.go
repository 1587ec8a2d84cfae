// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue_test

import (
	"testing"

	"code.hybscloud.com/obengine/internal/queue"
)

func TestSPSCLenTracksOccupancy(t *testing.T) {
	q := queue.NewSPSC[int](8)
	if got := q.Len(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	for i := 0; i < 3; i++ {
		v := i
		if err := q.Enqueue(&v); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if got := q.Len(); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestMPMCLenTracksOccupancy(t *testing.T) {
	q := queue.NewMPMC[int](8)
	if got := q.Len(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	for i := 0; i < 5; i++ {
		v := i
		if err := q.Enqueue(&v); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if got := q.Len(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got := q.Len(); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
}
