package merge_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/obengine/internal/merge"
	"code.hybscloud.com/obengine/internal/pkt"
	"code.hybscloud.com/obengine/internal/queue"
)

// TestRecoverySplice exercises spec.md §8 scenario 6: A delivers 1,2 then
// jumps to 6 (a gap too wide for the reorder window to absorb); the
// recovery source later supplies 3,4,5, and A redelivers 6 (as a real
// multicast feed would on its next cycle). The arbiter must splice the
// recovered packets back into the strictly increasing output sequence.
func TestRecoverySplice(t *testing.T) {
	qA, qOut := newSPSC(16), newSPSC(16)
	qRecovery := queue.NewMPMC[pkt.Pkt](16)

	var mu sync.Mutex
	var gaps [][2]uint64
	a := merge.New(merge.Config{InitialNextSeq: 1, ReorderWindow: 2, ReorderWindowMax: 16, MaxPending: 16},
		func(from, to uint64) {
			mu.Lock()
			gaps = append(gaps, [2]uint64{from, to})
			mu.Unlock()
		}, nil, newTestMetrics())

	barrier := startRunInBackground(a, merge.Sources{A: []*queue.SPSC[pkt.Pkt]{qA}, Recovery: qRecovery}, qOut)

	push(t, qA, mkPkt(1, pkt.ChanA))
	push(t, qA, mkPkt(2, pkt.ChanA))
	waitForOutputs(t, qOut, []uint64{1, 2})

	push(t, qA, mkPkt(6, pkt.ChanA)) // distance 3 > window 2: unfillable gap
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(gaps)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for gap notification")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	mu.Lock()
	got := gaps[0]
	mu.Unlock()
	if got != [2]uint64{3, 5} {
		t.Fatalf("expected gap notification [3,5], got %v", got)
	}

	mustEnqueueMPMC(t, qRecovery, mkPkt(3, pkt.ChanRecovery))
	mustEnqueueMPMC(t, qRecovery, mkPkt(4, pkt.ChanRecovery))
	mustEnqueueMPMC(t, qRecovery, mkPkt(5, pkt.ChanRecovery))
	push(t, qA, mkPkt(6, pkt.ChanA)) // redelivered once the gap is filled

	waitForOutputs(t, qOut, []uint64{3, 4, 5, 6})
	barrier.Raise()
}
