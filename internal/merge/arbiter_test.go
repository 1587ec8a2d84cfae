package merge_test

import (
	"testing"
	"time"

	"code.hybscloud.com/obengine/internal/merge"
	"code.hybscloud.com/obengine/internal/metrics"
	"code.hybscloud.com/obengine/internal/pkt"
	"code.hybscloud.com/obengine/internal/queue"
	"code.hybscloud.com/obengine/internal/sysutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func mkPkt(seq uint64, ch pkt.Channel) pkt.Pkt {
	return pkt.Pkt{Seq: seq, Chan: ch}
}

func newSPSC(cap int) *queue.SPSC[pkt.Pkt] { return queue.NewSPSC[pkt.Pkt](cap) }

func push(t *testing.T, q *queue.SPSC[pkt.Pkt], p pkt.Pkt) {
	t.Helper()
	if err := q.Enqueue(&p); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
}

// runAndCollect runs the arbiter in the background and collects exactly
// want output sequence numbers (or fails the test after a timeout),
// then raises the barrier and waits for Run to return.
func runAndCollect(t *testing.T, a *merge.Arbiter, src merge.Sources, qOut *queue.SPSC[pkt.Pkt], want int) []uint64 {
	t.Helper()
	barrier := &sysutil.BarrierFlag{}
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		a.Run(src, qOut, barrier)
	}()

	seqs := make([]uint64, 0, want)
	deadline := time.After(2 * time.Second)
	for len(seqs) < want {
		p, err := qOut.Dequeue()
		if err == nil {
			seqs = append(seqs, p.Seq)
			continue
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d outputs, got %v", want, seqs)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	barrier.Raise()
	<-runDone
	return seqs
}

// startRunInBackground runs the arbiter until the returned barrier is
// raised, for tests that need to interleave assertions between phases of
// input (e.g. the recovery-splice scenario).
func startRunInBackground(a *merge.Arbiter, src merge.Sources, qOut *queue.SPSC[pkt.Pkt]) *sysutil.BarrierFlag {
	barrier := &sysutil.BarrierFlag{}
	go a.Run(src, qOut, barrier)
	return barrier
}

// waitForOutputs drains want sequence numbers from qOut, failing the test
// if they don't arrive within a short deadline.
func waitForOutputs(t *testing.T, qOut *queue.SPSC[pkt.Pkt], want []uint64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	got := make([]uint64, 0, len(want))
	for len(got) < len(want) {
		p, err := qOut.Dequeue()
		if err == nil {
			got = append(got, p.Seq)
			continue
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %v, got %v", want, got)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if !equalSeqs(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func mustEnqueueMPMC(t *testing.T, q *queue.MPMC[pkt.Pkt], p pkt.Pkt) {
	t.Helper()
	if err := q.Enqueue(&p); err != nil {
		t.Fatalf("mpmc enqueue failed: %v", err)
	}
}

func equalSeqs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHappyPath(t *testing.T) {
	qA, qB, qOut := newSPSC(16), newSPSC(16), newSPSC(16)
	for _, s := range []uint64{1, 2, 3, 4} {
		push(t, qA, mkPkt(s, pkt.ChanA))
		push(t, qB, mkPkt(s, pkt.ChanB))
	}

	var gaps [][2]uint64
	a := merge.New(merge.Config{InitialNextSeq: 1, ReorderWindow: 4, ReorderWindowMax: 16, MaxPending: 16},
		func(from, to uint64) { gaps = append(gaps, [2]uint64{from, to}) }, nil, newTestMetrics())

	got := runAndCollect(t, a, merge.Sources{A: []*queue.SPSC[pkt.Pkt]{qA}, B: []*queue.SPSC[pkt.Pkt]{qB}}, qOut, 4)
	if want := []uint64{1, 2, 3, 4}; !equalSeqs(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if len(gaps) != 0 {
		t.Fatalf("expected no gaps, got %v", gaps)
	}
}

func TestReorderWithinWindow(t *testing.T) {
	qA, qB, qOut := newSPSC(16), newSPSC(16), newSPSC(16)
	push(t, qA, mkPkt(1, pkt.ChanA))
	push(t, qB, mkPkt(3, pkt.ChanB))
	push(t, qA, mkPkt(2, pkt.ChanA))
	push(t, qB, mkPkt(2, pkt.ChanB)) // duplicate
	push(t, qA, mkPkt(4, pkt.ChanA))

	a := merge.New(merge.Config{InitialNextSeq: 1, ReorderWindow: 4, ReorderWindowMax: 16, MaxPending: 16},
		func(from, to uint64) {}, nil, newTestMetrics())

	got := runAndCollect(t, a, merge.Sources{A: []*queue.SPSC[pkt.Pkt]{qA}, B: []*queue.SPSC[pkt.Pkt]{qB}}, qOut, 4)
	if want := []uint64{1, 2, 3, 4}; !equalSeqs(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUnfillableGap(t *testing.T) {
	qA, qOut := newSPSC(16), newSPSC(16)
	push(t, qA, mkPkt(1, pkt.ChanA))
	push(t, qA, mkPkt(2, pkt.ChanA))
	push(t, qA, mkPkt(8, pkt.ChanA))

	var gaps [][2]uint64
	a := merge.New(merge.Config{InitialNextSeq: 1, ReorderWindow: 4, ReorderWindowMax: 16, MaxPending: 16},
		func(from, to uint64) { gaps = append(gaps, [2]uint64{from, to}) }, nil, newTestMetrics())

	got := runAndCollect(t, a, merge.Sources{A: []*queue.SPSC[pkt.Pkt]{qA}}, qOut, 2)
	if want := []uint64{1, 2}; !equalSeqs(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	// The gap notification may race the 2-output collection; give the
	// arbiter a moment to process seq 8 before asserting on gaps.
	time.Sleep(20 * time.Millisecond)
	if len(gaps) != 1 || gaps[0] != [2]uint64{3, 7} {
		t.Fatalf("expected exactly one gap [3,7], got %v", gaps)
	}
}

func TestFailoverHysteresis(t *testing.T) {
	qA, qB, qOut := newSPSC(16), newSPSC(16), newSPSC(16)
	push(t, qA, mkPkt(1, pkt.ChanA))
	push(t, qB, mkPkt(2, pkt.ChanB))
	push(t, qB, mkPkt(3, pkt.ChanB))
	push(t, qA, mkPkt(4, pkt.ChanA))

	met := newTestMetrics()
	a := merge.New(merge.Config{InitialNextSeq: 1, ReorderWindow: 4, ReorderWindowMax: 16, MaxPending: 16, InitialDwellNs: 0},
		func(from, to uint64) {}, nil, met)

	got := runAndCollect(t, a, merge.Sources{A: []*queue.SPSC[pkt.Pkt]{qA}, B: []*queue.SPSC[pkt.Pkt]{qB}}, qOut, 4)
	if want := []uint64{1, 2, 3, 4}; !equalSeqs(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	// Two consecutive B-first forwards (2, 3) meet the switch-to-B streak.
	if n := testutil.ToFloat64(met.MergeFailovers); n != 1 {
		t.Fatalf("expected exactly 1 failover, got %v", n)
	}
}
