// Package merge implements the arbitrated reorder/merge stage described
// in spec.md §4.3: it consumes the two redundant feeds plus an optional
// recovery stream and emits a single gap-free, duplicate-free, strictly
// increasing sequence.
package merge

import (
	"code.hybscloud.com/obengine/internal/metrics"
	"code.hybscloud.com/obengine/internal/pkt"
	"code.hybscloud.com/obengine/internal/queue"
	"code.hybscloud.com/obengine/internal/sysutil"
	"go.uber.org/zap"
)

// Hysteresis constants from spec.md §4.3, taken directly from the
// original's merge.rs.
const (
	switchToBAfter = 2
	switchToAAfter = 8
)

const (
	adaptiveCheckpointEvery = 4096
	recoveryDrainBudget     = 32
	backoffWarnEvery        = 64
)

// Config configures one Arbiter instance.
type Config struct {
	InitialNextSeq   uint64
	ReorderWindow    int
	ReorderWindowMax int
	MaxPending       int
	InitialDwellNs   int64
	Adaptive         bool
}

type ringSlot struct {
	valid bool
	seq   uint64
	pkt   pkt.Pkt
}

// NotifyGapFunc is called with an inclusive [from,to] range whenever the
// arbiter cannot fill a gap from in-band reordering.
type NotifyGapFunc func(from, to uint64)

// Arbiter holds all state described in spec.md §3 "Merge state" and
// implements the per-iteration algorithm of spec.md §4.3.
type Arbiter struct {
	cfg Config
	log *zap.Logger
	met *metrics.Metrics

	nextSeq          uint64
	ring             []ringSlot
	cap              uint64
	pendingCount     int
	reorderWindow    int
	reorderWindowMax int
	maxPending       int

	preferA            bool
	streakPreferred     int
	streakNonpreferred  int
	lastSwitchNs        int64
	minDwellNs          int64
	initialDwellNs      int64

	forwardedSinceCheck int
	recentGaps          int
	recentOOO           int
	switchesInWindow    int

	idxA, idxB int

	backoffRetries int

	notifyGap NotifyGapFunc
}

// New builds an Arbiter ready to run.
func New(cfg Config, notifyGap NotifyGapFunc, log *zap.Logger, met *metrics.Metrics) *Arbiter {
	window := cfg.ReorderWindow
	if window < 1 {
		window = 1
	}
	capN := uint64(window + 1)
	return &Arbiter{
		cfg:              cfg,
		log:              log,
		met:              met,
		nextSeq:          cfg.InitialNextSeq,
		ring:             make([]ringSlot, capN),
		cap:              capN,
		reorderWindow:    window,
		reorderWindowMax: cfg.ReorderWindowMax,
		maxPending:       cfg.MaxPending,
		preferA:          true,
		minDwellNs:       cfg.InitialDwellNs,
		initialDwellNs:   cfg.InitialDwellNs,
		notifyGap:        notifyGap,
	}
}

// Sources bundles the per-channel SPSC consumers and the optional
// recovery MPMC consumer an Arbiter polls each iteration.
type Sources struct {
	A         []*queue.SPSC[pkt.Pkt]
	B         []*queue.SPSC[pkt.Pkt]
	Recovery  *queue.MPMC[pkt.Pkt]
}

// Run drives the arbiter loop until barrier is raised. qOut is the
// Q_merged SPSC queue; merge must never drop its output, so a push that
// finds qOut full falls back to bounded-spin backoff and ultimately
// blocks in userspace.
func (a *Arbiter) Run(src Sources, qOut *queue.SPSC[pkt.Pkt], barrier *sysutil.BarrierFlag) {
	idleIters := 0
	for !barrier.IsRaised() {
		progressed := false

		if src.Recovery != nil {
			progressed = a.drainRecovery(src.Recovery, qOut) || progressed
		}
		progressed = a.pollChannels(src, qOut) || progressed

		if !progressed {
			idleIters++
			sysutil.AdaptiveWait(idleIters, 64)
			continue
		}
		idleIters = 0
	}
}

func (a *Arbiter) drainRecovery(q *queue.MPMC[pkt.Pkt], qOut *queue.SPSC[pkt.Pkt]) bool {
	progressed := false
	for i := 0; i < recoveryDrainBudget; i++ {
		p, err := q.Dequeue()
		if err != nil {
			break
		}
		a.classify(p, qOut)
		progressed = true
	}
	return progressed
}

func (a *Arbiter) pollChannels(src Sources, qOut *queue.SPSC[pkt.Pkt]) bool {
	preferredList, otherList := src.A, src.B
	preferredIdx, otherIdx := &a.idxA, &a.idxB
	if !a.preferA {
		preferredList, otherList = src.B, src.A
		preferredIdx, otherIdx = &a.idxB, &a.idxA
	}

	progressed := false
	if p, ok := a.pollRoundRobin(preferredList, preferredIdx); ok {
		a.classify(p, qOut)
		progressed = true
	}
	if p, ok := a.pollRoundRobin(otherList, otherIdx); ok {
		a.classify(p, qOut)
		progressed = true
	}
	return progressed
}

func (a *Arbiter) pollRoundRobin(workers []*queue.SPSC[pkt.Pkt], idx *int) (pkt.Pkt, bool) {
	n := len(workers)
	if n == 0 {
		return pkt.Pkt{}, false
	}
	for i := 0; i < n; i++ {
		w := *idx % n
		*idx = (*idx + 1) % n
		p, err := workers[w].Dequeue()
		if err == nil {
			return p, true
		}
	}
	return pkt.Pkt{}, false
}

// classify implements spec.md §4.3 steps 1,2,5,6: duplicate / forward /
// buffer / gap classification for one packet from any source.
func (a *Arbiter) classify(p pkt.Pkt, qOut *queue.SPSC[pkt.Pkt]) {
	switch {
	case p.Seq < a.nextSeq:
		a.met.MergeDuplicates.Inc()
	case p.Seq == a.nextSeq:
		a.forward(p, qOut)
		a.drainContiguous(qOut)
	default:
		dist := p.Seq - a.nextSeq
		if dist > uint64(a.reorderWindow) || a.pendingCount >= a.maxPending {
			a.met.MergeGaps.Inc()
			a.recentGaps++
			if p.Seq > a.nextSeq {
				a.notifyGap(a.nextSeq, p.Seq-1)
			}
			return
		}
		a.buffer(p)
	}
}

func (a *Arbiter) buffer(p pkt.Pkt) {
	slot := &a.ring[p.Seq%a.cap]
	switch {
	case slot.valid && slot.seq == p.Seq:
		a.met.MergeDuplicates.Inc() // same seq already buffered
	case slot.valid && slot.seq < a.nextSeq:
		*slot = ringSlot{valid: true, seq: p.Seq, pkt: p}
		a.pendingCount++
		a.met.MergeOOO.Inc()
		a.recentOOO++
	case !slot.valid:
		*slot = ringSlot{valid: true, seq: p.Seq, pkt: p}
		a.pendingCount++
		a.met.MergeOOO.Inc()
		a.recentOOO++
	default:
		// Newer in-window seq already resident: the cap guarantees no
		// aliasing in steady state, so treat as duplicate.
		a.met.MergeDuplicates.Inc()
	}
}

func (a *Arbiter) drainContiguous(qOut *queue.SPSC[pkt.Pkt]) {
	for {
		slot := &a.ring[a.nextSeq%a.cap]
		if !slot.valid || slot.seq != a.nextSeq {
			return
		}
		p := slot.pkt
		*slot = ringSlot{}
		a.pendingCount--
		a.forward(p, qOut)
	}
}

func (a *Arbiter) forward(p pkt.Pkt, qOut *queue.SPSC[pkt.Pkt]) {
	p.MergeEmitNs = sysutil.NowNanos()
	a.nextSeq = p.Seq + 1

	a.updateHysteresis(p.Chan)
	a.pushBlocking(p, qOut)

	a.forwardedSinceCheck++
	if a.cfg.Adaptive && a.forwardedSinceCheck >= adaptiveCheckpointEvery {
		a.adaptiveCheckpoint()
	}
}

func (a *Arbiter) updateHysteresis(ch pkt.Channel) {
	fromA := ch == pkt.ChanA
	isPreferred := fromA == a.preferA
	if isPreferred {
		a.streakPreferred++
		a.streakNonpreferred = 0
	} else {
		a.streakNonpreferred++
		a.streakPreferred = 0
	}

	now := sysutil.NowNanos()
	dwellElapsed := now-a.lastSwitchNs >= a.minDwellNs

	if a.preferA && a.streakNonpreferred >= switchToBAfter && dwellElapsed {
		a.preferA = false
		a.lastSwitchNs = now
		a.switchesInWindow++
		a.streakPreferred, a.streakNonpreferred = 0, 0
		a.met.MergeFailovers.Inc()
	} else if !a.preferA && a.streakPreferred >= switchToAAfter && dwellElapsed {
		a.preferA = true
		a.lastSwitchNs = now
		a.switchesInWindow++
		a.streakPreferred, a.streakNonpreferred = 0, 0
		a.met.MergeFailovers.Inc()
	}
}

// pushBlocking pushes onto qOut with bounded spin/backoff, eventually
// blocking the merge goroutine until it's accepted. Merge must never
// drop output (spec.md §4.3/§9).
func (a *Arbiter) pushBlocking(p pkt.Pkt, qOut *queue.SPSC[pkt.Pkt]) {
	queue.PushBlocking(qOut, &p, backoffWarnEvery, func(retries int) {
		if a.log != nil {
			a.log.Warn("merge: Q_merged still full after repeated backoff", zap.Int("retries", retries))
		}
	})
}

// adaptiveCheckpoint implements spec.md §4.3 step 7: grow/shrink the
// reorder window and min dwell based on the last checkpoint window's
// behavior, then resets the window counters.
func (a *Arbiter) adaptiveCheckpoint() {
	if a.recentGaps > 0 && a.reorderWindow < a.reorderWindowMax {
		grow := a.reorderWindow / 4
		if grow < 1 {
			grow = 1
		}
		a.reorderWindow += grow
		if a.reorderWindow > a.reorderWindowMax {
			a.reorderWindow = a.reorderWindowMax
		}
		a.resize(uint64(a.reorderWindow + 1))
	} else if a.recentOOO == 0 && a.recentGaps == 0 && a.reorderWindow > 8 {
		shrink := a.reorderWindow / 8
		if shrink < 1 {
			shrink = 1
		}
		a.reorderWindow -= shrink
		if a.reorderWindow < 8 {
			a.reorderWindow = 8
		}
		a.resize(uint64(a.reorderWindow + 1))
	}

	const maxDwellNs = 50_000_000 // 50ms
	if a.switchesInWindow >= 4 {
		a.minDwellNs *= 2
		if a.minDwellNs > maxDwellNs {
			a.minDwellNs = maxDwellNs
		}
	} else if a.switchesInWindow == 0 && a.minDwellNs > a.initialDwellNs {
		decay := a.minDwellNs / 4
		a.minDwellNs -= decay
		if a.minDwellNs < a.initialDwellNs {
			a.minDwellNs = a.initialDwellNs
		}
	}

	a.forwardedSinceCheck = 0
	a.recentGaps = 0
	a.recentOOO = 0
	a.switchesInWindow = 0
}

// resize reallocates the reorder ring to a new capacity, preserving any
// currently-buffered in-window entries.
func (a *Arbiter) resize(newCap uint64) {
	old := a.ring
	oldCap := a.cap
	a.ring = make([]ringSlot, newCap)
	a.cap = newCap
	a.pendingCount = 0
	for i := uint64(0); i < oldCap; i++ {
		s := old[i]
		if s.valid && s.seq >= a.nextSeq {
			a.ring[s.seq%newCap] = s
			a.pendingCount++
		}
	}
}
