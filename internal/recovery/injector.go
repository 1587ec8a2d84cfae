// Package recovery implements the TCP gap-fill path: coalescing gap
// notifications from the merge stage, requesting replay ranges from an
// upstream replay server, and splicing the recovered packets back into
// the merge arbiter's recovery queue. Grounded on spec.md §4.6 and the
// replay protocol in original_source/src/recovery.rs.
package recovery

import (
	"bufio"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"code.hybscloud.com/obengine/internal/pkt"
	"code.hybscloud.com/obengine/internal/queue"
	"code.hybscloud.com/obengine/internal/sysutil"
	"go.uber.org/zap"
)

// gapRange is an inclusive [from,to] sequence range awaiting replay.
type gapRange struct {
	from, to uint64
}

const recoveryBackoffWarnEvery = 64

// Config configures an Injector.
type Config struct {
	Addr        string        // replay server "host:port"
	DialTimeout time.Duration
	CoalesceFor time.Duration // pause after each round of replay requests; gaps notified meanwhile are coalesced into the next round
}

// Injector coalesces gap notifications and replays them over TCP,
// pushing recovered packets into Q_recovery (an MPMC so both the
// injector and, in principle, multiple replay sessions may feed it).
type Injector struct {
	cfg  Config
	pool *pkt.Pool
	qOut *queue.MPMC[pkt.Pkt]
	log  *zap.Logger

	mu      sync.Mutex
	pending []gapRange
}

// New builds an Injector. pool supplies packet buffers for replayed
// payloads; qOut is the merge arbiter's recovery source.
func New(cfg Config, pool *pkt.Pool, qOut *queue.MPMC[pkt.Pkt], log *zap.Logger) *Injector {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.CoalesceFor <= 0 {
		cfg.CoalesceFor = 5 * time.Millisecond
	}
	return &Injector{cfg: cfg, pool: pool, qOut: qOut, log: log}
}

// NotifyGap is the merge.NotifyGapFunc handed to the arbiter.
func (in *Injector) NotifyGap(from, to uint64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending = append(in.pending, gapRange{from, to})
}

// Run drains coalesced gaps and issues replay requests until barrier is
// raised. Non-overlapping failures are logged and retried on the next
// cycle rather than dropped.
func (in *Injector) Run(barrier *sysutil.BarrierFlag) {
	idleIters := 0
	for !barrier.IsRaised() {
		ranges := in.takeCoalesced()
		if len(ranges) == 0 {
			idleIters++
			sysutil.AdaptiveWait(idleIters, 256)
			continue
		}
		idleIters = 0
		for _, r := range ranges {
			if err := in.replay(r); err != nil {
				if in.log != nil {
					in.log.Warn("recovery: replay failed, will retry", zap.Uint64("from", r.from), zap.Uint64("to", r.to), zap.Error(err))
				}
				in.mu.Lock()
				in.pending = append(in.pending, r)
				in.mu.Unlock()
			}
		}
		time.Sleep(in.cfg.CoalesceFor)
	}
}

// takeCoalesced empties the pending list, unioning overlapping or
// adjacent ranges (from<=hi+1 && to>=lo-1) into minimal disjoint spans.
func (in *Injector) takeCoalesced() []gapRange {
	in.mu.Lock()
	ranges := in.pending
	in.pending = nil
	in.mu.Unlock()

	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].from < ranges[j].from })

	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.from <= last.to+1 && r.to+1 >= last.from {
			if r.to > last.to {
				last.to = r.to
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// replay dials the replay server, sends "REPLAY <from> <to>\n", and
// splices every framed response packet into Q_recovery until the
// zero-length terminator frame.
func (in *Injector) replay(r gapRange) error {
	conn, err := net.DialTimeout("tcp", in.cfg.Addr, in.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("recovery: dial %s: %w", in.cfg.Addr, err)
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	if _, err := fmt.Fprintf(conn, "REPLAY %d %d\n", r.from, r.to); err != nil {
		return fmt.Errorf("recovery: request: %w", err)
	}

	br := bufio.NewReader(conn)
	for {
		frame, seq, err := readReplayFrame(br)
		if err != nil {
			return fmt.Errorf("recovery: read: %w", err)
		}
		if len(frame) == 0 {
			return nil // zero-length terminator: replay complete
		}
		buf := in.pool.Get()
		n := copy(buf.Bytes, frame)
		buf.Len = n
		p := pkt.Pkt{Buf: buf, Len: n, Seq: seq, TsNanos: sysutil.NowNanos(), Chan: pkt.ChanRecovery}
		queue.PushBlocking(in.qOut, &p, recoveryBackoffWarnEvery, func(retries int) {
			if in.log != nil {
				in.log.Warn("recovery: Q_recovery still full after repeated backoff", zap.Uint64("seq", seq), zap.Int("retries", retries))
			}
		})
	}
}

// readReplayFrame reads one [len u32-BE][seq u64-BE][payload] frame,
// where len is the payload length alone (the replay server's 12-byte
// header is [len][seq], not counted in len itself).
func readReplayFrame(br *bufio.Reader) ([]byte, uint64, error) {
	var lenBuf [4]byte
	if _, err := readFull(br, lenBuf[:]); err != nil {
		return nil, 0, err
	}
	n := be32(lenBuf[:])
	if n == 0 {
		return nil, 0, nil
	}
	var seqBuf [8]byte
	if _, err := readFull(br, seqBuf[:]); err != nil {
		return nil, 0, err
	}
	seq := be64(seqBuf[:])
	payload := make([]byte, n)
	if _, err := readFull(br, payload); err != nil {
		return nil, 0, err
	}
	return payload, seq, nil
}

func readFull(br *bufio.Reader, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := br.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
