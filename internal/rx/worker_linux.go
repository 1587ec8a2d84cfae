//go:build linux

package rx

import (
	"encoding/binary"
	"errors"

	"code.hybscloud.com/obengine/internal/metrics"
	"code.hybscloud.com/obengine/internal/pkt"
	"code.hybscloud.com/obengine/internal/queue"
	"code.hybscloud.com/obengine/internal/sysutil"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Worker owns one multicast socket and drains it into qOut. Per spec.md
// §4.2, recv is always nonblocking; queue-full packets are dropped and
// counted rather than blocking the socket.
type Worker struct {
	cfg       WorkerConfig
	chanTag   pkt.Channel
	chanLabel string
	fd        int
	pool      *pkt.Pool
	qOut      *queue.SPSC[pkt.Pkt]
	log       *zap.Logger
	met       *metrics.Metrics
	onDrop    func()
}

// OnDrop installs a callback invoked whenever a packet is dropped because
// qOut was full. Used by cmd/obengine to feed the drops metric.
func (w *Worker) OnDrop(fn func()) { w.onDrop = fn }

// NewWorker builds (and binds/joins) the worker's socket. met may be nil
// (metrics disabled); chanLabel is the "a"/"b" series label for RX
// packet/byte counters.
func NewWorker(cfg WorkerConfig, chanTag pkt.Channel, chanLabel string, pool *pkt.Pool, qOut *queue.SPSC[pkt.Pkt], met *metrics.Metrics, log *zap.Logger) (*Worker, error) {
	fd, err := BuildMulticastSocket(cfg.Socket)
	if err != nil {
		return nil, err
	}
	return &Worker{cfg: cfg, chanTag: chanTag, chanLabel: chanLabel, fd: fd, pool: pool, qOut: qOut, met: met, log: log}, nil
}

func (w *Worker) Close() { CloseSocket(w.fd) }

// Run drains the socket until barrier is raised. Fatal socket errors
// terminate the worker with a logged fault, per spec.md §4.2/§7; would-
// block/interrupt are transient and yield to an adaptive idle.
func (w *Worker) Run(barrier *sysutil.BarrierFlag) {
	idleIters := 0
	useBatch := w.cfg.Socket.Timestamping == TimestampingOff && w.cfg.RxBatch > 1

	for !barrier.IsRaised() {
		var n int
		var err error
		if useBatch {
			n, err = w.recvBatch()
		} else {
			n, err = w.recvOne()
		}

		switch {
		case err == nil:
			idleIters = 0
			_ = n
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			idleIters++
			sysutil.AdaptiveWait(idleIters, w.cfg.SpinLoopsPerYield)
		default:
			if w.log != nil {
				w.log.Error("rx: fatal socket error", zap.String("chan", w.chanTag.String()), zap.Error(err))
			}
			return
		}
	}
}

// recvOne handles a single datagram, preferring hardware-raw over
// hardware-system over software timestamps from control messages, and
// falling back to a loop-cached monotonic now() when none is present.
func (w *Worker) recvOne() (int, error) {
	buf := w.pool.Get()
	oob := make([]byte, 256)

	n, oobn, _, _, err := unix.Recvmsg(w.fd, buf.Bytes, oob, 0)
	if err != nil {
		w.pool.Put(buf)
		return 0, err
	}
	buf.Len = n
	ts := extractTimestamp(oob[:oobn])
	w.handle(buf, ts)
	return n, nil
}

// recvBatch performs one vectorized multi-message receive of up to
// RxBatch datagrams. Used only when timestamping is off, per spec.md
// §4.2: SO_TIMESTAMPING control messages are not retrievable through the
// simplified Recvmmsg path this engine uses.
func (w *Worker) recvBatch() (int, error) {
	batch := w.cfg.RxBatch
	bufs := make([]*pkt.Buffer, batch)
	msgs := make([]unix.Mmsghdr, batch)
	iovs := make([]unix.Iovec, batch)

	for i := 0; i < batch; i++ {
		bufs[i] = w.pool.Get()
		iovs[i].Base = &bufs[i].Bytes[0]
		iovs[i].SetLen(len(bufs[i].Bytes))
		msgs[i].Hdr.Iov = &iovs[i]
		msgs[i].Hdr.Iovlen = 1
	}

	nMsgs, err := unix.Recvmmsg(w.fd, msgs, unix.MSG_DONTWAIT, nil)
	if err != nil {
		for _, b := range bufs {
			w.pool.Put(b)
		}
		return 0, err
	}

	now := sysutil.NowNanos()
	for i := 0; i < nMsgs; i++ {
		bufs[i].Len = int(msgs[i].Len)
		w.handleAt(bufs[i], now)
	}
	for i := nMsgs; i < batch; i++ {
		w.pool.Put(bufs[i])
	}
	return nMsgs, nil
}

func (w *Worker) handle(buf *pkt.Buffer, ts timestampResult) {
	now := ts.nanos
	if !ts.has {
		now = sysutil.NowNanos()
	}
	w.handleAt(buf, now)
}

func (w *Worker) handleAt(buf *pkt.Buffer, nowNanos int64) {
	if w.met != nil {
		w.met.RxPackets.WithLabelValues(w.chanLabel).Inc()
		w.met.RxBytes.WithLabelValues(w.chanLabel).Add(float64(buf.Len))
	}

	seq, ok := extractSeq(buf.Bytes[:buf.Len], w.cfg.Seq)
	if !ok {
		w.pool.Put(buf)
		return
	}

	p := pkt.Pkt{Buf: buf, Len: buf.Len, Seq: seq, TsNanos: nowNanos, Chan: w.chanTag}
	if err := w.qOut.Enqueue(&p); err != nil {
		if w.onDrop != nil {
			w.onDrop()
		}
		w.pool.Put(buf)
	}
}

func extractSeq(payload []byte, cfg SeqConfig) (uint64, bool) {
	if cfg.Offset < 0 || cfg.Length != 4 && cfg.Length != 8 {
		return 0, false
	}
	end := cfg.Offset + cfg.Length
	if end > len(payload) {
		return 0, false
	}
	b := payload[cfg.Offset:end]
	bo := binary.ByteOrder(binary.BigEndian)
	if cfg.Endian == SeqLittleEndian {
		bo = binary.LittleEndian
	}
	if cfg.Length == 4 {
		return uint64(bo.Uint32(b)), true
	}
	return bo.Uint64(b), true
}

type timestampResult struct {
	nanos int64
	has   bool
}

// extractTimestamp parses SCM_TIMESTAMPING (preferred, carries hw-raw,
// hw-system and sw timestamps) and SCM_TIMESTAMPNS (software-only fallback) control
// messages, preferring hardware-raw, then hardware-system, then software.
func extractTimestamp(oob []byte) timestampResult {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return timestampResult{}
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET {
			continue
		}
		switch m.Header.Type {
		case unix.SCM_TIMESTAMPING:
			if ts, ok := parseScmTimestamping(m.Data); ok {
				return ts
			}
		case unix.SCM_TIMESTAMPNS:
			if ts, ok := parseTimespec(m.Data); ok {
				return timestampResult{nanos: ts, has: true}
			}
		}
	}
	return timestampResult{}
}

// parseScmTimestamping reads the three timespecs of struct
// scm_timestamping: [0]=software, [1]=hardware-system (deprecated by the
// kernel, usually zero), [2]=hardware-raw. The first nonzero of
// hardware-raw, hardware-system, software is used.
func parseScmTimestamping(data []byte) (timestampResult, bool) {
	const tsSize = 16 // struct timespec on amd64/arm64: 2x int64
	if len(data) < 3*tsSize {
		return timestampResult{}, false
	}
	sw, swOk := decodeTimespec(data[0:tsSize])
	hwSys, hwSysOk := decodeTimespec(data[tsSize : 2*tsSize])
	hw, hwOk := decodeTimespec(data[2*tsSize : 3*tsSize])
	if hwOk && hw != 0 {
		return timestampResult{nanos: hw, has: true}, true
	}
	if hwSysOk && hwSys != 0 {
		return timestampResult{nanos: hwSys, has: true}, true
	}
	if swOk && sw != 0 {
		return timestampResult{nanos: sw, has: true}, true
	}
	return timestampResult{}, false
}

func parseTimespec(data []byte) (int64, bool) {
	return decodeTimespec(data)
}

func decodeTimespec(b []byte) (int64, bool) {
	if len(b) < 16 {
		return 0, false
	}
	sec := int64(binary.LittleEndian.Uint64(b[0:8]))
	nsec := int64(binary.LittleEndian.Uint64(b[8:16]))
	return sec*1_000_000_000 + nsec, true
}
