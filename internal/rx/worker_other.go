//go:build !linux

package rx

import (
	"encoding/binary"
	"net"

	"code.hybscloud.com/obengine/internal/metrics"
	"code.hybscloud.com/obengine/internal/pkt"
	"code.hybscloud.com/obengine/internal/queue"
	"code.hybscloud.com/obengine/internal/sysutil"
	"go.uber.org/zap"
)

// Worker is the degraded non-Linux receive path: one stdlib UDP socket,
// no hardware timestamping, no batching. Present so the engine builds and
// runs (without RX tuning) off Linux for development.
type Worker struct {
	cfg       WorkerConfig
	chanTag   pkt.Channel
	chanLabel string
	conn      *net.UDPConn
	pool      *pkt.Pool
	qOut      *queue.SPSC[pkt.Pkt]
	log       *zap.Logger
	met       *metrics.Metrics
	onDrop    func()
}

// OnDrop installs a callback invoked whenever a packet is dropped because
// qOut was full. Used by cmd/obengine to feed the drops metric.
func (w *Worker) OnDrop(fn func()) { w.onDrop = fn }

func NewWorker(cfg WorkerConfig, chanTag pkt.Channel, chanLabel string, pool *pkt.Pool, qOut *queue.SPSC[pkt.Pkt], met *metrics.Metrics, log *zap.Logger) (*Worker, error) {
	conn, err := newUDPFallback(cfg.Socket)
	if err != nil {
		return nil, err
	}
	return &Worker{cfg: cfg, chanTag: chanTag, chanLabel: chanLabel, conn: conn, pool: pool, qOut: qOut, met: met, log: log}, nil
}

func (w *Worker) Close() { _ = w.conn.Close() }

func (w *Worker) Run(barrier *sysutil.BarrierFlag) {
	idleIters := 0
	for !barrier.IsRaised() {
		buf := w.pool.Get()
		_ = w.conn.SetReadDeadline(sysutil.DeadlineSoon())
		n, err := w.conn.Read(buf.Bytes)
		if err != nil {
			w.pool.Put(buf)
			idleIters++
			sysutil.AdaptiveWait(idleIters, w.cfg.SpinLoopsPerYield)
			continue
		}
		idleIters = 0
		buf.Len = n
		if w.met != nil {
			w.met.RxPackets.WithLabelValues(w.chanLabel).Inc()
			w.met.RxBytes.WithLabelValues(w.chanLabel).Add(float64(n))
		}

		seq, ok := extractSeq(buf.Bytes[:n], w.cfg.Seq)
		if !ok {
			w.pool.Put(buf)
			continue
		}
		p := pkt.Pkt{Buf: buf, Len: n, Seq: seq, TsNanos: sysutil.NowNanos(), Chan: w.chanTag}
		if err := w.qOut.Enqueue(&p); err != nil {
			if w.onDrop != nil {
				w.onDrop()
			}
			w.pool.Put(buf)
		}
	}
}

func extractSeq(payload []byte, cfg SeqConfig) (uint64, bool) {
	if cfg.Offset < 0 || (cfg.Length != 4 && cfg.Length != 8) {
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
