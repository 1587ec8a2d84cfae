// Command obengine runs the market-data ingestion and publishing engine:
// dual-feed multicast receive, arbitrated merge, protocol decode, L3 book
// maintenance, periodic snapshotting, gap recovery, and WebSocket/HTTP3
// publishing, wired the way the original's main.rs wires its pipeline.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"code.hybscloud.com/obengine/internal/book"
	"code.hybscloud.com/obengine/internal/config"
	"code.hybscloud.com/obengine/internal/merge"
	"code.hybscloud.com/obengine/internal/metrics"
	"code.hybscloud.com/obengine/internal/pkt"
	"code.hybscloud.com/obengine/internal/proto"
	"code.hybscloud.com/obengine/internal/pubsub"
	"code.hybscloud.com/obengine/internal/queue"
	"code.hybscloud.com/obengine/internal/recovery"
	"code.hybscloud.com/obengine/internal/rx"
	"code.hybscloud.com/obengine/internal/snapshot"
	"code.hybscloud.com/obengine/internal/sysutil"
	"code.hybscloud.com/obengine/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "obengine:", err)
		os.Exit(1)
	}
}

func run() error {
	path := "config.toml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	level := cfg.General.LogLevel
	if v := os.Getenv("OBENGINE_LOG_LEVEL"); v != "" {
		level = v
	}
	log, err := buildLogger(level)
	if err != nil {
		return err
	}
	defer log.Sync()

	sysutil.LockAllMemoryIf(cfg.CPU.LockMemory)

	barrier := &sysutil.BarrierFlag{}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("obengine: shutdown signal received")
		barrier.Raise()
	}()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, reg, log)
	}

	pool := pkt.NewPool(1<<16, func() { log.Warn("obengine: packet pool cold allocation") })

	decoder, err := buildDecoder(cfg.Parser)
	if err != nil {
		return err
	}

	qMergedCap := 1 << 16
	qMerged := queue.NewSPSC[pkt.Pkt](qMergedCap)
	qRecovery := queue.NewMPMC[pkt.Pkt](4096)

	srcA, srcB, workers, err := startWorkers(cfg, pool, log, met, barrier)
	if err != nil {
		return err
	}
	defer func() {
		for _, w := range workers {
			w.Close()
		}
	}()

	injector := recovery.New(recovery.Config{
		Addr:        cfg.Recovery.Addr,
		DialTimeout: time.Duration(cfg.Recovery.DialTimeoutMs) * time.Millisecond,
	}, pool, qRecovery, log)

	notifyGap := func(from, to uint64) {
		log.Warn("obengine: unfillable gap", zap.Uint64("from", from), zap.Uint64("to", to))
		if cfg.Recovery.Enabled {
			injector.NotifyGap(from, to)
		}
	}

	arbiter := merge.New(merge.Config{
		InitialNextSeq:   cfg.Merge.InitialNextSeq,
		ReorderWindow:    cfg.Merge.ReorderWindow,
		ReorderWindowMax: cfg.Merge.ReorderWindowMax,
		MaxPending:       cfg.Merge.MaxPending,
		InitialDwellNs:   int64(cfg.Merge.InitialDwellMs) * int64(time.Millisecond),
		Adaptive:         cfg.Merge.Adaptive,
	}, notifyGap, log, met)

	var recoverySrc *queue.MPMC[pkt.Pkt]
	if cfg.Recovery.Enabled {
		recoverySrc = qRecovery
		go injector.Run(barrier)
	}

	go arbiter.Run(merge.Sources{A: srcA, B: srcB, Recovery: recoverySrc}, qMerged, barrier)

	ob := book.NewOrderBook(cfg.Book.ConsumeTrades)
	bus := pubsub.New(cfg.Publish.RingSize, met)

	go runDecodeOrchestrator(qMerged, pool, decoder, ob, bus, met, log, barrier)

	adminSnapshot := queue.NewMPSC[struct{}](8)
	if cfg.Snapshot.Enabled {
		go runSnapshotLoop(cfg.Snapshot, ob, adminSnapshot, log, barrier)
	}

	startPublishers(cfg, bus, met, log)
	go serveAdmin(cfg.General.AdminAddr, adminSnapshot, log)

	if cfg.Metrics.Enabled {
		go sampleQueueDepths(qMerged, qRecovery, met, barrier)
	}

	log.Info("obengine: running", zap.Int("channels", len(cfg.Channels)))
	<-ctx.Done()
	barrier.Raise()
	bus.Shutdown()
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zcfg.Build()
}

func buildDecoder(kind config.ParserKind) (proto.Decoder, error) {
	switch kind {
	case config.ParserItch50:
		return proto.NewItch50Decoder(), nil
	case config.ParserEobi:
		return proto.NewEobiSbeDecoder(), nil
	case config.ParserFast:
		return proto.NewFastEmdiDecoder(), nil
	default:
		return nil, fmt.Errorf("obengine: unknown parser %q", kind)
	}
}

func startWorkers(cfg *config.AppConfig, pool *pkt.Pool, log *zap.Logger, met *metrics.Metrics, barrier *sysutil.BarrierFlag) (srcA, srcB []*queue.SPSC[pkt.Pkt], workers []*rx.Worker, err error) {
	for _, ch := range cfg.Channels {
		chanTag := pkt.ChanA
		if ch.Name == "b" {
			chanTag = pkt.ChanB
		}
		for i := 0; i < ch.Workers; i++ {
			qOut := queue.NewSPSC[pkt.Pkt](1 << 14)
			wcfg := rx.WorkerConfig{
				Socket: rx.SocketConfig{
					Group: ch.Group, Port: ch.Port, Iface: ch.Iface,
					ReusePort: ch.ReusePort, RecvBufBytes: ch.RecvBufBytes,
					BusyPollUs: ch.BusyPollUs, Timestamping: toRxTimestamping(ch.Timestamping),
				},
				Seq:               rx.SeqConfig{Offset: cfg.Sequence.Offset, Length: cfg.Sequence.Length, Endian: toRxEndian(cfg.Sequence.Endian)},
				RxBatch:           ch.RxBatch,
				SpinLoopsPerYield: 128,
			}
			label := "a"
			if chanTag == pkt.ChanB {
				label = "b"
			}
			w, werr := rx.NewWorker(wcfg, chanTag, label, pool, qOut, met, log)
			if werr != nil {
				return nil, nil, nil, fmt.Errorf("obengine: worker %s/%d: %w", ch.Name, i, werr)
			}
			w.OnDrop(func() { met.RxDrops.WithLabelValues(label).Inc() })

			core := len(workers)
			workers = append(workers, w)
			go func(w *rx.Worker, core int) {
				if cfg.CPU.PinWorkers {
					runtime.LockOSThread()
					if err := sysutil.PinToCoreWithOffset(cfg.CPU.BaseCore, core); err != nil {
						log.Warn("obengine: core pinning failed", zap.Error(err))
					}
					if err := sysutil.SetRealtimePriorityIf(cfg.CPU.RealtimePriority > 0, cfg.CPU.RealtimePriority); err != nil {
						log.Warn("obengine: realtime priority failed", zap.Error(err))
					}
				}
				w.Run(barrier)
			}(w, core)

			if chanTag == pkt.ChanA {
				srcA = append(srcA, qOut)
			} else {
				srcB = append(srcB, qOut)
			}
		}
	}
	return srcA, srcB, workers, nil
}

func toRxTimestamping(m config.TimestampingMode) rx.TimestampingMode {
	switch m {
	case config.TimestampingSoftware:
		return rx.TimestampingSoftware
	case config.TimestampingHardware:
		return rx.TimestampingHardware
	case config.TimestampingHardwareRaw:
		return rx.TimestampingHardwareRaw
	default:
		return rx.TimestampingOff
	}
}

func toRxEndian(e config.Endian) rx.SeqEndian {
	if e == config.EndianLittle {
		return rx.SeqLittleEndian
	}
	return rx.SeqBigEndian
}

// runDecodeOrchestrator drains Q_merged, decodes each packet, applies the
// resulting events to the book, maps them to OBO wire frames, publishes
// them, and recycles the packet buffer.
func runDecodeOrchestrator(qMerged *queue.SPSC[pkt.Pkt], pool *pkt.Pool, decoder proto.Decoder, ob *book.OrderBook, bus *pubsub.Bus, met *metrics.Metrics, log *zap.Logger, barrier *sysutil.BarrierFlag) {
	idleIters := 0
	eventsBuf := make([]proto.Event, 0, 64)
	for !barrier.IsRaised() {
		p, err := qMerged.Dequeue()
		if err != nil {
			idleIters++
			sysutil.AdaptiveWait(idleIters, 128)
			continue
		}
		idleIters = 0
		met.DecodePackets.Inc()

		eventsBuf = eventsBuf[:0]
		eventsBuf = decoder.DecodeMessages(p.Payload(), eventsBuf)
		met.DecodeMessages.Add(float64(len(eventsBuf)))

		applyAndPublish(ob, bus, eventsBuf, p.Seq, uint64(p.TsNanos))
		met.BookLiveOrders.Set(float64(ob.OrderCount()))

		now := sysutil.NowNanos()
		if rxToMerge := float64(p.MergeEmitNs-p.TsNanos) / 1e9; rxToMerge >= 0 {
			met.StageLatency.WithLabelValues("rx_to_merge").Observe(rxToMerge)
		}
		if mergeToDecode := float64(now-p.MergeEmitNs) / 1e9; mergeToDecode >= 0 {
			met.StageLatency.WithLabelValues("merge_to_decode").Observe(mergeToDecode)
		}
		if latency := float64(now-p.TsNanos) / 1e9; latency >= 0 {
			met.EndToEndLatency.Observe(latency)
		}
		p.Recycle(pool)
	}
}

// applyAndPublish applies a packet's decoded events to the book and
// publishes each as an OBO wire frame, batching contiguous runs that
// resolve to the same instrument through OrderBook.ApplyManyForInstr
// instead of the single-event Apply. Events whose instrument can't be
// resolved up front (heartbeats, or a Modify/Delete for an order_id the
// index no longer has) fall back to Apply one at a time.
func applyAndPublish(ob *book.OrderBook, bus *pubsub.Bus, events []proto.Event, seq, sendTimeNs uint64) {
	for i := 0; i < len(events); {
		instrID, ok := resolveInstr(ob, events[i])
		if !ok {
			ob.Apply(events[i])
			if frame := eventToFrame(events[i], instrID, seq, sendTimeNs); frame != nil {
				bus.Publish(frame)
			}
			i++
			continue
		}
		j := i + 1
		for j < len(events) {
			nid, nok := resolveInstr(ob, events[j])
			if !nok || nid != instrID {
				break
			}
			j++
		}
		ob.ApplyManyForInstr(instrID, events[i:j])
		for k := i; k < j; k++ {
			if frame := eventToFrame(events[k], instrID, seq, sendTimeNs); frame != nil {
				bus.Publish(frame)
			}
		}
		i = j
	}
}

// resolveInstr returns the instrument an event belongs to and whether
// that instrument could be determined without mutating book state.
// Modify/Delete carry no instrument field of their own and must be
// resolved through the live order_id index before any event in the same
// batch is applied (applying can delete the index entry a later lookup
// would need).
func resolveInstr(ob *book.OrderBook, ev proto.Event) (uint64, bool) {
	switch ev.Kind {
	case proto.EventAdd, proto.EventTrade:
		return ev.InstrumentID, true
	case proto.EventModify, proto.EventDelete:
		return ob.InstrumentForOrder(ev.OrderID)
	default:
		return 0, false
	}
}

func eventToFrame(ev proto.Event, instrID, seq, sendTimeNs uint64) []byte {
	switch ev.Kind {
	case proto.EventAdd:
		payload := wire.ObeAddV1{OrderID: ev.OrderID, PriceE8: ev.Price, Qty: uint64(ev.Qty), Side: sideByte(ev.Side)}.Encode()
		return wire.EncodeFrame(wire.MsgOboAdd, wire.ChannelOboL3, instrID, seq, sendTimeNs, payload)
	case proto.EventModify:
		payload := wire.ObeModifyV1{OrderID: ev.OrderID, NewPriceE8: ev.Price, NewQty: uint64(ev.Qty)}.Encode()
		return wire.EncodeFrame(wire.MsgOboModify, wire.ChannelOboL3, instrID, seq, sendTimeNs, payload)
	case proto.EventDelete:
		payload := wire.ObeCancelV1{OrderID: ev.OrderID}.Encode()
		return wire.EncodeFrame(wire.MsgOboCancel, wire.ChannelOboL3, instrID, seq, sendTimeNs, payload)
	case proto.EventTrade:
		var maker uint64
		if ev.HasMakerOrderID {
			maker = ev.MakerOrderID
		}
		var aggressor uint8
		if ev.HasTakerSide {
			aggressor = sideByte(ev.TakerSide)
		}
		payload := wire.ObeExecuteV1{MakerOrderID: maker, TradeQty: uint64(ev.Qty), TradePriceE8: ev.Price, AggressorSide: aggressor}.Encode()
		return wire.EncodeFrame(wire.MsgOboExecute, wire.ChannelOboL3, instrID, seq, sendTimeNs, payload)
	default:
		return nil
	}
}

func sideByte(s proto.Side) uint8 {
	if s == proto.SideAsk {
		return 1
	}
	return 0
}

// runSnapshotLoop writes a book snapshot on its own timer, and also drains
// adminTrigger for out-of-band forced snapshots requested over the admin
// control plane (e.g. before a planned maintenance window).
func runSnapshotLoop(cfg config.SnapshotConfig, ob *book.OrderBook, adminTrigger *queue.MPSC[struct{}], log *zap.Logger, barrier *sysutil.BarrierFlag) {
	interval := time.Duration(cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	snapTicker := time.NewTicker(interval)
	defer snapTicker.Stop()
	pollTicker := time.NewTicker(200 * time.Millisecond)
	defer pollTicker.Stop()

	writeNow := func() {
		exp := ob.Export()
		if err := snapshot.Write(cfg.Path, exp, uint64(sysutil.NowNanos())); err != nil {
			log.Warn("obengine: snapshot write failed", zap.Error(err))
		}
	}

	for !barrier.IsRaised() {
		select {
		case <-snapTicker.C:
			writeNow()
		case <-pollTicker.C:
			if _, err := adminTrigger.Dequeue(); err == nil {
				log.Info("obengine: forced snapshot requested via admin endpoint")
				writeNow()
			}
		}
	}
}

// serveAdmin exposes a minimal operator control plane: POST /admin/snapshot
// enqueues a forced-snapshot request for the snapshot loop to pick up.
// Multiple requests may race in concurrently, so the request queue is an
// MPSC: many producers (HTTP handler goroutines), one consumer (the
// snapshot loop).
func serveAdmin(addr string, trigger *queue.MPSC[struct{}], log *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := trigger.Enqueue(&struct{}{}); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("obengine: admin listener exited", zap.Error(err))
	}
}

// sampleQueueDepths periodically publishes Q_merged/Q_recovery occupancy
// and high-water marks, per spec.md §6's "queue lengths + high-water
// marks" observability requirement. Per-worker Q_rx_A[i]/Q_rx_B[j] depths
// are not sampled here: those queues are rebuilt per channel/worker and
// would need their own dynamic label set, left for a future pass.
func sampleQueueDepths(qMerged *queue.SPSC[pkt.Pkt], qRecovery *queue.MPMC[pkt.Pkt], met *metrics.Metrics, barrier *sysutil.BarrierFlag) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	var mergedHigh, recoveryHigh float64
	for !barrier.IsRaised() {
		<-ticker.C
		merged := float64(qMerged.Len())
		recovery := float64(qRecovery.Len())
		met.QueueLength.WithLabelValues("merged").Set(merged)
		met.QueueLength.WithLabelValues("recovery").Set(recovery)
		if merged > mergedHigh {
			mergedHigh = merged
			met.QueueHighWater.WithLabelValues("merged").Set(mergedHigh)
		}
		if recovery > recoveryHigh {
			recoveryHigh = recovery
			met.QueueHighWater.WithLabelValues("recovery").Set(recoveryHigh)
		}
	}
}

func startPublishers(cfg *config.AppConfig, bus *pubsub.Bus, met *metrics.Metrics, log *zap.Logger) {
	if cfg.Publish.WSAddr != "" {
		ws := pubsub.NewWSServer(bus, pubsub.WSConfig{BearerToken: cfg.Publish.BearerToken, SnapshotPath: cfg.Snapshot.Path}, met, log)
		mux := http.NewServeMux()
		mux.Handle("/v1/stream", ws)
		go func() {
			if err := http.ListenAndServe(cfg.Publish.WSAddr, mux); err != nil {
				log.Error("obengine: websocket listener exited", zap.Error(err))
			}
		}()
	}
	if cfg.Publish.H3Addr != "" {
		h3 := pubsub.NewH3Server(bus, pubsub.H3Config{Addr: cfg.Publish.H3Addr, BearerToken: cfg.Publish.BearerToken}, met, log)
		mux := http.NewServeMux()
		mux.Handle("/v1/stream", h3)
		go func() {
			if err := pubsub.ListenAndServeH3(cfg.Publish.H3Addr, nil, mux); err != nil {
				log.Error("obengine: http3 listener exited", zap.Error(err))
			}
		}()
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("obengine: metrics listener exited", zap.Error(err))
	}
}
