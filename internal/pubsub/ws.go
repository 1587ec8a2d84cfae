package pubsub

import (
	"net/http"
	"strconv"

	"code.hybscloud.com/obengine/internal/metrics"
	"code.hybscloud.com/obengine/internal/proto"
	"code.hybscloud.com/obengine/internal/snapshot"
	"code.hybscloud.com/obengine/internal/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConfig configures the WebSocket listener.
type WSConfig struct {
	BearerToken  string // "" disables auth
	SnapshotPath string // "" disables snapshot replay on connect
}

// WSServer serves obengine frames over WebSocket: ?from_seq=N resumes
// from a bus cursor, ?snapshot=1 additionally replays a full-book
// snapshot before tailing live frames, matching spec.md §4.7.
type WSServer struct {
	bus  *Bus
	cfg  WSConfig
	met  *metrics.Metrics
	log  *zap.Logger
	up   websocket.Upgrader
}

func NewWSServer(bus *Bus, cfg WSConfig, met *metrics.Metrics, log *zap.Logger) *WSServer {
	return &WSServer{bus: bus, cfg: cfg, met: met, log: log, up: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}}
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.BearerToken != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.BearerToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warn("pubsub: websocket upgrade failed", zap.Error(err))
		}
		return
	}
	defer conn.Close()

	cursor := s.bus.NextGlobalSeq()
	if v := r.URL.Query().Get("from_seq"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cursor = parsed
		}
	}

	if r.URL.Query().Get("snapshot") == "1" && s.cfg.SnapshotPath != "" {
		if err := s.sendSnapshot(conn); err != nil && s.log != nil {
			s.log.Warn("pubsub: snapshot send failed", zap.Error(err))
		}
	}

	if s.met != nil {
		s.met.ClientCount.Inc()
		defer s.met.ClientCount.Dec()
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		frame, next, err := s.bus.Next(cursor, closed)
		if err != nil {
			if err == ErrGap {
				if s.met != nil {
					s.met.DroppedClients.Inc()
				}
				gap := wire.GapV1{FromInclusive: cursor, ToInclusive: s.bus.OldestAvailable() - 1}
				_ = conn.WriteMessage(websocket.BinaryMessage, wire.EncodeFrame(wire.MsgGap, wire.ChannelOboL3, 0, 0, 0, gap.Encode()))
			}
			return
		}
		cursor = next
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
}

func (s *WSServer) sendSnapshot(conn *websocket.Conn) error {
	exp, ts, err := snapshot.Load(s.cfg.SnapshotPath)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, wire.EncodeFrame(wire.MsgSnapshotStart, wire.ChannelOboL3, 0, 0, ts, nil)); err != nil {
		return err
	}
	for _, instr := range exp.Instruments {
		levels := 0
		for i, o := range instr.Orders {
			if i == 0 || o.Side != instr.Orders[i-1].Side || o.Price != instr.Orders[i-1].Price {
				levels++
			}
		}
		hdr := wire.FullBookSnapshotHdrV1{LevelCount: uint32(levels), TotalOrders: uint32(len(instr.Orders))}
		if err := conn.WriteMessage(websocket.BinaryMessage, wire.EncodeFrame(wire.MsgFullBookSnapshotHdr, wire.ChannelOboL3, instr.InstrumentID, 0, ts, hdr.Encode())); err != nil {
			return err
		}
		for _, o := range instr.Orders {
			add := wire.ObeAddV1{OrderID: o.OrderID, PriceE8: o.Price, Qty: uint64(o.Qty), Side: sideByte(o.Side)}
			if err := conn.WriteMessage(websocket.BinaryMessage, wire.EncodeFrame(wire.MsgOboAdd, wire.ChannelOboL3, instr.InstrumentID, 0, ts, add.Encode())); err != nil {
				return err
			}
		}
	}
	return conn.WriteMessage(websocket.BinaryMessage, wire.EncodeFrame(wire.MsgSnapshotEnd, wire.ChannelOboL3, 0, 0, ts, nil))
}

func sideByte(s proto.Side) uint8 {
	if s == proto.SideAsk {
		return 1
	}
	return 0
}
