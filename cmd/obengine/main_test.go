package main

import (
	"testing"

	"code.hybscloud.com/obengine/internal/book"
	"code.hybscloud.com/obengine/internal/metrics"
	"code.hybscloud.com/obengine/internal/proto"
	"code.hybscloud.com/obengine/internal/pubsub"
	"code.hybscloud.com/obengine/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
)

func TestEventToFrameTradeUsesMakerOrderIDAndAggressorSide(t *testing.T) {
	ev := proto.Trade(99, 25000, 4)
	ev.MakerOrderID, ev.HasMakerOrderID = 777, true
	ev.TakerSide, ev.HasTakerSide = proto.SideAsk, true

	frame := eventToFrame(ev, 99, 1, 0)
	h, payload, err := wire.SplitFrame(frame)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if h.MessageType != wire.MsgOboExecute {
		t.Fatalf("expected MsgOboExecute, got %d", h.MessageType)
	}

	exec := decodeObeExecuteV1(t, payload)
	if exec.MakerOrderID != 777 {
		t.Fatalf("expected maker_order_id=777, got %d", exec.MakerOrderID)
	}
	if exec.AggressorSide != 1 {
		t.Fatalf("expected aggressor_side=1 (ask), got %d", exec.AggressorSide)
	}
	if exec.TradeQty != 4 || exec.TradePriceE8 != 25000 {
		t.Fatalf("unexpected trade qty/price: %+v", exec)
	}
}

func TestEventToFrameTradeWithoutOptionalFieldsZeroes(t *testing.T) {
	ev := proto.Trade(99, 25000, 4) // no MakerOrderID/TakerSide set

	frame := eventToFrame(ev, 99, 1, 0)
	_, payload, err := wire.SplitFrame(frame)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	exec := decodeObeExecuteV1(t, payload)
	if exec.MakerOrderID != 0 || exec.AggressorSide != 0 {
		t.Fatalf("expected zeroed maker/aggressor when absent, got %+v", exec)
	}
}

func TestEventToFrameAdd(t *testing.T) {
	ev := proto.Add(10, 99, 25000, 4, proto.SideAsk)
	frame := eventToFrame(ev, 99, 1, 0)
	h, _, err := wire.SplitFrame(frame)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if h.MessageType != wire.MsgOboAdd {
		t.Fatalf("expected MsgOboAdd, got %d", h.MessageType)
	}
}

func TestApplyAndPublishBatchesContiguousSameInstrumentRuns(t *testing.T) {
	ob := book.NewOrderBook(false)
	bus := pubsub.New(16, metrics.New(prometheus.NewRegistry()))

	events := []proto.Event{
		proto.Add(1, 10, 100, 5, proto.SideBid),
		proto.Add(2, 10, 101, 3, proto.SideAsk),
		proto.Add(3, 20, 200, 7, proto.SideBid),
		proto.Modify(1, 2),
	}
	applyAndPublish(ob, bus, events, 1, 0)

	if ob.OrderCount() != 3 {
		t.Fatalf("expected 3 live orders, got %d", ob.OrderCount())
	}
	bid, _, ask, _, hasBid, hasAsk := ob.BBO(10)
	if !hasBid || !hasAsk || bid != 100 || ask != 101 {
		t.Fatalf("unexpected instrument 10 BBO: bid=%d ask=%d hasBid=%v hasAsk=%v", bid, ask, hasBid, hasAsk)
	}
	if instr, ok := ob.InstrumentForOrder(1); !ok || instr != 10 {
		t.Fatalf("expected order 1 to remain on instrument 10, got %d ok=%v", instr, ok)
	}
}

func TestResolveInstrFallsBackForUnresolvableModify(t *testing.T) {
	ob := book.NewOrderBook(false)
	ev := proto.Modify(999, 1) // unknown order_id
	if _, ok := resolveInstr(ob, ev); ok {
		t.Fatalf("expected resolveInstr to report unresolved for unknown order_id")
	}
}

func decodeObeExecuteV1(t *testing.T, b []byte) wire.ObeExecuteV1 {
	t.Helper()
	if len(b) < 33 {
		t.Fatalf("short ObeExecuteV1 payload: %d bytes", len(b))
	}
	le := func(off int) uint64 {
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(b[off+i])
		}
		return v
	}
	return wire.ObeExecuteV1{
		MakerOrderID:  le(0),
		TradeQty:      le(8),
		TradePriceE8:  int64(le(16)),
		AggressorSide: b[24],
		MatchID:       le(25),
	}
}
