package proto

import (
	"encoding/binary"
	"testing"
)

func frameMsg(msgType byte, body []byte) []byte {
	out := make([]byte, 2+1+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(1+len(body)))
	out[2] = msgType
	copy(out[3:], body)
	return out
}

func addBody(locate uint16, orderRef uint64, side byte, shares uint32, price uint32) []byte {
	b := make([]byte, 35)
	binary.BigEndian.PutUint16(b[0:2], locate)
	binary.BigEndian.PutUint64(b[10:18], orderRef)
	b[18] = side
	binary.BigEndian.PutUint32(b[19:23], shares)
	binary.BigEndian.PutUint32(b[31:35], price)
	return b
}

func execBody(orderRef uint64, executed uint32) []byte {
	b := make([]byte, 30)
	binary.BigEndian.PutUint64(b[10:18], orderRef)
	binary.BigEndian.PutUint32(b[18:22], executed)
	return b
}

func TestItchAddThenFullExecuteEmitsDeleteThenTrade(t *testing.T) {
	d := NewItch50Decoder()

	payload := frameMsg('A', addBody(7, 100, 'B', 50, 12345))
	events := d.DecodeMessages(payload, nil)
	if len(events) != 1 || events[0].Kind != EventAdd {
		t.Fatalf("expected one Add event, got %+v", events)
	}

	payload = frameMsg('E', execBody(100, 50))
	events = d.DecodeMessages(payload, nil)
	if len(events) != 2 {
		t.Fatalf("expected Delete+Trade, got %d events: %+v", len(events), events)
	}
	if events[0].Kind != EventDelete || events[0].OrderID != 100 {
		t.Fatalf("expected Delete(100) first, got %+v", events[0])
	}
	if events[1].Kind != EventTrade || !events[1].HasMakerOrderID || events[1].MakerOrderID != 100 {
		t.Fatalf("expected Trade with maker=100, got %+v", events[1])
	}
	if events[1].TakerSide != SideAsk {
		t.Fatalf("expected taker side Ask (opposite of maker Bid), got %v", events[1].TakerSide)
	}
}

func TestItchPartialExecuteEmitsModifyThenTrade(t *testing.T) {
	d := NewItch50Decoder()
	d.DecodeMessages(frameMsg('A', addBody(7, 200, 'S', 100, 500)), nil)

	events := d.DecodeMessages(frameMsg('E', execBody(200, 30)), nil)
	if len(events) != 2 || events[0].Kind != EventModify || events[0].Qty != 70 {
		t.Fatalf("expected Modify(qty=70) first, got %+v", events)
	}
	if events[1].Kind != EventTrade {
		t.Fatalf("expected Trade second, got %+v", events[1])
	}
}

func cancelBody(orderRef uint64, canceled uint32) []byte {
	b := make([]byte, 22)
	binary.BigEndian.PutUint64(b[10:18], orderRef)
	binary.BigEndian.PutUint32(b[18:22], canceled)
	return b
}

func deleteBody(orderRef uint64) []byte {
	b := make([]byte, 18)
	binary.BigEndian.PutUint64(b[10:18], orderRef)
	return b
}

func replaceBody(origRef, newRef uint64, shares, price uint32) []byte {
	b := make([]byte, 34)
	binary.BigEndian.PutUint64(b[10:18], origRef)
	binary.BigEndian.PutUint64(b[18:26], newRef)
	binary.BigEndian.PutUint32(b[26:30], shares)
	binary.BigEndian.PutUint32(b[30:34], price)
	return b
}

func tradeBody(orderRef uint64, side byte, shares uint32, price uint32) []byte {
	b := make([]byte, 43)
	binary.BigEndian.PutUint64(b[10:18], orderRef)
	b[18] = side
	binary.BigEndian.PutUint32(b[19:23], shares)
	binary.BigEndian.PutUint32(b[31:35], price)
	return b
}

func TestItchCancelReducesQty(t *testing.T) {
	d := NewItch50Decoder()
	d.DecodeMessages(frameMsg('A', addBody(7, 300, 'B', 100, 500)), nil)

	events := d.DecodeMessages(frameMsg('X', cancelBody(300, 40)), nil)
	if len(events) != 1 || events[0].Kind != EventModify || events[0].Qty != 60 {
		t.Fatalf("expected Modify(qty=60), got %+v", events)
	}
}

func TestItchCancelToZeroDeletes(t *testing.T) {
	d := NewItch50Decoder()
	d.DecodeMessages(frameMsg('A', addBody(7, 301, 'B', 100, 500)), nil)

	events := d.DecodeMessages(frameMsg('X', cancelBody(301, 100)), nil)
	if len(events) != 1 || events[0].Kind != EventDelete || events[0].OrderID != 301 {
		t.Fatalf("expected Delete(301), got %+v", events)
	}
}

func TestItchDeleteRemovesOrder(t *testing.T) {
	d := NewItch50Decoder()
	d.DecodeMessages(frameMsg('A', addBody(7, 400, 'B', 100, 500)), nil)

	events := d.DecodeMessages(frameMsg('D', deleteBody(400)), nil)
	if len(events) != 1 || events[0].Kind != EventDelete || events[0].OrderID != 400 {
		t.Fatalf("expected Delete(400), got %+v", events)
	}
}

func TestItchReplaceDeletesOldAddsNewPreservingSide(t *testing.T) {
	d := NewItch50Decoder()
	d.DecodeMessages(frameMsg('A', addBody(7, 500, 'S', 80, 900)), nil)

	events := d.DecodeMessages(frameMsg('U', replaceBody(500, 501, 120, 950)), nil)
	if len(events) != 2 || events[0].Kind != EventDelete || events[0].OrderID != 500 {
		t.Fatalf("expected Delete(500) first, got %+v", events)
	}
	if events[1].Kind != EventAdd || events[1].OrderID != 501 || events[1].Side != SideAsk || events[1].Price != 950 || events[1].Qty != 120 {
		t.Fatalf("expected Add(501, Ask, 950, 120), got %+v", events[1])
	}
}

func TestItchTradeReducesKnownMaker(t *testing.T) {
	d := NewItch50Decoder()
	d.DecodeMessages(frameMsg('A', addBody(7, 600, 'B', 100, 500)), nil)

	events := d.DecodeMessages(frameMsg('P', tradeBody(600, 'S', 30, 500)), nil)
	if len(events) != 2 || events[0].Kind != EventModify || events[0].Qty != 70 {
		t.Fatalf("expected Modify(qty=70) first, got %+v", events)
	}
	if events[1].Kind != EventTrade || !events[1].HasMakerOrderID || events[1].MakerOrderID != 600 {
		t.Fatalf("expected Trade with maker=600, got %+v", events[1])
	}
}

func TestItchNeverPanicsOnShortOrGarbageInput(t *testing.T) {
	d := NewItch50Decoder()
	inputs := [][]byte{
		nil, {}, {0}, {0, 1}, {0, 1, 'A'},
		{0xFF, 0xFF, 'A'},
		{0, 5, 'X', 1, 2, 3},
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("panicked on input %v: %v", in, r)
				}
			}()
			d.DecodeMessages(in, nil)
		}()
	}
}
