package proto

import (
	"encoding/binary"
	"testing"
)

func eobiFrame(templateID uint16, body []byte) []byte {
	out := make([]byte, eobiFrameHeaderLen+len(body))
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(body)))
	binary.LittleEndian.PutUint16(out[2:4], templateID)
	copy(out[eobiFrameHeaderLen:], body)
	return out
}

func TestEobiAddRoundTrip(t *testing.T) {
	body := make([]byte, 33)
	binary.LittleEndian.PutUint64(body[0:8], 10)
	binary.LittleEndian.PutUint64(body[8:16], 99)
	binary.LittleEndian.PutUint64(body[16:24], uint64(int64(25000)))
	binary.LittleEndian.PutUint64(body[24:32], uint64(int64(4)))
	body[32] = 1 // ask

	d := NewEobiSbeDecoder()
	events := d.DecodeMessages(eobiFrame(1001, body), nil)
	if len(events) != 1 || events[0].Kind != EventAdd {
		t.Fatalf("expected one Add, got %+v", events)
	}
	ev := events[0]
	if ev.OrderID != 10 || ev.InstrumentID != 99 || ev.Price != 25000 || ev.Qty != 4 || ev.Side != SideAsk {
		t.Fatalf("unexpected add event: %+v", ev)
	}
}

func TestEobiMultipleMessagesInOnePayload(t *testing.T) {
	addBody := make([]byte, 33)
	binary.LittleEndian.PutUint64(addBody[0:8], 1)
	delBody := make([]byte, 8)
	binary.LittleEndian.PutUint64(delBody[0:8], 1)

	payload := append(eobiFrame(1001, addBody), eobiFrame(1003, delBody)...)
	d := NewEobiSbeDecoder()
	events := d.DecodeMessages(payload, nil)
	if len(events) != 2 || events[0].Kind != EventAdd || events[1].Kind != EventDelete {
		t.Fatalf("expected Add then Delete, got %+v", events)
	}
}

func TestEobiNeverPanicsOnShortOrGarbageInput(t *testing.T) {
	d := NewEobiSbeDecoder()
	inputs := [][]byte{nil, {}, {1, 2, 3}, {0, 0, 0xE9, 0x03, 0, 0, 0, 0}}
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
