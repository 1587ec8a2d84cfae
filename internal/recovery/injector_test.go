package recovery

import (
	"bufio"
	"bytes"
	"testing"
)

func TestReadReplayFrameParsesLenAsPayloadOnly(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 3})                   // len = 3 (payload bytes only)
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 42})       // seq = 42
	buf.Write([]byte{0xAA, 0xBB, 0xCC})              // payload
	buf.Write([]byte{0, 0, 0, 0})                    // terminator frame

	br := bufio.NewReader(&buf)
	payload, seq, err := readReplayFrame(br)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq != 42 || !bytes.Equal(payload, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("got seq=%d payload=%v", seq, payload)
	}

	term, _, err := readReplayFrame(br)
	if err != nil || len(term) != 0 {
		t.Fatalf("expected zero-length terminator, got %v err=%v", term, err)
	}
}

func TestTakeCoalescedMergesOverlappingAndAdjacent(t *testing.T) {
	in := New(Config{Addr: "unused:0"}, nil, nil, nil)
	in.NotifyGap(10, 15)
	in.NotifyGap(16, 20) // adjacent to the first
	in.NotifyGap(12, 14) // overlapping
	in.NotifyGap(100, 110) // disjoint

	got := in.takeCoalesced()
	if len(got) != 2 {
		t.Fatalf("expected 2 coalesced ranges, got %d: %v", len(got), got)
	}
	if got[0].from != 10 || got[0].to != 20 {
		t.Fatalf("expected [10,20], got %v", got[0])
	}
	if got[1].from != 100 || got[1].to != 110 {
		t.Fatalf("expected [100,110], got %v", got[1])
	}
}

func TestTakeCoalescedEmpty(t *testing.T) {
	in := New(Config{Addr: "unused:0"}, nil, nil, nil)
	if got := in.takeCoalesced(); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
