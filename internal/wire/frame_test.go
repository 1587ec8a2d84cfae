package wire

import "testing"

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	h := FrameHeader{
		Magic: Magic, Version: VersionV1, Codec: CodecRawV1,
		MessageType: MsgOboAdd, ChannelID: ChannelOboL3,
		InstrumentID: 42, Sequence: 777, SendTimeNs: 1234567890, PayloadLen: 26,
	}
	buf := make([]byte, frameHeaderSize)
	EncodeHeader(buf, h)

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, 10)); err != ErrShortFrame {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, frameHeaderSize)
	if _, err := DecodeHeader(buf); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestEncodeFrameSplitFrameRoundTrip(t *testing.T) {
	payload := ObeAddV1{OrderID: 1, PriceE8: 10050, Qty: 7, Side: 0}.Encode()
	frame := EncodeFrame(MsgOboAdd, ChannelOboL3, 500, 9, 111222333, payload)

	h, got, err := SplitFrame(frame)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if h.MessageType != MsgOboAdd || h.InstrumentID != 500 || h.Sequence != 9 {
		t.Fatalf("unexpected header: %+v", h)
	}
	add, err := DecodeObeAddV1(got)
	if err != nil {
		t.Fatalf("decode add: %v", err)
	}
	if add.OrderID != 1 || add.PriceE8 != 10050 || add.Qty != 7 {
		t.Fatalf("unexpected add payload: %+v", add)
	}
}

func TestSplitFrameRejectsTruncatedPayload(t *testing.T) {
	frame := EncodeFrame(MsgHeartbeat, ChannelOboL3, 0, 0, 0, []byte{1, 2, 3, 4})
	truncated := frame[:len(frame)-2]
	if _, _, err := SplitFrame(truncated); err != ErrShortFrame {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}
