// Package wire implements the little-endian client frame format published
// over WebSocket/HTTP3 and the control/OBO payload structs it carries.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Magic identifies an obengine v1 frame.
var Magic = [4]byte{'O', 'B', 'v', '1'}

const VersionV1 = 1

// Codec identifies the payload encoding of a frame. Only RawV1 exists today.
const CodecRawV1 = 0

// Channel ids for the single channel this engine publishes today.
const ChannelOboL3 = 0

// Message types.
const (
	MsgHeartbeat           uint16 = 1
	MsgGap                 uint16 = 2
	MsgSnapshotStart       uint16 = 3
	MsgSnapshotEnd         uint16 = 4
	MsgSeqReset            uint16 = 5
	MsgOboAdd              uint16 = 100
	MsgOboModify           uint16 = 101
	MsgOboCancel           uint16 = 102
	MsgOboExecute          uint16 = 103
	MsgFullBookSnapshotHdr uint16 = 104
)

// FrameHeader is the fixed 40-byte preamble of every published frame.
type FrameHeader struct {
	Magic        [4]byte
	Version      uint8
	Codec        uint8
	MessageType  uint16
	ChannelID    uint32
	InstrumentID uint64
	Sequence     uint64
	SendTimeNs   uint64
	PayloadLen   uint32
}

const frameHeaderSize = 4 + 1 + 1 + 2 + 4 + 8 + 8 + 8 + 4

// ErrShortFrame is returned when a buffer does not hold a full header.
var ErrShortFrame = errors.New("wire: short frame")

// ErrBadMagic is returned when the leading magic bytes do not match.
var ErrBadMagic = errors.New("wire: bad magic")

// EncodeHeader writes h in wire order into dst, which must be at least
// frameHeaderSize bytes.
func EncodeHeader(dst []byte, h FrameHeader) {
	copy(dst[0:4], h.Magic[:])
	dst[4] = h.Version
	dst[5] = h.Codec
	binary.LittleEndian.PutUint16(dst[6:8], h.MessageType)
	binary.LittleEndian.PutUint32(dst[8:12], h.ChannelID)
	binary.LittleEndian.PutUint64(dst[12:20], h.InstrumentID)
	binary.LittleEndian.PutUint64(dst[20:28], h.Sequence)
	binary.LittleEndian.PutUint64(dst[28:36], h.SendTimeNs)
	binary.LittleEndian.PutUint32(dst[36:40], h.PayloadLen)
}

// DecodeHeader reads a FrameHeader from the front of src.
func DecodeHeader(src []byte) (FrameHeader, error) {
	var h FrameHeader
	if len(src) < frameHeaderSize {
		return h, ErrShortFrame
	}
	copy(h.Magic[:], src[0:4])
	if h.Magic != Magic {
		return h, ErrBadMagic
	}
	h.Version = src[4]
	h.Codec = src[5]
	h.MessageType = binary.LittleEndian.Uint16(src[6:8])
	h.ChannelID = binary.LittleEndian.Uint32(src[8:12])
	h.InstrumentID = binary.LittleEndian.Uint64(src[12:20])
	h.Sequence = binary.LittleEndian.Uint64(src[20:28])
	h.SendTimeNs = binary.LittleEndian.Uint64(src[28:36])
	h.PayloadLen = binary.LittleEndian.Uint32(src[36:40])
	return h, nil
}

// EncodeFrame builds a complete frame (header + payload) for publishing.
func EncodeFrame(messageType uint16, channelID uint32, instrumentID, sequence uint64, sendTimeNs uint64, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	EncodeHeader(buf, FrameHeader{
		Magic:        Magic,
		Version:      VersionV1,
		Codec:        CodecRawV1,
		MessageType:  messageType,
		ChannelID:    channelID,
		InstrumentID: instrumentID,
		Sequence:     sequence,
		SendTimeNs:   sendTimeNs,
		PayloadLen:   uint32(len(payload)),
	})
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// SplitFrame returns a frame's header and payload slice.
func SplitFrame(frame []byte) (FrameHeader, []byte, error) {
	h, err := DecodeHeader(frame)
	if err != nil {
		return h, nil, err
	}
	end := frameHeaderSize + int(h.PayloadLen)
	if len(frame) < end {
		return h, nil, ErrShortFrame
	}
	return h, frame[frameHeaderSize:end], nil
}

// --- control payloads ---

type GapV1 struct {
	FromInclusive uint64
	ToInclusive   uint64
}

func (g GapV1) Encode() []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], g.FromInclusive)
	binary.LittleEndian.PutUint64(buf[8:16], g.ToInclusive)
	return buf[:]
}

func DecodeGapV1(b []byte) (GapV1, error) {
	if len(b) < 16 {
		return GapV1{}, ErrShortFrame
	}
	return GapV1{
		FromInclusive: binary.LittleEndian.Uint64(b[0:8]),
		ToInclusive:   binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

type SeqResetV1 struct {
	NewStartSeq uint64
}

func (s SeqResetV1) Encode() []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], s.NewStartSeq)
	return buf[:]
}

// --- OBO payloads ---

type ObeAddV1 struct {
	OrderID uint64
	PriceE8 int64
	Qty     uint64
	Side    uint8
	Flags   uint8
}

func (a ObeAddV1) Encode() []byte {
	buf := make([]byte, 26)
	binary.LittleEndian.PutUint64(buf[0:8], a.OrderID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(a.PriceE8))
	binary.LittleEndian.PutUint64(buf[16:24], a.Qty)
	buf[24] = a.Side
	buf[25] = a.Flags
	return buf
}

func DecodeObeAddV1(b []byte) (ObeAddV1, error) {
	if len(b) < 26 {
		return ObeAddV1{}, ErrShortFrame
	}
	return ObeAddV1{
		OrderID: binary.LittleEndian.Uint64(b[0:8]),
		PriceE8: int64(binary.LittleEndian.Uint64(b[8:16])),
		Qty:     binary.LittleEndian.Uint64(b[16:24]),
		Side:    b[24],
		Flags:   b[25],
	}, nil
}

type ObeModifyV1 struct {
	OrderID     uint64
	NewPriceE8  int64
	NewQty      uint64
	Flags       uint8
}

func (m ObeModifyV1) Encode() []byte {
	buf := make([]byte, 25)
	binary.LittleEndian.PutUint64(buf[0:8], m.OrderID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.NewPriceE8))
	binary.LittleEndian.PutUint64(buf[16:24], m.NewQty)
	buf[24] = m.Flags
	return buf
}

type ObeCancelV1 struct {
	OrderID uint64
	QtyCxl  uint64
	Reason  uint8
}

func (c ObeCancelV1) Encode() []byte {
	buf := make([]byte, 17)
	binary.LittleEndian.PutUint64(buf[0:8], c.OrderID)
	binary.LittleEndian.PutUint64(buf[8:16], c.QtyCxl)
	buf[16] = c.Reason
	return buf
}

type ObeExecuteV1 struct {
	MakerOrderID   uint64
	TradeQty       uint64
	TradePriceE8   int64
	AggressorSide  uint8
	MatchID        uint64
}

func (e ObeExecuteV1) Encode() []byte {
	buf := make([]byte, 33)
	binary.LittleEndian.PutUint64(buf[0:8], e.MakerOrderID)
	binary.LittleEndian.PutUint64(buf[8:16], e.TradeQty)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(e.TradePriceE8))
	buf[24] = e.AggressorSide
	binary.LittleEndian.PutUint64(buf[25:33], e.MatchID)
	return buf
}

type FullBookSnapshotHdrV1 struct {
	LevelCount  uint32
	TotalOrders uint32
}

func (h FullBookSnapshotHdrV1) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], h.LevelCount)
	binary.LittleEndian.PutUint32(buf[4:8], h.TotalOrders)
	return buf
}

// WriteFrame writes a complete frame to w.
func WriteFrame(w io.Writer, messageType uint16, channelID uint32, instrumentID, sequence uint64, sendTimeNs uint64, payload []byte) error {
	_, err := w.Write(EncodeFrame(messageType, channelID, instrumentID, sequence, sendTimeNs, payload))
	return err
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return append(bytes.Clone(hdr[:]), payload...), nil
}
