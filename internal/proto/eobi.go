package proto

import "encoding/binary"

// EOBI-SBE template ids.
const (
	eobiTemplateAdd    = 1001
	eobiTemplateModify = 1002
	eobiTemplateDelete = 1003
	eobiTemplateTrade  = 1004
)

// EobiSbeDecoder implements the stateless EOBI-SBE-like framing described
// in spec.md §4.4: [block_len u16-LE][template_id u16-LE][schema u16-LE]
// [version u16-LE][body block_len]*. Unknown templates are skipped.
type EobiSbeDecoder struct{}

func NewEobiSbeDecoder() *EobiSbeDecoder { return &EobiSbeDecoder{} }

const eobiFrameHeaderLen = 8

func (d *EobiSbeDecoder) DecodeMessages(payload []byte, out []Event) []Event {
	for len(payload) >= eobiFrameHeaderLen {
		blockLen := int(binary.LittleEndian.Uint16(payload[0:2]))
		templateID := binary.LittleEndian.Uint16(payload[2:4])
		if len(payload) < eobiFrameHeaderLen+blockLen {
			return out
		}
		body := payload[eobiFrameHeaderLen : eobiFrameHeaderLen+blockLen]
		out = d.dispatch(templateID, body, out)
		payload = payload[eobiFrameHeaderLen+blockLen:]
	}
	return out
}

func (d *EobiSbeDecoder) dispatch(templateID uint16, body []byte, out []Event) []Event {
	switch templateID {
	case eobiTemplateAdd:
		return decodeEobiAdd(body, out)
	case eobiTemplateModify:
		return decodeEobiModify(body, out)
	case eobiTemplateDelete:
		return decodeEobiDelete(body, out)
	case eobiTemplateTrade:
		return decodeEobiTrade(body, out)
	default:
		return out
	}
}

// Add: order_id(u64) instr(u64) price(i64) qty(i64) side(u8).
func decodeEobiAdd(body []byte, out []Event) []Event {
	if len(body) < 33 {
		return out
	}
	orderID := binary.LittleEndian.Uint64(body[0:8])
	instr := binary.LittleEndian.Uint64(body[8:16])
	price := int64(binary.LittleEndian.Uint64(body[16:24]))
	qty := int64(binary.LittleEndian.Uint64(body[24:32]))
	side := SideBid
	if body[32] != 0 {
		side = SideAsk
	}
	return append(out, Add(orderID, instr, price, qty, side))
}

// Modify: order_id(u64) new_qty(i64), absolute.
func decodeEobiModify(body []byte, out []Event) []Event {
	if len(body) < 16 {
		return out
	}
	orderID := binary.LittleEndian.Uint64(body[0:8])
	qty := int64(binary.LittleEndian.Uint64(body[8:16]))
	return append(out, Modify(orderID, qty))
}

// Delete: order_id(u64).
func decodeEobiDelete(body []byte, out []Event) []Event {
	if len(body) < 8 {
		return out
	}
	orderID := binary.LittleEndian.Uint64(body[0:8])
	return append(out, Delete(orderID))
}

// Trade: instr(u64) price(i64) qty(i64) maker_order_id(u64, 0 if absent).
func decodeEobiTrade(body []byte, out []Event) []Event {
	if len(body) < 32 {
		return out
	}
	instr := binary.LittleEndian.Uint64(body[0:8])
	price := int64(binary.LittleEndian.Uint64(body[8:16]))
	qty := int64(binary.LittleEndian.Uint64(body[16:24]))
	maker := binary.LittleEndian.Uint64(body[24:32])

	tr := Trade(instr, price, qty)
	if maker != 0 {
		tr.MakerOrderID, tr.HasMakerOrderID = maker, true
	}
	return append(out, tr)
}
