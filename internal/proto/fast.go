package proto

// FAST-EMDI template ids.
const (
	fastTemplateAdd    = 1
	fastTemplateModify = 2
	fastTemplateDelete = 3
	fastTemplateTrade  = 4
)

// FastEmdiDecoder implements the stateless FAST-EMDI-like framing from
// spec.md §4.4: a variable-length presence map (7 bits/byte, MSB =
// continuation), a stop-bit varint template id, a stop-bit varint body
// length, then fields as stop-bit varints (signed fields zigzag-coded).
// Optional Trade fields (maker_order_id, taker_side) are gated by pmap
// bits 0 and 1.
type FastEmdiDecoder struct{}

func NewFastEmdiDecoder() *FastEmdiDecoder { return &FastEmdiDecoder{} }

func (d *FastEmdiDecoder) DecodeMessages(payload []byte, out []Event) []Event {
	for len(payload) > 0 {
		pmap, rest, ok := readPmap(payload)
		if !ok {
			return out
		}
		templateID, rest, ok := readStopBitU64(rest)
		if !ok {
			return out
		}
		bodyLen, rest, ok := readStopBitU64(rest)
		if !ok {
			return out
		}
		if uint64(len(rest)) < bodyLen {
			return out
		}
		body := rest[:bodyLen]
		out = d.dispatch(uint16(templateID), pmap, body, out)
		payload = rest[bodyLen:]
	}
	return out
}

func (d *FastEmdiDecoder) dispatch(templateID uint16, pmap uint64, body []byte, out []Event) []Event {
	switch templateID {
	case fastTemplateAdd:
		return decodeFastAdd(body, out)
	case fastTemplateModify:
		return decodeFastModify(body, out)
	case fastTemplateDelete:
		return decodeFastDelete(body, out)
	case fastTemplateTrade:
		return decodeFastTrade(pmap, body, out)
	default:
		return out
	}
}

func decodeFastAdd(body []byte, out []Event) []Event {
	orderID, body, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	instr, body, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	priceZ, body, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	qtyZ, body, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	sideRaw, _, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	side := SideBid
	if sideRaw != 0 {
		side = SideAsk
	}
	return append(out, Add(orderID, instr, zigzagDecode(priceZ), zigzagDecode(qtyZ), side))
}

func decodeFastModify(body []byte, out []Event) []Event {
	orderID, body, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	qtyZ, _, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	return append(out, Modify(orderID, zigzagDecode(qtyZ)))
}

func decodeFastDelete(body []byte, out []Event) []Event {
	orderID, _, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	return append(out, Delete(orderID))
}

func decodeFastTrade(pmap uint64, body []byte, out []Event) []Event {
	instr, body, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	priceZ, body, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	qtyZ, body, ok := readStopBitU64(body)
	if !ok {
		return out
	}
	tr := Trade(instr, zigzagDecode(priceZ), zigzagDecode(qtyZ))

	if pmap&0x1 != 0 {
		maker, rest, ok := readStopBitU64(body)
		if !ok {
			return out
		}
		tr.MakerOrderID, tr.HasMakerOrderID = maker, true
		body = rest
	}
	if pmap&0x2 != 0 {
		sideRaw, _, ok := readStopBitU64(body)
		if !ok {
			return out
		}
		tr.TakerSide = SideBid
		if sideRaw != 0 {
			tr.TakerSide = SideAsk
		}
		tr.HasTakerSide = true
	}
	return append(out, tr)
}

// readPmap reads a FAST presence map: bytes with the MSB set to 0
// continue the map, a byte with MSB set to 1 terminates it. The low 7
// bits of each byte are packed MSB-first into the returned bitmask, most
// significant byte first.
func readPmap(b []byte) (pmap uint64, rest []byte, ok bool) {
	for i := 0; i < len(b); i++ {
		pmap = pmap<<7 | uint64(b[i]&0x7f)
		if b[i]&0x80 != 0 {
			return pmap, b[i+1:], true
		}
		if i == 9 { // guard against pathological input; pmap cannot exceed 70 bits meaningfully here
			return 0, nil, false
		}
	}
	return 0, nil, false
}

// readStopBitU64 reads a FAST stop-bit encoded unsigned varint: 7 bits
// per byte, MSB=0 continues, MSB=1 terminates, most significant byte
// first.
func readStopBitU64(b []byte) (v uint64, rest []byte, ok bool) {
	for i := 0; i < len(b); i++ {
		v = v<<7 | uint64(b[i]&0x7f)
		if b[i]&0x80 != 0 {
			return v, b[i+1:], true
		}
		if i == 9 {
			return 0, nil, false
		}
	}
	return 0, nil, false
}

// zigzagDecode maps an unsigned varint back to a signed integer using
// standard zigzag decoding.
func zigzagDecode(uv uint64) int64 {
	return int64(uv>>1) ^ -int64(uv&1)
}
