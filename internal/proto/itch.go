package proto

import "encoding/binary"

// orderState is the per-order-reference state an ITCH decoder must keep to
// translate venue delta messages (Executed/Cancel) into absolute-qty
// Modify events.
type orderState struct {
	instr uint64
	qty   int64
	price int64
	side  Side
}

// Itch50Decoder implements the stateful ITCH-5.0-like framing described in
// spec.md §4.4: [u16-BE length][u8 type][body]*, with Add/Executed/Cancel/
// Delete/Replace/Trade/StockDirectory message handlers.
//
// Per-order state is thread-confined to whichever goroutine owns this
// decoder (the decode loop); it is never guarded by a lock. If a future
// deployment shards decoding by instrument, the state shards with it.
type Itch50Decoder struct {
	orders        map[uint64]*orderState
	symbolByLoc   map[uint16]uint64
}

func NewItch50Decoder() *Itch50Decoder {
	return &Itch50Decoder{
		orders:      make(map[uint64]*orderState),
		symbolByLoc: make(map[uint16]uint64),
	}
}

// DecodeMessages never panics: every handler bounds-checks its body before
// reading it, and a truncated or unrecognized tail is simply dropped.
func (d *Itch50Decoder) DecodeMessages(payload []byte, out []Event) []Event {
	for len(payload) >= 3 {
		length := int(binary.BigEndian.Uint16(payload[0:2]))
		if length < 1 || len(payload) < 2+length {
			return out
		}
		msgType := payload[2]
		body := payload[3 : 2+length]
		out = d.dispatch(msgType, body, out)
		payload = payload[2+length:]
	}
	return out
}

func (d *Itch50Decoder) dispatch(msgType byte, body []byte, out []Event) []Event {
	switch msgType {
	case 'A', 'F':
		return d.onAdd(msgType, body, out)
	case 'E', 'C':
		return d.onExec(body, out)
	case 'X':
		return d.onCancel(body, out)
	case 'D':
		return d.onDelete(body, out)
	case 'U':
		return d.onReplace(body, out)
	case 'P':
		return d.onTrade(body, out)
	case 'R':
		return d.onStockDirectory(body, out)
	default:
		return out
	}
}

// Add Order: locate(u16) tracking(u16) timestamp(u48) order_ref(u64)
// side(u8) shares(u32) stock(8B, ignored) price(u32) [mpid(u32) iff 'F'].
func (d *Itch50Decoder) onAdd(msgType byte, body []byte, out []Event) []Event {
	minLen := 2 + 2 + 6 + 8 + 1 + 4 + 8 + 4
	if msgType == 'F' {
		minLen += 4
	}
	if len(body) < minLen {
		return out
	}
	locate := binary.BigEndian.Uint16(body[0:2])
	orderRef := binary.BigEndian.Uint64(body[10:18])
	sideByte := body[18]
	shares := binary.BigEndian.Uint32(body[19:23])
	price := binary.BigEndian.Uint32(body[31:35])

	side := SideBid
	if sideByte == 'S' {
		side = SideAsk
	}
	instr := d.instrumentForLocate(locate)

	d.orders[orderRef] = &orderState{instr: instr, qty: int64(shares), price: int64(price), side: side}
	return append(out, Add(orderRef, instr, int64(price), int64(shares), side))
}

// Executed (opt. price): locate(u16) tracking(u16) timestamp(u48)
// order_ref(u64) executed(u32) match_id(u64).
func (d *Itch50Decoder) onExec(body []byte, out []Event) []Event {
	if len(body) < 30 {
		return out
	}
	orderRef := binary.BigEndian.Uint64(body[10:18])
	executed := int64(binary.BigEndian.Uint32(body[18:22]))

	st, ok := d.orders[orderRef]
	if !ok {
		return out
	}
	remaining := st.qty - executed
	if remaining < 0 {
		remaining = 0
	}
	if remaining > 0 {
		out = append(out, Modify(orderRef, remaining))
		st.qty = remaining
	} else {
		out = append(out, Delete(orderRef))
		delete(d.orders, orderRef)
	}
	tr := Trade(st.instr, st.price, executed)
	tr.MakerOrderID, tr.HasMakerOrderID = orderRef, true
	tr.TakerSide, tr.HasTakerSide = st.side.Opposite(), true
	return append(out, tr)
}

// Cancel: locate(u16) tracking(u16) timestamp(u48) order_ref(u64) canceled(u32).
func (d *Itch50Decoder) onCancel(body []byte, out []Event) []Event {
	if len(body) < 22 {
		return out
	}
	orderRef := binary.BigEndian.Uint64(body[10:18])
	canceled := int64(binary.BigEndian.Uint32(body[18:22]))

	st, ok := d.orders[orderRef]
	if !ok {
		return out
	}
	remaining := st.qty - canceled
	if remaining <= 0 {
		delete(d.orders, orderRef)
		return append(out, Delete(orderRef))
	}
	st.qty = remaining
	return append(out, Modify(orderRef, remaining))
}

// Delete: locate(u16) tracking(u16) timestamp(u48) order_ref(u64). Always
// deletes regardless of remaining qty.
func (d *Itch50Decoder) onDelete(body []byte, out []Event) []Event {
	if len(body) < 18 {
		return out
	}
	orderRef := binary.BigEndian.Uint64(body[10:18])
	delete(d.orders, orderRef)
	return append(out, Delete(orderRef))
}

// Replace: locate(u16) tracking(u16) timestamp(u48) orig_ref(u64)
// new_ref(u64) shares(u32) price(u32). Emits Delete(orig) then Add(new),
// preserving the side from stored state.
func (d *Itch50Decoder) onReplace(body []byte, out []Event) []Event {
	if len(body) < 34 {
		return out
	}
	origRef := binary.BigEndian.Uint64(body[10:18])
	newRef := binary.BigEndian.Uint64(body[18:26])
	shares := int64(binary.BigEndian.Uint32(body[26:30]))
	price := int64(binary.BigEndian.Uint32(body[30:34]))

	st, ok := d.orders[origRef]
	if !ok {
		return out
	}
	delete(d.orders, origRef)
	out = append(out, Delete(origRef))

	d.orders[newRef] = &orderState{instr: st.instr, qty: shares, price: price, side: st.side}
	return append(out, Add(newRef, st.instr, price, shares, st.side))
}

// Trade (non-displayed / "P"): locate(u16) tracking(u16) timestamp(u48)
// order_ref(u64) side(u8) shares(u32) stock(8B, ignored) price(u32)
// match(u64, ignored). Reduces or deletes the maker if its order_ref is
// known; always emits a Trade.
func (d *Itch50Decoder) onTrade(body []byte, out []Event) []Event {
	if len(body) < 43 {
		return out
	}
	orderRef := binary.BigEndian.Uint64(body[10:18])
	sideByte := body[18]
	shares := int64(binary.BigEndian.Uint32(body[19:23]))
	price := int64(binary.BigEndian.Uint32(body[31:35]))

	side := SideBid
	if sideByte == 'S' {
		side = SideAsk
	}

	var instr uint64
	if st, ok := d.orders[orderRef]; ok {
		remaining := st.qty - shares
		if remaining <= 0 {
			delete(d.orders, orderRef)
			out = append(out, Delete(orderRef))
		} else {
			st.qty = remaining
			out = append(out, Modify(orderRef, remaining))
		}
		instr = st.instr
	}

	tr := Trade(instr, price, shares)
	if orderRef != 0 {
		tr.MakerOrderID, tr.HasMakerOrderID = orderRef, true
	}
	tr.TakerSide, tr.HasTakerSide = side.Opposite(), true
	return append(out, tr)
}

// Stock Directory: locate(u16) tracking(u16) timestamp(u48) stock(8B) ...
// — book-irrelevant, only tracks the locate->instrument mapping for
// subsequent Add messages.
func (d *Itch50Decoder) onStockDirectory(body []byte, out []Event) []Event {
	if len(body) < 18 {
		return out
	}
	locate := binary.BigEndian.Uint16(body[0:2])
	instr := binary.BigEndian.Uint64(body[10:18])
	d.symbolByLoc[locate] = instr
	return out
}

func (d *Itch50Decoder) instrumentForLocate(locate uint16) uint64 {
	if instr, ok := d.symbolByLoc[locate]; ok {
		return instr
	}
	return uint64(locate)
}
