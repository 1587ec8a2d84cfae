package book

import (
	"sort"

	"code.hybscloud.com/obengine/internal/proto"
)

// orderLoc is where a live order lives: which instrument's book, and
// which slab handle within it.
type orderLoc struct {
	instr  uint64
	handle Handle
}

// OrderBook is the global book state: one InstrumentBook per instrument
// plus a cross-instrument order_id index, owned exclusively by the
// decode thread (see spec.md §5).
type OrderBook struct {
	books         map[uint64]*InstrumentBook
	index         map[uint64]orderLoc
	consumeTrades bool
}

func NewOrderBook(consumeTrades bool) *OrderBook {
	return &OrderBook{
		books:         make(map[uint64]*InstrumentBook),
		index:         make(map[uint64]orderLoc),
		consumeTrades: consumeTrades,
	}
}

func (ob *OrderBook) bookFor(instr uint64) *InstrumentBook {
	b, ok := ob.books[instr]
	if !ok {
		b = NewInstrumentBook()
		ob.books[instr] = b
	}
	return b
}

// Apply routes a single normalized Event to the book, per spec.md §4.5.
func (ob *OrderBook) Apply(ev proto.Event) {
	switch ev.Kind {
	case proto.EventAdd:
		b := ob.bookFor(ev.InstrumentID)
		h := b.alloc()
		b.Add(h, ev.OrderID, ev.Price, ev.Qty, ev.Side)
		ob.index[ev.OrderID] = orderLoc{instr: ev.InstrumentID, handle: h}
	case proto.EventModify:
		loc, ok := ob.index[ev.OrderID]
		if !ok {
			return
		}
		if ev.Qty <= 0 {
			ob.books[loc.instr].Cancel(loc.handle)
			delete(ob.index, ev.OrderID)
			return
		}
		ob.books[loc.instr].SetQty(loc.handle, ev.Qty)
	case proto.EventDelete:
		loc, ok := ob.index[ev.OrderID]
		if !ok {
			return
		}
		ob.books[loc.instr].Cancel(loc.handle)
		delete(ob.index, ev.OrderID)
	case proto.EventTrade:
		if !ob.consumeTrades || !ev.HasMakerOrderID {
			return
		}
		loc, ok := ob.index[ev.MakerOrderID]
		if !ok {
			return
		}
		b := ob.books[loc.instr]
		remaining := b.node(loc.handle).qty - ev.Qty
		if remaining <= 0 {
			b.Cancel(loc.handle)
			delete(ob.index, ev.MakerOrderID)
		} else {
			b.SetQty(loc.handle, remaining)
		}
	case proto.EventHeartbeat:
		// no book effect
	}
}

// ApplyManyForInstr fast-paths a batch of events already known to belong
// to instr: it resolves the InstrumentBook once and operates on it
// directly for every event, instead of re-hashing ob.books on each one
// the way Apply does (spec.md §4.5). The cross-instrument order_id index
// is still maintained per event since Modify/Delete/Trade address orders
// by order_id, not instrument.
func (ob *OrderBook) ApplyManyForInstr(instr uint64, events []proto.Event) {
	b := ob.bookFor(instr)
	for _, ev := range events {
		switch ev.Kind {
		case proto.EventAdd:
			h := b.alloc()
			b.Add(h, ev.OrderID, ev.Price, ev.Qty, ev.Side)
			ob.index[ev.OrderID] = orderLoc{instr: instr, handle: h}
		case proto.EventModify:
			loc, ok := ob.index[ev.OrderID]
			if !ok {
				continue
			}
			if ev.Qty <= 0 {
				b.Cancel(loc.handle)
				delete(ob.index, ev.OrderID)
				continue
			}
			b.SetQty(loc.handle, ev.Qty)
		case proto.EventDelete:
			loc, ok := ob.index[ev.OrderID]
			if !ok {
				continue
			}
			b.Cancel(loc.handle)
			delete(ob.index, ev.OrderID)
		case proto.EventTrade:
			if !ob.consumeTrades || !ev.HasMakerOrderID {
				continue
			}
			loc, ok := ob.index[ev.MakerOrderID]
			if !ok {
				continue
			}
			remaining := b.node(loc.handle).qty - ev.Qty
			if remaining <= 0 {
				b.Cancel(loc.handle)
				delete(ob.index, ev.MakerOrderID)
			} else {
				b.SetQty(loc.handle, remaining)
			}
		case proto.EventHeartbeat:
		}
	}
}

// BBO returns the cached best bid/ask for instr.
func (ob *OrderBook) BBO(instr uint64) (bidPrice, bidQty, askPrice, askQty int64, hasBid, hasAsk bool) {
	b, ok := ob.books[instr]
	if !ok {
		return 0, 0, 0, 0, false, false
	}
	return b.BBO()
}

// TopNOf returns up to n best levels of instr on side.
func (ob *OrderBook) TopNOf(instr uint64, side proto.Side, n int) []LevelView {
	b, ok := ob.books[instr]
	if !ok {
		return nil
	}
	return b.TopN(side, n)
}

// OrderCount returns the number of live orders tracked across every
// instrument.
func (ob *OrderBook) OrderCount() int { return len(ob.index) }

// InstrumentForOrder returns the instrument a live order_id belongs to.
func (ob *OrderBook) InstrumentForOrder(orderID uint64) (uint64, bool) {
	loc, ok := ob.index[orderID]
	return loc.instr, ok
}

func (ob *OrderBook) sortedInstrumentIDs() []uint64 {
	ids := make([]uint64, 0, len(ob.books))
	for id := range ob.books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
