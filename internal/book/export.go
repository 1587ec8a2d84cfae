package book

import "code.hybscloud.com/obengine/internal/proto"

// OrderExport is one resting order in a snapshot, in FIFO arrival order
// within its level.
type OrderExport struct {
	OrderID uint64
	Price   int64
	Qty     int64
	Side    proto.Side
}

// InstrumentExport is one instrument's full resting-order set, ordered
// bids best-to-worst then asks best-to-worst, FIFO within a level.
type InstrumentExport struct {
	InstrumentID uint64
	Orders       []OrderExport
}

// BookExport is the full cross-instrument snapshot body.
type BookExport struct {
	Version     uint32
	Instruments []InstrumentExport
}

// Export walks every instrument's bids (best-to-worst) then asks
// (best-to-worst), FIFO within a level, matching spec.md §6's snapshot
// file ordering contract exactly.
func (ob *OrderBook) Export() BookExport {
	exp := BookExport{Version: 1}
	for _, instr := range ob.sortedInstrumentIDs() {
		b := ob.books[instr]
		var orders []OrderExport
		orders = append(orders, exportSide(b, b.bids, true)...)
		orders = append(orders, exportSide(b, b.asks, false)...)
		exp.Instruments = append(exp.Instruments, InstrumentExport{InstrumentID: instr, Orders: orders})
	}
	return exp
}

func exportSide(b *InstrumentBook, grid *PriceGrid, bidSide bool) []OrderExport {
	var out []OrderExport
	for _, pl := range grid.mergedLevels(bidSide, 0) {
		out = append(out, b.fifoOrders(pl.lv)...)
	}
	return out
}

// FromExport rebuilds an OrderBook from a previously exported snapshot by
// replaying each order as an Add, in the export's recorded order. Because
// Export walks best-to-worst per side, replaying in that order reproduces
// identical FIFO chains and cached BBO: from_export(export(book)) == book.
func FromExport(exp BookExport, consumeTrades bool) *OrderBook {
	ob := NewOrderBook(consumeTrades)
	for _, instrExp := range exp.Instruments {
		for _, o := range instrExp.Orders {
			ob.Apply(proto.Add(o.OrderID, instrExp.InstrumentID, o.Price, o.Qty, o.Side))
		}
	}
	return ob
}
