// Package book implements the per-instrument order-by-order (L3) book:
// a tick-addressable price grid with overflow map, handle-addressed FIFO
// price levels, and an O(1) cached best-bid/best-offer.
package book

import (
	"sort"

	"code.hybscloud.com/obengine/internal/proto"
)

// Handle addresses a node in an InstrumentBook's slab. Zero is never a
// valid handle; it is reserved to mean "no node" in prev/next links.
type Handle uint32

const noHandle Handle = 0

// node is a FIFO chain element within a price level, stored in a slab and
// addressed by Handle so it never moves and is never aliased by pointer.
type node struct {
	orderID uint64
	price   int64
	qty     int64
	side    proto.Side
	prev    Handle
	next    Handle
	free    bool
}

// level is a FIFO chain of orders resting at one price.
type level struct {
	head     Handle
	tail     Handle
	totalQty int64
	count    int
}

func (l *level) isEmpty() bool { return l.count == 0 }

// PriceGrid is a fixed-length, tick-addressable array of levels, lazily
// initialized and centered on the first inserted price. Prices outside
// the grid's span fall through to an ordered overflow map.
type PriceGrid struct {
	initialized bool
	startPrice  int64
	tick        int64
	span        int
	slots       []*level

	overflow     map[int64]*level
	overflowKeys []int64 // kept sorted; rebuilt lazily on access
	keysDirty    bool
}

func newPriceGrid(tick int64, span int) *PriceGrid {
	return &PriceGrid{
		tick:     tick,
		span:     span,
		overflow: make(map[int64]*level),
	}
}

func (g *PriceGrid) initAround(price int64) {
	if g.initialized {
		return
	}
	g.startPrice = price - g.tick*int64(g.span/2)
	g.slots = make([]*level, g.span)
	g.initialized = true
}

func (g *PriceGrid) priceToIdx(price int64) (int, bool) {
	if !g.initialized {
		return 0, false
	}
	d := price - g.startPrice
	if d < 0 || g.tick == 0 {
		return 0, false
	}
	if d%g.tick != 0 {
		return 0, false
	}
	idx := int(d / g.tick)
	if idx < 0 || idx >= g.span {
		return 0, false
	}
	return idx, true
}

// getOrCreate returns the level at price, creating it in the grid when
// possible or in the overflow map otherwise.
func (g *PriceGrid) getOrCreate(price int64) *level {
	g.initAround(price)
	if idx, ok := g.priceToIdx(price); ok {
		if g.slots[idx] == nil {
			g.slots[idx] = &level{}
		}
		return g.slots[idx]
	}
	lv, ok := g.overflow[price]
	if !ok {
		lv = &level{}
		g.overflow[price] = lv
		g.keysDirty = true
	}
	return lv
}

func (g *PriceGrid) get(price int64) (*level, bool) {
	if idx, ok := g.priceToIdx(price); ok {
		lv := g.slots[idx]
		return lv, lv != nil
	}
	lv, ok := g.overflow[price]
	return lv, ok
}

func (g *PriceGrid) remove(price int64) {
	if idx, ok := g.priceToIdx(price); ok {
		g.slots[idx] = nil
		return
	}
	if _, ok := g.overflow[price]; ok {
		delete(g.overflow, price)
		g.keysDirty = true
	}
}

func (g *PriceGrid) sortedOverflowKeys() []int64 {
	if g.keysDirty || g.overflowKeys == nil {
		keys := make([]int64, 0, len(g.overflow))
		for k := range g.overflow {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		g.overflowKeys = keys
		g.keysDirty = false
	}
	return g.overflowKeys
}

// bestBidCandidate scans the grid right-to-left (highest price first).
func (g *PriceGrid) bestBidCandidate() (price int64, lv *level, ok bool) {
	if !g.initialized {
		return 0, nil, false
	}
	for i := g.span - 1; i >= 0; i-- {
		if g.slots[i] != nil && !g.slots[i].isEmpty() {
			return g.startPrice + int64(i)*g.tick, g.slots[i], true
		}
	}
	return 0, nil, false
}

// bestAskCandidate scans the grid left-to-right (lowest price first).
func (g *PriceGrid) bestAskCandidate() (price int64, lv *level, ok bool) {
	if !g.initialized {
		return 0, nil, false
	}
	for i := 0; i < g.span; i++ {
		if g.slots[i] != nil && !g.slots[i].isEmpty() {
			return g.startPrice + int64(i)*g.tick, g.slots[i], true
		}
	}
	return 0, nil, false
}

func (g *PriceGrid) overflowBestBid() (price int64, lv *level, ok bool) {
	keys := g.sortedOverflowKeys()
	for i := len(keys) - 1; i >= 0; i-- {
		if lv := g.overflow[keys[i]]; !lv.isEmpty() {
			return keys[i], lv, true
		}
	}
	return 0, nil, false
}

func (g *PriceGrid) overflowBestAsk() (price int64, lv *level, ok bool) {
	keys := g.sortedOverflowKeys()
	for _, k := range keys {
		if lv := g.overflow[k]; !lv.isEmpty() {
			return k, lv, true
		}
	}
	return 0, nil, false
}

// DefaultTick and DefaultSpan match spec.md §4.5's stated defaults.
const (
	DefaultTick = 1
	DefaultSpan = 16384
)

// InstrumentBook is the complete book state for one instrument.
type InstrumentBook struct {
	bids *PriceGrid
	asks *PriceGrid

	slab     []node
	freeList []Handle

	bestBidPrice, bestBidQty int64
	bestAskPrice, bestAskQty int64
	haveBestBid, haveBestAsk bool
}

func NewInstrumentBook() *InstrumentBook {
	return &InstrumentBook{
		bids: newPriceGrid(DefaultTick, DefaultSpan),
		asks: newPriceGrid(DefaultTick, DefaultSpan),
		slab: make([]node, 1), // index 0 reserved as noHandle
	}
}

func (b *InstrumentBook) gridFor(side proto.Side) *PriceGrid {
	if side == proto.SideBid {
		return b.bids
	}
	return b.asks
}

func (b *InstrumentBook) alloc() Handle {
	if n := len(b.freeList); n > 0 {
		h := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		b.slab[h].free = false
		return h
	}
	b.slab = append(b.slab, node{})
	return Handle(len(b.slab) - 1)
}

func (b *InstrumentBook) release(h Handle) {
	b.slab[h] = node{free: true}
	b.freeList = append(b.freeList, h)
}

func (b *InstrumentBook) node(h Handle) *node { return &b.slab[h] }

// Add inserts a new resting order at the tail of its price level's FIFO
// chain, updating cached BBO if this price improves or ties the current
// best on its side.
func (b *InstrumentBook) Add(h Handle, orderID uint64, price, qty int64, side proto.Side) {
	n := b.node(h)
	n.orderID, n.price, n.qty, n.side = orderID, price, qty, side

	grid := b.gridFor(side)
	lv := grid.getOrCreate(price)

	n.prev = lv.tail
	n.next = noHandle
	if lv.tail != noHandle {
		b.node(lv.tail).next = h
	} else {
		lv.head = h
	}
	lv.tail = h
	lv.count++
	lv.totalQty += qty

	b.bumpBestOnAdd(side, price, lv.totalQty)
}

func (b *InstrumentBook) bumpBestOnAdd(side proto.Side, price, levelTotal int64) {
	switch side {
	case proto.SideBid:
		if !b.haveBestBid || price > b.bestBidPrice {
			b.bestBidPrice, b.bestBidQty, b.haveBestBid = price, levelTotal, true
		} else if price == b.bestBidPrice {
			b.bestBidQty = levelTotal
		}
	case proto.SideAsk:
		if !b.haveBestAsk || price < b.bestAskPrice {
			b.bestAskPrice, b.bestAskQty, b.haveBestAsk = price, levelTotal, true
		} else if price == b.bestAskPrice {
			b.bestAskQty = levelTotal
		}
	}
}

// SetQty updates a resting order's absolute quantity, adjusting its
// level's total and the cached best-side qty when this level is best.
func (b *InstrumentBook) SetQty(h Handle, newQty int64) {
	n := b.node(h)
	grid := b.gridFor(n.side)
	lv, ok := grid.get(n.price)
	if !ok {
		return
	}
	delta := newQty - n.qty
	n.qty = newQty
	lv.totalQty += delta

	if n.side == proto.SideBid && n.price == b.bestBidPrice {
		b.bestBidQty = lv.totalQty
	}
	if n.side == proto.SideAsk && n.price == b.bestAskPrice {
		b.bestAskQty = lv.totalQty
	}
}

// Cancel unlinks the node from its level's FIFO chain, frees the slab
// entry, and recomputes the cached best if the level vacated was best.
func (b *InstrumentBook) Cancel(h Handle) {
	n := b.node(h)
	side, price := n.side, n.price
	grid := b.gridFor(side)
	lv, ok := grid.get(price)
	if !ok {
		b.release(h)
		return
	}

	if n.prev != noHandle {
		b.node(n.prev).next = n.next
	} else {
		lv.head = n.next
	}
	if n.next != noHandle {
		b.node(n.next).prev = n.prev
	} else {
		lv.tail = n.prev
	}
	lv.count--
	lv.totalQty -= n.qty
	wasEmpty := lv.isEmpty()
	if wasEmpty {
		grid.remove(price)
	}

	b.release(h)

	isBestSide := (side == proto.SideBid && price == b.bestBidPrice) ||
		(side == proto.SideAsk && price == b.bestAskPrice)
	if isBestSide {
		if wasEmpty {
			b.recomputeBest(side)
		} else if side == proto.SideBid {
			b.bestBidQty = lv.totalQty
		} else {
			b.bestAskQty = lv.totalQty
		}
	}
}

// recomputeBest rescans grid and overflow, comparing directional
// candidates by price, and refreshes the cached best for side.
func (b *InstrumentBook) recomputeBest(side proto.Side) {
	grid := b.gridFor(side)
	switch side {
	case proto.SideBid:
		gp, glv, gok := grid.bestBidCandidate()
		op, olv, ook := grid.overflowBestBid()
		switch {
		case gok && (!ook || gp >= op):
			b.bestBidPrice, b.bestBidQty, b.haveBestBid = gp, glv.totalQty, true
		case ook:
			b.bestBidPrice, b.bestBidQty, b.haveBestBid = op, olv.totalQty, true
		default:
			b.haveBestBid = false
			b.bestBidPrice, b.bestBidQty = 0, 0
		}
	case proto.SideAsk:
		gp, glv, gok := grid.bestAskCandidate()
		op, olv, ook := grid.overflowBestAsk()
		switch {
		case gok && (!ook || gp <= op):
			b.bestAskPrice, b.bestAskQty, b.haveBestAsk = gp, glv.totalQty, true
		case ook:
			b.bestAskPrice, b.bestAskQty, b.haveBestAsk = op, olv.totalQty, true
		default:
			b.haveBestAsk = false
			b.bestAskPrice, b.bestAskQty = 0, 0
		}
	}
}

// BBO returns the cached best bid/ask price and quantity. ok is false for
// a side with no resting orders.
func (b *InstrumentBook) BBO() (bidPrice, bidQty, askPrice, askQty int64, hasBid, hasAsk bool) {
	return b.bestBidPrice, b.bestBidQty, b.bestAskPrice, b.bestAskQty, b.haveBestBid, b.haveBestAsk
}

// priceLevel pairs a price with its level during a merged grid/overflow
// walk.
type priceLevel struct {
	price int64
	lv    *level
}

// mergedLevels walks the grid and overflow map together, best-first for
// the given side, stopping once limit non-empty levels have been
// collected (limit<=0 means no cap). Overflow prices fall outside the
// grid's span in either direction, so they can be better OR worse than
// every grid level present; the two sources are merged by price rather
// than drained one after the other (recomputeBest does this same
// directional comparison for just the single best level).
func (g *PriceGrid) mergedLevels(bidSide bool, limit int) []priceLevel {
	var out []priceLevel
	if !g.initialized {
		return out
	}
	keys := g.sortedOverflowKeys()
	fits := func() bool { return limit <= 0 || len(out) < limit }

	if bidSide {
		gi := g.span - 1
		oi := len(keys) - 1
		for fits() && (gi >= 0 || oi >= 0) {
			var gp int64
			var glv *level
			for gi >= 0 {
				if lv := g.slots[gi]; lv != nil && !lv.isEmpty() {
					gp, glv = g.startPrice+int64(gi)*g.tick, lv
					break
				}
				gi--
			}
			var op int64
			var olv *level
			for oi >= 0 {
				if lv := g.overflow[keys[oi]]; !lv.isEmpty() {
					op, olv = keys[oi], lv
					break
				}
				oi--
			}
			switch {
			case glv != nil && (olv == nil || gp >= op): // ties favor grid
				out = append(out, priceLevel{gp, glv})
				gi--
			case olv != nil:
				out = append(out, priceLevel{op, olv})
				oi--
			default:
				return out
			}
		}
		return out
	}

	gi := 0
	oi := 0
	for fits() && (gi < g.span || oi < len(keys)) {
		var gp int64
		var glv *level
		for gi < g.span {
			if lv := g.slots[gi]; lv != nil && !lv.isEmpty() {
				gp, glv = g.startPrice+int64(gi)*g.tick, lv
				break
			}
			gi++
		}
		var op int64
		var olv *level
		for oi < len(keys) {
			if lv := g.overflow[keys[oi]]; !lv.isEmpty() {
				op, olv = keys[oi], lv
				break
			}
			oi++
		}
		switch {
		case glv != nil && gi < g.span && (olv == nil || oi >= len(keys) || gp <= op): // ties favor grid
			out = append(out, priceLevel{gp, glv})
			gi++
		case olv != nil && oi < len(keys):
			out = append(out, priceLevel{op, olv})
			oi++
		default:
			return out
		}
	}
	return out
}

// TopN returns up to n (price, qty) levels of side, best-first.
func (b *InstrumentBook) TopN(side proto.Side, n int) []LevelView {
	grid := b.gridFor(side)
	levels := grid.mergedLevels(side == proto.SideBid, n)
	out := make([]LevelView, 0, len(levels))
	for _, pl := range levels {
		out = append(out, LevelView{Price: pl.price, Qty: pl.lv.totalQty, Count: pl.lv.count})
	}
	return out
}

// LevelView is a read-only snapshot of one price level for Top-N queries
// and export.
type LevelView struct {
	Price int64
	Qty   int64
	Count int
}

// fifoOrders returns the orders in a level's FIFO chain in arrival order.
func (b *InstrumentBook) fifoOrders(lv *level) []OrderExport {
	out := make([]OrderExport, 0, lv.count)
	for h := lv.head; h != noHandle; h = b.node(h).next {
		n := b.node(h)
		out = append(out, OrderExport{OrderID: n.orderID, Price: n.price, Qty: n.qty, Side: n.side})
	}
	return out
}
