// Package book maintains per-instrument bid/ask structures with strict
// price-time priority. The matching engine is the single writer for a
// given instrument; Book.Mu serializes admission, matching, cancel,
// expiry, and snapshots.
package book

import (
	"sync"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokex/internal/domain"
)

// Entry represents a single order resting on the book.
type Entry struct {
	Price    decimal.Decimal
	Sequence uint64
	OrderID  string
	Order    *domain.Order
}

// Level represents an aggregated price level in a book snapshot.
type Level struct {
	Price         decimal.Decimal
	TotalQuantity decimal.Decimal
	OrderCount    int
}

// bidLess defines ordering for the bid side: price descending, then
// submission sequence ascending. Min() returns the best bid (highest
// price, earliest submission).
func bidLess(a, b Entry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	return a.Sequence < b.Sequence
}

// askLess defines ordering for the ask side: price ascending, then
// submission sequence ascending. Min() returns the best ask (lowest
// price, earliest submission).
func askLess(a, b Entry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return a.Sequence < b.Sequence
}

// Book maintains the bid and ask sides for a single instrument using
// B-trees with a secondary index for O(log n) removal by order ID.
//
// Halted is set when the engine detects an invariant violation on this
// instrument; all further processing for the instrument is refused
// pending operator intervention.
type Book struct {
	instrumentID string
	Mu           sync.Mutex
	Halted       bool
	bids         *btree.BTreeG[Entry]
	asks         *btree.BTreeG[Entry]
	index        map[string]Entry // order_id → entry
}

// New creates an order book for the given instrument.
func New(instrumentID string) *Book {
	const degree = 32
	return &Book{
		instrumentID: instrumentID,
		bids:         btree.NewG[Entry](degree, bidLess),
		asks:         btree.NewG[Entry](degree, askLess),
		index:        make(map[string]Entry),
	}
}

// Insert adds an entry to the side matching the order's side.
func (b *Book) Insert(entry Entry) {
	if entry.Order.Side == domain.OrderSideBuy {
		b.bids.ReplaceOrInsert(entry)
	} else {
		b.asks.ReplaceOrInsert(entry)
	}
	b.index[entry.OrderID] = entry
}

// Remove deletes an order from the book by order ID using the
// secondary index. Removing an absent order is a no-op.
func (b *Book) Remove(orderID string) {
	entry, ok := b.index[orderID]
	if !ok {
		return
	}
	delete(b.index, orderID)
	if entry.Order.Side == domain.OrderSideBuy {
		b.bids.Delete(entry)
	} else {
		b.asks.Delete(entry)
	}
}

// Contains reports whether the order currently rests on the book.
func (b *Book) Contains(orderID string) bool {
	_, ok := b.index[orderID]
	return ok
}

// Get returns the resting entry for the order, if present.
func (b *Book) Get(orderID string) (Entry, bool) {
	entry, ok := b.index[orderID]
	return entry, ok
}

// BestBid returns the highest-priority bid.
func (b *Book) BestBid() (Entry, bool) {
	return b.bids.Min()
}

// BestAsk returns the highest-priority ask.
func (b *Book) BestAsk() (Entry, bool) {
	return b.asks.Min()
}

// BestOpposing returns the highest-priority resting order on the side
// opposite to the given one.
func (b *Book) BestOpposing(side domain.OrderSide) (Entry, bool) {
	if side == domain.OrderSideBuy {
		return b.BestAsk()
	}
	return b.BestBid()
}

// TopBids returns up to n aggregated price levels from the bid side,
// ordered by price descending.
func (b *Book) TopBids(n int) []Level {
	return topLevels(b.bids, n)
}

// TopAsks returns up to n aggregated price levels from the ask side,
// ordered by price ascending.
func (b *Book) TopAsks(n int) []Level {
	return topLevels(b.asks, n)
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[Entry], n int) []Level {
	if n <= 0 {
		return nil
	}
	levels := make([]Level, 0, n)
	tree.Ascend(func(entry Entry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price.Equal(entry.Price) {
			levels[len(levels)-1].TotalQuantity = levels[len(levels)-1].TotalQuantity.Add(entry.Order.RemainingQuantity)
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, Level{
			Price:         entry.Price,
			TotalQuantity: entry.Order.RemainingQuantity,
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// WalkAsks iterates asks in order (lowest price first). The callback
// returns true to continue, false to stop.
func (b *Book) WalkAsks(fn func(Entry) bool) {
	b.asks.Ascend(fn)
}

// WalkBids iterates bids in order (highest price first). The callback
// returns true to continue, false to stop.
func (b *Book) WalkBids(fn func(Entry) bool) {
	b.bids.Ascend(fn)
}

// BidCount returns the number of individual bid orders on the book.
func (b *Book) BidCount() int {
	return b.bids.Len()
}

// AskCount returns the number of individual ask orders on the book.
func (b *Book) AskCount() int {
	return b.asks.Len()
}

// Crossed reports whether best bid ≥ best ask. It must never hold
// after the matching engine finishes processing an event.
func (b *Book) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid.Price.GreaterThanOrEqual(ask.Price)
}

// Manager is a thread-safe map of instrument id → Book.
type Manager struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewManager creates a new Manager.
func NewManager() *Manager {
	return &Manager{
		books: make(map[string]*Book),
	}
}

// GetOrCreate returns the book for the given instrument, creating one
// if it doesn't already exist.
func (m *Manager) GetOrCreate(instrumentID string) *Book {
	m.mu.RLock()
	book, ok := m.books[instrumentID]
	m.mu.RUnlock()
	if ok {
		return book
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = m.books[instrumentID]; ok {
		return book
	}
	book = New(instrumentID)
	m.books[instrumentID] = book
	return book
}
