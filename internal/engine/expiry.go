package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/tokex/internal/domain"
)

// ExpiryManager tracks resting limit orders sorted by expires_at and
// periodically expires orders whose expiration time has passed. It is a
// supplement to the lazy sweep the match loop performs: the sweep keeps
// matching correct, the manager keeps the book and reservations from
// accumulating dead orders on quiet instruments.
type ExpiryManager struct {
	interval     time.Duration
	engine       *Engine
	activeOrders []*domain.Order // sorted by expires_at ASC
	mu           sync.Mutex      // protects activeOrders slice
}

// NewExpiryManager creates a new ExpiryManager.
func NewExpiryManager(interval time.Duration, engine *Engine) *ExpiryManager {
	return &ExpiryManager{
		interval:     interval,
		engine:       engine,
		activeOrders: make([]*domain.Order, 0),
	}
}

// Add inserts an order into the sorted activeOrders slice, maintaining
// expires_at ASC order. Only call this for limit orders that rest on
// the book.
func (e *ExpiryManager) Add(order *domain.Order) {
	if order.ExpiresAt == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	expiresAt := *order.ExpiresAt
	// Binary search for the insertion point.
	idx := sort.Search(len(e.activeOrders), func(i int) bool {
		return e.activeOrders[i].ExpiresAt.After(expiresAt)
	})
	e.activeOrders = append(e.activeOrders, nil)
	copy(e.activeOrders[idx+1:], e.activeOrders[idx:])
	e.activeOrders[idx] = order
}

// Remove deletes an order from the activeOrders slice by order ID.
func (e *ExpiryManager) Remove(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range e.activeOrders {
		if o.OrderID == orderID {
			e.activeOrders = append(e.activeOrders[:i], e.activeOrders[i+1:]...)
			return
		}
	}
}

// Start launches a background goroutine that ticks at the configured
// interval and expires orders. It stops when ctx is cancelled.
func (e *ExpiryManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				e.tick(t)
			}
		}
	}()
}

// tick pops all orders with expires_at <= now off the front of the
// sorted slice and expires them through the engine. The engine
// re-checks status under the instrument lock, so orders already filled
// or cancelled since being tracked are skipped there.
func (e *ExpiryManager) tick(now time.Time) {
	e.mu.Lock()
	var toExpire []*domain.Order
	cutoff := 0
	for cutoff < len(e.activeOrders) {
		o := e.activeOrders[cutoff]
		if o.ExpiresAt == nil || o.ExpiresAt.After(now) {
			break
		}
		toExpire = append(toExpire, o)
		cutoff++
	}
	if cutoff > 0 {
		e.activeOrders = e.activeOrders[cutoff:]
	}
	e.mu.Unlock()

	for _, order := range toExpire {
		e.engine.ExpireOrder(order)
	}
}

// ActiveOrderCount returns the number of orders currently tracked.
func (e *ExpiryManager) ActiveOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeOrders)
}
