package store

import (
	"sync"

	"github.com/efreitasn/tokex/internal/domain"
)

// OrderStore is a thread-safe in-memory store for orders, with a
// primary index by order_id and a secondary index by account_id.
// Terminal orders are retained indefinitely for the audit trail.
//
// The store owns its copies: the engine mutates its live order objects
// under the instrument lock and publishes the result through Sync, and
// every read hands out a fresh copy. Readers never observe a fill in
// progress.
//
// This is the shape the core dictates for the orders table of the
// external durable store: keyed by order id, with status and remaining
// quantity columns.
type OrderStore struct {
	mu            sync.RWMutex
	orders        map[string]*domain.Order
	accountOrders map[string][]*domain.Order // account_id → orders (append-only)
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:        make(map[string]*domain.Order),
		accountOrders: make(map[string][]*domain.Order),
	}
}

// Create snapshots the order into the store and appends it to the
// account's secondary index.
func (s *OrderStore) Create(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *o
	s.orders[c.OrderID] = &c
	s.accountOrders[c.AccountID] = append(s.accountOrders[c.AccountID], &c)
}

// Sync publishes the order's current state to the store, overwriting
// the stored snapshot. Called by the engine after every mutation of
// fill or status fields.
func (s *OrderStore) Sync(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[o.OrderID]
	if !ok {
		c := *o
		s.orders[c.OrderID] = &c
		s.accountOrders[c.AccountID] = append(s.accountOrders[c.AccountID], &c)
		return
	}
	// Both indexes hold the same pointer; overwriting in place keeps
	// them consistent.
	*stored = *o
}

// Get retrieves a copy of an order by ID. It returns
// domain.ErrOrderNotFound if the order does not exist.
func (s *OrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

// ListByAccount returns copies of an account's orders in reverse
// chronological order (newest first). If status is non-nil, only orders
// matching that status are included. Pagination is 1-based. Returns the
// matching orders for the requested page and the total count before
// pagination.
func (s *OrderStore) ListByAccount(accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.accountOrders[accountID]

	filtered := make([]*domain.Order, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if status != nil && all[i].Status != *status {
			continue
		}
		filtered = append(filtered, all[i])
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	result := make([]*domain.Order, 0, end-start)
	for _, o := range filtered[start:end] {
		c := *o
		result = append(result, &c)
	}
	return result, total
}
