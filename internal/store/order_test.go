package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/efreitasn/tokex/internal/domain"
)

func TestOrderStore_CreateAndGet(t *testing.T) {
	s := NewOrderStore()
	o := &domain.Order{OrderID: "o1", AccountID: "alice", Status: domain.OrderStatusOpen}
	s.Create(o)

	got, err := s.Get("o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OrderID != "o1" || got.AccountID != "alice" || got.Status != domain.OrderStatusOpen {
		t.Errorf("unexpected order: %+v", got)
	}
	if got == o {
		t.Error("store must hand out its own copy, not the caller's instance")
	}
}

func TestOrderStore_SyncPublishesMutations(t *testing.T) {
	s := NewOrderStore()
	o := &domain.Order{OrderID: "o1", AccountID: "alice", Status: domain.OrderStatusOpen}
	s.Create(o)

	// Mutating the caller's order alone is invisible to readers.
	o.Status = domain.OrderStatusPartiallyFilled
	got, _ := s.Get("o1")
	if got.Status != domain.OrderStatusOpen {
		t.Fatal("unsynced mutation must not be visible")
	}

	s.Sync(o)
	got, _ = s.Get("o1")
	if got.Status != domain.OrderStatusPartiallyFilled {
		t.Fatal("Sync must publish the mutation")
	}

	// The secondary index sees the same state.
	orders, _ := s.ListByAccount("alice", nil, 1, 10)
	if orders[0].Status != domain.OrderStatusPartiallyFilled {
		t.Error("ListByAccount must reflect the synced state")
	}

	// Sync of an order the store has never seen creates it.
	s.Sync(&domain.Order{OrderID: "o2", AccountID: "alice", Status: domain.OrderStatusOpen})
	if _, err := s.Get("o2"); err != nil {
		t.Errorf("synced order must be retrievable: %v", err)
	}
}

func TestOrderStore_ReadsAreCopies(t *testing.T) {
	s := NewOrderStore()
	s.Create(&domain.Order{OrderID: "o1", AccountID: "alice", Status: domain.OrderStatusOpen})

	got, _ := s.Get("o1")
	got.Status = domain.OrderStatusCancelled

	fresh, _ := s.Get("o1")
	if fresh.Status != domain.OrderStatusOpen {
		t.Error("mutating a returned order must not affect the store")
	}

	orders, _ := s.ListByAccount("alice", nil, 1, 10)
	orders[0].Status = domain.OrderStatusExpired
	fresh, _ = s.Get("o1")
	if fresh.Status != domain.OrderStatusOpen {
		t.Error("mutating a listed order must not affect the store")
	}
}

func TestOrderStore_GetNotFound(t *testing.T) {
	s := NewOrderStore()
	_, err := s.Get("missing")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_ListByAccount_NewestFirst(t *testing.T) {
	s := NewOrderStore()
	for i := 1; i <= 3; i++ {
		s.Create(&domain.Order{
			OrderID:   fmt.Sprintf("o%d", i),
			AccountID: "alice",
			Status:    domain.OrderStatusOpen,
		})
	}

	orders, total := s.ListByAccount("alice", nil, 1, 10)
	if total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}
	if orders[0].OrderID != "o3" || orders[2].OrderID != "o1" {
		t.Errorf("expected newest first, got %s..%s", orders[0].OrderID, orders[2].OrderID)
	}
}

func TestOrderStore_ListByAccount_StatusFilter(t *testing.T) {
	s := NewOrderStore()
	s.Create(&domain.Order{OrderID: "o1", AccountID: "alice", Status: domain.OrderStatusOpen})
	s.Create(&domain.Order{OrderID: "o2", AccountID: "alice", Status: domain.OrderStatusFilled})
	s.Create(&domain.Order{OrderID: "o3", AccountID: "alice", Status: domain.OrderStatusOpen})

	status := domain.OrderStatusOpen
	orders, total := s.ListByAccount("alice", &status, 1, 10)
	if total != 2 {
		t.Fatalf("expected 2 open orders, got %d", total)
	}
	for _, o := range orders {
		if o.Status != domain.OrderStatusOpen {
			t.Errorf("unexpected status %s", o.Status)
		}
	}
}

func TestOrderStore_ListByAccount_Pagination(t *testing.T) {
	s := NewOrderStore()
	for i := 1; i <= 5; i++ {
		s.Create(&domain.Order{
			OrderID:   fmt.Sprintf("o%d", i),
			AccountID: "alice",
			Status:    domain.OrderStatusOpen,
		})
	}

	page1, total := s.ListByAccount("alice", nil, 1, 2)
	if total != 5 || len(page1) != 2 {
		t.Fatalf("page 1: total %d len %d", total, len(page1))
	}
	page3, _ := s.ListByAccount("alice", nil, 3, 2)
	if len(page3) != 1 {
		t.Fatalf("page 3: expected 1 order, got %d", len(page3))
	}
	page4, _ := s.ListByAccount("alice", nil, 4, 2)
	if len(page4) != 0 {
		t.Errorf("page past the end must be empty")
	}
}

func TestOrderStore_ListByAccount_UnknownAccount(t *testing.T) {
	s := NewOrderStore()
	orders, total := s.ListByAccount("nobody", nil, 1, 10)
	if total != 0 || len(orders) != 0 {
		t.Error("expected empty result for unknown account")
	}
}
