package store

import (
	"sync"

	"github.com/efreitasn/tokex/internal/domain"
)

// AccountStore is a thread-safe in-memory store for account records.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*domain.Account),
	}
}

// Create adds an account. It returns domain.ErrAccountAlreadyExists if
// the id is taken.
func (s *AccountStore) Create(a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.AccountID]; ok {
		return domain.ErrAccountAlreadyExists
	}
	s.accounts[a.AccountID] = a
	return nil
}

// Get retrieves an account by ID. It returns domain.ErrAccountNotFound
// if the account does not exist.
func (s *AccountStore) Get(id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

// Exists reports whether the account is registered.
func (s *AccountStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[id]
	return ok
}
