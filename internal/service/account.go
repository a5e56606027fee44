package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/ledger"
	"github.com/efreitasn/tokex/internal/store"
)

// CreateAccountRequest represents the input for account registration.
// InitialBalances maps ledger symbol → decimal string.
type CreateAccountRequest struct {
	AccountID       string
	InitialBalances map[string]string
}

// AccountService handles account registration, funding, and balance
// queries. It fronts the ledger for the external custody/CRUD layer.
type AccountService struct {
	accounts *store.AccountStore
	ledger   *ledger.Ledger
}

// NewAccountService creates a new AccountService.
func NewAccountService(accounts *store.AccountStore, ldg *ledger.Ledger) *AccountService {
	return &AccountService{accounts: accounts, ledger: ldg}
}

// Create validates the request, registers the account, and deposits any
// initial balances.
func (s *AccountService) Create(req CreateAccountRequest) (*domain.Account, error) {
	if !accountIDRegex.MatchString(req.AccountID) {
		return nil, &domain.ValidationError{
			Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}

	// Parse all balances before mutating anything.
	parsed := make(map[string]decimal.Decimal, len(req.InitialBalances))
	for symbol, raw := range req.InitialBalances {
		amount, err := decimal.NewFromString(raw)
		if err != nil || !amount.IsPositive() {
			return nil, &domain.ValidationError{
				Message: "initial balances must be positive decimal strings",
			}
		}
		parsed[symbol] = amount
	}

	account := &domain.Account{
		AccountID: req.AccountID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.accounts.Create(account); err != nil {
		return nil, err
	}

	for symbol, amount := range parsed {
		if err := s.ledger.Deposit(account.AccountID, symbol, amount); err != nil {
			return nil, err
		}
	}

	return account, nil
}

// Deposit credits amount of symbol to the account's available balance.
func (s *AccountService) Deposit(accountID, symbol, rawAmount string) (ledger.Balance, error) {
	if !s.accounts.Exists(accountID) {
		return ledger.Balance{}, domain.ErrAccountNotFound
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil || !amount.IsPositive() {
		return ledger.Balance{}, &domain.ValidationError{
			Message: "amount must be a positive decimal string",
		}
	}
	if err := s.ledger.Deposit(accountID, symbol, amount); err != nil {
		return ledger.Balance{}, err
	}
	return s.ledger.Balance(accountID, symbol), nil
}

// Get returns the account record and its current balances.
func (s *AccountService) Get(accountID string) (*domain.Account, []ledger.Balance, error) {
	account, err := s.accounts.Get(accountID)
	if err != nil {
		return nil, nil, err
	}
	return account, s.ledger.AccountBalances(accountID), nil
}
