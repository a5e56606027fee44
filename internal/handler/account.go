package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/ledger"
	"github.com/efreitasn/tokex/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

// createAccountRequest is the JSON request body for POST /api/v1/accounts.
type createAccountRequest struct {
	AccountID       string            `json:"account_id"`
	InitialBalances map[string]string `json:"initial_balances"`
}

// depositRequest is the JSON request body for POST
// /api/v1/accounts/{account_id}/deposits.
type depositRequest struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// balanceResponse is one ledger entry in an account response.
type balanceResponse struct {
	Symbol    string `json:"symbol"`
	Available string `json:"available"`
	Reserved  string `json:"reserved"`
}

// accountResponse is the JSON shape for an account with balances.
type accountResponse struct {
	AccountID string            `json:"account_id"`
	CreatedAt string            `json:"created_at"`
	Balances  []balanceResponse `json:"balances"`
}

func buildBalances(balances []ledger.Balance) []balanceResponse {
	out := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, balanceResponse{
			Symbol:    b.Symbol,
			Available: b.Available.String(),
			Reserved:  b.Reserved.String(),
		})
	}
	return out
}

// Create handles POST /api/v1/accounts.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	account, err := h.accountSvc.Create(service.CreateAccountRequest{
		AccountID:       req.AccountID,
		InitialBalances: req.InitialBalances,
	})
	if err != nil {
		mapAccountError(w, err)
		return
	}

	_, balances, err := h.accountSvc.Get(account.AccountID)
	if err != nil {
		mapAccountError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, accountResponse{
		AccountID: account.AccountID,
		CreatedAt: account.CreatedAt.UTC().Format(time.RFC3339Nano),
		Balances:  buildBalances(balances),
	})
}

// Get handles GET /api/v1/accounts/{account_id}.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	account, balances, err := h.accountSvc.Get(accountID)
	if err != nil {
		mapAccountError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, accountResponse{
		AccountID: account.AccountID,
		CreatedAt: account.CreatedAt.UTC().Format(time.RFC3339Nano),
		Balances:  buildBalances(balances),
	})
}

// Deposit handles POST /api/v1/accounts/{account_id}/deposits.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	var req depositRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Symbol == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "symbol is required")
		return
	}

	balance, err := h.accountSvc.Deposit(accountID, req.Symbol, req.Amount)
	if err != nil {
		mapAccountError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, balanceResponse{
		Symbol:    balance.Symbol,
		Available: balance.Available.String(),
		Reserved:  balance.Reserved.String(),
	})
}

func mapAccountError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError

	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
	case errors.Is(err, domain.ErrAccountAlreadyExists):
		WriteError(w, http.StatusConflict, "account_already_exists", "Account already exists")
	case errors.Is(err, domain.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, "account_not_found", "Account not found")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
