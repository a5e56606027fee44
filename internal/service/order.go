package service

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/engine"
	"github.com/efreitasn/tokex/internal/store"
)

var (
	accountIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	instrumentIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

// ValidOrderStatuses lists all valid order status values for validation.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusOpen:            true,
	domain.OrderStatusPartiallyFilled: true,
	domain.OrderStatusFilled:          true,
	domain.OrderStatusCancelled:       true,
	domain.OrderStatusExpired:         true,
}

// SubmitOrderRequest represents the input for order submission.
// Quantity and Price are decimal strings, as the persisted order shape
// carries them.
type SubmitOrderRequest struct {
	AccountID    string
	InstrumentID string
	Side         domain.OrderSide
	Type         domain.OrderType
	Quantity     string
	Price        *string    // required for limit, must be absent for market
	ExpiresAt    *time.Time // optional, limit only
}

// OrderService handles order submission, retrieval, cancellation, and
// listing. All validation happens here; the engine only sees
// well-formed orders.
type OrderService struct {
	engine      *engine.Engine
	expiry      *engine.ExpiryManager
	accounts    *store.AccountStore
	orders      *store.OrderStore
	instruments *domain.InstrumentRegistry
}

// NewOrderService creates a new OrderService.
func NewOrderService(
	eng *engine.Engine,
	expiry *engine.ExpiryManager,
	accounts *store.AccountStore,
	orders *store.OrderStore,
	instruments *domain.InstrumentRegistry,
) *OrderService {
	return &OrderService{
		engine:      eng,
		expiry:      expiry,
		accounts:    accounts,
		orders:      orders,
		instruments: instruments,
	}
}

// SubmitOrder validates the request and admits the order to the
// matching engine. Admission errors come back synchronously; fill and
// settlement outcomes arrive asynchronously on the event stream.
func (s *OrderService) SubmitOrder(req SubmitOrderRequest) (*domain.Order, error) {
	if req.Type != domain.OrderTypeLimit && req.Type != domain.OrderTypeMarket {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: limit, market", req.Type),
		}
	}
	if !accountIDRegex.MatchString(req.AccountID) {
		return nil, &domain.ValidationError{
			Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if !instrumentIDRegex.MatchString(req.InstrumentID) {
		return nil, &domain.ValidationError{
			Message: "instrument_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return nil, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return nil, &domain.ValidationError{Message: "quantity must be a decimal string"}
	}
	if !quantity.IsPositive() {
		return nil, &domain.ValidationError{Message: "quantity must be greater than 0"}
	}

	if !s.accounts.Exists(req.AccountID) {
		return nil, domain.ErrAccountNotFound
	}
	instr, err := s.instruments.Get(req.InstrumentID)
	if err != nil {
		return nil, err
	}
	if !instr.ValidQuantity(quantity) {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("quantity must be a positive multiple of lot size %s", instr.LotSize),
		}
	}

	order := &domain.Order{
		InstrumentID: req.InstrumentID,
		AccountID:    req.AccountID,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     quantity,
	}

	if req.Type == domain.OrderTypeLimit {
		if req.Price == nil {
			return nil, &domain.ValidationError{Message: "price is required for limit orders"}
		}
		price, err := decimal.NewFromString(*req.Price)
		if err != nil {
			return nil, &domain.ValidationError{Message: "price must be a decimal string"}
		}
		if !instr.ValidPrice(price) {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("price must be a positive multiple of tick size %s", instr.TickSize),
			}
		}
		order.Price = price

		if req.ExpiresAt != nil {
			if !req.ExpiresAt.After(time.Now()) {
				return nil, &domain.ValidationError{Message: "expires_at must be a future timestamp"}
			}
			order.ExpiresAt = req.ExpiresAt
		}
	} else {
		if req.Price != nil {
			return nil, &domain.ValidationError{Message: "price must not be set for market orders"}
		}
		if req.ExpiresAt != nil {
			return nil, &domain.ValidationError{Message: "expires_at must not be set for market orders"}
		}
	}

	if _, err := s.engine.Submit(order); err != nil {
		return nil, err
	}

	// The engine keeps mutating the submitted order as later
	// submissions fill it; the caller gets the store's snapshot instead.
	snap, err := s.orders.Get(order.OrderID)
	if err != nil {
		return nil, err
	}

	// Track resting limit orders for background expiry.
	if order.Type == domain.OrderTypeLimit && snap.RemainingQuantity.IsPositive() {
		s.expiry.Add(order)
	}

	return snap, nil
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(orderID string) (*domain.Order, error) {
	return s.orders.Get(orderID)
}

// CancelOrder cancels an active order on behalf of the requesting
// account.
func (s *OrderService) CancelOrder(orderID, requestingAccountID string) (*domain.Order, error) {
	if !accountIDRegex.MatchString(requestingAccountID) {
		return nil, &domain.ValidationError{
			Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	order, err := s.engine.Cancel(orderID, requestingAccountID)
	if err != nil {
		return nil, err
	}
	s.expiry.Remove(orderID)
	return order, nil
}

// ListOrders returns an account's orders, newest first, optionally
// filtered by status, with 1-based pagination.
func (s *OrderService) ListOrders(accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	if !s.accounts.Exists(accountID) {
		return nil, 0, domain.ErrAccountNotFound
	}
	if status != nil && !ValidOrderStatuses[*status] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown status: %s", *status),
		}
	}
	orders, total := s.orders.ListByAccount(accountID, status, page, limit)
	return orders, total, nil
}
