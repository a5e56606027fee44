package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /api/v1/orders.
// Quantity and price are decimal strings.
type submitOrderRequest struct {
	AccountID    string  `json:"account_id"`
	InstrumentID string  `json:"instrument_id"`
	Side         string  `json:"side"`
	Type         string  `json:"type"`
	Quantity     string  `json:"quantity"`
	Price        *string `json:"price"`
	ExpiresAt    *string `json:"expires_at"`
}

// cancelOrderRequest is the JSON request body for DELETE
// /api/v1/orders/{order_id}. Cancellation is only honored for the
// order's owner.
type cancelOrderRequest struct {
	AccountID string `json:"account_id"`
}

// orderResponse is the JSON shape for an order. Nullable fields use
// pointers; decimal fields are strings.
type orderResponse struct {
	OrderID           string  `json:"order_id"`
	InstrumentID      string  `json:"instrument_id"`
	AccountID         string  `json:"account_id"`
	Side              string  `json:"side"`
	Type              string  `json:"type"`
	Quantity          string  `json:"quantity"`
	Price             *string `json:"price"`
	FilledQuantity    string  `json:"filled_quantity"`
	RemainingQuantity string  `json:"remaining_quantity"`
	CancelledQuantity string  `json:"cancelled_quantity"`
	Status            string  `json:"status"`
	Sequence          uint64  `json:"sequence"`
	ExpiresAt         *string `json:"expires_at"`
	CreatedAt         string  `json:"created_at"`
	CancelledAt       *string `json:"cancelled_at"`
	ExpiredAt         *string `json:"expired_at"`
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.OrderID,
		InstrumentID:      o.InstrumentID,
		AccountID:         o.AccountID,
		Side:              string(o.Side),
		Type:              string(o.Type),
		Quantity:          o.Quantity.String(),
		FilledQuantity:    o.FilledQuantity.String(),
		RemainingQuantity: o.RemainingQuantity.String(),
		CancelledQuantity: o.CancelledQuantity.String(),
		Status:            string(o.Status),
		Sequence:          o.Sequence,
		CreatedAt:         o.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if o.Type == domain.OrderTypeLimit {
		p := o.Price.String()
		resp.Price = &p
	}
	resp.ExpiresAt = fmtTimePtr(o.ExpiresAt)
	resp.CancelledAt = fmtTimePtr(o.CancelledAt)
	resp.ExpiredAt = fmtTimePtr(o.ExpiredAt)
	return resp
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

// SubmitOrder handles POST /api/v1/orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "expires_at must be a valid RFC 3339 timestamp")
			return
		}
		expiresAt = &t
	}

	order, err := h.orderSvc.SubmitOrder(service.SubmitOrderRequest{
		AccountID:    req.AccountID,
		InstrumentID: req.InstrumentID,
		Side:         domain.OrderSide(req.Side),
		Type:         domain.OrderType(req.Type),
		Quantity:     req.Quantity,
		Price:        req.Price,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /api/v1/orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.GetOrder(orderID)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /api/v1/orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	var req cancelOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := h.orderSvc.CancelOrder(orderID, req.AccountID)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// listOrdersResponse is the JSON response for GET /api/v1/orders.
type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// ListOrders handles GET /api/v1/orders?account_id=&status=&page=&limit=.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "account_id query parameter is required")
		return
	}

	var status *domain.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.OrderStatus(raw)
		status = &s
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if page < 1 || limit < 1 || limit > 100 {
		WriteError(w, http.StatusBadRequest, "validation_error", "page must be >= 1 and limit between 1 and 100")
		return
	}

	orders, total, err := h.orderSvc.ListOrders(accountID, status, page, limit)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	resp := listOrdersResponse{
		Orders: make([]orderResponse, 0, len(orders)),
		Total:  total,
		Page:   page,
		Limit:  limit,
	}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, buildOrderResponse(o))
	}
	WriteJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

// mapOrderError maps domain errors to HTTP responses.
func mapOrderError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var invariantErr *domain.InvariantViolation

	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
	case errors.Is(err, domain.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, "account_not_found", "Account not found")
	case errors.Is(err, domain.ErrInstrumentNotFound):
		WriteError(w, http.StatusNotFound, "instrument_not_found", "Instrument not found")
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", "Order not found")
	case errors.Is(err, domain.ErrAlreadyFilled):
		WriteError(w, http.StatusConflict, "order_already_filled", "Order has already been fully filled")
	case errors.Is(err, domain.ErrNotOwner):
		WriteError(w, http.StatusForbidden, "not_owner", "Order belongs to a different account")
	case errors.Is(err, domain.ErrInsufficientFunds):
		WriteError(w, http.StatusUnprocessableEntity, "insufficient_funds", "Insufficient available balance for reservation")
	case errors.Is(err, domain.ErrNoLiquidity):
		WriteError(w, http.StatusUnprocessableEntity, "no_liquidity", "No opposing liquidity for market order")
	case errors.Is(err, domain.ErrInstrumentHalted):
		WriteError(w, http.StatusServiceUnavailable, "instrument_halted", "Instrument is halted pending operator intervention")
	case errors.As(err, &invariantErr):
		WriteError(w, http.StatusServiceUnavailable, "instrument_halted", invariantErr.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
