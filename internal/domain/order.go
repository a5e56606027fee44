package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderSide indicates whether an order buys or sells the traded token.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Order represents a buy or sell instruction submitted by an account.
// Fill-related fields are mutated only by the matching engine, always
// under the order's instrument lock.
type Order struct {
	OrderID           string
	InstrumentID      string
	AccountID         string
	Side              OrderSide
	Type              OrderType
	Quantity          decimal.Decimal
	Price             decimal.Decimal // zero for market orders
	FilledQuantity    decimal.Decimal
	RemainingQuantity decimal.Decimal
	CancelledQuantity decimal.Decimal
	Status            OrderStatus
	Sequence          uint64 // submission sequence, assigned at admission
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	CancelledAt       *time.Time
	ExpiredAt         *time.Time
}

// IsExpired reports whether the order's expiry timestamp has passed.
func (o *Order) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}
