package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies a state transition on the event stream.
type EventType string

const (
	EventOrderAccepted    EventType = "order.accepted"
	EventOrderFilled      EventType = "order.filled"
	EventOrderCancelled   EventType = "order.cancelled"
	EventOrderExpired     EventType = "order.expired"
	EventTradeExecuted    EventType = "trade.executed"
	EventTradeSettled     EventType = "trade.settled"
	EventTradeFailed      EventType = "trade.failed"
	EventInstrumentHalted EventType = "instrument.halted"
)

// Event records a single state transition. Every transition in the
// matching and settlement paths produces one; the audit journal retains
// them indefinitely for replay. Events for a given instrument are
// emitted in the order the transitions occurred.
type Event struct {
	Sequence     uint64          `json:"sequence"`
	Type         EventType       `json:"type"`
	InstrumentID string          `json:"instrument_id"`
	Timestamp    time.Time       `json:"timestamp"`
	OrderID      string          `json:"order_id,omitempty"`
	TradeID      string          `json:"trade_id,omitempty"`
	AccountID    string          `json:"account_id,omitempty"`
	BuyerID      string          `json:"buyer_id,omitempty"`
	SellerID     string          `json:"seller_id,omitempty"`
	Quantity     decimal.Decimal `json:"quantity,omitempty"`
	Price        decimal.Decimal `json:"price,omitempty"`
	OrderStatus  OrderStatus     `json:"order_status,omitempty"`
	Detail       string          `json:"detail,omitempty"`
}
