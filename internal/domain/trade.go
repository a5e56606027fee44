package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus represents the settlement lifecycle of a trade.
type SettlementStatus string

const (
	SettlementStatusPending SettlementStatus = "pending"
	SettlementStatusSettled SettlementStatus = "settled"
	SettlementStatusFailed  SettlementStatus = "failed"
)

// Trade represents a matched execution between a buy and a sell order.
// All fields except SettlementStatus and SettlementHash are immutable
// once the trade is created; those two are owned by the settlement
// pipeline and mutated only through the trade store.
type Trade struct {
	TradeID          string
	BuyOrderID       string
	SellOrderID      string
	InstrumentID     string
	Quantity         decimal.Decimal
	Price            decimal.Decimal // resting (maker) order's price
	TotalValue       decimal.Decimal // Quantity × Price
	BuyerID          string
	SellerID         string
	ExecutedAt       time.Time
	SettlementStatus SettlementStatus
	SettlementHash   string // set by the external confirmer on success
}
