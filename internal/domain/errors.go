package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrAccountAlreadyExists    = errors.New("account_already_exists")
	ErrAccountNotFound         = errors.New("account_not_found")
	ErrInstrumentAlreadyExists = errors.New("instrument_already_exists")
	ErrInstrumentNotFound      = errors.New("instrument_not_found")
	ErrInstrumentHalted        = errors.New("instrument_halted")
	ErrOrderNotFound           = errors.New("order_not_found")
	ErrAlreadyFilled           = errors.New("order_already_filled")
	ErrNotOwner                = errors.New("order_not_owned_by_account")
	ErrInsufficientFunds       = errors.New("insufficient_funds")
	ErrNoLiquidity             = errors.New("no_liquidity")
	ErrTradeNotFound           = errors.New("trade_not_found")
	ErrTradeNotRetryable       = errors.New("trade_not_retryable")
	ErrTradeAlreadySettled     = errors.New("trade_already_settled")
	ErrWebhookNotFound         = errors.New("webhook_not_found")
)

// ValidationError represents a malformed or unsupported order request.
// No state is mutated when one is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// InvariantViolation signals internal corruption of matching or ledger
// state. It is fatal for the affected instrument: the engine halts the
// instrument's processing and surfaces the violation on the event
// stream. It is never silently swallowed.
type InvariantViolation struct {
	InstrumentID string
	Detail       string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation on " + e.InstrumentID + ": " + e.Detail
}
