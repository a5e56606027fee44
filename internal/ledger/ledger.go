// Package ledger holds the authoritative per-(account, symbol) token
// balances and enforces the reservation discipline: funds backing a
// pending order are moved from available to reserved at admission and
// only ever leave reserved through settlement, release, or compensation.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokex/internal/domain"
)

// Key identifies a single ledger entry.
type Key struct {
	AccountID string
	Symbol    string
}

func (k Key) String() string {
	return k.AccountID + "/" + k.Symbol
}

// Balance is a point-in-time copy of one entry.
type Balance struct {
	AccountID string
	Symbol    string
	Available decimal.Decimal
	Reserved  decimal.Decimal
}

// entry holds mutable balance state guarded by its own mutex. Total
// (available + reserved) changes only through Deposit, SettleTransfer,
// and Compensate; Reserve and Release shift value between the two
// buckets without changing the total.
type entry struct {
	mu        sync.Mutex
	available decimal.Decimal
	reserved  decimal.Decimal
}

// Ledger is a thread-safe map of Key → balances. Operations touching
// multiple entries lock them in sorted key order to prevent deadlock
// between concurrent settlements sharing accounts.
type Ledger struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[Key]*entry),
	}
}

// get returns the entry for k, creating a zero entry if absent.
func (l *Ledger) get(k Key) *entry {
	l.mu.RLock()
	e, ok := l.entries[k]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[k]; ok {
		return e
	}
	e = &entry{available: decimal.Zero, reserved: decimal.Zero}
	l.entries[k] = e
	return e
}

// lockAll locks the given entries in sorted key order, deduplicating
// keys that resolve to the same entry, and returns an unlock func.
func (l *Ledger) lockAll(keys ...Key) func() {
	uniq := make([]Key, 0, len(keys))
	seen := make(map[Key]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			uniq = append(uniq, k)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].String() < uniq[j].String() })

	locked := make([]*entry, len(uniq))
	for i, k := range uniq {
		locked[i] = l.get(k)
		locked[i].mu.Lock()
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}
}

// Deposit credits amount to the account's available balance. It is the
// funding path used by the external account/custody layer.
func (l *Ledger) Deposit(accountID, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &domain.ValidationError{Message: "deposit amount must be positive"}
	}
	e := l.get(Key{accountID, symbol})
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = e.available.Add(amount)
	return nil
}

// Reserve moves amount from available to reserved. It returns
// domain.ErrInsufficientFunds if available < amount.
func (l *Ledger) Reserve(accountID, symbol string, amount decimal.Decimal) error {
	e := l.get(Key{accountID, symbol})
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.available.LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	e.available = e.available.Sub(amount)
	e.reserved = e.reserved.Add(amount)
	return nil
}

// Release moves amount from reserved back to available. Used when the
// unfilled remainder of an order is cancelled or expires, and to hand
// back price improvement on buy fills. Releasing more than is reserved
// is an invariant violation.
func (l *Ledger) Release(accountID, symbol string, amount decimal.Decimal) error {
	e := l.get(Key{accountID, symbol})
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reserved.LessThan(amount) {
		return fmt.Errorf("release %s %s: reserved %s < %s", accountID, symbol, e.reserved, amount)
	}
	e.reserved = e.reserved.Sub(amount)
	e.available = e.available.Add(amount)
	return nil
}

// SettleTransfer atomically executes the four legs of a trade
// settlement: the seller's reserved token quantity moves to the buyer's
// available balance, and the buyer's reserved payment moves to the
// seller's available balance. Either all four legs apply or none do;
// both debits are validated against reserved balances before any leg
// is applied.
func (l *Ledger) SettleTransfer(buyerID, sellerID, tokenSymbol string, quantity decimal.Decimal, quoteSymbol string, payAmount decimal.Decimal) error {
	buyerToken := Key{buyerID, tokenSymbol}
	buyerQuote := Key{buyerID, quoteSymbol}
	sellerToken := Key{sellerID, tokenSymbol}
	sellerQuote := Key{sellerID, quoteSymbol}

	unlock := l.lockAll(buyerToken, buyerQuote, sellerToken, sellerQuote)
	defer unlock()

	st := l.get(sellerToken)
	bq := l.get(buyerQuote)
	if st.reserved.LessThan(quantity) {
		return fmt.Errorf("settle: seller %s reserved %s %s < %s", sellerID, st.reserved, tokenSymbol, quantity)
	}
	if bq.reserved.LessThan(payAmount) {
		return fmt.Errorf("settle: buyer %s reserved %s %s < %s", buyerID, bq.reserved, quoteSymbol, payAmount)
	}

	st.reserved = st.reserved.Sub(quantity)
	l.get(buyerToken).available = l.get(buyerToken).available.Add(quantity)
	bq.reserved = bq.reserved.Sub(payAmount)
	l.get(sellerQuote).available = l.get(sellerQuote).available.Add(payAmount)
	return nil
}

// Compensate reverses a previously applied SettleTransfer, returning
// the token quantity to the seller's reserved balance and the payment
// to the buyer's reserved balance. Used when an external confirmation
// step fails after the ledger transfer was applied, so that no value is
// created or destroyed by a failed settlement.
func (l *Ledger) Compensate(buyerID, sellerID, tokenSymbol string, quantity decimal.Decimal, quoteSymbol string, payAmount decimal.Decimal) error {
	buyerToken := Key{buyerID, tokenSymbol}
	buyerQuote := Key{buyerID, quoteSymbol}
	sellerToken := Key{sellerID, tokenSymbol}
	sellerQuote := Key{sellerID, quoteSymbol}

	unlock := l.lockAll(buyerToken, buyerQuote, sellerToken, sellerQuote)
	defer unlock()

	bt := l.get(buyerToken)
	sq := l.get(sellerQuote)
	if bt.available.LessThan(quantity) {
		return fmt.Errorf("compensate: buyer %s available %s %s < %s", buyerID, bt.available, tokenSymbol, quantity)
	}
	if sq.available.LessThan(payAmount) {
		return fmt.Errorf("compensate: seller %s available %s %s < %s", sellerID, sq.available, quoteSymbol, payAmount)
	}

	bt.available = bt.available.Sub(quantity)
	l.get(sellerToken).reserved = l.get(sellerToken).reserved.Add(quantity)
	sq.available = sq.available.Sub(payAmount)
	l.get(buyerQuote).reserved = l.get(buyerQuote).reserved.Add(payAmount)
	return nil
}

// Balance returns a copy of the entry for (accountID, symbol). Missing
// entries read as zero.
func (l *Ledger) Balance(accountID, symbol string) Balance {
	e := l.get(Key{accountID, symbol})
	e.mu.Lock()
	defer e.mu.Unlock()
	return Balance{
		AccountID: accountID,
		Symbol:    symbol,
		Available: e.available,
		Reserved:  e.reserved,
	}
}

// AccountBalances returns all non-zero balances for an account.
func (l *Ledger) AccountBalances(accountID string) []Balance {
	l.mu.RLock()
	keys := make([]Key, 0)
	for k := range l.entries {
		if k.AccountID == accountID {
			keys = append(keys, k)
		}
	}
	l.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Symbol < keys[j].Symbol })

	out := make([]Balance, 0, len(keys))
	for _, k := range keys {
		b := l.Balance(k.AccountID, k.Symbol)
		if !b.Available.IsZero() || !b.Reserved.IsZero() {
			out = append(out, b)
		}
	}
	return out
}

// TotalSupply returns the sum of available + reserved across all
// accounts for a symbol. It is invariant under reserve, release,
// matching, settlement, and compensation; only Deposit changes it.
func (l *Ledger) TotalSupply(symbol string) decimal.Decimal {
	l.mu.RLock()
	keys := make([]Key, 0)
	for k := range l.entries {
		if k.Symbol == symbol {
			keys = append(keys, k)
		}
	}
	l.mu.RUnlock()

	total := decimal.Zero
	for _, k := range keys {
		b := l.Balance(k.AccountID, k.Symbol)
		total = total.Add(b.Available).Add(b.Reserved)
	}
	return total
}
