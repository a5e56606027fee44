package domain

import "time"

// Account represents a registered participant. Balances live in the
// ledger, keyed by (account, symbol); the account record itself only
// carries identity.
type Account struct {
	AccountID string
	CreatedAt time.Time
}
