package store

import (
	"sync"

	"github.com/efreitasn/tokex/internal/domain"
)

// TradeStore is a thread-safe in-memory store for trades, with a
// primary index by trade_id and a secondary index by instrument.
// Settlement status transitions go through SetSettlement so that the
// pipeline's ownership of the field is enforced in one place. The store
// owns its copies and every read hands out a fresh one, so readers
// never race a settlement transition.
type TradeStore struct {
	mu               sync.RWMutex
	trades           map[string]*domain.Trade
	instrumentTrades map[string][]*domain.Trade // instrument_id → trades (chronological)
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades:           make(map[string]*domain.Trade),
		instrumentTrades: make(map[string][]*domain.Trade),
	}
}

// Create snapshots the trade into both indexes.
func (s *TradeStore) Create(t *domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *t
	s.trades[c.TradeID] = &c
	s.instrumentTrades[c.InstrumentID] = append(s.instrumentTrades[c.InstrumentID], &c)
}

// Get retrieves a copy of a trade by ID. It returns
// domain.ErrTradeNotFound if the trade does not exist.
func (s *TradeStore) Get(id string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	c := *t
	return &c, nil
}

// SetSettlement transitions a trade's settlement status and records the
// confirmation hash, if any. Only PENDING and FAILED trades may
// transition; a SETTLED trade is immutable and attempting to touch it
// returns domain.ErrTradeAlreadySettled.
func (s *TradeStore) SetSettlement(id string, status domain.SettlementStatus, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return domain.ErrTradeNotFound
	}
	if t.SettlementStatus == domain.SettlementStatusSettled {
		return domain.ErrTradeAlreadySettled
	}
	t.SettlementStatus = status
	if hash != "" {
		t.SettlementHash = hash
	}
	return nil
}

// ListByInstrument returns copies of all trades for an instrument in
// chronological order. Returns an empty slice if none exist.
func (s *TradeStore) ListByInstrument(instrumentID string) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.instrumentTrades[instrumentID]
	result := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		c := *t
		result = append(result, &c)
	}
	return result
}
