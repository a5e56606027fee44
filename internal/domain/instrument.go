package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument describes a tradable tokenized asset. Orders buy or sell
// TokenSymbol and pay in QuoteSymbol; both are ledger symbols.
type Instrument struct {
	InstrumentID string
	TokenSymbol  string
	QuoteSymbol  string
	TickSize     decimal.Decimal // minimum price increment
	LotSize      decimal.Decimal // minimum quantity increment
	CreatedAt    time.Time
}

// ValidPrice reports whether p is positive and a multiple of the tick size.
func (i *Instrument) ValidPrice(p decimal.Decimal) bool {
	if !p.IsPositive() {
		return false
	}
	return p.Mod(i.TickSize).IsZero()
}

// ValidQuantity reports whether q is positive and a multiple of the lot size.
func (i *Instrument) ValidQuantity(q decimal.Decimal) bool {
	if !q.IsPositive() {
		return false
	}
	return q.Mod(i.LotSize).IsZero()
}

// InstrumentRegistry tracks registered instruments in a thread-safe manner.
type InstrumentRegistry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
}

// NewInstrumentRegistry creates an empty InstrumentRegistry.
func NewInstrumentRegistry() *InstrumentRegistry {
	return &InstrumentRegistry{
		instruments: make(map[string]*Instrument),
	}
}

// Register adds an instrument to the registry. It returns
// ErrInstrumentAlreadyExists if the id is already registered.
func (r *InstrumentRegistry) Register(i *Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instruments[i.InstrumentID]; ok {
		return ErrInstrumentAlreadyExists
	}
	r.instruments[i.InstrumentID] = i
	return nil
}

// Get retrieves an instrument by id. It returns ErrInstrumentNotFound
// if the instrument is not registered.
func (r *InstrumentRegistry) Get(id string) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.instruments[id]
	if !ok {
		return nil, ErrInstrumentNotFound
	}
	return i, nil
}

// List returns all registered instruments in unspecified order.
func (r *InstrumentRegistry) List() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instrument, 0, len(r.instruments))
	for _, i := range r.instruments {
		out = append(out, i)
	}
	return out
}
