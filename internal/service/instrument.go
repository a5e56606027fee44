package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokex/internal/domain"
)

// RegisterInstrumentRequest represents the input for instrument
// registration. TickSize and LotSize are decimal strings.
type RegisterInstrumentRequest struct {
	InstrumentID string
	TokenSymbol  string
	QuoteSymbol  string
	TickSize     string
	LotSize      string
}

// InstrumentService handles instrument registration and listing.
type InstrumentService struct {
	instruments *domain.InstrumentRegistry
}

// NewInstrumentService creates a new InstrumentService.
func NewInstrumentService(instruments *domain.InstrumentRegistry) *InstrumentService {
	return &InstrumentService{instruments: instruments}
}

// Register validates and registers a new instrument.
func (s *InstrumentService) Register(req RegisterInstrumentRequest) (*domain.Instrument, error) {
	if !instrumentIDRegex.MatchString(req.InstrumentID) {
		return nil, &domain.ValidationError{
			Message: "instrument_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if req.TokenSymbol == "" || req.QuoteSymbol == "" {
		return nil, &domain.ValidationError{
			Message: "token_symbol and quote_symbol are required",
		}
	}
	if req.TokenSymbol == req.QuoteSymbol {
		return nil, &domain.ValidationError{
			Message: "token_symbol and quote_symbol must differ",
		}
	}

	tick, err := decimal.NewFromString(req.TickSize)
	if err != nil || !tick.IsPositive() {
		return nil, &domain.ValidationError{
			Message: "tick_size must be a positive decimal string",
		}
	}
	lot, err := decimal.NewFromString(req.LotSize)
	if err != nil || !lot.IsPositive() {
		return nil, &domain.ValidationError{
			Message: "lot_size must be a positive decimal string",
		}
	}

	instr := &domain.Instrument{
		InstrumentID: req.InstrumentID,
		TokenSymbol:  req.TokenSymbol,
		QuoteSymbol:  req.QuoteSymbol,
		TickSize:     tick,
		LotSize:      lot,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.instruments.Register(instr); err != nil {
		return nil, err
	}
	return instr, nil
}

// List returns all registered instruments.
func (s *InstrumentService) List() []*domain.Instrument {
	return s.instruments.List()
}

// Get retrieves an instrument by id.
func (s *InstrumentService) Get(id string) (*domain.Instrument, error) {
	return s.instruments.Get(id)
}
