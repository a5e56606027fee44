package service

import (
	"context"

	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/engine"
	"github.com/efreitasn/tokex/internal/settle"
	"github.com/efreitasn/tokex/internal/store"
)

// MarketService exposes read-side market data (book snapshots, trade
// history, settlement status) and the operator settlement-retry path.
type MarketService struct {
	engine      *engine.Engine
	trades      *store.TradeStore
	pipeline    *settle.Pipeline
	instruments *domain.InstrumentRegistry
}

// NewMarketService creates a new MarketService.
func NewMarketService(
	eng *engine.Engine,
	trades *store.TradeStore,
	pipeline *settle.Pipeline,
	instruments *domain.InstrumentRegistry,
) *MarketService {
	return &MarketService{
		engine:      eng,
		trades:      trades,
		pipeline:    pipeline,
		instruments: instruments,
	}
}

// OrderBookSnapshot returns up to depth aggregated price levels per
// side, reflecting a single consistent point in time.
func (s *MarketService) OrderBookSnapshot(instrumentID string, depth int) (*engine.Snapshot, error) {
	if depth <= 0 {
		depth = 50
	}
	return s.engine.GetSnapshot(instrumentID, depth)
}

// GetTrade retrieves a trade by id.
func (s *MarketService) GetTrade(tradeID string) (*domain.Trade, error) {
	return s.trades.Get(tradeID)
}

// ListTrades returns all trades for an instrument in chronological
// order.
func (s *MarketService) ListTrades(instrumentID string) ([]*domain.Trade, error) {
	if _, err := s.instruments.Get(instrumentID); err != nil {
		return nil, err
	}
	return s.trades.ListByInstrument(instrumentID), nil
}

// RetrySettlement re-attempts settlement of a FAILED trade. This is the
// operator-initiated path with its own audit trail; it never bypasses
// ledger validation.
func (s *MarketService) RetrySettlement(ctx context.Context, tradeID string) (*domain.Trade, error) {
	return s.pipeline.Retry(ctx, tradeID)
}
