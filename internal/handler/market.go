package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/tokex/internal/book"
	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/service"
)

// MarketHandler handles market-data, instrument, and settlement
// endpoints.
type MarketHandler struct {
	marketSvc     *service.MarketService
	instrumentSvc *service.InstrumentService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService, instrumentSvc *service.InstrumentService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc, instrumentSvc: instrumentSvc}
}

// levelResponse is one aggregated price level in a book snapshot.
type levelResponse struct {
	Price         string `json:"price"`
	TotalQuantity string `json:"total_quantity"`
	OrderCount    int    `json:"order_count"`
}

// bookResponse is the JSON response for the order book snapshot.
type bookResponse struct {
	InstrumentID string          `json:"instrument_id"`
	Halted       bool            `json:"halted"`
	Bids         []levelResponse `json:"bids"`
	Asks         []levelResponse `json:"asks"`
}

func buildLevels(levels []book.Level) []levelResponse {
	out := make([]levelResponse, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelResponse{
			Price:         l.Price.String(),
			TotalQuantity: l.TotalQuantity.String(),
			OrderCount:    l.OrderCount,
		})
	}
	return out
}

// GetOrderBook handles GET /api/v1/matching/orderbook/{instrument_id}.
func (h *MarketHandler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	instrumentID := chi.URLParam(r, "instrument_id")
	depth := queryInt(r, "depth", 50)
	if depth < 1 || depth > 500 {
		WriteError(w, http.StatusBadRequest, "validation_error", "depth must be between 1 and 500")
		return
	}

	snap, err := h.marketSvc.OrderBookSnapshot(instrumentID, depth)
	if err != nil {
		mapMarketError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, bookResponse{
		InstrumentID: snap.InstrumentID,
		Halted:       snap.Halted,
		Bids:         buildLevels(snap.Bids),
		Asks:         buildLevels(snap.Asks),
	})
}

// tradeResponse is the JSON shape for a trade.
type tradeResponse struct {
	TradeID          string `json:"trade_id"`
	BuyOrderID       string `json:"buy_order_id"`
	SellOrderID      string `json:"sell_order_id"`
	InstrumentID     string `json:"instrument_id"`
	Quantity         string `json:"quantity"`
	Price            string `json:"price"`
	TotalValue       string `json:"total_value"`
	BuyerID          string `json:"buyer_id"`
	SellerID         string `json:"seller_id"`
	ExecutedAt       string `json:"executed_at"`
	SettlementStatus string `json:"settlement_status"`
	SettlementHash   string `json:"settlement_hash,omitempty"`
}

func buildTradeResponse(t *domain.Trade) tradeResponse {
	return tradeResponse{
		TradeID:          t.TradeID,
		BuyOrderID:       t.BuyOrderID,
		SellOrderID:      t.SellOrderID,
		InstrumentID:     t.InstrumentID,
		Quantity:         t.Quantity.String(),
		Price:            t.Price.String(),
		TotalValue:       t.TotalValue.String(),
		BuyerID:          t.BuyerID,
		SellerID:         t.SellerID,
		ExecutedAt:       t.ExecutedAt.UTC().Format(time.RFC3339Nano),
		SettlementStatus: string(t.SettlementStatus),
		SettlementHash:   t.SettlementHash,
	}
}

// GetTrade handles GET /api/v1/trades/{trade_id}.
func (h *MarketHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "trade_id")

	trade, err := h.marketSvc.GetTrade(tradeID)
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildTradeResponse(trade))
}

// ListTrades handles GET /api/v1/trades?instrument_id=.
func (h *MarketHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	instrumentID := r.URL.Query().Get("instrument_id")
	if instrumentID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "instrument_id query parameter is required")
		return
	}

	trades, err := h.marketSvc.ListTrades(instrumentID)
	if err != nil {
		mapMarketError(w, err)
		return
	}

	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, buildTradeResponse(t))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// settlementStatusResponse is the JSON response for settlement status.
type settlementStatusResponse struct {
	TradeID          string `json:"trade_id"`
	SettlementStatus string `json:"settlement_status"`
	SettlementHash   string `json:"settlement_hash,omitempty"`
}

// GetSettlementStatus handles GET /api/v1/settlement/status/{trade_id}.
func (h *MarketHandler) GetSettlementStatus(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "trade_id")

	trade, err := h.marketSvc.GetTrade(tradeID)
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, settlementStatusResponse{
		TradeID:          trade.TradeID,
		SettlementStatus: string(trade.SettlementStatus),
		SettlementHash:   trade.SettlementHash,
	})
}

// RetrySettlement handles POST /api/v1/settlement/retry/{trade_id}.
// Operator-initiated re-settlement of a FAILED trade.
func (h *MarketHandler) RetrySettlement(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "trade_id")

	trade, err := h.marketSvc.RetrySettlement(r.Context(), tradeID)
	if err != nil {
		if trade != nil {
			// The retry attempt ran and failed again; the trade stays
			// FAILED and its current state is the response body.
			WriteJSON(w, http.StatusBadGateway, buildTradeResponse(trade))
			return
		}
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildTradeResponse(trade))
}

// instrumentRequest is the JSON request body for POST /api/v1/instruments.
type instrumentRequest struct {
	InstrumentID string `json:"instrument_id"`
	TokenSymbol  string `json:"token_symbol"`
	QuoteSymbol  string `json:"quote_symbol"`
	TickSize     string `json:"tick_size"`
	LotSize      string `json:"lot_size"`
}

// instrumentResponse is the JSON shape for an instrument.
type instrumentResponse struct {
	InstrumentID string `json:"instrument_id"`
	TokenSymbol  string `json:"token_symbol"`
	QuoteSymbol  string `json:"quote_symbol"`
	TickSize     string `json:"tick_size"`
	LotSize      string `json:"lot_size"`
	CreatedAt    string `json:"created_at"`
}

func buildInstrumentResponse(i *domain.Instrument) instrumentResponse {
	return instrumentResponse{
		InstrumentID: i.InstrumentID,
		TokenSymbol:  i.TokenSymbol,
		QuoteSymbol:  i.QuoteSymbol,
		TickSize:     i.TickSize.String(),
		LotSize:      i.LotSize.String(),
		CreatedAt:    i.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// RegisterInstrument handles POST /api/v1/instruments.
func (h *MarketHandler) RegisterInstrument(w http.ResponseWriter, r *http.Request) {
	var req instrumentRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	instr, err := h.instrumentSvc.Register(service.RegisterInstrumentRequest{
		InstrumentID: req.InstrumentID,
		TokenSymbol:  req.TokenSymbol,
		QuoteSymbol:  req.QuoteSymbol,
		TickSize:     req.TickSize,
		LotSize:      req.LotSize,
	})
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildInstrumentResponse(instr))
}

// ListInstruments handles GET /api/v1/instruments.
func (h *MarketHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments := h.instrumentSvc.List()
	out := make([]instrumentResponse, 0, len(instruments))
	for _, i := range instruments {
		out = append(out, buildInstrumentResponse(i))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"instruments": out})
}

func mapMarketError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError

	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
	case errors.Is(err, domain.ErrInstrumentNotFound):
		WriteError(w, http.StatusNotFound, "instrument_not_found", "Instrument not found")
	case errors.Is(err, domain.ErrInstrumentAlreadyExists):
		WriteError(w, http.StatusConflict, "instrument_already_exists", "Instrument already exists")
	case errors.Is(err, domain.ErrTradeNotFound):
		WriteError(w, http.StatusNotFound, "trade_not_found", "Trade not found")
	case errors.Is(err, domain.ErrTradeAlreadySettled):
		WriteError(w, http.StatusConflict, "trade_already_settled", "Trade has already been settled")
	case errors.Is(err, domain.ErrTradeNotRetryable):
		WriteError(w, http.StatusConflict, "trade_not_retryable", "Only failed trades can be retried")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
