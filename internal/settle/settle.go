// Package settle finalizes trades: it converts each PENDING trade into
// an atomic four-leg ledger transfer plus an externally confirmed
// transfer, with compensation on failure. Settlement of a trade is
// attempted at most once automatically; failed trades wait for an
// explicit operator retry.
package settle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/tokex/internal/audit"
	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/ledger"
	"github.com/efreitasn/tokex/internal/store"
)

// Confirmer performs the external confirmation step of settlement,
// typically an on-chain transfer through an external blockchain client.
// It returns a confirmation hash on success. The context carries the
// settlement timeout; exceeding it fails the trade.
type Confirmer interface {
	Confirm(ctx context.Context, trade *domain.Trade) (string, error)
}

// Pipeline consumes newly created trades in FIFO order and settles
// them. It is the exclusive owner of Trade settlement status
// transitions and of ledger mutation during settlement. Attempts are
// serialized per trade through the inFlight set, so at most one
// SettleTransfer can ever be reached for a given trade at a time.
type Pipeline struct {
	ledger      *ledger.Ledger
	trades      *store.TradeStore
	instruments *domain.InstrumentRegistry
	confirmer   Confirmer
	emitter     *audit.Emitter
	timeout     time.Duration
	queue       chan *domain.Trade
	log         *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{} // trade_id → settlement attempt in progress
}

// New creates a Pipeline. timeout bounds the external confirmation
// step only; ledger mutation is not subject to it.
func New(
	ldg *ledger.Ledger,
	trades *store.TradeStore,
	instruments *domain.InstrumentRegistry,
	confirmer Confirmer,
	emitter *audit.Emitter,
	timeout time.Duration,
	queueSize int,
	log *zap.Logger,
) *Pipeline {
	return &Pipeline{
		ledger:      ldg,
		trades:      trades,
		instruments: instruments,
		confirmer:   confirmer,
		emitter:     emitter,
		timeout:     timeout,
		queue:       make(chan *domain.Trade, queueSize),
		log:         log,
		inFlight:    make(map[string]struct{}),
	}
}

// Enqueue hands a PENDING trade to the pipeline. Called by the matching
// engine at trade creation, under the instrument lock: when the queue is
// full the send blocks and matching on that instrument stalls until the
// worker frees space. The warning makes the stall diagnosable.
func (p *Pipeline) Enqueue(trade *domain.Trade) {
	select {
	case p.queue <- trade:
	default:
		p.log.Warn("settlement queue full, matching blocked until the worker drains it",
			zap.String("trade_id", trade.TradeID),
			zap.Int("queue_size", cap(p.queue)),
		)
		p.queue <- trade
	}
}

// claim marks a settlement attempt for the trade as in flight. It
// returns false if another attempt already holds the claim.
func (p *Pipeline) claim(tradeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[tradeID]; ok {
		return false
	}
	p.inFlight[tradeID] = struct{}{}
	return true
}

func (p *Pipeline) release(tradeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, tradeID)
}

// Run consumes the queue until ctx is cancelled. Trades settle in the
// order they were created; settlement for one trade may overlap with
// matching on other instruments, and the ledger's per-entry locks keep
// it from racing the mutation of the same accounts.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-p.queue:
			if !p.claim(trade.TradeID) {
				continue
			}
			err := p.settle(ctx, trade)
			p.release(trade.TradeID)
			if err != nil {
				p.log.Warn("settlement failed",
					zap.String("trade_id", trade.TradeID),
					zap.Error(err),
				)
			}
		}
	}
}

// Retry re-attempts settlement of a FAILED trade. This is the explicit
// operator path: it re-validates ledger state (the compensated value is
// back in reserved, and SettleTransfer checks it again) before
// re-applying. Retrying a SETTLED trade is rejected, never
// double-transferred, and concurrent retries of the same trade contend
// on the claim: only the winner reaches the ledger, the rest get
// ErrTradeNotRetryable.
func (p *Pipeline) Retry(ctx context.Context, tradeID string) (*domain.Trade, error) {
	// Pre-check before claiming: a PENDING trade belongs to the queue
	// worker and must never be claimed from under it. FAILED only ever
	// appears after the worker is done with the trade.
	trade, err := p.trades.Get(tradeID)
	if err != nil {
		return nil, err
	}
	switch trade.SettlementStatus {
	case domain.SettlementStatusFailed:
		// Retryable.
	case domain.SettlementStatusSettled:
		return nil, domain.ErrTradeAlreadySettled
	default:
		return nil, domain.ErrTradeNotRetryable
	}

	if !p.claim(tradeID) {
		return nil, domain.ErrTradeNotRetryable
	}
	defer p.release(tradeID)

	// Status is re-read under the claim: a concurrent retry may have
	// settled the trade between the pre-check and the claim.
	trade, err = p.trades.Get(tradeID)
	if err != nil {
		return nil, err
	}
	switch trade.SettlementStatus {
	case domain.SettlementStatusFailed:
		// Retryable.
	case domain.SettlementStatusSettled:
		return nil, domain.ErrTradeAlreadySettled
	default:
		return nil, domain.ErrTradeNotRetryable
	}

	settleErr := p.settle(ctx, trade)
	if fresh, err := p.trades.Get(tradeID); err == nil {
		trade = fresh
	}
	if settleErr != nil {
		return trade, settleErr
	}
	return trade, nil
}

// settle performs one settlement attempt: ledger transfer, then
// external confirmation under timeout. A confirmation failure after the
// transfer was applied is compensated, returning both sides' value to
// reserved state so no value is created or destroyed. The caller holds
// the trade's claim.
func (p *Pipeline) settle(ctx context.Context, trade *domain.Trade) error {
	current, err := p.trades.Get(trade.TradeID)
	if err != nil {
		return err
	}
	if current.SettlementStatus == domain.SettlementStatusSettled {
		return domain.ErrTradeAlreadySettled
	}

	instr, err := p.instruments.Get(trade.InstrumentID)
	if err != nil {
		return err
	}

	if err := p.ledger.SettleTransfer(
		trade.BuyerID, trade.SellerID,
		instr.TokenSymbol, trade.Quantity,
		instr.QuoteSymbol, trade.TotalValue,
	); err != nil {
		p.fail(trade, err)
		return err
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.timeout)
	hash, err := p.confirmer.Confirm(confirmCtx, trade)
	cancel()
	if err != nil {
		// The ledger transfer already applied; reverse it.
		if cerr := p.ledger.Compensate(
			trade.BuyerID, trade.SellerID,
			instr.TokenSymbol, trade.Quantity,
			instr.QuoteSymbol, trade.TotalValue,
		); cerr != nil {
			// Compensation failing means the ledger no longer reflects
			// either the settled or the pre-trade state. Treat as fatal
			// for this trade and alert loudly.
			p.log.Error("compensation failed after confirmation failure",
				zap.String("trade_id", trade.TradeID),
				zap.NamedError("confirm_error", err),
				zap.Error(cerr),
			)
		}
		p.fail(trade, err)
		return err
	}

	if err := p.trades.SetSettlement(trade.TradeID, domain.SettlementStatusSettled, hash); err != nil {
		return err
	}
	p.emitter.Emit(domain.Event{
		Type:         domain.EventTradeSettled,
		InstrumentID: trade.InstrumentID,
		TradeID:      trade.TradeID,
		BuyerID:      trade.BuyerID,
		SellerID:     trade.SellerID,
		Quantity:     trade.Quantity,
		Price:        trade.Price,
	})
	return nil
}

// fail marks the trade FAILED and emits the alert event for the
// operator channel.
func (p *Pipeline) fail(trade *domain.Trade, cause error) {
	if err := p.trades.SetSettlement(trade.TradeID, domain.SettlementStatusFailed, ""); err != nil {
		p.log.Error("failed to mark trade as failed",
			zap.String("trade_id", trade.TradeID),
			zap.Error(err),
		)
		return
	}
	p.emitter.Emit(domain.Event{
		Type:         domain.EventTradeFailed,
		InstrumentID: trade.InstrumentID,
		TradeID:      trade.TradeID,
		BuyerID:      trade.BuyerID,
		SellerID:     trade.SellerID,
		Quantity:     trade.Quantity,
		Price:        trade.Price,
		Detail:       cause.Error(),
	})
}
