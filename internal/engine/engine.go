// Package engine implements order admission, matching, cancellation,
// and expiry. Processing for a given instrument is serialized by
// holding that instrument's book lock for the whole of
// admission+matching; operations on different instruments run fully in
// parallel and no lock is ever held across instrument boundaries.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/efreitasn/tokex/internal/audit"
	"github.com/efreitasn/tokex/internal/book"
	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/ledger"
	"github.com/efreitasn/tokex/internal/store"
)

// TradeSink receives newly created trades for settlement.
type TradeSink interface {
	Enqueue(*domain.Trade)
}

// Engine is the matching engine. It owns all order book mutation and
// all order status transitions other than settlement.
type Engine struct {
	instruments *domain.InstrumentRegistry
	ledger      *ledger.Ledger
	books       *book.Manager
	orders      *store.OrderStore
	trades      *store.TradeStore
	emitter     *audit.Emitter
	settler     TradeSink
	seq         atomic.Uint64
	log         *zap.Logger
}

// New creates an Engine with the given collaborators.
func New(
	instruments *domain.InstrumentRegistry,
	ldg *ledger.Ledger,
	books *book.Manager,
	orders *store.OrderStore,
	trades *store.TradeStore,
	emitter *audit.Emitter,
	settler TradeSink,
	log *zap.Logger,
) *Engine {
	return &Engine{
		instruments: instruments,
		ledger:      ldg,
		books:       books,
		orders:      orders,
		trades:      trades,
		emitter:     emitter,
		settler:     settler,
		log:         log,
	}
}

// Submit admits the order and runs the match loop. The caller provides
// a populated Order with InstrumentID, AccountID, Side, Type, Quantity,
// Price (limit only), and ExpiresAt set; the engine assigns OrderID,
// Sequence, and CreatedAt, and owns all further mutation.
//
// Admission errors (validation, insufficient funds, no liquidity for
// market orders) are returned synchronously with no state mutated; fill
// outcomes are reported through the event stream.
func (e *Engine) Submit(order *domain.Order) ([]*domain.Trade, error) {
	instr, err := e.instruments.Get(order.InstrumentID)
	if err != nil {
		return nil, err
	}

	bk := e.books.GetOrCreate(order.InstrumentID)
	bk.Mu.Lock()
	defer bk.Mu.Unlock()

	if bk.Halted {
		return nil, domain.ErrInstrumentHalted
	}

	now := time.Now().UTC()

	// Reservation covers the worst case the order can settle for. For
	// market buys that is priced off current opposing liquidity; the
	// unconsumed excess is released when the match loop ends.
	var marketBuyReserved decimal.Decimal
	switch {
	case order.Side == domain.OrderSideBuy && order.Type == domain.OrderTypeLimit:
		required := order.Price.Mul(order.Quantity)
		if err := e.ledger.Reserve(order.AccountID, instr.QuoteSymbol, required); err != nil {
			return nil, err
		}
	case order.Side == domain.OrderSideBuy && order.Type == domain.OrderTypeMarket:
		est, sweep := e.priceMarketBuy(bk, order.Quantity, now)
		for _, stale := range sweep {
			e.expireRestingLocked(bk, instr, stale)
		}
		if est.IsZero() {
			return nil, domain.ErrNoLiquidity
		}
		if err := e.ledger.Reserve(order.AccountID, instr.QuoteSymbol, est); err != nil {
			return nil, err
		}
		marketBuyReserved = est
	default: // sell, limit or market
		if order.Type == domain.OrderTypeMarket {
			if _, ok := bk.BestBid(); !ok {
				return nil, domain.ErrNoLiquidity
			}
		}
		if err := e.ledger.Reserve(order.AccountID, instr.TokenSymbol, order.Quantity); err != nil {
			return nil, err
		}
	}

	order.OrderID = uuid.New().String()
	order.Sequence = e.seq.Add(1)
	order.CreatedAt = now
	order.FilledQuantity = decimal.Zero
	order.RemainingQuantity = order.Quantity
	order.CancelledQuantity = decimal.Zero
	order.Status = domain.OrderStatusOpen

	e.orders.Create(order)
	e.emitter.Emit(domain.Event{
		Type:         domain.EventOrderAccepted,
		InstrumentID: order.InstrumentID,
		OrderID:      order.OrderID,
		AccountID:    order.AccountID,
		Quantity:     order.Quantity,
		Price:        order.Price,
		OrderStatus:  order.Status,
	})

	trades, err := e.matchLocked(bk, instr, order, now)
	if err != nil {
		return trades, err
	}

	// Remainder handling: limit remainders rest, market remainders are
	// cancelled (IOC) and their reservation handed back.
	if order.RemainingQuantity.IsPositive() {
		if order.Type == domain.OrderTypeLimit {
			bk.Insert(book.Entry{
				Price:    order.Price,
				Sequence: order.Sequence,
				OrderID:  order.OrderID,
				Order:    order,
			})
		} else {
			e.cancelRemainderLocked(instr, order, marketBuyReserved, trades)
		}
	} else if order.Type == domain.OrderTypeMarket && order.Side == domain.OrderSideBuy {
		leftover := marketBuyReserved.Sub(e.consumedQuote(trades))
		if leftover.IsPositive() {
			if err := e.ledger.Release(order.AccountID, instr.QuoteSymbol, leftover); err != nil {
				return trades, e.haltLocked(bk, instr.InstrumentID, err.Error())
			}
		}
	}

	if bk.Crossed() {
		return trades, e.haltLocked(bk, instr.InstrumentID, "book crossed after match pass")
	}

	return trades, nil
}

// matchLocked runs the match loop for an admitted order. The caller
// holds the book lock.
func (e *Engine) matchLocked(bk *book.Book, instr *domain.Instrument, order *domain.Order, now time.Time) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for order.RemainingQuantity.IsPositive() {
		best, found := bk.BestOpposing(order.Side)
		if !found {
			break
		}

		resting := best.Order

		// Lazy expiry: an expired resting order encountered during
		// matching is treated as absent and swept.
		if resting.IsExpired(now) {
			e.expireRestingLocked(bk, instr, resting)
			continue
		}

		// Price compatibility (limit orders only; market orders cross
		// at any resting price).
		if order.Type == domain.OrderTypeLimit {
			if order.Side == domain.OrderSideBuy && order.Price.LessThan(resting.Price) {
				break
			}
			if order.Side == domain.OrderSideSell && order.Price.GreaterThan(resting.Price) {
				break
			}
		}

		matchQty := decimal.Min(order.RemainingQuantity, resting.RemainingQuantity)
		if !matchQty.IsPositive() {
			return trades, e.haltLocked(bk, instr.InstrumentID, "resting order with non-positive remaining quantity on book")
		}

		// Maker pricing: execution at the resting order's price.
		execPrice := resting.Price

		// A buy taker reserved at its own limit; hand back the price
		// improvement immediately so reserved always equals the exact
		// pending settlement obligation.
		if order.Side == domain.OrderSideBuy && order.Type == domain.OrderTypeLimit && order.Price.GreaterThan(execPrice) {
			improvement := order.Price.Sub(execPrice).Mul(matchQty)
			if err := e.ledger.Release(order.AccountID, instr.QuoteSymbol, improvement); err != nil {
				return trades, e.haltLocked(bk, instr.InstrumentID, err.Error())
			}
		}

		applyFill(order, matchQty)
		applyFill(resting, matchQty)

		if order.RemainingQuantity.IsNegative() || resting.RemainingQuantity.IsNegative() {
			return trades, e.haltLocked(bk, instr.InstrumentID, "negative remaining quantity after fill")
		}

		e.orders.Sync(order)
		e.orders.Sync(resting)

		buyOrder, sellOrder := order, resting
		if order.Side == domain.OrderSideSell {
			buyOrder, sellOrder = resting, order
		}

		trade := &domain.Trade{
			TradeID:          uuid.New().String(),
			BuyOrderID:       buyOrder.OrderID,
			SellOrderID:      sellOrder.OrderID,
			InstrumentID:     instr.InstrumentID,
			Quantity:         matchQty,
			Price:            execPrice,
			TotalValue:       execPrice.Mul(matchQty),
			BuyerID:          buyOrder.AccountID,
			SellerID:         sellOrder.AccountID,
			ExecutedAt:       now,
			SettlementStatus: domain.SettlementStatusPending,
		}
		e.trades.Create(trade)
		trades = append(trades, trade)

		if resting.RemainingQuantity.IsZero() {
			bk.Remove(resting.OrderID)
		}

		e.emitFill(order, trade)
		e.emitFill(resting, trade)
		e.emitter.Emit(domain.Event{
			Type:         domain.EventTradeExecuted,
			InstrumentID: instr.InstrumentID,
			TradeID:      trade.TradeID,
			BuyerID:      trade.BuyerID,
			SellerID:     trade.SellerID,
			Quantity:     trade.Quantity,
			Price:        trade.Price,
		})

		if e.settler != nil {
			e.settler.Enqueue(trade)
		}
	}

	return trades, nil
}

// applyFill decrements remaining, increments filled, and updates status.
func applyFill(o *domain.Order, qty decimal.Decimal) {
	o.RemainingQuantity = o.RemainingQuantity.Sub(qty)
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	if o.RemainingQuantity.IsZero() {
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}
}

func (e *Engine) emitFill(o *domain.Order, t *domain.Trade) {
	e.emitter.Emit(domain.Event{
		Type:         domain.EventOrderFilled,
		InstrumentID: o.InstrumentID,
		OrderID:      o.OrderID,
		AccountID:    o.AccountID,
		TradeID:      t.TradeID,
		Quantity:     t.Quantity,
		Price:        t.Price,
		OrderStatus:  o.Status,
	})
}

// priceMarketBuy walks the ask side and prices the requested quantity
// at current liquidity, skipping expired entries. It returns the total
// quote amount the walk would consume and the expired entries seen,
// which the caller sweeps before matching.
func (e *Engine) priceMarketBuy(bk *book.Book, quantity decimal.Decimal, now time.Time) (decimal.Decimal, []*domain.Order) {
	total := decimal.Zero
	remaining := quantity
	var expired []*domain.Order

	bk.WalkAsks(func(entry book.Entry) bool {
		if !remaining.IsPositive() {
			return false
		}
		if entry.Order.IsExpired(now) {
			expired = append(expired, entry.Order)
			return true
		}
		fillQty := decimal.Min(remaining, entry.Order.RemainingQuantity)
		total = total.Add(entry.Price.Mul(fillQty))
		remaining = remaining.Sub(fillQty)
		return remaining.IsPositive()
	})

	return total, expired
}

// consumedQuote sums the quote value of the given trades.
func (e *Engine) consumedQuote(trades []*domain.Trade) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.TotalValue)
	}
	return total
}

// cancelRemainderLocked cancels the unfilled remainder of a market
// order (IOC semantics) and releases the unconsumed reservation.
func (e *Engine) cancelRemainderLocked(instr *domain.Instrument, order *domain.Order, marketBuyReserved decimal.Decimal, trades []*domain.Trade) {
	remainder := order.RemainingQuantity
	order.CancelledQuantity = remainder
	order.RemainingQuantity = decimal.Zero
	order.Status = domain.OrderStatusCancelled
	now := time.Now().UTC()
	order.CancelledAt = &now

	e.orders.Sync(order)

	var symbol string
	var leftover decimal.Decimal
	if order.Side == domain.OrderSideSell {
		symbol = instr.TokenSymbol
		leftover = remainder
	} else {
		symbol = instr.QuoteSymbol
		leftover = marketBuyReserved.Sub(e.consumedQuote(trades))
	}
	if leftover.IsPositive() {
		if err := e.ledger.Release(order.AccountID, symbol, leftover); err != nil {
			e.log.Error("release of market remainder failed",
				zap.String("order_id", order.OrderID),
				zap.Error(err),
			)
		}
	}

	e.emitter.Emit(domain.Event{
		Type:         domain.EventOrderCancelled,
		InstrumentID: order.InstrumentID,
		OrderID:      order.OrderID,
		AccountID:    order.AccountID,
		Quantity:     remainder,
		OrderStatus:  order.Status,
	})
}

// Cancel removes an order from the book and releases the reservation
// backing its unfilled remainder. The request is serialized through the
// same per-instrument lock as submissions, so a cancel racing a fill
// observes the final state: a fully filled order reports
// domain.ErrAlreadyFilled rather than silently succeeding.
func (e *Engine) Cancel(orderID, requestingAccountID string) (*domain.Order, error) {
	stored, err := e.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	instr, err := e.instruments.Get(stored.InstrumentID)
	if err != nil {
		return nil, err
	}

	bk := e.books.GetOrCreate(stored.InstrumentID)
	bk.Mu.Lock()
	defer bk.Mu.Unlock()

	if bk.Halted {
		return nil, domain.ErrInstrumentHalted
	}
	if stored.AccountID != requestingAccountID {
		return nil, domain.ErrNotOwner
	}

	// Only resting orders are live; everything else is terminal. The
	// book entry carries the order object the engine mutates.
	entry, resting := bk.Get(orderID)
	if !resting {
		final, err := e.orders.Get(orderID)
		if err != nil {
			return nil, err
		}
		if final.Status == domain.OrderStatusFilled {
			return nil, domain.ErrAlreadyFilled
		}
		// Cancelled or expired orders are no longer active.
		return nil, domain.ErrOrderNotFound
	}
	order := entry.Order

	bk.Remove(order.OrderID)

	remainder := order.RemainingQuantity
	now := time.Now().UTC()
	order.CancelledQuantity = remainder
	order.RemainingQuantity = decimal.Zero
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	e.orders.Sync(order)

	if err := e.releaseRemainder(instr, order, remainder); err != nil {
		return nil, e.haltLocked(bk, instr.InstrumentID, err.Error())
	}

	e.emitter.Emit(domain.Event{
		Type:         domain.EventOrderCancelled,
		InstrumentID: order.InstrumentID,
		OrderID:      order.OrderID,
		AccountID:    order.AccountID,
		Quantity:     remainder,
		OrderStatus:  order.Status,
	})

	c := *order
	return &c, nil
}

// releaseRemainder hands back the reservation covering qty of the
// order's unfilled remainder.
func (e *Engine) releaseRemainder(instr *domain.Instrument, order *domain.Order, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return nil
	}
	if order.Side == domain.OrderSideBuy {
		return e.ledger.Release(order.AccountID, instr.QuoteSymbol, order.Price.Mul(qty))
	}
	return e.ledger.Release(order.AccountID, instr.TokenSymbol, qty)
}

// expireRestingLocked transitions a resting order to expired, removes
// it from the book, and releases its reservation. The caller holds the
// book lock.
func (e *Engine) expireRestingLocked(bk *book.Book, instr *domain.Instrument, order *domain.Order) {
	bk.Remove(order.OrderID)

	remainder := order.RemainingQuantity
	order.CancelledQuantity = remainder
	order.RemainingQuantity = decimal.Zero
	order.Status = domain.OrderStatusExpired
	order.ExpiredAt = order.ExpiresAt
	e.orders.Sync(order)

	if err := e.releaseRemainder(instr, order, remainder); err != nil {
		e.log.Error("release on expiry failed",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
	}

	e.emitter.Emit(domain.Event{
		Type:         domain.EventOrderExpired,
		InstrumentID: order.InstrumentID,
		OrderID:      order.OrderID,
		AccountID:    order.AccountID,
		Quantity:     remainder,
		OrderStatus:  order.Status,
	})
}

// ExpireOrder expires a tracked order if it is still active. Called by
// the expiry manager; serialized through the instrument lock like every
// other mutation.
func (e *Engine) ExpireOrder(order *domain.Order) {
	instr, err := e.instruments.Get(order.InstrumentID)
	if err != nil {
		return
	}

	bk := e.books.GetOrCreate(order.InstrumentID)
	bk.Mu.Lock()
	defer bk.Mu.Unlock()

	if bk.Halted {
		return
	}
	switch order.Status {
	case domain.OrderStatusOpen, domain.OrderStatusPartiallyFilled:
		// Still eligible.
	default:
		return
	}

	e.expireRestingLocked(bk, instr, order)
}

// Snapshot returns up to depth aggregated price levels per side, taken
// at a single consistent point under the instrument lock.
type Snapshot struct {
	InstrumentID string
	Bids         []book.Level
	Asks         []book.Level
	Halted       bool
}

// GetSnapshot produces a consistent book snapshot for the instrument.
func (e *Engine) GetSnapshot(instrumentID string, depth int) (*Snapshot, error) {
	if _, err := e.instruments.Get(instrumentID); err != nil {
		return nil, err
	}

	bk := e.books.GetOrCreate(instrumentID)
	bk.Mu.Lock()
	defer bk.Mu.Unlock()

	return &Snapshot{
		InstrumentID: instrumentID,
		Bids:         bk.TopBids(depth),
		Asks:         bk.TopAsks(depth),
		Halted:       bk.Halted,
	}, nil
}

// haltLocked marks the instrument halted, surfaces the violation on the
// event stream, and returns the InvariantViolation. The caller holds
// the book lock. Processing for the instrument stays refused until
// operator intervention; the violation is never swallowed.
func (e *Engine) haltLocked(bk *book.Book, instrumentID, detail string) error {
	bk.Halted = true
	violation := &domain.InvariantViolation{InstrumentID: instrumentID, Detail: detail}

	e.log.Error("instrument halted on invariant violation",
		zap.String("instrument_id", instrumentID),
		zap.String("detail", detail),
	)
	e.emitter.Emit(domain.Event{
		Type:         domain.EventInstrumentHalted,
		InstrumentID: instrumentID,
		Detail:       detail,
	})

	return violation
}
