// Package audit records every state transition of the matching and
// settlement pipeline and fans it out to external collaborators
// (webhooks, websocket feeds, reporting).
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/tokex/internal/domain"
)

// Emitter assigns each event a global monotonic sequence number,
// persists it to the journal, and delivers it to subscribers. Emissions
// for a given instrument all happen under that instrument's engine
// lock, so per-instrument event order matches transition order.
//
// Journal writes are handed to a dedicated writer goroutine so the
// synced pebble append never runs under the emitter mutex (and hence
// never under an instrument lock). The single writer consumes in
// emission order, so the journal stays sequence-ordered.
//
// Subscriber channels are buffered; a subscriber that falls behind has
// events dropped from its live feed (and logged), never from the
// journal.
type Emitter struct {
	mu      sync.Mutex
	seq     uint64
	journal *Journal // nil disables persistence
	subs    map[int]chan domain.Event
	nextSub int
	log     *zap.Logger

	journalCh chan domain.Event
	closeOnce sync.Once
	done      chan struct{}
}

// journalBuffer bounds how far the journal writer may lag before Emit
// blocks on the hand-off.
const journalBuffer = 1024

// NewEmitter creates an Emitter. journal may be nil, in which case
// events are only fanned out live.
func NewEmitter(journal *Journal, log *zap.Logger) *Emitter {
	e := &Emitter{
		journal: journal,
		subs:    make(map[int]chan domain.Event),
		log:     log,
		done:    make(chan struct{}),
	}
	if journal != nil {
		if last, err := journal.LastSequence(); err == nil {
			e.seq = last
		}
		e.journalCh = make(chan domain.Event, journalBuffer)
		go e.writeJournal()
	} else {
		close(e.done)
	}
	return e
}

func (e *Emitter) writeJournal() {
	defer close(e.done)
	for ev := range e.journalCh {
		if err := e.journal.Append(ev); err != nil {
			e.log.Error("audit journal append failed",
				zap.Uint64("sequence", ev.Sequence),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting events and waits for the journal writer to
// drain. Emit must not be called after Close. Safe to call more than
// once; call it before closing the journal itself.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		if e.journalCh != nil {
			close(e.journalCh)
		}
	})
	<-e.done
}

// Subscribe registers a new subscriber and returns its channel and a
// cancel func. buffer bounds how far the subscriber may lag before
// events are dropped from its feed.
func (e *Emitter) Subscribe(buffer int) (<-chan domain.Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan domain.Event, buffer)
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Emit stamps the event with the next sequence number and the current
// time (if unset), hands it to the journal writer, and delivers it to
// all subscribers.
func (e *Emitter) Emit(ev domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	ev.Sequence = e.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if e.journalCh != nil {
		// Blocks only when the writer has fallen journalBuffer events
		// behind.
		e.journalCh <- ev
	}

	e.log.Info("event",
		zap.Uint64("sequence", ev.Sequence),
		zap.String("type", string(ev.Type)),
		zap.String("instrument_id", ev.InstrumentID),
		zap.String("order_id", ev.OrderID),
		zap.String("trade_id", ev.TradeID),
	)

	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.Warn("subscriber lagging, event dropped from live feed",
				zap.Int("subscriber", id),
				zap.Uint64("sequence", ev.Sequence),
			)
		}
	}
}

// LastSequence returns the sequence number of the most recent event.
func (e *Emitter) LastSequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
