// Package webhook manages per-account event subscriptions and delivers
// matching events over HTTP with at-least-once semantics.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efreitasn/tokex/internal/audit"
	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/store"
)

// Subscribable event types.
var validEvents = map[domain.EventType]bool{
	domain.EventOrderFilled:    true,
	domain.EventOrderCancelled: true,
	domain.EventOrderExpired:   true,
	domain.EventTradeExecuted:  true,
	domain.EventTradeSettled:   true,
	domain.EventTradeFailed:    true,
}

// UpsertRequest represents the input for webhook registration.
type UpsertRequest struct {
	AccountID string
	URL       string
	Events    []string
}

// Service handles webhook CRUD and event delivery.
type Service struct {
	store      *store.WebhookStore
	accounts   *store.AccountStore
	client     *http.Client
	maxElapsed time.Duration
	log        *zap.Logger
}

// NewService creates a Service. timeout bounds a single delivery
// attempt; maxElapsed bounds the whole retry schedule for one event.
func NewService(
	webhookStore *store.WebhookStore,
	accounts *store.AccountStore,
	timeout, maxElapsed time.Duration,
	log *zap.Logger,
) *Service {
	return &Service{
		store:      webhookStore,
		accounts:   accounts,
		client:     &http.Client{Timeout: timeout},
		maxElapsed: maxElapsed,
		log:        log,
	}
}

// Upsert validates the request and creates or updates subscriptions.
// Returns the resulting webhooks and whether any new subscription was
// created.
func (s *Service) Upsert(req UpsertRequest) ([]*domain.Webhook, bool, error) {
	if !s.accounts.Exists(req.AccountID) {
		return nil, false, domain.ErrAccountNotFound
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate while preserving order and validating.
	seen := make(map[domain.EventType]bool, len(req.Events))
	deduped := make([]domain.EventType, 0, len(req.Events))
	for _, raw := range req.Events {
		event := domain.EventType(raw)
		if !validEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: fmt.Sprintf("Unknown event type: %s", raw),
			}
		}
		if !seen[event] {
			seen[event] = true
			deduped = append(deduped, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(deduped))

	for _, event := range deduped {
		w := &domain.Webhook{
			WebhookID: uuid.New().String(),
			AccountID: req.AccountID,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if s.store.Upsert(w) {
			anyCreated = true
			webhooks = append(webhooks, w)
		} else if existing := s.store.GetByAccountEvent(req.AccountID, event); existing != nil {
			webhooks = append(webhooks, existing)
		}
	}

	return webhooks, anyCreated, nil
}

// List validates the account exists and returns its subscriptions.
func (s *Service) List(accountID string) ([]*domain.Webhook, error) {
	if !s.accounts.Exists(accountID) {
		return nil, domain.ErrAccountNotFound
	}
	return s.store.ListByAccount(accountID), nil
}

// Delete removes a subscription by ID.
func (s *Service) Delete(webhookID string) error {
	return s.store.Delete(webhookID)
}

// Start subscribes to the event stream and delivers events to
// subscribed accounts until ctx is cancelled. Trade events notify both
// buyer and seller; order events notify the order's account.
func (s *Service) Start(ctx context.Context, emitter *audit.Emitter, buffer int) {
	events, cancel := emitter.Subscribe(buffer)

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.dispatch(ctx, ev)
			}
		}
	}()
}

// dispatch fans one event out to every subscribed account.
func (s *Service) dispatch(ctx context.Context, ev domain.Event) {
	var accounts []string
	switch ev.Type {
	case domain.EventTradeExecuted, domain.EventTradeSettled, domain.EventTradeFailed:
		accounts = []string{ev.BuyerID, ev.SellerID}
		if ev.BuyerID == ev.SellerID {
			accounts = accounts[:1]
		}
	case domain.EventOrderFilled, domain.EventOrderCancelled, domain.EventOrderExpired:
		accounts = []string{ev.AccountID}
	default:
		return
	}

	for _, accountID := range accounts {
		wh := s.store.GetByAccountEvent(accountID, ev.Type)
		if wh == nil {
			continue
		}
		go s.deliver(ctx, wh, ev)
	}
}

// payload is the JSON body POSTed to subscribers.
type payload struct {
	Event     string       `json:"event"`
	Timestamp string       `json:"timestamp"`
	Data      domain.Event `json:"data"`
}

// deliver POSTs the event with exponential backoff until it succeeds or
// the retry schedule is exhausted. Non-2xx responses count as failures.
func (s *Service) deliver(ctx context.Context, wh *domain.Webhook, ev domain.Event) {
	body, err := json.Marshal(payload{
		Event:     string(ev.Type),
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
		Data:      ev,
	})
	if err != nil {
		return
	}

	deliveryID := uuid.New().String()

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Delivery-Id", deliveryID)
		req.Header.Set("X-Webhook-Id", wh.WebhookID)
		req.Header.Set("X-Event-Type", string(ev.Type))

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("webhook delivery: unexpected status %d", resp.StatusCode)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.maxElapsed
	if err := backoff.Retry(attempt, backoff.WithContext(bo, ctx)); err != nil {
		s.log.Warn("webhook delivery exhausted retries",
			zap.String("webhook_id", wh.WebhookID),
			zap.String("event", string(ev.Type)),
			zap.Uint64("sequence", ev.Sequence),
			zap.Error(err),
		)
	}
}
