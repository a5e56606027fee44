package store

import (
	"errors"
	"testing"
	"time"

	"github.com/efreitasn/tokex/internal/domain"
)

func newWebhook(id, account string, event domain.EventType, url string) *domain.Webhook {
	now := time.Now()
	return &domain.Webhook{
		WebhookID: id,
		AccountID: account,
		Event:     event,
		URL:       url,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestWebhookStore_UpsertCreates(t *testing.T) {
	s := NewWebhookStore()

	created := s.Upsert(newWebhook("w1", "alice", domain.EventTradeSettled, "https://a.example/hook"))
	if !created {
		t.Error("expected a new subscription")
	}
	if got := s.GetByAccountEvent("alice", domain.EventTradeSettled); got == nil || got.WebhookID != "w1" {
		t.Error("expected lookup by (account, event) to find w1")
	}
}

func TestWebhookStore_UpsertUpdatesURLKeepsID(t *testing.T) {
	s := NewWebhookStore()
	s.Upsert(newWebhook("w1", "alice", domain.EventTradeSettled, "https://a.example/hook"))

	created := s.Upsert(newWebhook("w2", "alice", domain.EventTradeSettled, "https://b.example/hook"))
	if created {
		t.Error("expected an update, not a create")
	}

	got := s.GetByAccountEvent("alice", domain.EventTradeSettled)
	if got.WebhookID != "w1" {
		t.Errorf("webhook_id must stay stable, got %s", got.WebhookID)
	}
	if got.URL != "https://b.example/hook" {
		t.Errorf("expected updated URL, got %s", got.URL)
	}
}

func TestWebhookStore_ListByAccount(t *testing.T) {
	s := NewWebhookStore()
	s.Upsert(newWebhook("w1", "alice", domain.EventTradeSettled, "https://a.example/hook"))
	s.Upsert(newWebhook("w2", "alice", domain.EventOrderFilled, "https://a.example/hook"))
	s.Upsert(newWebhook("w3", "bob", domain.EventTradeSettled, "https://b.example/hook"))

	if got := s.ListByAccount("alice"); len(got) != 2 {
		t.Errorf("expected 2 webhooks for alice, got %d", len(got))
	}
	if got := s.ListByAccount("nobody"); len(got) != 0 {
		t.Error("expected empty slice for unknown account")
	}
}

func TestWebhookStore_Delete(t *testing.T) {
	s := NewWebhookStore()
	s.Upsert(newWebhook("w1", "alice", domain.EventTradeSettled, "https://a.example/hook"))

	if err := s.Delete("w1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Get("w1"); !errors.Is(err, domain.ErrWebhookNotFound) {
		t.Error("expected webhook gone")
	}
	if s.GetByAccountEvent("alice", domain.EventTradeSettled) != nil {
		t.Error("expected secondary index cleaned up")
	}

	if err := s.Delete("w1"); !errors.Is(err, domain.ErrWebhookNotFound) {
		t.Fatalf("expected ErrWebhookNotFound, got %v", err)
	}
}
