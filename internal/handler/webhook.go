package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/webhook"
)

// WebhookHandler handles webhook subscription endpoints.
type WebhookHandler struct {
	svc *webhook.Service
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc *webhook.Service) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// upsertWebhookRequest is the JSON request body for webhook
// registration.
type upsertWebhookRequest struct {
	AccountID string   `json:"account_id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
}

// webhookResponse is the JSON shape for one webhook subscription.
type webhookResponse struct {
	WebhookID string `json:"webhook_id"`
	AccountID string `json:"account_id"`
	Event     string `json:"event"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func buildWebhookResponse(wh *domain.Webhook) webhookResponse {
	return webhookResponse{
		WebhookID: wh.WebhookID,
		AccountID: wh.AccountID,
		Event:     string(wh.Event),
		URL:       wh.URL,
		CreatedAt: wh.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: wh.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Upsert handles POST /api/v1/webhooks.
func (h *WebhookHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertWebhookRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	webhooks, created, err := h.svc.Upsert(webhook.UpsertRequest{
		AccountID: req.AccountID,
		URL:       req.URL,
		Events:    req.Events,
	})
	if err != nil {
		mapWebhookError(w, err)
		return
	}

	out := make([]webhookResponse, 0, len(webhooks))
	for _, wh := range webhooks {
		out = append(out, buildWebhookResponse(wh))
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, map[string]any{"webhooks": out})
}

// List handles GET /api/v1/webhooks?account_id=.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "account_id query parameter is required")
		return
	}

	webhooks, err := h.svc.List(accountID)
	if err != nil {
		mapWebhookError(w, err)
		return
	}

	out := make([]webhookResponse, 0, len(webhooks))
	for _, wh := range webhooks {
		out = append(out, buildWebhookResponse(wh))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

// Delete handles DELETE /api/v1/webhooks/{webhook_id}.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhook_id")

	if err := h.svc.Delete(webhookID); err != nil {
		mapWebhookError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mapWebhookError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError

	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
	case errors.Is(err, domain.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, "account_not_found", "Account not found")
	case errors.Is(err, domain.ErrWebhookNotFound):
		WriteError(w, http.StatusNotFound, "webhook_not_found", "Webhook not found")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
