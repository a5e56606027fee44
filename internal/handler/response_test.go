package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	t.Run("sets content type and status code", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{"status": "ok"}

		WriteJSON(w, http.StatusOK, data)

		if got := w.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		if w.Code != http.StatusOK {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]string
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if result["status"] != "ok" {
			t.Errorf("body status = %q, want %q", result["status"], "ok")
		}
	})

	t.Run("writes 201 Created", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteJSON(w, http.StatusCreated, map[string]int{"id": 42})

		if w.Code != http.StatusCreated {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusCreated)
		}
	})

	t.Run("encodes struct with snake_case tags", func(t *testing.T) {
		type resp struct {
			AccountID string `json:"account_id"`
			Available string `json:"available"`
		}
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, resp{AccountID: "acc_1", Available: "100.50"})

		var raw map[string]any
		if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if raw["account_id"] != "acc_1" {
			t.Errorf("account_id = %v, want %q", raw["account_id"], "acc_1")
		}
		if raw["available"] != "100.50" {
			t.Errorf("available = %v, want %q", raw["available"], "100.50")
		}
	})

	t.Run("encodes null fields", func(t *testing.T) {
		type resp struct {
			Price *string `json:"price"`
		}
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, resp{Price: nil})

		var raw map[string]any
		if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if raw["price"] != nil {
			t.Errorf("price = %v, want nil", raw["price"])
		}
	})
}

func TestWriteError(t *testing.T) {
	t.Run("writes standard error format", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteError(w, http.StatusBadRequest, "validation_error", "missing required field")

		if w.Code != http.StatusBadRequest {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got := w.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}

		var resp errorResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if resp.Error != "validation_error" {
			t.Errorf("error = %q, want %q", resp.Error, "validation_error")
		}
		if resp.Message != "missing required field" {
			t.Errorf("message = %q, want %q", resp.Message, "missing required field")
		}
	})

	t.Run("writes 404 error", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteError(w, http.StatusNotFound, "order_not_found", "Order not found")

		if w.Code != http.StatusNotFound {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
		}

		var resp errorResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if resp.Error != "order_not_found" {
			t.Errorf("error = %q, want %q", resp.Error, "order_not_found")
		}
	})

	t.Run("writes 422 unprocessable", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteError(w, http.StatusUnprocessableEntity, "insufficient_funds", "insufficient available balance")

		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusUnprocessableEntity)
		}
	})
}

func TestParseJSON(t *testing.T) {
	t.Run("decodes valid JSON with correct content type", func(t *testing.T) {
		body := `{"name":"test","value":42}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name  string `json:"name"`
			Value int    `json:"value"`
		}
		if err := ParseJSON(r, &result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Name != "test" {
			t.Errorf("name = %q, want %q", result.Name, "test")
		}
		if result.Value != 42 {
			t.Errorf("value = %d, want %d", result.Value, 42)
		}
	})

	t.Run("accepts content type with charset", func(t *testing.T) {
		body := `{"name":"test"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")

		var result struct {
			Name string `json:"name"`
		}
		if err := ParseJSON(r, &result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects missing content type", func(t *testing.T) {
		body := `{"name":"test"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		var result struct {
			Name string `json:"name"`
		}
		err := ParseJSON(r, &result)
		if err == nil {
			t.Fatal("expected error for missing Content-Type")
		}
		if !strings.Contains(err.Error(), "Content-Type") {
			t.Errorf("error = %q, should mention Content-Type", err.Error())
		}
	})

	t.Run("rejects wrong content type", func(t *testing.T) {
		body := `{"name":"test"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "text/plain")

		var result struct {
			Name string `json:"name"`
		}
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for wrong Content-Type")
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		body := `{invalid json}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name string `json:"name"`
		}
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		body := `{"name":"test","unknown_field":"value"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name string `json:"name"`
		}
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for unknown fields")
		}
	})

	t.Run("rejects trailing data", func(t *testing.T) {
		body := `{"name":"a"}{"name":"b"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name string `json:"name"`
		}
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for trailing data after JSON object")
		}
	})

	t.Run("rejects empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name string `json:"name"`
		}
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for empty body")
		}
	})
}
