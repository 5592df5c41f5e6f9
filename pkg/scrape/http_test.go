package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	"github.com/leadpilot-ai/platform/pkg/gateway/middleware"
)

const testWebhookSecret = "hook-secret-for-tests"

func newTestRouter(t *testing.T, store *mockStore) *mux.Router {
	t.Helper()
	svc, _ := newTestService(store)
	handler := NewHandler(svc)

	router := mux.NewRouter()
	hooks := router.PathPrefix("/api/v1/hooks").Subrouter()
	hooks.Use(middleware.RequireWebhookSecret(testWebhookSecret))
	handler.RegisterHooks(hooks)
	return router
}

func postHook(router *mux.Router, path string, secret string, payload interface{}) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hooks"+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(middleware.WebhookSecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func failedPayload(batchID uuid.UUID) models.ScrapeFailedRequest {
	return models.ScrapeFailedRequest{
		Event:        models.EventScrapeFailed,
		Website:      "https://a.com",
		BatchID:      batchID.String(),
		ErrorCode:    "TIMEOUT",
		ErrorMessage: "timed out after 30s",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

func TestScrapeFailedHookAccepted(t *testing.T) {
	store := newMockStore()
	batch := seedBatch(store, 5)
	router := newTestRouter(t, store)

	rec := postHook(router, "/scrape-failed", testWebhookSecret, failedPayload(batch.ID))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp models.AckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK || resp.Status != models.ScrapeStatusFailed {
		t.Errorf("unexpected ack: %+v", resp)
	}
}

func TestScrapeFailedHookRejectsWrongSecret(t *testing.T) {
	store := newMockStore()
	batch := seedBatch(store, 5)
	router := newTestRouter(t, store)

	rec := postHook(router, "/scrape-failed", "wrong-secret", failedPayload(batch.ID))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(store.failures) != 0 {
		t.Error("failure recorded despite rejected secret")
	}
}

func TestScrapeFailedHookRejectsMissingSecret(t *testing.T) {
	store := newMockStore()
	batch := seedBatch(store, 5)
	router := newTestRouter(t, store)

	rec := postHook(router, "/scrape-failed", "", failedPayload(batch.ID))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestScrapeFailedHookValidation(t *testing.T) {
	store := newMockStore()
	batch := seedBatch(store, 5)
	router := newTestRouter(t, store)

	cases := []struct {
		name   string
		mutate func(*models.ScrapeFailedRequest)
	}{
		{"wrong event type", func(r *models.ScrapeFailedRequest) { r.Event = "scrape_success" }},
		{"missing website", func(r *models.ScrapeFailedRequest) { r.Website = "" }},
		{"missing error code", func(r *models.ScrapeFailedRequest) { r.ErrorCode = "" }},
		{"missing timestamp", func(r *models.ScrapeFailedRequest) { r.Timestamp = "" }},
		{"malformed batch id", func(r *models.ScrapeFailedRequest) { r.BatchID = "not-a-uuid" }},
		{"malformed timestamp", func(r *models.ScrapeFailedRequest) { r.Timestamp = "yesterday" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := failedPayload(batch.ID)
			tc.mutate(&payload)
			rec := postHook(router, "/scrape-failed", testWebhookSecret, payload)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestScrapeFailedHookRepeatBumpsAttempts(t *testing.T) {
	store := newMockStore()
	batch := seedBatch(store, 5)
	router := newTestRouter(t, store)

	payload := failedPayload(batch.ID)
	for i := 0; i < 3; i++ {
		rec := postHook(router, "/scrape-failed", testWebhookSecret, payload)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("callback %d: expected 202, got %d", i+1, rec.Code)
		}
	}

	record, err := store.GetFailed(context.Background(), payload.Website, batch.ID)
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if record.Attempts != 3 {
		t.Errorf("expected attempts=3, got %d", record.Attempts)
	}
	if got := store.batches[batch.ID].ProcessedURLs; got != 1 {
		t.Errorf("expected processed_urls=1, got %d", got)
	}
}

func TestScrapeSuccessHook(t *testing.T) {
	store := newMockStore()
	batch := seedBatch(store, 5)
	router := newTestRouter(t, store)

	payload := models.ScrapeSuccessRequest{
		Website: "https://a.com",
		BatchID: batch.ID.String(),
		Company: "Acme",
		Emails:  []string{"ceo@a.com"},
	}
	rec := postHook(router, "/scrape-success", testWebhookSecret, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp models.AckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.SuccessStatusSuccess {
		t.Errorf("expected status success, got %s", resp.Status)
	}

	// Second delivery of the same callback is a conflict.
	rec = postHook(router, "/scrape-success", testWebhookSecret, payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", rec.Code)
	}
	var errResp models.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.OK || errResp.Code != "CONFLICT" {
		t.Errorf("unexpected error envelope: %+v", errResp)
	}
}

func TestScrapeSuccessHookResolvesFailure(t *testing.T) {
	store := newMockStore()
	batch := seedBatch(store, 5)
	router := newTestRouter(t, store)

	if rec := postHook(router, "/scrape-failed", testWebhookSecret, failedPayload(batch.ID)); rec.Code != http.StatusAccepted {
		t.Fatalf("seed failure: %d", rec.Code)
	}

	rec := postHook(router, "/scrape-success", testWebhookSecret, models.ScrapeSuccessRequest{
		Website: "https://a.com",
		BatchID: batch.ID.String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.AckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.SuccessStatusResolved {
		t.Errorf("expected status resolved, got %s", resp.Status)
	}
}

func TestScrapeResolvedHookIdempotent(t *testing.T) {
	store := newMockStore()
	batch := seedBatch(store, 5)
	router := newTestRouter(t, store)

	payload := models.ScrapeResolvedRequest{
		Website: "https://never.failed",
		BatchID: batch.ID.String(),
	}
	for i := 0; i < 2; i++ {
		rec := postHook(router, "/scrape-resolved", testWebhookSecret, payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestBatchCompleteHook(t *testing.T) {
	store := newMockStore()
	batch := seedBatch(store, 5)
	router := newTestRouter(t, store)

	rec := postHook(router, "/batch-complete", testWebhookSecret, models.BatchCompleteRequest{
		BatchID: batch.ID.String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.batches[batch.ID].Status != models.BatchStatusComplete {
		t.Errorf("expected batch complete, got %s", store.batches[batch.ID].Status)
	}

	rec = postHook(router, "/batch-complete", testWebhookSecret, models.BatchCompleteRequest{
		BatchID: uuid.NewString(),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown batch, got %d", rec.Code)
	}
}

func TestOperatorRoutesRequireSession(t *testing.T) {
	store := newMockStore()
	svc, _ := newTestService(store)
	handler := NewHandler(svc)

	router := mux.NewRouter()
	handler.RegisterOperator(router)

	body, _ := json.Marshal(models.CreateBatchRequest{URLs: []string{"acme.com"}})
	req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", rec.Code)
	}
}

func TestListFailuresStatusFilter(t *testing.T) {
	store := newMockStore()
	svc, _ := newTestService(store)
	handler := NewHandler(svc)
	batch := seedBatch(store, 5)

	for i, website := range []string{"https://a.com", "https://b.com"} {
		if _, err := svc.RecordFailure(context.Background(), FailureInput{
			Website:      website,
			BatchID:      batch.ID,
			ErrorCode:    "TIMEOUT",
			ErrorMessage: fmt.Sprintf("failure %d", i),
			FailedAt:     time.Now().UTC(),
		}); err != nil {
			t.Fatalf("seed failure %s: %v", website, err)
		}
	}
	if err := svc.MarkWontFix(context.Background(), "https://b.com", batch.ID); err != nil {
		t.Fatalf("wont-fix: %v", err)
	}

	router := mux.NewRouter()
	handler.RegisterOperator(router)

	req := httptest.NewRequest(http.MethodGet, "/batches/"+batch.ID.String()+"/failures", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Items []models.FailedScrape `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Website != "https://a.com" {
		t.Errorf("expected only the failed record, got %+v", resp.Items)
	}
}
