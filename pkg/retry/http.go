package retry

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/leadpilot-ai/platform/pkg/common/apperr"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	"github.com/leadpilot-ai/platform/pkg/gateway/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the operator-triggered retry endpoints. The caller wraps
// the router with bearer-session authentication; the outbound call to the
// automation platform uses the service credentials, not the session.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/retries", h.handleRetry).Methods(http.MethodPost)
	r.HandleFunc("/batches/{id}/retries", h.handleBulkRetry).Methods(http.MethodPost)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		writeAppErr(w, apperr.Unauthorized("session required"))
		return
	}

	var req models.RetryScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request body"))
		return
	}
	if req.Website == "" || req.BatchID == "" {
		writeAppErr(w, apperr.Validation("website and batch_id are required"))
		return
	}
	batchID, err := uuid.Parse(req.BatchID)
	if err != nil {
		writeAppErr(w, apperr.Validation("batch_id must be a UUID"))
		return
	}

	record, err := h.service.Retry(r.Context(), req.Website, batchID, claims.UserID)
	if err != nil {
		appErr := apperr.From(err)
		if appErr.Code == apperr.CodeInternal || appErr.Code == apperr.CodeUpstream {
			logger.Log.WithError(err).Error("retry-scrape failed")
		}
		writeAppErr(w, appErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "record": record})
}

func (h *Handler) handleBulkRetry(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		writeAppErr(w, apperr.Unauthorized("session required"))
		return
	}

	batchID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid batch id"))
		return
	}

	var req models.BulkRetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request body"))
		return
	}

	result, err := h.service.RetryBatch(r.Context(), batchID, BulkRetryInput{
		Websites: req.Websites,
		Subject:  req.Subject,
		Message:  req.Message,
	}, claims.UserID)
	if err != nil {
		appErr := apperr.From(err)
		if appErr.Code == apperr.CodeInternal || appErr.Code == apperr.CodeUpstream {
			logger.Log.WithError(err).Error("bulk retry failed")
		}
		writeAppErr(w, appErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAppErr(w http.ResponseWriter, err *apperr.Error) {
	writeJSON(w, err.HTTPStatus(), models.ErrorResponse{
		OK:    false,
		Code:  err.Code,
		Error: err.Message,
	})
}
