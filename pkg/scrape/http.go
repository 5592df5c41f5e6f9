package scrape

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

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

// RegisterHooks mounts the callbacks the automation platform invokes. The
// caller wraps the router with the shared-secret middleware.
func (h *Handler) RegisterHooks(r *mux.Router) {
	r.HandleFunc("/scrape-failed", h.handleScrapeFailed).Methods(http.MethodPost)
	r.HandleFunc("/scrape-success", h.handleScrapeSuccess).Methods(http.MethodPost)
	r.HandleFunc("/scrape-resolved", h.handleScrapeResolved).Methods(http.MethodPost)
	r.HandleFunc("/batch-complete", h.handleBatchComplete).Methods(http.MethodPost)
}

// RegisterOperator mounts the console-facing endpoints. The caller wraps
// the router with bearer-session authentication.
func (h *Handler) RegisterOperator(r *mux.Router) {
	r.HandleFunc("/batches", h.handleCreateBatch).Methods(http.MethodPost)
	r.HandleFunc("/batches", h.handleListBatches).Methods(http.MethodGet)
	r.HandleFunc("/batches/{id}", h.handleGetBatch).Methods(http.MethodGet)
	r.HandleFunc("/batches/{id}/failures", h.handleListFailures).Methods(http.MethodGet)
	r.HandleFunc("/batches/{id}/successes", h.handleListSuccesses).Methods(http.MethodGet)
	r.HandleFunc("/batches/{id}/retries", h.handleListRetryTasks).Methods(http.MethodGet)
	r.HandleFunc("/failures/wont-fix", h.handleWontFix).Methods(http.MethodPost)
}

func (h *Handler) handleScrapeFailed(w http.ResponseWriter, r *http.Request) {
	var req models.ScrapeFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request body"))
		return
	}
	if req.Event != models.EventScrapeFailed {
		writeAppErr(w, apperr.Validation("unexpected event type"))
		return
	}
	if req.Website == "" || req.BatchID == "" || req.ErrorCode == "" || req.ErrorMessage == "" || req.Timestamp == "" {
		writeAppErr(w, apperr.Validation("website, batch_id, error_code, error_message and timestamp are required"))
		return
	}
	batchID, err := uuid.Parse(req.BatchID)
	if err != nil {
		writeAppErr(w, apperr.Validation("batch_id must be a UUID"))
		return
	}
	failedAt, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		writeAppErr(w, apperr.Validation("timestamp must be RFC3339"))
		return
	}

	record, err := h.service.RecordFailure(r.Context(), FailureInput{
		Website:      req.Website,
		BatchID:      batchID,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
		FailedAt:     failedAt.UTC(),
		Attempt:      req.Attempt,
	})
	if err != nil {
		logger.Log.WithError(err).Error("scrape-failed hook failed")
		writeAppErr(w, apperr.From(err))
		return
	}

	writeJSON(w, http.StatusAccepted, models.AckResponse{
		OK:      true,
		Status:  record.Status,
		Message: "failure recorded, attempts=" + strconv.Itoa(record.Attempts),
	})
}

func (h *Handler) handleScrapeSuccess(w http.ResponseWriter, r *http.Request) {
	var req models.ScrapeSuccessRequest
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

	record, err := h.service.RecordSuccess(r.Context(), SuccessInput{
		Website:    req.Website,
		BatchID:    batchID,
		Domain:     req.Domain,
		Company:    req.Company,
		Emails:     req.Emails,
		Industry:   req.Industry,
		Icebreaker: req.Icebreaker,
	})
	if err != nil {
		appErr := apperr.From(err)
		if appErr.Code != apperr.CodeConflict {
			logger.Log.WithError(err).Error("scrape-success hook failed")
		}
		writeAppErr(w, appErr)
		return
	}

	writeJSON(w, http.StatusOK, models.AckResponse{
		OK:      true,
		Status:  record.Status,
		Message: "success recorded",
	})
}

func (h *Handler) handleScrapeResolved(w http.ResponseWriter, r *http.Request) {
	var req models.ScrapeResolvedRequest
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

	if err := h.service.ResolveFailure(r.Context(), req.Website, batchID); err != nil {
		logger.Log.WithError(err).Error("scrape-resolved hook failed")
		writeAppErr(w, apperr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, models.AckResponse{OK: true})
}

func (h *Handler) handleBatchComplete(w http.ResponseWriter, r *http.Request) {
	var req models.BatchCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request body"))
		return
	}
	if req.BatchID == "" {
		writeAppErr(w, apperr.Validation("batch_id is required"))
		return
	}
	batchID, err := uuid.Parse(req.BatchID)
	if err != nil {
		writeAppErr(w, apperr.Validation("batch_id must be a UUID"))
		return
	}

	if err := h.service.CompleteBatch(r.Context(), batchID); err != nil {
		appErr := apperr.From(err)
		if appErr.Code == apperr.CodeInternal {
			logger.Log.WithError(err).Error("batch-complete hook failed")
		}
		writeAppErr(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, models.AckResponse{OK: true})
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		writeAppErr(w, apperr.Unauthorized("session required"))
		return
	}

	var req models.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request body"))
		return
	}
	if len(req.URLs) == 0 {
		writeAppErr(w, apperr.Validation("urls must not be empty"))
		return
	}

	batch, urls, err := h.service.CreateBatch(r.Context(), claims.UserID, req.URLs, req.Label)
	if err != nil {
		appErr := apperr.From(err)
		if appErr.Code == apperr.CodeInternal {
			logger.Log.WithError(err).Error("create-batch failed")
		}
		writeAppErr(w, appErr)
		return
	}

	// The console forwards the normalized list to the automation platform
	// itself; the relay only persists the batch.
	writeJSON(w, http.StatusOK, models.CreateBatchResponse{
		OK:          true,
		BatchUUID:   batch.ID,
		OwnerUserID: batch.OwnerUserID,
		TotalURLs:   batch.TotalURLs,
		URLs:        urls,
	})
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	batches, err := h.service.ListBatches(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list batches")
		writeAppErr(w, apperr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": batches})
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid batch id"))
		return
	}
	batch, err := h.service.GetBatch(r.Context(), batchID)
	if err != nil {
		writeAppErr(w, apperr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batch": batch})
}

func (h *Handler) handleListFailures(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid batch id"))
		return
	}
	var statuses []string
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}
	records, err := h.service.ListFailures(r.Context(), batchID, statuses)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list failures")
		writeAppErr(w, apperr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": records})
}

func (h *Handler) handleListSuccesses(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid batch id"))
		return
	}
	records, err := h.service.ListSuccesses(r.Context(), batchID, parseLimit(r, 500))
	if err != nil {
		logger.Log.WithError(err).Error("failed to list successes")
		writeAppErr(w, apperr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": records})
}

func (h *Handler) handleListRetryTasks(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid batch id"))
		return
	}
	tasks, err := h.service.ListRetryTasks(r.Context(), batchID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list retry tasks")
		writeAppErr(w, apperr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": tasks})
}

func (h *Handler) handleWontFix(w http.ResponseWriter, r *http.Request) {
	var req models.WontFixRequest
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

	if err := h.service.MarkWontFix(r.Context(), req.Website, batchID); err != nil {
		writeAppErr(w, apperr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, models.AckResponse{OK: true, Status: models.ScrapeStatusWontFix})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
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
