package reconcile

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/leadpilot-ai/platform/pkg/common/apperr"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the staleness endpoints on an authenticated router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/batches/stale", h.handleListStale).Methods(http.MethodGet)
	// Registered before the {id} route so "complete" is not parsed as an id.
	r.HandleFunc("/batches/complete", h.handleMarkAllComplete).Methods(http.MethodPost)
	r.HandleFunc("/batches/{id}/complete", h.handleMarkComplete).Methods(http.MethodPost)
}

func (h *Handler) handleListStale(w http.ResponseWriter, r *http.Request) {
	stale, err := h.service.FindStale(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("stale scan failed")
		writeAppErr(w, apperr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": stale})
}

func (h *Handler) handleMarkComplete(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid batch id"))
		return
	}

	if err := h.service.MarkComplete(r.Context(), batchID); err != nil {
		appErr := apperr.From(err)
		if appErr.Code == apperr.CodeInternal {
			logger.Log.WithError(err).Error("mark complete failed")
		}
		writeAppErr(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, models.AckResponse{OK: true, Status: models.BatchStatusComplete})
}

func (h *Handler) handleMarkAllComplete(w http.ResponseWriter, r *http.Request) {
	completed, err := h.service.MarkAllComplete(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("mark all complete failed")
		writeAppErr(w, apperr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "completed": completed})
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
