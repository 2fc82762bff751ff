package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/models"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store  store.MessageStore
	events *store.RedisStore // nil when Redis is not configured
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given stores.
func NewHandler(st store.MessageStore, events *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{store: st, events: events, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// StoreError maps the store's typed failures to HTTP responses. Internal
// storage errors are logged and reported as a generic 500; they never
// reach clients.
func (h *Handler) StoreError(w http.ResponseWriter, err error) {
	switch {
	case models.IsNotFound(err):
		h.Error(w, http.StatusNotFound, err.Error())
	case models.IsForbidden(err):
		h.Error(w, http.StatusForbidden, err.Error())
	case models.IsValidation(err):
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error().Err(err).Msg("store operation failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pageEnvelope is the shared pagination wrapper.
type pageEnvelope struct {
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

func makeEnvelope(total, page, pageSize, returned int) pageEnvelope {
	if page < 1 {
		page = 1
	}
	return pageEnvelope{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  (page-1)*pageSize+returned < total,
	}
}
