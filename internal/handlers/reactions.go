package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/api/middleware"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/metrics"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/models"
)

type reactionRequest struct {
	Value string `json:"value"`
}

type reactionResponse struct {
	MessageID string            `json:"message_id"`
	Reactions []models.Reaction `json:"reactions"`
}

// ToggleReaction handles POST /messages/{id}/reactions. A second toggle
// with the same value removes the reaction.
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req reactionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msgID := chi.URLParam(r, "id")
	reactions, err := h.store.ToggleReaction(r.Context(), msgID, principal.UserID, req.Value)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.ReactionsToggled.Inc()
	h.JSON(w, http.StatusOK, reactionResponse{
		MessageID: msgID,
		Reactions: reactions,
	})
}
