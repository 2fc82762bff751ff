package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/api/middleware"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/metrics"
)

// MarkMessageRead handles POST /messages/{id}/read. Marking an
// already-read message is a no-op and still returns 200.
func (h *Handler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	transitioned, err := h.store.MarkMessageRead(r.Context(), chi.URLParam(r, "id"), principal.UserID)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	if transitioned {
		metrics.MessagesRead.Inc()
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"status":       "read",
		"transitioned": transitioned,
	})
}

// MarkConversationRead handles POST /conversations/{id}/read. All unread
// messages addressed to the requester are marked in one sweep.
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	count, err := h.store.MarkConversationRead(r.Context(), convID, principal.UserID)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.MessagesRead.Add(float64(count))
	h.JSON(w, http.StatusOK, map[string]int{"marked_read": count})
}

// UnreadSummary handles GET /messages/unread.
func (h *Handler) UnreadSummary(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	summary, err := h.store.UnreadSummary(r.Context(), principal.UserID)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, summary)
}
