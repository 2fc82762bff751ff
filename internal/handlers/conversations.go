package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/api/middleware"
)

type listConversationsResponse struct {
	Conversations []ConversationDTO `json:"conversations"`
	pageEnvelope
}

// ListConversations handles GET /conversations. Archived conversations
// are hidden unless include_archived=true.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	page, pageSize := parsePagination(r)
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	convs, total, err := h.store.ListConversations(r.Context(), principal.UserID, page, pageSize, includeArchived)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	dtos := make([]ConversationDTO, 0, len(convs))
	for _, c := range convs {
		dtos = append(dtos, toConversationDTO(c, principal.UserID))
	}

	h.JSON(w, http.StatusOK, listConversationsResponse{
		Conversations: dtos,
		pageEnvelope:  makeEnvelope(total, page, pageSize, len(dtos)),
	})
}

// GetConversation handles GET /conversations/{id}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
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

	conv, err := h.store.GetConversation(r.Context(), convID)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	if !conv.HasParticipant(principal.UserID) {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	h.JSON(w, http.StatusOK, toConversationDTO(*conv, principal.UserID))
}

type archiveRequest struct {
	Archived bool `json:"archived"`
}

// ArchiveConversation handles POST /conversations/{id}/archive. Archiving
// is per-participant: it never affects the other side's view.
func (h *Handler) ArchiveConversation(w http.ResponseWriter, r *http.Request) {
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

	req := archiveRequest{Archived: true}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := h.store.SetConversationArchived(r.Context(), convID, principal.UserID, req.Archived); err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]bool{"archived": req.Archived})
}
