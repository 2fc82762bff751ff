package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/api/middleware"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/metrics"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/store"
)

type searchResponse struct {
	Query    string       `json:"query"`
	Messages []MessageDTO `json:"messages"`
	Count    int          `json:"count"`
}

// SearchMessages handles GET /messages/search. Results are restricted to
// conversations the requester participates in.
func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		h.Error(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	params := store.SearchParams{
		UserID:      principal.UserID,
		OrgID:       principal.OrgID,
		Query:       query,
		ContentType: q.Get("content_type"),
	}

	if raw := q.Get("conversation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid conversation_id")
			return
		}
		params.ConversationID = &id
	}
	if raw := q.Get("sender_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid sender_id")
			return
		}
		params.SenderID = &id
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid from timestamp, expected RFC3339")
			return
		}
		params.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid to timestamp, expected RFC3339")
			return
		}
		params.To = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		params.Limit = n
	}

	msgs, err := h.store.SearchMessages(r.Context(), params)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.SearchQueries.Inc()
	h.JSON(w, http.StatusOK, searchResponse{
		Query:    query,
		Messages: toMessageDTOs(msgs),
		Count:    len(msgs),
	})
}
