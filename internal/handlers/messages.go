package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/api/middleware"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/metrics"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/store"
)

type sendMessageRequest struct {
	RecipientID uuid.UUID         `json:"recipient_id"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type,omitempty"`
	ParentID    *string           `json:"parent_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SendMessage handles POST /messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecipientID == uuid.Nil {
		h.Error(w, http.StatusBadRequest, "recipient_id is required")
		return
	}

	params := store.SendMessageParams{
		OrgID:       principal.OrgID,
		SenderID:    principal.UserID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		ContentType: req.ContentType,
		ParentID:    req.ParentID,
		Metadata:    req.Metadata,
	}
	if principal.DisplayName != "" {
		if params.Metadata == nil {
			params.Metadata = map[string]string{}
		}
		params.Metadata["sender_name"] = principal.DisplayName
	}

	msg, err := h.store.SendMessage(r.Context(), params)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.MessagesSent.WithLabelValues(msg.ContentType).Inc()
	if h.events != nil {
		if err := h.events.PublishMessageSent(r.Context(), msg); err != nil {
			h.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to publish message event")
		}
	}

	h.JSON(w, http.StatusCreated, toMessageDTO(*msg))
}

// GetMessage handles GET /messages/{id}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	msg, err := h.store.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.StoreError(w, err)
		return
	}
	if msg.SenderID != principal.UserID && msg.RecipientID != principal.UserID {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	h.JSON(w, http.StatusOK, toMessageDTO(*msg))
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage handles PUT /messages/{id}.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.store.EditMessage(r.Context(), chi.URLParam(r, "id"), principal.UserID, req.Content)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, toMessageDTO(*msg))
}

// DeleteMessage handles DELETE /messages/{id}.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.store.DeleteMessage(r.Context(), chi.URLParam(r, "id"), principal.UserID); err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.MessagesDeleted.Inc()
	h.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type listMessagesResponse struct {
	Messages []MessageDTO `json:"messages"`
	pageEnvelope
}

// ListMessages handles GET /conversations/{id}/messages. Fetching a page
// marks its unread messages addressed to the requester as read.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
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

	page, pageSize := parsePagination(r)
	msgs, total, err := h.store.ListMessages(r.Context(), convID, principal.UserID, page, pageSize)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, listMessagesResponse{
		Messages:     toMessageDTOs(msgs),
		pageEnvelope: makeEnvelope(total, page, pageSize, len(msgs)),
	})
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
