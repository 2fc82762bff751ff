package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/models"
)

// MessageDTO is the wire form of a message. Deleted messages keep their
// ledger slot but carry a placeholder body.
type MessageDTO struct {
	ID             string            `json:"id"`
	ConversationID uuid.UUID         `json:"conversation_id"`
	SenderID       uuid.UUID         `json:"sender_id"`
	SenderName     string            `json:"sender_name,omitempty"`
	RecipientID    uuid.UUID         `json:"recipient_id"`
	Content        string            `json:"content"`
	ContentType    string            `json:"content_type"`
	Status         string            `json:"status"`
	ReadAt         *time.Time        `json:"read_at,omitempty"`
	DeliveredAt    time.Time         `json:"delivered_at"`
	IsEdited       bool              `json:"is_edited"`
	EditedAt       *time.Time        `json:"edited_at,omitempty"`
	IsDeleted      bool              `json:"is_deleted"`
	ParentID       *string           `json:"parent_id,omitempty"`
	ThreadCount    int64             `json:"thread_count"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

const deletedPlaceholder = "[message deleted]"

func toMessageDTO(m models.Message) MessageDTO {
	dto := MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		ContentType:    m.ContentType,
		Status:         m.Status,
		ReadAt:         m.ReadAt,
		DeliveredAt:    m.DeliveredAt(),
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
		IsDeleted:      m.IsDeleted,
		ParentID:       m.ParentID,
		ThreadCount:    m.ThreadCount,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
	if m.Metadata != nil {
		dto.SenderName = m.Metadata["sender_name"]
	}
	if m.IsDeleted {
		dto.Content = deletedPlaceholder
		dto.ContentType = models.ContentTypeText
		dto.Metadata = nil
		dto.SenderName = ""
	}
	return dto
}

func toMessageDTOs(msgs []models.Message) []MessageDTO {
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	return out
}

// ConversationDTO is a conversation as seen by one participant. Unread
// and archived are the requester's side of the pair.
type ConversationDTO struct {
	ID                 uuid.UUID  `json:"id"`
	OrgID              uuid.UUID  `json:"org_id"`
	PeerID             uuid.UUID  `json:"peer_id"`
	LastMessageID      *string    `json:"last_message_id,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessageSender  *uuid.UUID `json:"last_message_sender,omitempty"`
	UnreadCount        int64      `json:"unread_count"`
	Archived           bool       `json:"archived"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toConversationDTO(c models.Conversation, viewer uuid.UUID) ConversationDTO {
	return ConversationDTO{
		ID:                 c.ID,
		OrgID:              c.OrgID,
		PeerID:             c.Other(viewer),
		LastMessageID:      c.LastMessageID,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		LastMessageSender:  c.LastMessageSender,
		UnreadCount:        c.UnreadFor(viewer),
		Archived:           c.ArchivedFor(viewer),
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}
