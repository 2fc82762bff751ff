package models

import (
	"time"

	"github.com/google/uuid"
)

// Message status values. Transitions are forward-only:
// sent -> delivered -> read, terminal at read.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Supported content types for message bodies.
const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
	ContentTypeFile  = "file"
)

// MaxContentLength is the maximum message body size in bytes.
const MaxContentLength = 4096

// Message represents one entry in a conversation's ledger.
// Messages are never physically removed; deletion is a tombstone flag
// and content redaction happens at the presentation boundary.
type Message struct {
	ID             string            `json:"id"` // ULID, time-ordered
	ConversationID uuid.UUID         `json:"conversation_id"`
	SenderID       uuid.UUID         `json:"sender_id"`
	RecipientID    uuid.UUID         `json:"recipient_id"`
	Content        string            `json:"content"`
	ContentType    string            `json:"content_type"`
	Status         string            `json:"status"`
	ReadAt         *time.Time        `json:"read_at,omitempty"`
	IsEdited       bool              `json:"is_edited"`
	EditedAt       *time.Time        `json:"edited_at,omitempty"`
	IsDeleted      bool              `json:"is_deleted"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
	DeletedBy      *uuid.UUID        `json:"deleted_by,omitempty"`
	ParentID       *string           `json:"parent_message_id,omitempty"` // one level deep only
	ThreadCount    int64             `json:"thread_count"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// IsRead reports whether the message has reached its terminal status.
func (m *Message) IsRead() bool {
	return m.Status == StatusRead
}

// DeliveredAt returns the delivery time. Without a push transport,
// delivery is the persistence time.
func (m *Message) DeliveredAt() time.Time {
	return m.CreatedAt
}

// ValidContentType reports whether ct is a supported content type.
func ValidContentType(ct string) bool {
	switch ct {
	case ContentTypeText, ContentTypeImage, ContentTypeFile:
		return true
	}
	return false
}
