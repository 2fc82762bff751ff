package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewConversationID generates a time-ordered UUID v7 for conversation rows.
func NewConversationID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewMessageID generates a ULID. ULIDs sort lexicographically by creation
// time, so message id order follows persisted creation order.
func NewMessageID() string {
	return ulid.Make().String()
}
